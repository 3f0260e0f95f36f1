package kommo

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Entity is anything carrying Kommo custom fields (leads, contacts).
type Entity interface {
	CustomFields() []CustomField
}

// ValueKind tags the shape of a custom field value as delivered by Kommo.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueScalar
	ValueObject
)

// FieldValue is one entry of a custom field's values array, decoded once at
// the boundary so extraction never re-inspects raw JSON.
type FieldValue struct {
	Kind     ValueKind
	Scalar   string
	Object   map[string]json.RawMessage
	EnumID   string
	EnumCode string
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value    json.RawMessage `json:"value"`
		EnumID   FlexString      `json:"enum_id"`
		EnumCode FlexString      `json:"enum_code"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		// values entries that are not objects carry nothing usable
		*v = FieldValue{}
		return nil
	}
	*v = FieldValue{EnumID: string(raw.EnumID), EnumCode: string(raw.EnumCode)}
	trimmed := bytes.TrimSpace(raw.Value)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		v.Kind = ValueNull
	case trimmed[0] == '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err == nil {
			v.Kind = ValueObject
			v.Object = obj
		}
	case trimmed[0] == '[':
		v.Kind = ValueObject
	default:
		var s FlexString
		if err := json.Unmarshal(trimmed, &s); err == nil {
			v.Kind = ValueScalar
			v.Scalar = string(s)
		}
	}
	return nil
}

// ObjectString returns a string attribute of an object value.
func (v FieldValue) ObjectString(key string) string {
	if v.Kind != ValueObject || v.Object == nil {
		return ""
	}
	raw, ok := v.Object[key]
	if !ok {
		return ""
	}
	var s FlexString
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return string(s)
}

// CustomField is a typed custom_fields_values entry.
type CustomField struct {
	FieldID   int64
	FieldName string
	FieldCode string
	FieldType string
	Values    []FieldValue
}

func (f *CustomField) UnmarshalJSON(data []byte) error {
	var raw struct {
		FieldID   FlexString      `json:"field_id"`
		FieldName string          `json:"field_name"`
		Name      string          `json:"name"`
		FieldCode FlexString      `json:"field_code"`
		Code      FlexString      `json:"code"`
		FieldType string          `json:"field_type"`
		Values    json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		*f = CustomField{}
		return nil
	}
	id, _ := strconv.ParseInt(strings.TrimSpace(string(raw.FieldID)), 10, 64)
	*f = CustomField{
		FieldID:   id,
		FieldName: firstNonEmpty(raw.FieldName, raw.Name),
		FieldCode: firstNonEmpty(string(raw.FieldCode), string(raw.Code)),
		FieldType: raw.FieldType,
	}
	values := bytes.TrimSpace(raw.Values)
	if len(values) > 0 && values[0] == '[' {
		var decoded []FieldValue
		if err := json.Unmarshal(values, &decoded); err == nil {
			f.Values = decoded
		}
	}
	return nil
}

var errNotScalar = errors.New("kommo: expected scalar JSON value")

// FlexString accepts JSON strings, numbers and booleans; null decodes to "".
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = ""
		return nil
	}
	if trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return errNotScalar
	}
	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err == nil {
		*s = FlexString(num.String())
		return nil
	}
	*s = FlexString(string(trimmed))
	return nil
}

// Int64 parses the value as a base-10 integer.
func (s FlexString) Int64() (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(s)), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Lead mirrors GET /api/v4/leads/{id}?with=contacts.
type Lead struct {
	ID                 int64         `json:"id"`
	Name               string        `json:"name"`
	Price              FlexString    `json:"price"`
	ResponsibleUserID  int64         `json:"responsible_user_id"`
	StatusID           int64         `json:"status_id"`
	PipelineID         int64         `json:"pipeline_id"`
	CreatedAt          int64         `json:"created_at"`
	UpdatedAt          int64         `json:"updated_at"`
	CustomFieldsValues []CustomField `json:"custom_fields_values"`

	VehicleIDSnake json.RawMessage `json:"vehicle_id"`
	VehicleIDCamel json.RawMessage `json:"vehicleId"`
	Vehicle        json.RawMessage `json:"vehicle"`

	Embedded struct {
		Contacts []ContactRef `json:"contacts"`
	} `json:"_embedded"`

	Raw json.RawMessage `json:"-"`
}

func (l *Lead) CustomFields() []CustomField {
	if l == nil {
		return nil
	}
	return l.CustomFieldsValues
}

// DirectVehicleID returns vehicle_id, vehicleId or vehicle.id, in that order.
func (l *Lead) DirectVehicleID() (string, bool) {
	if l == nil {
		return "", false
	}
	for _, raw := range []json.RawMessage{l.VehicleIDSnake, l.VehicleIDCamel} {
		if id, ok := scalarString(raw); ok {
			return id, true
		}
	}
	if len(l.Vehicle) > 0 {
		var nested struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(l.Vehicle, &nested); err == nil {
			if id, ok := scalarString(nested.ID); ok {
				return id, true
			}
		}
	}
	return "", false
}

// MainContactID returns the contact flagged is_main, else the first one.
func (l *Lead) MainContactID() (int64, bool) {
	if l == nil || len(l.Embedded.Contacts) == 0 {
		return 0, false
	}
	for _, c := range l.Embedded.Contacts {
		if c.IsMain {
			return c.ID, true
		}
	}
	return l.Embedded.Contacts[0].ID, true
}

// ContactRef is the embedded contact stub on a lead.
type ContactRef struct {
	ID     int64 `json:"id"`
	IsMain bool  `json:"is_main"`
}

// Contact mirrors GET /api/v4/contacts/{id}.
type Contact struct {
	ID                 int64         `json:"id"`
	Name               string        `json:"name"`
	FirstName          string        `json:"first_name"`
	LastName           string        `json:"last_name"`
	ResponsibleUserID  int64         `json:"responsible_user_id"`
	UpdatedAt          int64         `json:"updated_at"`
	CustomFieldsValues []CustomField `json:"custom_fields_values"`

	Raw json.RawMessage `json:"-"`
}

func (c *Contact) CustomFields() []CustomField {
	if c == nil {
		return nil
	}
	return c.CustomFieldsValues
}

// DisplayName prefers the full name and falls back to first + last.
func (c *Contact) DisplayName() string {
	if c == nil {
		return ""
	}
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// FileRef is an entry of GET /api/v4/{entityType}/{id}/files.
type FileRef struct {
	FileUUID string `json:"file_uuid"`
	ID       int64  `json:"id"`
}

// FileDescriptor is the drive's view of a stored file.
type FileDescriptor struct {
	UUID          string     `json:"uuid"`
	Name          string     `json:"name"`
	SanitizedName string     `json:"sanitized_name"`
	FileName      string     `json:"file_name"`
	OriginalName  string     `json:"original_name"`
	Type          string     `json:"type"`
	VersionUUID   string     `json:"version_uuid"`
	Size          FlexString `json:"-"`
	Metadata      struct {
		Extension string `json:"extension"`
		MimeType  string `json:"mime_type"`
	} `json:"metadata"`
	Links struct {
		Download struct {
			Href string `json:"href"`
		} `json:"download"`
	} `json:"_links"`
}

func (d *FileDescriptor) UnmarshalJSON(data []byte) error {
	type alias FileDescriptor
	var raw struct {
		alias
		Size json.RawMessage `json:"size"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = FileDescriptor(raw.alias)
	size := bytes.TrimSpace(raw.Size)
	if len(size) == 0 {
		return nil
	}
	if size[0] == '{' {
		var nested struct {
			Bytes FlexString `json:"bytes"`
		}
		if err := json.Unmarshal(size, &nested); err == nil {
			d.Size = nested.Bytes
		}
		return nil
	}
	var flat FlexString
	if err := json.Unmarshal(size, &flat); err == nil {
		d.Size = flat
	}
	return nil
}

// StatusEvent is one entry of leads.status in an inbound webhook.
type StatusEvent struct {
	LeadID      int64
	StatusID    int64
	PipelineID  int64
	OldStatusID int64
	Raw         map[string]any
}

func scalarString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s FlexString
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	trimmed := strings.TrimSpace(string(s))
	return trimmed, trimmed != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
