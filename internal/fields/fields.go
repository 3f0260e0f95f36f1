// Package fields pulls normalised scalars out of Kommo custom fields.
package fields

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wolfman30/rental-ops/internal/kommo"
)

// dateLayouts are tried in order for non-numeric date tokens.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04",
	"02.01.2006",
	"01/02/2006",
	time.RFC1123Z,
	time.RFC1123,
}

// ByID returns the custom field with the given id.
func ByID(e kommo.Entity, fieldID int64) (kommo.CustomField, bool) {
	if e == nil || fieldID == 0 {
		return kommo.CustomField{}, false
	}
	for _, f := range e.CustomFields() {
		if f.FieldID == fieldID {
			return f, true
		}
	}
	return kommo.CustomField{}, false
}

// ByName matches a field's name or code, case-insensitively.
func ByName(e kommo.Entity, name string) (kommo.CustomField, bool) {
	name = strings.TrimSpace(name)
	if e == nil || name == "" {
		return kommo.CustomField{}, false
	}
	for _, f := range e.CustomFields() {
		if strings.EqualFold(strings.TrimSpace(f.FieldName), name) || strings.EqualFold(strings.TrimSpace(f.FieldCode), name) {
			return f, true
		}
	}
	return kommo.CustomField{}, false
}

// String returns the first value as text. Null values fall back to enum_code
// then enum_id; nested objects yield nothing.
func String(e kommo.Entity, fieldID int64) (string, bool) {
	f, ok := ByID(e, fieldID)
	if !ok {
		return "", false
	}
	return firstString(f)
}

// StringByName is String keyed by field label or code.
func StringByName(e kommo.Entity, name string) (string, bool) {
	f, ok := ByName(e, name)
	if !ok {
		return "", false
	}
	return firstString(f)
}

func firstString(f kommo.CustomField) (string, bool) {
	if len(f.Values) == 0 {
		return "", false
	}
	v := f.Values[0]
	var s string
	switch v.Kind {
	case kommo.ValueScalar:
		s = v.Scalar
	case kommo.ValueNull:
		s = v.EnumCode
		if strings.TrimSpace(s) == "" {
			s = v.EnumID
		}
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// EnumID returns the first value's enum_id.
func EnumID(e kommo.Entity, fieldID int64) (string, bool) {
	f, ok := ByID(e, fieldID)
	if !ok || len(f.Values) == 0 {
		return "", false
	}
	id := strings.TrimSpace(f.Values[0].EnumID)
	return id, id != ""
}

// Decimal parses the field's text as an exact decimal amount.
func Decimal(e kommo.Entity, fieldID int64) (decimal.Decimal, bool) {
	s, ok := String(e, fieldID)
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Integer reads the leading integer of the field's text, so "3 days" is 3
// and "2.5" is 2.
func Integer(e kommo.Entity, fieldID int64) (int64, bool) {
	s, ok := String(e, fieldID)
	if !ok {
		return 0, false
	}
	return LeadingInt(s)
}

// LeadingInt parses an optional sign followed by digits at the start of s.
func LeadingInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Epoch scans every value of the field and returns the first one that reads
// as unix seconds or as a date string. Results are UTC.
func Epoch(e kommo.Entity, fieldID int64) (time.Time, bool) {
	f, ok := ByID(e, fieldID)
	if !ok {
		return time.Time{}, false
	}
	for _, v := range f.Values {
		token := v.Scalar
		if v.Kind != kommo.ValueScalar {
			token = v.EnumCode
		}
		if t, ok := ParseTime(token); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseTime interprets token as epoch seconds, then as one of the known
// date layouts.
func ParseTime(token string) (time.Time, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.ParseFloat(token, 64); err == nil {
		if math.IsInf(secs, 0) || math.IsNaN(secs) {
			return time.Time{}, false
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, token); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// VehicleID resolves the Kommo vehicle reference on a lead: direct attributes
// first, then a custom field matching fieldID or code.
func VehicleID(lead *kommo.Lead, fieldID int64, code string) (string, bool) {
	if lead == nil {
		return "", false
	}
	if id, ok := lead.DirectVehicleID(); ok {
		return id, true
	}
	code = strings.TrimSpace(code)
	for _, f := range lead.CustomFields() {
		matched := (fieldID != 0 && f.FieldID == fieldID) || (code != "" && strings.EqualFold(f.FieldCode, code))
		if !matched || len(f.Values) == 0 {
			continue
		}
		v := f.Values[0]
		for _, candidate := range []string{v.EnumID, scalarOf(v), v.EnumCode} {
			if c := strings.TrimSpace(candidate); c != "" {
				return c, true
			}
		}
	}
	return "", false
}

func scalarOf(v kommo.FieldValue) string {
	if v.Kind == kommo.ValueScalar {
		return v.Scalar
	}
	return ""
}
