// Package clients upserts CRM contacts into the clients table.
package clients

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/wolfman30/rental-ops/internal/catalog"
	"github.com/wolfman30/rental-ops/internal/fields"
	"github.com/wolfman30/rental-ops/internal/kommo"
	"github.com/wolfman30/rental-ops/internal/store"
	"github.com/wolfman30/rental-ops/pkg/logging"
)

const table = "clients"

// ErrMissingContactID is returned when the upsert key is empty.
var ErrMissingContactID = errors.New("clients: kommo contact id is required")

// Input is a partial client record. Absent fields leave stored values alone.
type Input struct {
	KommoContactID int64
	FullName       store.Field[string]
	Phone          store.Field[string]
	Email          store.Field[string]
	CountryCode    store.Field[string]
	Gender         store.Field[string]
}

// FromContact reads the client attributes Kommo carries on a contact.
func FromContact(contact *kommo.Contact, f catalog.Fields) Input {
	in := Input{KommoContactID: contact.ID}
	if name := contact.DisplayName(); name != "" {
		in.FullName = store.Set(name)
	}
	if phone, ok := fields.StringByName(contact, "PHONE"); ok {
		in.Phone = store.Set(phone)
	}
	if email, ok := fields.StringByName(contact, "EMAIL"); ok {
		in.Email = store.Set(email)
	}
	if raw, ok := fields.String(contact, f.Nationality); ok {
		if code, ok := NormalizeCountry(raw); ok {
			in.CountryCode = store.Set(code)
		}
	}
	if raw, ok := fields.String(contact, f.Gender); ok {
		if gender, ok := NormalizeGender(raw); ok {
			in.Gender = store.Set(gender)
		}
	}
	return in
}

// Service writes clients through the datastore.
type Service struct {
	db     store.Datastore
	logger *logging.Logger
}

func NewService(db store.Datastore, logger *logging.Logger) *Service {
	if db == nil {
		panic("clients: datastore required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{db: db, logger: logger}
}

// Upsert creates or merges the client keyed by kommo_contact_id.
func (s *Service) Upsert(ctx context.Context, in Input) (string, error) {
	if in.KommoContactID == 0 {
		return "", ErrMissingContactID
	}
	patch := store.NewPatch().Put("kommo_contact_id", strconv.FormatInt(in.KommoContactID, 10))
	store.PutField(patch, "full_name", in.FullName)
	store.PutField(patch, "phone", in.Phone)
	store.PutField(patch, "email", in.Email)
	store.PutField(patch, "country_code", in.CountryCode)
	store.PutField(patch, "gender", in.Gender)

	id, err := s.db.Upsert(ctx, table, "kommo_contact_id", patch, store.NewPatch().Put("source", "kommo"))
	if err != nil {
		return "", fmt.Errorf("clients: upsert contact %d: %w", in.KommoContactID, err)
	}
	s.logger.Debug("client upserted", "client_id", id, "kommo_contact_id", in.KommoContactID)
	return id, nil
}
