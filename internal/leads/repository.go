package leads

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wolfman30/rental-ops/internal/store"
	"github.com/wolfman30/rental-ops/pkg/logging"
)

const table = "sales_leads"

// Repository upserts sales leads through the datastore.
type Repository struct {
	db     store.Datastore
	logger *logging.Logger
}

// NewRepository wires a repository over db.
func NewRepository(db store.Datastore, logger *logging.Logger) *Repository {
	if db == nil {
		panic("leads: datastore required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Repository{db: db, logger: logger}
}

// Upsert writes the lead keyed by lead_code and returns its row id.
func (r *Repository) Upsert(ctx context.Context, lead SalesLead) (string, error) {
	if err := lead.Validate(); err != nil {
		return "", err
	}
	patch := store.NewPatch().Put("lead_code", lead.LeadCode)
	store.PutField(patch, "title", lead.Title)
	store.PutField(patch, "client_id", lead.ClientID)
	if v, ok := lead.Value.Get(); ok {
		patch.Put("value", v.StringFixed(2))
	} else if lead.Value.IsNull() {
		patch.Put("value", nil)
	}
	store.PutField(patch, "stage_id", lead.StageID)
	store.PutField(patch, "owner_id", lead.OwnerID)
	store.PutField(patch, "kommo_updated_at", lead.LastUpdatedAt)

	onCreate := store.NewPatch().Put("source", CodeSource).Put("value_currency", "AED")
	id, err := r.db.Upsert(ctx, table, "lead_code", patch, onCreate)
	if err != nil {
		return "", fmt.Errorf("leads: upsert %s: %w", lead.LeadCode, err)
	}
	return id, nil
}

// Money is a convenience for building Value from a Kommo price.
func Money(amount decimal.Decimal) store.Field[decimal.Decimal] {
	return store.Set(amount)
}
