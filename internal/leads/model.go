package leads

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wolfman30/rental-ops/internal/store"
)

// CodeSource prefixes lead codes minted from Kommo lead ids.
const CodeSource = "kommo"

// Code returns the stable "<source>:<id>" key of a Kommo lead.
func Code(kommoLeadID int64) string {
	return fmt.Sprintf("%s:%d", CodeSource, kommoLeadID)
}

// SalesLead is a partial sales_leads row keyed by LeadCode.
type SalesLead struct {
	LeadCode      string
	Title         store.Field[string]
	ClientID      store.Field[string]
	Value         store.Field[decimal.Decimal]
	StageID       store.Field[string]
	OwnerID       store.Field[string]
	LastUpdatedAt store.Field[time.Time]
}

// Validate checks the upsert key.
func (l *SalesLead) Validate() error {
	if l.LeadCode == "" {
		return ErrMissingLeadCode
	}
	return nil
}
