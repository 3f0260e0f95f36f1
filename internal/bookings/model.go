package bookings

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wolfman30/rental-ops/internal/catalog"
	"github.com/wolfman30/rental-ops/internal/store"
)

// ErrMissingSourcePayloadID is returned when the upsert key is empty.
var ErrMissingSourcePayloadID = errors.New("bookings: source payload id is required")

// SourcePayloadID derives the stable booking key from a Kommo lead id.
func SourcePayloadID(kommoLeadID int64) string {
	return fmt.Sprintf("kommo_lead_%d", kommoLeadID)
}

// Booking is a partial bookings row. Status is always written; every other
// attribute is written only when present.
type Booking struct {
	SourcePayloadID string
	Status          catalog.BookingStatus

	ClientID          store.Field[string]
	VehicleID         store.Field[string]
	OwnerID           store.Field[string]
	StartAt           store.Field[time.Time]
	EndAt             store.Field[time.Time]
	DeliveryLocation  store.Field[string]
	CollectLocation   store.Field[string]
	DailyPrice        store.Field[decimal.Decimal]
	DurationDays      store.Field[int64]
	InsuranceFeeLabel store.Field[string]
	DeliveryFeeLabel  store.Field[string]
	FullInsuranceFee  store.Field[decimal.Decimal]
	AdvancePayment    store.Field[decimal.Decimal]
	TotalAmount       store.Field[decimal.Decimal]
	AgreementNumber   store.Field[string]
	KommoStatusID     store.Field[int64]
}

// Timeline event types.
const (
	EventStatusChange      = "status_change"
	EventSalesOrderCreated = "sales_order_created"
	EventSalesOrderExists  = "sales_order_exists"
	EventSalesOrderFailed  = "sales_order_failed"
)

// TimelineEvent is an append-only audit row attached to a booking.
type TimelineEvent struct {
	BookingID string
	EventType string
	Message   string
	Payload   map[string]any
}
