package bookings

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wolfman30/rental-ops/internal/store"
)

const (
	bookingsTable = "bookings"
	timelineTable = "booking_timeline_events"
)

// Repository provides persistence helpers for bookings.
type Repository struct {
	db store.Datastore
}

// NewRepository creates a repository over the datastore.
func NewRepository(db store.Datastore) *Repository {
	if db == nil {
		panic("bookings: datastore required")
	}
	return &Repository{db: db}
}

// Upsert writes b keyed by source_payload_id. booking_type and priority are
// set on creation only.
func (r *Repository) Upsert(ctx context.Context, b Booking) (string, error) {
	if b.SourcePayloadID == "" {
		return "", ErrMissingSourcePayloadID
	}
	patch := store.NewPatch().
		Put("source_payload_id", b.SourcePayloadID).
		Put("status", string(b.Status))
	store.PutField(patch, "client_id", b.ClientID)
	store.PutField(patch, "vehicle_id", b.VehicleID)
	store.PutField(patch, "owner_id", b.OwnerID)
	store.PutField(patch, "start_at", b.StartAt)
	store.PutField(patch, "end_at", b.EndAt)
	store.PutField(patch, "delivery_location", b.DeliveryLocation)
	store.PutField(patch, "collect_location", b.CollectLocation)
	putMoney(patch, "daily_price", b.DailyPrice)
	store.PutField(patch, "duration_days", b.DurationDays)
	store.PutField(patch, "insurance_fee_label", b.InsuranceFeeLabel)
	store.PutField(patch, "delivery_fee_label", b.DeliveryFeeLabel)
	putMoney(patch, "full_insurance_fee", b.FullInsuranceFee)
	putMoney(patch, "advance_payment", b.AdvancePayment)
	putMoney(patch, "total_amount", b.TotalAmount)
	store.PutField(patch, "agreement_number", b.AgreementNumber)
	store.PutField(patch, "kommo_status_id", b.KommoStatusID)

	onCreate := store.NewPatch().
		Put("booking_type", "rental").
		Put("priority", "medium").
		Put("source", "kommo")

	id, err := r.db.Upsert(ctx, bookingsTable, "source_payload_id", patch, onCreate)
	if err != nil {
		return "", fmt.Errorf("bookings: upsert %s: %w", b.SourcePayloadID, err)
	}
	return id, nil
}

// InsertTimelineEvent appends an audit row.
func (r *Repository) InsertTimelineEvent(ctx context.Context, evt TimelineEvent) (string, error) {
	if evt.BookingID == "" {
		return "", fmt.Errorf("bookings: timeline event %s: booking id required", evt.EventType)
	}
	payload := evt.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	patch := store.NewPatch().
		Put("booking_id", evt.BookingID).
		Put("event_type", evt.EventType).
		Put("message", evt.Message).
		Put("payload", payload)
	id, err := r.db.Insert(ctx, timelineTable, patch)
	if err != nil {
		return "", fmt.Errorf("bookings: insert timeline event: %w", err)
	}
	return id, nil
}

// putMoney writes amounts as fixed two-decimal strings.
func putMoney(p *store.Patch, column string, f store.Field[decimal.Decimal]) {
	if v, ok := f.Get(); ok {
		p.Put(column, v.StringFixed(2))
		return
	}
	if f.IsNull() {
		p.Put(column, nil)
	}
}
