package bookings

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wolfman30/rental-ops/internal/catalog"
	"github.com/wolfman30/rental-ops/internal/store"
)

func TestSourcePayloadID(t *testing.T) {
	if got := SourcePayloadID(55); got != "kommo_lead_55" {
		t.Fatalf("unexpected source payload id %q", got)
	}
}

func TestUpsertAppliesCreationDefaultsOnce(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	svc := NewService(NewRepository(db), nil)
	start := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	id1, err := svc.Upsert(ctx, Booking{
		SourcePayloadID: SourcePayloadID(55),
		Status:          catalog.StatusLead,
		ClientID:        store.Set("client-1"),
		VehicleID:       store.Set("vehicle-1"),
		StartAt:         store.Set(start),
		DailyPrice:      store.Set(decimal.NewFromInt(350)),
		DurationDays:    store.Set(int64(3)),
		TotalAmount:     store.Set(decimal.RequireFromString("1102.5")),
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Simulate an operator reprioritising the booking between deliveries.
	if _, err := db.Upsert(ctx, "bookings", "source_payload_id",
		store.NewPatch().Put("source_payload_id", SourcePayloadID(55)).Put("priority", "high"), nil); err != nil {
		t.Fatalf("manual update: %v", err)
	}

	id2, err := svc.Upsert(ctx, Booking{
		SourcePayloadID: SourcePayloadID(55),
		Status:          catalog.StatusConfirmed,
		KommoStatusID:   store.Set(catalog.StatusBookingConfirmed),
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected one booking, got %s and %s", id1, id2)
	}

	rows := db.Rows("bookings")
	if len(rows) != 1 {
		t.Fatalf("expected one booking row, got %d", len(rows))
	}
	row := rows[0]
	if row["status"] != "confirmed" {
		t.Fatalf("expected status update, got %v", row["status"])
	}
	if row["priority"] != "high" {
		t.Fatalf("creation defaults must not be reapplied, got priority %v", row["priority"])
	}
	if row["booking_type"] != "rental" {
		t.Fatalf("expected rental booking type, got %v", row["booking_type"])
	}
	if row["vehicle_id"] != "vehicle-1" || row["client_id"] != "client-1" {
		t.Fatalf("omitted links were clobbered: %v", row)
	}
	if row["total_amount"] != "1102.50" || row["daily_price"] != "350.00" {
		t.Fatalf("unexpected money columns: %v / %v", row["total_amount"], row["daily_price"])
	}
	if row["start_at"] != start {
		t.Fatalf("expected start_at to survive, got %v", row["start_at"])
	}
	if row["kommo_status_id"] != catalog.StatusBookingConfirmed {
		t.Fatalf("expected status id snapshot, got %v", row["kommo_status_id"])
	}
}

func TestUpsertRequiresSourcePayloadID(t *testing.T) {
	svc := NewService(NewRepository(store.NewMemory()), nil)
	if _, err := svc.Upsert(context.Background(), Booking{Status: catalog.StatusLead}); err != ErrMissingSourcePayloadID {
		t.Fatalf("expected ErrMissingSourcePayloadID, got %v", err)
	}
}

func TestLogEventAppends(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	svc := NewService(NewRepository(db), nil)

	for i := 0; i < 2; i++ {
		if err := svc.LogEvent(ctx, TimelineEvent{
			BookingID: "b-1",
			EventType: EventStatusChange,
			Message:   "Status changed to Booking confirmed",
			Payload:   map[string]any{"status_id": catalog.StatusBookingConfirmed},
		}); err != nil {
			t.Fatalf("log event: %v", err)
		}
	}
	if got := db.Count("booking_timeline_events"); got != 2 {
		t.Fatalf("expected append-only rows, got %d", got)
	}
	if err := svc.LogEvent(ctx, TimelineEvent{EventType: EventStatusChange}); err == nil {
		t.Fatalf("expected error without booking id")
	}
}
