package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/wolfman30/rental-ops/internal/store"
)

const eventsTable = "webhook_events"

// Processing outcomes stored on webhook_events.processing_status.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// EventRecord is one audit row per status event.
type EventRecord struct {
	LeadID         int64
	StatusID       int64
	PipelineID     int64
	StatusLabel    string
	Outcome        string
	SignatureValid bool
	Error          string
	BookingID      string
	ClientID       string
	Payload        map[string]any
	LeadSnapshot   json.RawMessage
	Documents      map[string]any
	ProcessedAt    time.Time
}

// EventLog persists EventRecords.
type EventLog struct {
	db store.Datastore
}

func NewEventLog(db store.Datastore) *EventLog {
	if db == nil {
		panic("webhook: datastore required")
	}
	return &EventLog{db: db}
}

func (l *EventLog) Record(ctx context.Context, rec EventRecord) (string, error) {
	payload := rec.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	patch := store.NewPatch().
		Put("source", "kommo").
		Put("event_type", "lead_status").
		Put("kommo_lead_id", strconv.FormatInt(rec.LeadID, 10)).
		Put("kommo_status_id", rec.StatusID).
		Put("kommo_pipeline_id", rec.PipelineID).
		Put("status_label", rec.StatusLabel).
		Put("processing_status", rec.Outcome).
		Put("signature_valid", rec.SignatureValid).
		Put("payload", payload).
		Put("processed_at", rec.ProcessedAt)
	if rec.Error != "" {
		patch.Put("error_message", rec.Error)
	}
	if rec.BookingID != "" {
		patch.Put("booking_id", rec.BookingID)
	}
	if rec.ClientID != "" {
		patch.Put("client_id", rec.ClientID)
	}
	if len(rec.LeadSnapshot) > 0 {
		patch.Put("lead_snapshot", rec.LeadSnapshot)
	}
	if len(rec.Documents) > 0 {
		patch.Put("documents", rec.Documents)
	}
	id, err := l.db.Insert(ctx, eventsTable, patch)
	if err != nil {
		return "", fmt.Errorf("webhook: record event for lead %d: %w", rec.LeadID, err)
	}
	return id, nil
}
