package bookings

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/rental-ops/pkg/logging"
)

var bookingsTracer = otel.Tracer("rentalops.internal.bookings")

// Service upserts bookings and records their timeline.
type Service struct {
	repo   *Repository
	logger *logging.Logger
}

// NewService constructs a bookings service.
func NewService(repo *Repository, logger *logging.Logger) *Service {
	if repo == nil {
		panic("bookings: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Upsert creates or updates the booking for a Kommo lead.
func (s *Service) Upsert(ctx context.Context, b Booking) (string, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("rentalops.source_payload_id", b.SourcePayloadID),
		attribute.String("rentalops.booking_status", string(b.Status)),
	)

	id, err := s.repo.Upsert(ctx, b)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	s.logger.Info("booking upserted", "booking_id", id, "source_payload_id", b.SourcePayloadID, "status", b.Status)
	return id, nil
}

// LogEvent appends a timeline event. Failures are logged and returned.
func (s *Service) LogEvent(ctx context.Context, evt TimelineEvent) error {
	ctx, span := bookingsTracer.Start(ctx, "bookings.timeline")
	defer span.End()
	span.SetAttributes(attribute.String("rentalops.event_type", evt.EventType))

	if _, err := s.repo.InsertTimelineEvent(ctx, evt); err != nil {
		span.RecordError(err)
		s.logger.Warn("failed to record booking timeline event", "booking_id", evt.BookingID, "event_type", evt.EventType, "error", err)
		return err
	}
	return nil
}
