// Package webhook runs inbound Kommo lead status deliveries through the
// client, lead, booking and document pipeline.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/rental-ops/internal/bookings"
	"github.com/wolfman30/rental-ops/internal/catalog"
	"github.com/wolfman30/rental-ops/internal/clients"
	"github.com/wolfman30/rental-ops/internal/directory"
	"github.com/wolfman30/rental-ops/internal/documents"
	"github.com/wolfman30/rental-ops/internal/kommo"
	"github.com/wolfman30/rental-ops/internal/leads"
	"github.com/wolfman30/rental-ops/internal/notify"
	"github.com/wolfman30/rental-ops/internal/pricing"
	"github.com/wolfman30/rental-ops/internal/recognition"
	"github.com/wolfman30/rental-ops/internal/salesorder"
	"github.com/wolfman30/rental-ops/internal/store"
	"github.com/wolfman30/rental-ops/pkg/logging"
)

var tracer = otel.Tracer("rentalops.internal.webhook")

// LeadSource is the part of the Kommo client the pipeline reads from.
type LeadSource interface {
	GetLead(ctx context.Context, leadID int64) (*kommo.Lead, error)
	GetContact(ctx context.Context, contactID int64) (*kommo.Contact, error)
}

// DocumentSyncer mirrors a client's Kommo files.
type DocumentSyncer interface {
	Sync(ctx context.Context, t documents.Target) documents.SyncReport
}

// Observer receives per-event and per-request outcomes.
type Observer interface {
	ObserveEvent(outcome string, seconds float64)
	ObserveWebhook(status int)
}

// Request is one inbound delivery.
type Request struct {
	Body      []byte
	Signature string
}

// EventResult is the per-event entry of the response.
type EventResult struct {
	LeadID          int64  `json:"leadId"`
	Processed       bool   `json:"processed,omitempty"`
	Skipped         bool   `json:"skipped,omitempty"`
	Error           string `json:"error,omitempty"`
	StatusID        int64  `json:"statusId,omitempty"`
	StatusLabel     string `json:"statusLabel,omitempty"`
	BookingID       string `json:"bookingId,omitempty"`
	ClientID        string `json:"clientId,omitempty"`
	DocumentsSynced int    `json:"documentsSynced,omitempty"`
	DocumentErrors  int    `json:"documentErrors,omitempty"`
}

// Response is the JSON body returned to Kommo.
type Response struct {
	Processed []EventResult `json:"processed"`
	Error     string        `json:"error,omitempty"`
}

// Config wires a Processor. Kommo, Catalog, Datastore are required.
type Config struct {
	Kommo       LeadSource
	Catalog     *catalog.Catalog
	Datastore   store.Datastore
	Documents   DocumentSyncer
	SalesOrders salesorder.Creator
	Recognition recognition.Requester
	Notifier    notify.Sender
	Metrics     Observer
	Logger      *logging.Logger

	Secret           string
	EnforceSignature bool
	Concurrency      int

	// VATRate defaults to pricing.DefaultVATRate when nil.
	VATRate  *decimal.Decimal
	Schedule *pricing.FeeSchedule

	// Timeout bounds one delivery's pipeline; zero means unbounded.
	Timeout time.Duration
}

// Processor is the webhook orchestrator shared by the HTTP and Lambda
// runtimes.
type Processor struct {
	kommo       LeadSource
	catalog     *catalog.Catalog
	clients     *clients.Service
	leads       *leads.Repository
	bookings    *bookings.Service
	directory   *directory.Directory
	events      *EventLog
	documents   DocumentSyncer
	salesOrders salesorder.Creator
	recognition recognition.Requester
	notifier    notify.Sender
	metrics     Observer
	logger      *logging.Logger

	secret           string
	enforceSignature bool
	concurrency      int
	vatRate          decimal.Decimal
	schedule         pricing.FeeSchedule
	timeout          time.Duration
	now              func() time.Time
}

func NewProcessor(cfg Config) *Processor {
	if cfg.Kommo == nil || cfg.Datastore == nil {
		panic("webhook: kommo client and datastore required")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.New(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	schedule := pricing.DefaultSchedule()
	if cfg.Schedule != nil {
		schedule = *cfg.Schedule
	}
	vatRate := pricing.DefaultVATRate
	if cfg.VATRate != nil {
		vatRate = *cfg.VATRate
	}
	return &Processor{
		kommo:            cfg.Kommo,
		catalog:          cfg.Catalog,
		clients:          clients.NewService(cfg.Datastore, cfg.Logger),
		leads:            leads.NewRepository(cfg.Datastore, cfg.Logger),
		bookings:         bookings.NewService(bookings.NewRepository(cfg.Datastore), cfg.Logger),
		directory:        directory.New(cfg.Datastore, cfg.Logger),
		events:           NewEventLog(cfg.Datastore),
		documents:        cfg.Documents,
		salesOrders:      cfg.SalesOrders,
		recognition:      cfg.Recognition,
		notifier:         cfg.Notifier,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
		secret:           cfg.Secret,
		enforceSignature: cfg.EnforceSignature,
		concurrency:      cfg.Concurrency,
		vatRate:          vatRate,
		schedule:         schedule,
		timeout:          cfg.Timeout,
		now:              time.Now,
	}
}

// Process handles one delivery and returns the HTTP status and body. Only a
// rejected signature (401) or an unreadable body (400) change the status;
// per-event failures are reported inside a 200 response. The pipeline keeps
// running when the caller disconnects.
func (p *Processor) Process(ctx context.Context, req Request) (int, Response) {
	ctx, cancel := p.detach(ctx)
	defer cancel()
	ctx, span := tracer.Start(ctx, "webhook.process")
	defer span.End()

	sigErr := kommo.VerifySignature(p.secret, req.Body, req.Signature)
	signatureValid := sigErr == nil
	span.SetAttributes(attribute.Bool("kommo.signature_valid", signatureValid))
	if p.enforceSignature && sigErr != nil {
		p.logger.Warn("rejecting kommo webhook with invalid signature")
		return p.respond(http.StatusUnauthorized, Response{Processed: []EventResult{}, Error: sigErr.Error()})
	}

	payload, err := ParseBody(req.Body)
	if err != nil {
		p.logger.Warn("unparseable kommo webhook body", "error", err, "bytes", len(req.Body))
		return p.respond(http.StatusBadRequest, Response{Processed: []EventResult{}, Error: "invalid payload"})
	}

	events := StatusEvents(payload)
	if len(events) == 0 {
		p.logger.Warn("kommo webhook carried no lead status events")
	}
	span.SetAttributes(attribute.Int("kommo.events", len(events)))

	results := make([]EventResult, len(events))
	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)
	for i, evt := range events {
		i, evt := i, evt
		g.Go(func() error {
			results[i] = p.processEvent(ctx, evt, signatureValid)
			return nil
		})
	}
	_ = g.Wait()

	return p.respond(http.StatusOK, Response{Processed: results})
}

// Replay re-runs the pipeline for one lead using its current Kommo status.
// It is recorded like any delivery, with signature_valid false.
func (p *Processor) Replay(ctx context.Context, leadID int64) EventResult {
	ctx, cancel := p.detach(ctx)
	defer cancel()
	ctx, span := tracer.Start(ctx, "webhook.replay")
	defer span.End()

	evt := kommo.StatusEvent{
		LeadID: leadID,
		Raw:    map[string]any{"id": leadID, "trigger": "admin_replay"},
	}
	return p.processEvent(ctx, evt, false)
}

// detach drops the caller's cancellation and deadline but keeps its values.
func (p *Processor) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if p.timeout > 0 {
		return context.WithTimeout(ctx, p.timeout)
	}
	return ctx, func() {}
}

func (p *Processor) respond(status int, resp Response) (int, Response) {
	if p.metrics != nil {
		p.metrics.ObserveWebhook(status)
	}
	return status, resp
}

// eventState carries what one event produced so far, for the audit row.
type eventState struct {
	lead       *kommo.Lead
	pipelineID int64
	docs       *documents.SyncReport
}

func (p *Processor) processEvent(ctx context.Context, evt kommo.StatusEvent, signatureValid bool) (res EventResult) {
	start := p.now()
	ctx, span := tracer.Start(ctx, "webhook.event")
	defer span.End()
	span.SetAttributes(attribute.Int64("kommo.lead_id", evt.LeadID))

	logger := p.logger.With("lead_id", evt.LeadID)
	res = EventResult{LeadID: evt.LeadID, StatusID: evt.StatusID}
	state := &eventState{pipelineID: evt.PipelineID}
	outcome := OutcomeProcessed
	var err error

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("webhook: panic processing lead %d: %v", evt.LeadID, r)
			outcome = OutcomeFailed
			res.Processed = false
			res.Error = err.Error()
		}
		if outcome == OutcomeFailed {
			span.RecordError(err)
			logger.Error("kommo status event failed", "error", err)
			p.notify(ctx, notify.ChannelErrors, fmt.Sprintf("Kommo lead %d failed to process: %s", evt.LeadID, res.Error))
		}
		p.record(ctx, evt, res, state, outcome, signatureValid)
		if p.metrics != nil {
			p.metrics.ObserveEvent(outcome, p.now().Sub(start).Seconds())
		}
	}()

	outcome, err = p.runEvent(ctx, evt, &res, state, logger)
	switch outcome {
	case OutcomeProcessed:
		res.Processed = true
	case OutcomeSkipped:
		res.Skipped = true
		if err != nil {
			res.Error = err.Error()
		}
	default:
		if err != nil {
			res.Error = err.Error()
		}
	}
	return res
}

var errNoLeadID = errors.New("status event has no lead id")

func (p *Processor) runEvent(ctx context.Context, evt kommo.StatusEvent, res *EventResult, state *eventState, logger *logging.Logger) (string, error) {
	if evt.LeadID == 0 {
		return OutcomeSkipped, errNoLeadID
	}

	lead, err := p.kommo.GetLead(ctx, evt.LeadID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("fetch lead %d: %w", evt.LeadID, err)
	}
	if lead == nil {
		return OutcomeSkipped, fmt.Errorf("lead %d not found in kommo", evt.LeadID)
	}
	state.lead = lead

	statusID := evt.StatusID
	if statusID == 0 {
		statusID = lead.StatusID
	}
	if state.pipelineID == 0 {
		state.pipelineID = lead.PipelineID
	}
	res.StatusID = statusID
	res.StatusLabel = p.catalog.StatusLabel(statusID)
	if !p.catalog.Known(statusID) {
		logger.Warn("unmapped kommo status, booking stays a lead", "status_id", statusID)
	}

	var contact *kommo.Contact
	if contactID, ok := lead.MainContactID(); ok {
		contact, err = p.kommo.GetContact(ctx, contactID)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("fetch contact %d: %w", contactID, err)
		}
	}

	var clientID string
	if contact != nil {
		clientID, err = p.clients.Upsert(ctx, clients.FromContact(contact, p.catalog.Fields))
		if err != nil {
			return OutcomeFailed, err
		}
		res.ClientID = clientID
	} else {
		logger.Warn("lead has no contact; booking will not be linked to a client")
	}

	ownerID, _, err := p.directory.StaffByCRMUser(ctx, lead.ResponsibleUserID)
	if err != nil {
		return OutcomeFailed, err
	}

	if _, err := p.leads.Upsert(ctx, p.salesLead(lead, statusID, clientID, ownerID)); err != nil {
		return OutcomeFailed, err
	}

	booking, err := p.buildBooking(ctx, lead, statusID, clientID, ownerID)
	if err != nil {
		return OutcomeFailed, err
	}
	bookingID, err := p.bookings.Upsert(ctx, booking)
	if err != nil {
		return OutcomeFailed, err
	}
	res.BookingID = bookingID

	if p.documents != nil && clientID != "" {
		report := p.documents.Sync(ctx, documents.Target{ClientID: clientID, Contact: contact, Lead: lead})
		state.docs = &report
		res.DocumentsSynced = report.Synced
		res.DocumentErrors = len(report.Errors)
	}

	total, _ := booking.TotalAmount.Get()
	if p.catalog.IsConfirmed(booking.Status) && !total.IsPositive() {
		logger.Warn("confirmed booking has no amount", "booking_id", bookingID, "status", booking.Status)
		p.notify(ctx, notify.ChannelBookings, fmt.Sprintf(
			"Booking %s (Kommo lead %d) is %s with a total of %s AED. Check the lead's pricing fields.",
			bookingID, lead.ID, res.StatusLabel, total.StringFixed(2)))
	}

	_ = p.bookings.LogEvent(ctx, bookings.TimelineEvent{
		BookingID: bookingID,
		EventType: bookings.EventStatusChange,
		Message:   fmt.Sprintf("Kommo status changed to %s", res.StatusLabel),
		Payload: map[string]any{
			"kommo_lead_id":       lead.ID,
			"kommo_status_id":     statusID,
			"kommo_old_status_id": evt.OldStatusID,
			"kommo_pipeline_id":   state.pipelineID,
			"booking_status":      string(booking.Status),
		},
	})

	if p.catalog.TriggersSalesOrder(statusID) {
		p.triggerSalesOrder(ctx, bookingID, lead.ID, logger)
	}

	if p.catalog.TriggersRecognition(statusID) {
		p.triggerRecognition(ctx, clientID, bookingID, lead.ID, logger)
	}

	return OutcomeProcessed, nil
}

func (p *Processor) salesLead(lead *kommo.Lead, statusID int64, clientID, ownerID string) leads.SalesLead {
	sl := leads.SalesLead{
		LeadCode: leads.Code(lead.ID),
		StageID:  store.Set(strconv.FormatInt(statusID, 10)),
	}
	if lead.Name != "" {
		sl.Title = store.Set(lead.Name)
	}
	if clientID != "" {
		sl.ClientID = store.Set(clientID)
	}
	if ownerID != "" {
		sl.OwnerID = store.Set(ownerID)
	}
	if price, ok := leadPrice(lead); ok {
		sl.Value = leads.Money(price)
	}
	if lead.UpdatedAt > 0 {
		sl.LastUpdatedAt = store.Set(time.Unix(lead.UpdatedAt, 0).UTC())
	}
	return sl
}

func leadPrice(lead *kommo.Lead) (decimal.Decimal, bool) {
	if lead.Price == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(string(lead.Price))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func (p *Processor) triggerSalesOrder(ctx context.Context, bookingID string, leadID int64, logger *logging.Logger) {
	if p.salesOrders == nil {
		logger.Info("sales order creator not configured, skipping", "booking_id", bookingID)
		return
	}
	result, err := p.salesOrders.CreateForBooking(ctx, bookingID)
	switch {
	case errors.Is(err, salesorder.ErrDisabled):
		logger.Info("sales order creator not configured, skipping", "booking_id", bookingID)
	case err != nil:
		logger.Error("sales order creation errored", "booking_id", bookingID, "error", err)
		_ = p.bookings.LogEvent(ctx, bookings.TimelineEvent{
			BookingID: bookingID,
			EventType: bookings.EventSalesOrderFailed,
			Message:   "Sales order creation errored",
			Payload:   map[string]any{"error": err.Error()},
		})
		p.notify(ctx, notify.ChannelSalesOrder, fmt.Sprintf("Sales order creation errored for booking %s (Kommo lead %d): %v", bookingID, leadID, err))
	case result.AlreadyExists():
		logger.Info("sales order already exists", "booking_id", bookingID, "sales_order_id", result.SalesOrderID)
		_ = p.bookings.LogEvent(ctx, bookings.TimelineEvent{
			BookingID: bookingID,
			EventType: bookings.EventSalesOrderExists,
			Message:   result.Message,
			Payload:   salesOrderPayload(result),
		})
	case result.Success:
		logger.Info("sales order created", "booking_id", bookingID, "sales_order_id", result.SalesOrderID)
		_ = p.bookings.LogEvent(ctx, bookings.TimelineEvent{
			BookingID: bookingID,
			EventType: bookings.EventSalesOrderCreated,
			Message:   fmt.Sprintf("Sales order %s created", result.SalesOrderID),
			Payload:   salesOrderPayload(result),
		})
	default:
		logger.Warn("sales order creation failed", "booking_id", bookingID, "error", result.Error)
		_ = p.bookings.LogEvent(ctx, bookings.TimelineEvent{
			BookingID: bookingID,
			EventType: bookings.EventSalesOrderFailed,
			Message:   "Sales order creation failed",
			Payload:   map[string]any{"error": result.Error},
		})
		p.notify(ctx, notify.ChannelSalesOrder, fmt.Sprintf("Sales order creation failed for booking %s (Kommo lead %d): %s", bookingID, leadID, result.Error))
	}
}

func salesOrderPayload(r salesorder.Result) map[string]any {
	return map[string]any{
		"sales_order_id":  r.SalesOrderID,
		"sales_order_url": r.SalesOrderURL,
		"message":         r.Message,
	}
}

func (p *Processor) triggerRecognition(ctx context.Context, clientID, bookingID string, leadID int64, logger *logging.Logger) {
	if p.recognition == nil || clientID == "" {
		return
	}
	err := p.recognition.Recognize(ctx, recognition.Request{ClientID: clientID, BookingID: bookingID, LeadID: leadID})
	if err != nil {
		logger.Warn("document recognition request failed", "client_id", clientID, "error", err)
	}
}

func (p *Processor) notify(ctx context.Context, channel, message string) {
	if p.notifier == nil {
		p.logger.Info("operator notification (no notifier)", "channel", channel, "message", message)
		return
	}
	p.notifier.Send(ctx, channel, message)
}

func (p *Processor) record(ctx context.Context, evt kommo.StatusEvent, res EventResult, state *eventState, outcome string, signatureValid bool) {
	rec := EventRecord{
		LeadID:         evt.LeadID,
		StatusID:       res.StatusID,
		PipelineID:     state.pipelineID,
		StatusLabel:    res.StatusLabel,
		Outcome:        outcome,
		SignatureValid: signatureValid,
		Error:          res.Error,
		BookingID:      res.BookingID,
		ClientID:       res.ClientID,
		Payload:        evt.Raw,
		ProcessedAt:    p.now().UTC(),
	}
	if state.lead != nil {
		rec.LeadSnapshot = state.lead.Raw
	}
	if state.docs != nil {
		rec.Documents = documentSummary(*state.docs)
	}
	if _, err := p.events.Record(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Error("failed to record webhook event", "lead_id", evt.LeadID, "error", err)
	}
}

func documentSummary(r documents.SyncReport) map[string]any {
	errs := make([]map[string]any, 0, len(r.Errors))
	for _, fe := range r.Errors {
		entry := map[string]any{
			"file_uuid": fe.FileUUID,
			"source":    string(fe.Source),
			"stage":     fe.Stage,
		}
		if fe.Err != nil {
			entry["error"] = fe.Err.Error()
		}
		errs = append(errs, entry)
	}
	return map[string]any{
		"synced":  r.Synced,
		"skipped": r.Skipped,
		"errors":  errs,
	}
}
