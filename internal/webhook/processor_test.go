package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wolfman30/rental-ops/internal/catalog"
	"github.com/wolfman30/rental-ops/internal/documents"
	"github.com/wolfman30/rental-ops/internal/kommo"
	"github.com/wolfman30/rental-ops/internal/notify"
	"github.com/wolfman30/rental-ops/internal/pricing"
	"github.com/wolfman30/rental-ops/internal/recognition"
	"github.com/wolfman30/rental-ops/internal/salesorder"
	"github.com/wolfman30/rental-ops/internal/store"
)

const leadTemplate = `{
	"id": %d,
	"name": "Range Rover Sport - 3 days",
	"price": 1200,
	"responsible_user_id": 9001,
	"status_id": %d,
	"pipeline_id": 777,
	"updated_at": 1714557600,
	"vehicle_id": "V-9",
	"custom_fields_values": [
		{"field_id": 1002, "values": [{"value": 1714557600}]},
		{"field_id": 1003, "values": [{"value": 1714816800}]},
		{"field_id": 1004, "values": [{"value": "Dubai Marina"}]},
		{"field_id": 1006, "values": [{"value": "500"}]},
		{"field_id": 1007, "values": [{"value": "3"}]},
		{"field_id": 1008, "values": [{"value": "Delivery Dubai"}]},
		{"field_id": 1009, "values": [{"value": "Refundable deposit 1500"}]}
	],
	"_embedded": {"contacts": [{"id": 31, "is_main": false}, {"id": 32, "is_main": true}]}
}`

const bareLeadTemplate = `{
	"id": %d,
	"name": "Walk-in",
	"status_id": %d,
	"pipeline_id": 777,
	"_embedded": {"contacts": [{"id": 32, "is_main": true}]}
}`

type fakeKommo struct {
	mu       sync.Mutex
	leads    map[int64]string
	leadErrs map[int64]error
	calls    []int64
}

func (f *fakeKommo) GetLead(ctx context.Context, id int64) (*kommo.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if err := f.leadErrs[id]; err != nil {
		return nil, err
	}
	raw, ok := f.leads[id]
	if !ok {
		return nil, nil
	}
	var lead kommo.Lead
	if err := json.Unmarshal([]byte(raw), &lead); err != nil {
		return nil, err
	}
	lead.Raw = json.RawMessage(raw)
	return &lead, nil
}

func (f *fakeKommo) GetContact(ctx context.Context, id int64) (*kommo.Contact, error) {
	return &kommo.Contact{
		ID:   id,
		Name: "Amira Haddad",
		CustomFieldsValues: []kommo.CustomField{
			{FieldCode: "PHONE", Values: []kommo.FieldValue{{Kind: kommo.ValueScalar, Scalar: "+971500000001"}}},
			{FieldID: 2001, Values: []kommo.FieldValue{{Kind: kommo.ValueScalar, Scalar: "Emirati"}}},
		},
	}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingNotifier) Send(ctx context.Context, channel, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, channel)
}

func (r *recordingNotifier) channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type stubCreator struct {
	result salesorder.Result
	err    error
	calls  int
}

func (s *stubCreator) CreateForBooking(ctx context.Context, bookingID string) (salesorder.Result, error) {
	s.calls++
	return s.result, s.err
}

type stubRecognition struct {
	reqs []recognition.Request
}

func (s *stubRecognition) Recognize(ctx context.Context, req recognition.Request) error {
	s.reqs = append(s.reqs, req)
	return nil
}

type stubDocuments struct {
	report documents.SyncReport
	calls  int
}

func (s *stubDocuments) Sync(ctx context.Context, t documents.Target) documents.SyncReport {
	s.calls++
	return s.report
}

type fixture struct {
	db          *store.Memory
	kommo       *fakeKommo
	notifier    *recordingNotifier
	creator     *stubCreator
	recognition *stubRecognition
	docs        *stubDocuments
	processor   *Processor
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		db:          store.NewMemory(),
		kommo:       &fakeKommo{leads: map[int64]string{}, leadErrs: map[int64]error{}},
		notifier:    &recordingNotifier{},
		creator:     &stubCreator{result: salesorder.Result{Success: true, Message: "Sales order created", SalesOrderID: "SO-1"}},
		recognition: &stubRecognition{},
		docs:        &stubDocuments{},
	}
	if _, err := f.db.Insert(context.Background(), "vehicles", store.NewPatch().Put("kommo_vehicle_id", "V-9")); err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}
	cfg := Config{
		Kommo:       f.kommo,
		Catalog:     catalog.New(nil),
		Datastore:   f.db,
		Documents:   f.docs,
		SalesOrders: f.creator,
		Recognition: f.recognition,
		Notifier:    f.notifier,
		Secret:      "shh",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.processor = NewProcessor(cfg)
	return f
}

func (f *fixture) addLead(id, statusID int64) {
	f.kommo.leads[id] = fmt.Sprintf(leadTemplate, id, statusID)
}

func jsonEvents(events ...[2]int64) []byte {
	list := make([]map[string]any, 0, len(events))
	for _, e := range events {
		list = append(list, map[string]any{"id": e[0], "status_id": e[1], "pipeline_id": 777})
	}
	body, _ := json.Marshal(map[string]any{"leads": map[string]any{"status": list}})
	return body
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func timelineTypes(db *store.Memory) []string {
	var out []string
	for _, row := range db.Rows("booking_timeline_events") {
		out = append(out, row["event_type"].(string))
	}
	return out
}

func TestProcessPreservesEventOrderAndIsolatesFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.addLead(55, catalog.StatusQuoteSent)
	f.kommo.leadErrs[56] = errors.New("kommo: GET /api/v4/leads/56: status 500")
	f.addLead(57, catalog.StatusNewInquiry)

	status, resp := f.processor.Process(context.Background(), Request{
		Body: jsonEvents([2]int64{55, catalog.StatusQuoteSent}, [2]int64{56, catalog.StatusQuoteSent}, [2]int64{57, catalog.StatusNewInquiry}),
	})

	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(resp.Processed) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Processed))
	}
	for i, want := range []int64{55, 56, 57} {
		if resp.Processed[i].LeadID != want {
			t.Fatalf("result %d: expected lead %d, got %d", i, want, resp.Processed[i].LeadID)
		}
	}
	if got := f.kommo.calls; len(got) != 3 || got[0] != 55 || got[1] != 56 || got[2] != 57 {
		t.Fatalf("expected sequential fetches 55,56,57, got %v", got)
	}
	if !resp.Processed[0].Processed || !resp.Processed[2].Processed {
		t.Fatalf("expected first and last events processed: %+v", resp.Processed)
	}
	if resp.Processed[1].Processed || resp.Processed[1].Error == "" {
		t.Fatalf("expected middle event to carry an error: %+v", resp.Processed[1])
	}
	if resp.Processed[0].StatusLabel != "Quote sent" {
		t.Fatalf("expected status label, got %q", resp.Processed[0].StatusLabel)
	}

	rows := f.db.Rows("webhook_events")
	if len(rows) != 3 {
		t.Fatalf("expected 3 webhook_events rows, got %d", len(rows))
	}
	outcomes := map[string]string{}
	for _, row := range rows {
		outcomes[row["kommo_lead_id"].(string)] = row["processing_status"].(string)
	}
	if outcomes["55"] != OutcomeProcessed || outcomes["56"] != OutcomeFailed || outcomes["57"] != OutcomeProcessed {
		t.Fatalf("unexpected outcomes %v", outcomes)
	}
	if got := f.notifier.channels(); len(got) != 1 || got[0] != notify.ChannelErrors {
		t.Fatalf("expected one error notification, got %v", got)
	}
}

func TestProcessUpsertsEntitiesIdempotently(t *testing.T) {
	f := newFixture(t, nil)
	f.addLead(55, catalog.StatusQuoteSent)
	body := jsonEvents([2]int64{55, catalog.StatusQuoteSent})

	for i := 0; i < 2; i++ {
		if status, _ := f.processor.Process(context.Background(), Request{Body: body}); status != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, status)
		}
	}

	for _, table := range []string{"clients", "sales_leads", "bookings"} {
		if n := f.db.Count(table); n != 1 {
			t.Fatalf("expected 1 row in %s, got %d", table, n)
		}
	}
	if n := f.db.Count("webhook_events"); n != 2 {
		t.Fatalf("expected an audit row per delivery, got %d", n)
	}

	booking := f.db.Rows("bookings")[0]
	if booking["source_payload_id"] != "kommo_lead_55" {
		t.Fatalf("unexpected booking key %v", booking["source_payload_id"])
	}
	if booking["status"] != string(catalog.StatusLead) {
		t.Fatalf("unexpected booking status %v", booking["status"])
	}
	if booking["total_amount"] != "3180.00" {
		t.Fatalf("expected total with VAT and refundable deposit 3180.00, got %v", booking["total_amount"])
	}
	if booking["daily_price"] != "500.00" || booking["duration_days"] != int64(3) {
		t.Fatalf("unexpected pricing columns %v / %v", booking["daily_price"], booking["duration_days"])
	}
	if booking["vehicle_id"] == nil {
		t.Fatal("expected vehicle to be resolved")
	}
	if booking["booking_type"] != "rental" || booking["priority"] != "medium" {
		t.Fatalf("expected creation defaults, got %v / %v", booking["booking_type"], booking["priority"])
	}

	client := f.db.Rows("clients")[0]
	if client["kommo_contact_id"] != "32" {
		t.Fatalf("expected main contact 32, got %v", client["kommo_contact_id"])
	}
	if client["country_code"] != "AE" {
		t.Fatalf("expected nationality normalised to AE, got %v", client["country_code"])
	}

	lead := f.db.Rows("sales_leads")[0]
	if lead["lead_code"] != "kommo:55" || lead["value"] != "1200.00" {
		t.Fatalf("unexpected sales lead %v", lead)
	}
	if lead["stage_id"] != fmt.Sprint(catalog.StatusQuoteSent) {
		t.Fatalf("unexpected stage %v", lead["stage_id"])
	}
}

func TestProcessPrefersFeeEnumIDOverLabel(t *testing.T) {
	f := newFixture(t, nil)
	lead := strings.NewReplacer(
		`{"value": "Delivery Dubai"}`, `{"value": "Home delivery (Dubai)", "enum_id": 7003}`,
		`{"value": "Refundable deposit 1500"}`, `{"value": "Deposit (refundable)", "enum_id": 7103}`,
	).Replace(fmt.Sprintf(leadTemplate, 55, catalog.StatusQuoteSent))
	f.kommo.leads[55] = lead

	f.processor.Process(context.Background(), Request{Body: jsonEvents([2]int64{55, catalog.StatusQuoteSent})})

	booking := f.db.Rows("bookings")[0]
	if booking["total_amount"] != "3180.00" {
		t.Fatalf("expected enum ids to price the booking at 3180.00, got %v", booking["total_amount"])
	}
	if booking["insurance_fee_label"] != "Deposit (refundable)" || booking["delivery_fee_label"] != "Home delivery (Dubai)" {
		t.Fatalf("expected labels stored as shown in Kommo, got %v / %v", booking["insurance_fee_label"], booking["delivery_fee_label"])
	}
}

func TestProcessUnknownFeeEnumIDFallsBackToLabel(t *testing.T) {
	f := newFixture(t, nil)
	lead := strings.Replace(fmt.Sprintf(leadTemplate, 55, catalog.StatusQuoteSent),
		`{"value": "Delivery Dubai"}`, `{"value": "Delivery Dubai", "enum_id": 9999}`, 1)
	f.kommo.leads[55] = lead

	f.processor.Process(context.Background(), Request{Body: jsonEvents([2]int64{55, catalog.StatusQuoteSent})})

	if got := f.db.Rows("bookings")[0]["total_amount"]; got != "3180.00" {
		t.Fatalf("expected label lookup for unknown enum id, got %v", got)
	}
}

func TestProcessDefaultsVATRate(t *testing.T) {
	zero := decimal.Zero
	f := newFixture(t, func(cfg *Config) { cfg.VATRate = &zero })
	f.addLead(55, catalog.StatusQuoteSent)
	f.processor.Process(context.Background(), Request{Body: jsonEvents([2]int64{55, catalog.StatusQuoteSent})})
	if got := f.db.Rows("bookings")[0]["total_amount"]; got != "3100.00" {
		t.Fatalf("expected explicit zero VAT to be honoured, got %v", got)
	}

	if got := newFixture(t, nil).processor.vatRate; !got.Equal(pricing.DefaultVATRate) {
		t.Fatalf("expected default VAT rate, got %s", got)
	}
}

// cancellingKommo cancels the caller's context during the first lead fetch and
// fails any call whose context is already done, like a real HTTP client.
type cancellingKommo struct {
	*fakeKommo
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancellingKommo) GetLead(ctx context.Context, id int64) (*kommo.Lead, error) {
	c.once.Do(c.cancel)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.fakeKommo.GetLead(ctx, id)
}

func (c *cancellingKommo) GetContact(ctx context.Context, id int64) (*kommo.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.fakeKommo.GetContact(ctx, id)
}

func TestProcessSurvivesCallerDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, func(cfg *Config) {
		cfg.Kommo = &cancellingKommo{fakeKommo: cfg.Kommo.(*fakeKommo), cancel: cancel}
	})
	f.addLead(55, catalog.StatusQuoteSent)
	f.addLead(56, catalog.StatusQuoteSent)

	status, resp := f.processor.Process(ctx, Request{Body: jsonEvents(
		[2]int64{55, catalog.StatusQuoteSent},
		[2]int64{56, catalog.StatusQuoteSent},
	)})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	for i, r := range resp.Processed {
		if !r.Processed {
			t.Fatalf("event %d: expected processed after disconnect, got %+v", i, r)
		}
	}
	if n := f.db.Count("bookings"); n != 2 {
		t.Fatalf("expected 2 bookings, got %d", n)
	}
}

func TestProcessPipelineTimeout(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.Timeout = time.Minute })
	ctx, cancel := f.processor.detach(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > time.Minute {
		t.Fatalf("expected pipeline deadline within a minute, got %v (%v)", deadline, ok)
	}
}

func TestProcessRejectsUnparseableBody(t *testing.T) {
	f := newFixture(t, nil)
	status, resp := f.processor.Process(context.Background(), Request{Body: []byte("{not json")})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	if resp.Error == "" {
		t.Fatal("expected error message")
	}
	if f.db.Count("webhook_events") != 0 {
		t.Fatal("expected no audit rows")
	}
}

func TestProcessSignature(t *testing.T) {
	body := jsonEvents([2]int64{55, catalog.StatusQuoteSent})

	t.Run("enforced and invalid", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.EnforceSignature = true })
		f.addLead(55, catalog.StatusQuoteSent)
		status, _ := f.processor.Process(context.Background(), Request{Body: body, Signature: "deadbeef"})
		if status != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", status)
		}
		if len(f.kommo.calls) != 0 {
			t.Fatal("expected no Kommo calls")
		}
	})

	t.Run("enforced and valid", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.EnforceSignature = true })
		f.addLead(55, catalog.StatusQuoteSent)
		status, _ := f.processor.Process(context.Background(), Request{Body: body, Signature: signBody("shh", body)})
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if f.db.Rows("webhook_events")[0]["signature_valid"] != true {
			t.Fatal("expected signature_valid recorded as true")
		}
	})

	t.Run("not enforced records validity", func(t *testing.T) {
		f := newFixture(t, nil)
		f.addLead(55, catalog.StatusQuoteSent)
		status, _ := f.processor.Process(context.Background(), Request{Body: body})
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if f.db.Rows("webhook_events")[0]["signature_valid"] != false {
			t.Fatal("expected signature_valid recorded as false")
		}
	})
}

func TestProcessFormEncodedBody(t *testing.T) {
	f := newFixture(t, nil)
	f.addLead(55, catalog.StatusClosedWon)

	status, resp := f.processor.Process(context.Background(), Request{
		Body: []byte("leads[status][0][id]=55&leads[status][0][status_id]=142&leads[status][0][pipeline_id]=777"),
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(resp.Processed) != 1 || !resp.Processed[0].Processed {
		t.Fatalf("expected one processed event, got %+v", resp.Processed)
	}
	if resp.Processed[0].StatusID != 142 || resp.Processed[0].StatusLabel != "Closed - won" {
		t.Fatalf("unexpected status %+v", resp.Processed[0])
	}
}

func TestProcessEmptyStatusList(t *testing.T) {
	f := newFixture(t, nil)
	status, resp := f.processor.Process(context.Background(), Request{Body: []byte(`{"leads":{"add":[{"id":1}]}}`)})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp.Processed == nil || len(resp.Processed) != 0 {
		t.Fatalf("expected empty processed list, got %#v", resp.Processed)
	}
}

func TestProcessFallsBackToLeadStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.addLead(55, catalog.StatusAwaitingDocuments)

	_, resp := f.processor.Process(context.Background(), Request{Body: []byte(`{"leads":{"status":[{"id":"55"}]}}`)})
	if resp.Processed[0].StatusID != catalog.StatusAwaitingDocuments {
		t.Fatalf("expected status from lead, got %d", resp.Processed[0].StatusID)
	}
	row := f.db.Rows("webhook_events")[0]
	if row["kommo_pipeline_id"] != int64(777) {
		t.Fatalf("expected pipeline from lead, got %v", row["kommo_pipeline_id"])
	}
}

func TestProcessSkipsEventsWithoutLead(t *testing.T) {
	f := newFixture(t, nil)
	_, resp := f.processor.Process(context.Background(), Request{Body: []byte(`{"leads":{"status":[{"status_id":142},{"id":99}]}}`)})
	for i, r := range resp.Processed {
		if !r.Skipped || r.Processed {
			t.Fatalf("result %d: expected skipped, got %+v", i, r)
		}
	}
	for _, row := range f.db.Rows("webhook_events") {
		if row["processing_status"] != OutcomeSkipped {
			t.Fatalf("expected skipped audit row, got %v", row["processing_status"])
		}
	}
}

func TestProcessSalesOrderBranches(t *testing.T) {
	tests := []struct {
		name       string
		result     salesorder.Result
		err        error
		wantEvent  string
		wantNotify bool
	}{
		{"created", salesorder.Result{Success: true, Message: "Sales order created", SalesOrderID: "SO-1"}, nil, "sales_order_created", false},
		{"already exists", salesorder.Result{Success: true, Message: "Sales order already exists"}, nil, "sales_order_exists", false},
		{"failed", salesorder.Result{Success: false, Error: "customer missing"}, nil, "sales_order_failed", true},
		{"errored", salesorder.Result{}, errors.New("connection refused"), "sales_order_failed", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.creator.result = tt.result
			f.creator.err = tt.err
			f.addLead(55, catalog.StatusDepositPaid)

			status, resp := f.processor.Process(context.Background(), Request{Body: jsonEvents([2]int64{55, catalog.StatusDepositPaid})})
			if status != http.StatusOK || !resp.Processed[0].Processed {
				t.Fatalf("expected processed event, got %d %+v", status, resp.Processed)
			}
			if f.creator.calls != 1 {
				t.Fatalf("expected one sales order call, got %d", f.creator.calls)
			}
			types := timelineTypes(f.db)
			if len(types) != 2 || types[0] != "status_change" || types[1] != tt.wantEvent {
				t.Fatalf("unexpected timeline %v", types)
			}
			notified := false
			for _, ch := range f.notifier.channels() {
				if ch == notify.ChannelSalesOrder {
					notified = true
				}
			}
			if notified != tt.wantNotify {
				t.Fatalf("expected sales order notification %v, got %v", tt.wantNotify, notified)
			}
		})
	}
}

func TestProcessSalesOrderNotTriggeredForOtherStatuses(t *testing.T) {
	f := newFixture(t, nil)
	f.addLead(55, catalog.StatusCarDelivered)
	f.processor.Process(context.Background(), Request{Body: jsonEvents([2]int64{55, catalog.StatusCarDelivered})})
	if f.creator.calls != 0 {
		t.Fatalf("expected no sales order call, got %d", f.creator.calls)
	}
}

func TestProcessNotifiesOnZeroAmountConfirmedBooking(t *testing.T) {
	f := newFixture(t, nil)
	f.kommo.leads[60] = fmt.Sprintf(bareLeadTemplate, 60, catalog.StatusBookingConfirmed)

	f.processor.Process(context.Background(), Request{Body: jsonEvents([2]int64{60, catalog.StatusBookingConfirmed})})

	found := false
	for _, ch := range f.notifier.channels() {
		if ch == notify.ChannelBookings {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected bookings notification, got %v", f.notifier.channels())
	}
}

func TestProcessTriggersRecognitionOnDeliveryWithin24h(t *testing.T) {
	f := newFixture(t, nil)
	f.addLead(55, catalog.StatusDeliveryWithin24h)

	_, resp := f.processor.Process(context.Background(), Request{Body: jsonEvents([2]int64{55, catalog.StatusDeliveryWithin24h})})
	if len(f.recognition.reqs) != 1 {
		t.Fatalf("expected one recognition request, got %d", len(f.recognition.reqs))
	}
	if f.recognition.reqs[0].ClientID != resp.Processed[0].ClientID {
		t.Fatalf("expected recognition for client %s, got %+v", resp.Processed[0].ClientID, f.recognition.reqs[0])
	}
}

func TestProcessReportsDocumentSync(t *testing.T) {
	f := newFixture(t, nil)
	f.docs.report = documents.SyncReport{
		Synced: 2,
		Errors: []documents.FileError{{FileUUID: "f-1", Source: documents.SourceAttachment, Stage: documents.StageDownload, Err: errors.New("expired")}},
	}
	f.addLead(55, catalog.StatusAwaitingDocuments)

	_, resp := f.processor.Process(context.Background(), Request{Body: jsonEvents([2]int64{55, catalog.StatusAwaitingDocuments})})
	if resp.Processed[0].DocumentsSynced != 2 || resp.Processed[0].DocumentErrors != 1 {
		t.Fatalf("unexpected document counts %+v", resp.Processed[0])
	}
	docs, ok := f.db.Rows("webhook_events")[0]["documents"].(map[string]any)
	if !ok || docs["synced"] != 2 {
		t.Fatalf("expected document summary on audit row, got %v", docs)
	}
}

func TestProcessBoundedConcurrencyKeepsOrder(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Concurrency = 4 })
	var events [][2]int64
	for id := int64(100); id < 110; id++ {
		f.addLead(id, catalog.StatusQuoteSent)
		events = append(events, [2]int64{id, catalog.StatusQuoteSent})
	}
	_, resp := f.processor.Process(context.Background(), Request{Body: jsonEvents(events...)})
	for i, r := range resp.Processed {
		if r.LeadID != int64(100+i) || !r.Processed {
			t.Fatalf("result %d out of order or failed: %+v", i, r)
		}
	}
}

func TestReplayUsesCurrentLeadStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.addLead(55, catalog.StatusQuoteSent)

	res := f.processor.Replay(context.Background(), 55)
	if !res.Processed {
		t.Fatalf("expected replay to process, got %+v", res)
	}
	if res.StatusID != catalog.StatusQuoteSent {
		t.Fatalf("expected status from lead, got %d", res.StatusID)
	}
	rows := f.db.Rows("webhook_events")
	if len(rows) != 1 {
		t.Fatalf("expected one audit row, got %d", len(rows))
	}
	if rows[0]["signature_valid"] != false {
		t.Fatalf("expected replay recorded without signature, got %v", rows[0]["signature_valid"])
	}
	payload, ok := rows[0]["payload"].(map[string]any)
	if !ok || payload["trigger"] != "admin_replay" {
		t.Fatalf("expected replay trigger in payload, got %v", rows[0]["payload"])
	}
}

func TestReplayUnknownLeadIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	res := f.processor.Replay(context.Background(), 404)
	if !res.Skipped || res.Processed {
		t.Fatalf("expected skipped replay, got %+v", res)
	}
}
