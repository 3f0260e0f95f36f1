package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/rental-ops/internal/webhook"
	"github.com/wolfman30/rental-ops/pkg/logging"
)

type fakeReplayer struct {
	leadIDs []int64
	result  webhook.EventResult
}

func (f *fakeReplayer) Replay(_ context.Context, leadID int64) webhook.EventResult {
	f.leadIDs = append(f.leadIDs, leadID)
	res := f.result
	res.LeadID = leadID
	return res
}

func serveReplay(h *AdminReplayHandler, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Post("/admin/kommo/leads/{leadID}/replay", h.Replay)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
	return rec
}

func TestAdminReplayRunsLead(t *testing.T) {
	replayer := &fakeReplayer{result: webhook.EventResult{Processed: true, StatusID: 142, BookingID: "b-1"}}
	rec := serveReplay(NewAdminReplayHandler(replayer, logging.New("error")), "/admin/kommo/leads/777/replay")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(replayer.leadIDs) != 1 || replayer.leadIDs[0] != 777 {
		t.Fatalf("expected lead 777 to be replayed, got %v", replayer.leadIDs)
	}
	var body webhook.EventResult
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.BookingID != "b-1" || body.LeadID != 777 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestAdminReplayFailedEvent(t *testing.T) {
	replayer := &fakeReplayer{result: webhook.EventResult{Error: errors.New("kommo down").Error()}}
	rec := serveReplay(NewAdminReplayHandler(replayer, logging.New("error")), "/admin/kommo/leads/5/replay")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestAdminReplayRejectsBadLeadID(t *testing.T) {
	replayer := &fakeReplayer{}
	for _, path := range []string{"/admin/kommo/leads/abc/replay", "/admin/kommo/leads/-4/replay", "/admin/kommo/leads/0/replay"} {
		rec := serveReplay(NewAdminReplayHandler(replayer, logging.New("error")), path)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rec.Code)
		}
	}
	if len(replayer.leadIDs) != 0 {
		t.Fatalf("replayer must not run for invalid ids")
	}
}
