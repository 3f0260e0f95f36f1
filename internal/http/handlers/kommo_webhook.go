package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/wolfman30/rental-ops/internal/kommo"
	"github.com/wolfman30/rental-ops/internal/webhook"
	"github.com/wolfman30/rental-ops/pkg/logging"
)

const maxWebhookBody = 5 << 20

// WebhookProcessor runs one Kommo delivery.
type WebhookProcessor interface {
	Process(ctx context.Context, req webhook.Request) (int, webhook.Response)
}

// KommoWebhookHandler adapts the webhook processor to net/http.
type KommoWebhookHandler struct {
	processor WebhookProcessor
	logger    *logging.Logger
}

func NewKommoWebhookHandler(processor WebhookProcessor, logger *logging.Logger) *KommoWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &KommoWebhookHandler{processor: processor, logger: logger}
}

func (h *KommoWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("kommo webhook body too large", "limit", tooLarge.Limit)
			writeJSON(w, http.StatusRequestEntityTooLarge, webhook.Response{Processed: []webhook.EventResult{}, Error: "request body too large"})
			return
		}
		h.logger.Warn("failed to read kommo webhook body", "error", err)
		writeJSON(w, http.StatusBadRequest, webhook.Response{Processed: []webhook.EventResult{}, Error: "invalid request body"})
		return
	}

	status, resp := h.processor.Process(r.Context(), webhook.Request{
		Body:      body,
		Signature: r.Header.Get(kommo.SignatureHeader),
	})
	writeJSON(w, status, resp)
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
