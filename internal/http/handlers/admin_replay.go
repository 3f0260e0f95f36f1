package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	httpmiddleware "github.com/wolfman30/rental-ops/internal/http/middleware"
	"github.com/wolfman30/rental-ops/internal/webhook"
	"github.com/wolfman30/rental-ops/pkg/logging"
)

// LeadReplayer re-runs the pipeline for a single lead.
type LeadReplayer interface {
	Replay(ctx context.Context, leadID int64) webhook.EventResult
}

// AdminReplayHandler lets an operator push a lead through the pipeline again
// after fixing data in Kommo.
type AdminReplayHandler struct {
	replayer LeadReplayer
	logger   *logging.Logger
}

func NewAdminReplayHandler(replayer LeadReplayer, logger *logging.Logger) *AdminReplayHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminReplayHandler{replayer: replayer, logger: logger}
}

// Replay handles POST /admin/kommo/leads/{leadID}/replay.
func (h *AdminReplayHandler) Replay(w http.ResponseWriter, r *http.Request) {
	leadID, err := strconv.ParseInt(chi.URLParam(r, "leadID"), 10, 64)
	if err != nil || leadID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid lead id"})
		return
	}
	operator, _ := httpmiddleware.OperatorFromContext(r.Context())
	h.logger.Info("operator replaying kommo lead", "lead_id", leadID, "operator", operator)

	result := h.replayer.Replay(r.Context(), leadID)
	status := http.StatusOK
	if !result.Processed && !result.Skipped {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}
