package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/weathercover/internal/service"
)

// StatusSource reports marketplace-wide figures.
type StatusSource interface {
	Status(ctx context.Context) (service.MarketplaceStatus, error)
}

// HealthHandler serves liveness and marketplace status.
type HealthHandler struct {
	status StatusSource
	mode   string
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. mode is echoed by the status endpoint.
func NewHealthHandler(status StatusSource, mode string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{status: status, mode: mode, logger: logger}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetStatus reports request count, escrow holdings and the expert fee.
// GET /api/status
func (h *HealthHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.status.Status(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"requests":       st.Requests,
		"escrow":         st.Escrow,
		"escrow_balance": st.EscrowBalance.String(),
		"expert_fee_bps": st.ExpertFeeBps,
	})
}
