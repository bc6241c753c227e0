package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/weathercover/internal/crypto"
	"github.com/alanyoungcy/weathercover/internal/domain"
)

// ReputationSource aggregates an expert's track record.
type ReputationSource interface {
	ExpertReputation(ctx context.Context, expert string) (domain.ExpertReputation, error)
}

// ReputationHandler serves expert reputation.
type ReputationHandler struct {
	source ReputationSource
	logger *slog.Logger
}

func NewReputationHandler(source ReputationSource, logger *slog.Logger) *ReputationHandler {
	return &ReputationHandler{source: source, logger: logger}
}

// GetReputation returns offer and settlement counts for an expert.
// GET /api/experts/{address}/reputation
func (h *ReputationHandler) GetReputation(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("address")
	if !crypto.IsAddress(addr) {
		writeError(w, http.StatusBadRequest, "invalid expert address")
		return
	}
	rep, err := h.source.ExpertReputation(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "expert reputation", err)
		return
	}
	writeJSON(w, http.StatusOK, reputationView{
		Expert:          rep.Expert,
		OffersSubmitted: rep.OffersSubmitted,
		OffersSelected:  rep.OffersSelected,
		PoliciesActive:  rep.PoliciesActive,
		PaidOut:         rep.PaidOut,
		Refunded:        rep.Refunded,
		PremiumEarned:   rep.PremiumEarned.String(),
	})
}
