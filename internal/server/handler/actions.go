package handler

import (
	"net/http"

	"github.com/alanyoungcy/weathercover/internal/server/middleware"
)

// SubmitOffer records the caller's premium quote.
// POST /api/requests/{id}/offers
func (h *RequestHandler) SubmitOffer(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := h.mutation(w, r)
	if !ok {
		return
	}
	var body submitOfferBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	premium, err := parseAmount("premium", body.Premium)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	offer, idx, err := h.market.SubmitOffer(r.Context(), id, caller, premium, body.Description)
	if err != nil {
		writeServiceError(w, r, h.logger, "submit offer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOfferView(idx, offer, nil))
}

// SelectOffer lets the requester pick one offer.
// POST /api/requests/{id}/select
func (h *RequestHandler) SelectOffer(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := h.mutation(w, r)
	if !ok {
		return
	}
	var body selectOfferBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	idx := *body.OfferIndex
	offer, err := h.market.SelectOffer(r.Context(), id, caller, idx)
	if err != nil {
		writeServiceError(w, r, h.logger, "select offer", err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferView(idx, offer, &idx))
}

// FundPool pulls the caller's contribution into escrow.
// POST /api/requests/{id}/fund
func (h *RequestHandler) FundPool(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := h.mutation(w, r)
	if !ok {
		return
	}
	var body amountBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := h.market.FundPool(r.Context(), id, caller, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "fund pool", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestView(req))
}

// PayPremium pulls the selected premium from the requester and splits it.
// POST /api/requests/{id}/premium
func (h *RequestHandler) PayPremium(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := h.mutation(w, r)
	if !ok {
		return
	}
	var body amountBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	premium, err := parseAmount("amount", body.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := h.market.PayPremium(r.Context(), id, caller, premium)
	if err != nil {
		writeServiceError(w, r, h.logger, "pay premium", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestView(req))
}

// SettlePolicy settles an active request whose window has ended. Anyone may
// call it; the caller is recorded when identified.
// POST /api/requests/{id}/settle
func (h *RequestHandler) SettlePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	req, err := h.market.SettlePolicy(r.Context(), id, middleware.WalletFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, "settle policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestView(req))
}

// mutation resolves the path id and requires an identified caller.
func (h *RequestHandler) mutation(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	id, ok := h.id(w, r)
	if !ok {
		return 0, "", false
	}
	caller := middleware.WalletFrom(r.Context())
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "wallet identity required")
		return 0, "", false
	}
	return id, caller, true
}
