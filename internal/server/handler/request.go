package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/weathercover/internal/domain"
	"github.com/alanyoungcy/weathercover/internal/server/middleware"
	"github.com/alanyoungcy/weathercover/internal/service"
)

// Marketplace is the service surface the request handlers drive.
type Marketplace interface {
	CreateRequest(ctx context.Context, n domain.NewRequest) (domain.InsuranceRequest, error)
	GetRequest(ctx context.Context, id int64) (domain.InsuranceRequest, error)
	GetConditions(ctx context.Context, id int64) ([]domain.WeatherCondition, error)
	GetOffers(ctx context.Context, id int64) ([]domain.Offer, error)
	GetInvestments(ctx context.Context, id int64) ([]domain.Investment, error)
	ListRequestIDs(ctx context.Context) ([]int64, error)
	ListRequests(ctx context.Context, filter domain.RequestFilter) ([]domain.InsuranceRequest, error)
	Disbursements(ctx context.Context, id int64) ([]domain.Disbursement, error)
	Receipt(ctx context.Context, id int64) (domain.SettlementReceipt, error)

	SubmitOffer(ctx context.Context, id int64, expert string, premium domain.Amount, description string) (domain.Offer, int, error)
	SelectOffer(ctx context.Context, id int64, caller string, index int) (domain.Offer, error)
	FundPool(ctx context.Context, id int64, investor string, amount domain.Amount) (domain.InsuranceRequest, error)
	PayPremium(ctx context.Context, id int64, caller string, premium domain.Amount) (domain.InsuranceRequest, error)
	SettlePolicy(ctx context.Context, id int64, caller string) (domain.InsuranceRequest, error)
}

// RequestHandler serves the insurance request endpoints.
type RequestHandler struct {
	market Marketplace
	logger *slog.Logger
}

// NewRequestHandler creates a RequestHandler.
func NewRequestHandler(market Marketplace, logger *slog.Logger) *RequestHandler {
	return &RequestHandler{market: market, logger: logger}
}

type listRequestsResponse struct {
	Requests []requestView `json:"requests"`
	Limit    int           `json:"limit"`
	Offset   int           `json:"offset"`
}

// ListRequests lists requests, optionally filtered by status, requester or
// participant (requester, expert or investor).
// GET /api/requests?status=funding&participant=0x...&limit=50&offset=0
func (h *RequestHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := parsePage(r)
	filter := domain.RequestFilter{
		Status:      domain.RequestStatus(strings.TrimSpace(q.Get("status"))),
		Requester:   strings.TrimSpace(q.Get("requester")),
		Participant: strings.TrimSpace(q.Get("participant")),
		Limit:       limit,
		Offset:      offset,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status "+string(filter.Status))
		return
	}

	reqs, err := h.market.ListRequests(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, "list requests", err)
		return
	}
	views := make([]requestView, 0, len(reqs))
	for _, req := range reqs {
		views = append(views, toRequestView(req))
	}
	writeJSON(w, http.StatusOK, listRequestsResponse{Requests: views, Limit: limit, Offset: offset})
}

// ListRequestIDs returns every request id in creation order.
// GET /api/requests/ids
func (h *RequestHandler) ListRequestIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := h.market.ListRequestIDs(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list request ids", err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": ids})
}

// CreateRequest opens a new request owned by the caller.
// POST /api/requests
func (h *RequestHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	caller := middleware.WalletFrom(r.Context())
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "wallet identity required")
		return
	}
	var body createRequestBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	coverage, err := parseAmount("coverage_amount", body.CoverageAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	conds := make([]domain.WeatherCondition, 0, len(body.Conditions))
	for _, c := range body.Conditions {
		conds = append(conds, c.toDomain())
	}

	req, err := h.market.CreateRequest(r.Context(), domain.NewRequest{
		Requester:      caller,
		Title:          body.Title,
		Description:    body.Description,
		Location:       body.Location,
		CoverageAmount: coverage,
		Conditions:     conds,
		Start:          body.Start,
		End:            body.End,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create request", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestView(req))
}

// GetRequest returns the basic fields of one request.
// GET /api/requests/{id}
func (h *RequestHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	req, err := h.market.GetRequest(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get request", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestView(req))
}

// GetConditions returns the request's trigger conditions in order.
// GET /api/requests/{id}/conditions
func (h *RequestHandler) GetConditions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	conds, err := h.market.GetConditions(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get conditions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conditions": toConditionViews(conds)})
}

// GetOffers returns every submitted offer, marking the selected one.
// GET /api/requests/{id}/offers
func (h *RequestHandler) GetOffers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	req, err := h.market.GetRequest(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get offers", err)
		return
	}
	views := make([]offerView, 0, len(req.Offers))
	for i, o := range req.Offers {
		views = append(views, toOfferView(i, o, req.SelectedOffer))
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": views})
}

// GetInvestments returns the funding pool entries in contribution order.
// GET /api/requests/{id}/investments
func (h *RequestHandler) GetInvestments(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	invs, err := h.market.GetInvestments(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get investments", err)
		return
	}
	views := make([]investmentView, 0, len(invs))
	for i, inv := range invs {
		views = append(views, investmentView{
			Index:     i,
			Investor:  inv.Investor,
			Amount:    inv.Amount.String(),
			Timestamp: inv.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"investments": views})
}

// GetDisbursements returns every recorded money movement for the request.
// GET /api/requests/{id}/disbursements
func (h *RequestHandler) GetDisbursements(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	ds, err := h.market.Disbursements(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get disbursements", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"disbursements": toDisbursementViews(ds)})
}

// GetReceipt returns the archived settlement receipt of an expired request.
// GET /api/requests/{id}/receipt
func (h *RequestHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	rc, err := h.market.Receipt(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, receiptView{
		Request:       toRequestView(rc.Request),
		Disbursements: toDisbursementViews(rc.Disbursements),
		SettledBy:     rc.SettledBy,
		SettledAt:     rc.SettledAt,
	})
}

func (h *RequestHandler) id(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return id, true
}

var (
	_ Marketplace      = (*service.InsuranceService)(nil)
	_ ReputationSource = (*service.InsuranceService)(nil)
	_ StatusSource     = (*service.InsuranceService)(nil)
)
