package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/weathercover/internal/cache/memory"
	"github.com/alanyoungcy/weathercover/internal/domain"
	ledgermem "github.com/alanyoungcy/weathercover/internal/ledger/memory"
	"github.com/alanyoungcy/weathercover/internal/server/middleware"
	"github.com/alanyoungcy/weathercover/internal/service"
	storemem "github.com/alanyoungcy/weathercover/internal/store/memory"
)

const (
	escrowAddr    = "0x00000000000000000000000000000000000e5c00"
	requesterAddr = "0x1111111111111111111111111111111111111111"
	expertAddr    = "0x2222222222222222222222222222222222222222"
	investorAddr  = "0x3333333333333333333333333333333333333333"
	strangerAddr  = "0x4444444444444444444444444444444444444444"
)

type stubOracle struct {
	mu  sync.Mutex
	obs map[domain.WeatherType]domain.Observation
}

func (o *stubOracle) Observe(context.Context, domain.ObservationQuery) (map[domain.WeatherType]domain.Observation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.obs, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type env struct {
	mux    http.Handler
	ledger *ledgermem.Ledger
	oracle *stubOracle
	clock  *clock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := &env{
		ledger: ledgermem.New(escrowAddr),
		oracle: &stubOracle{},
		clock:  &clock{t: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
	svc := service.NewInsuranceService(
		storemem.NewRequestStore(), storemem.NewDisbursementStore(), e.ledger, e.oracle,
		cachemem.NewLockManager(), cachemem.NewSignalBus(), storemem.NewAuditStore(),
		service.Options{Now: e.clock.Now},
		logger,
	)

	reqs := NewRequestHandler(svc, logger)
	health := NewHealthHandler(svc, "full", logger)
	rep := NewReputationHandler(svc, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", health.HealthCheck)
	mux.HandleFunc("GET /api/status", health.GetStatus)
	mux.HandleFunc("GET /api/requests", reqs.ListRequests)
	mux.HandleFunc("GET /api/requests/ids", reqs.ListRequestIDs)
	mux.HandleFunc("POST /api/requests", reqs.CreateRequest)
	mux.HandleFunc("GET /api/requests/{id}", reqs.GetRequest)
	mux.HandleFunc("GET /api/requests/{id}/conditions", reqs.GetConditions)
	mux.HandleFunc("GET /api/requests/{id}/offers", reqs.GetOffers)
	mux.HandleFunc("GET /api/requests/{id}/investments", reqs.GetInvestments)
	mux.HandleFunc("GET /api/requests/{id}/disbursements", reqs.GetDisbursements)
	mux.HandleFunc("GET /api/requests/{id}/receipt", reqs.GetReceipt)
	mux.HandleFunc("POST /api/requests/{id}/offers", reqs.SubmitOffer)
	mux.HandleFunc("POST /api/requests/{id}/select", reqs.SelectOffer)
	mux.HandleFunc("POST /api/requests/{id}/fund", reqs.FundPool)
	mux.HandleFunc("POST /api/requests/{id}/premium", reqs.PayPremium)
	mux.HandleFunc("POST /api/requests/{id}/settle", reqs.SettlePolicy)
	mux.HandleFunc("GET /api/experts/{address}/reputation", rep.GetReputation)
	e.mux = middleware.WalletAuth(middleware.AuthHeader, time.Minute, e.clock.Now)(mux)
	return e
}

func (e *env) do(t *testing.T, method, path, wallet string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if wallet != "" {
		req.Header.Set(middleware.HeaderWalletAddress, wallet)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (e *env) fund(addr string, usdc domain.Amount) {
	e.ledger.Mint(addr, usdc*1_000_000)
	e.ledger.Approve(addr, escrowAddr, usdc*1_000_000)
}

func (e *env) createBody() map[string]any {
	now := e.clock.Now()
	return map[string]any{
		"title":           "Rice harvest",
		"location":        "Niigata",
		"coverage_amount": "1000",
		"conditions": []map[string]any{
			{"type": "rain", "operator": "gt", "aggregate": 50},
		},
		"start": now.Format(time.RFC3339),
		"end":   now.Add(24 * time.Hour).Format(time.RFC3339),
	}
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)

	code, created := e.do(t, http.MethodPost, "/api/requests", requesterAddr, e.createBody())
	require.Equal(t, http.StatusCreated, code, created)
	assert.Equal(t, "pending", created["status"])
	assert.Equal(t, "1000.000000", created["coverage_amount"])
	id := int64(created["id"].(float64))
	require.Equal(t, int64(1), id)

	code, offer := e.do(t, http.MethodPost, "/api/requests/1/offers", expertAddr, map[string]any{"premium": "250", "description": "flat"})
	require.Equal(t, http.StatusCreated, code, offer)
	assert.Equal(t, float64(0), offer["index"])

	code, sel := e.do(t, http.MethodPost, "/api/requests/1/select", requesterAddr, map[string]any{"offer_index": 0})
	require.Equal(t, http.StatusOK, code, sel)
	assert.Equal(t, true, sel["selected"])

	e.fund(investorAddr, 1000)
	code, funded := e.do(t, http.MethodPost, "/api/requests/1/fund", investorAddr, map[string]any{"amount": "1000"})
	require.Equal(t, http.StatusOK, code, funded)
	assert.Equal(t, "premium_due", funded["status"])
	assert.Equal(t, "0.000000", funded["remaining"])

	e.fund(requesterAddr, 250)
	code, paid := e.do(t, http.MethodPost, "/api/requests/1/premium", requesterAddr, map[string]any{"amount": "250"})
	require.Equal(t, http.StatusOK, code, paid)
	assert.Equal(t, "active", paid["status"])

	code, early := e.do(t, http.MethodPost, "/api/requests/1/settle", "", nil)
	assert.Equal(t, http.StatusTooEarly, code, early)

	e.clock.Advance(25 * time.Hour)
	e.oracle.obs = map[domain.WeatherType]domain.Observation{domain.WeatherRain: {Aggregate: 80}}
	code, settled := e.do(t, http.MethodPost, "/api/requests/1/settle", "", nil)
	require.Equal(t, http.StatusOK, code, settled)
	assert.Equal(t, "expired", settled["status"])
	assert.Equal(t, true, settled["payout"])

	code, again := e.do(t, http.MethodPost, "/api/requests/1/settle", "", nil)
	assert.Equal(t, http.StatusConflict, code, again)

	code, ds := e.do(t, http.MethodGet, "/api/requests/1/disbursements", "", nil)
	require.Equal(t, http.StatusOK, code)
	kinds := map[string]int{}
	for _, d := range ds["disbursements"].([]any) {
		kinds[d.(map[string]any)["kind"].(string)]++
		assert.Equal(t, "confirmed", d.(map[string]any)["status"])
	}
	assert.Equal(t, 1, kinds["payout"])
	assert.Equal(t, 1, kinds["premium_in"])

	bal, err := e.ledger.BalanceOf(context.Background(), requesterAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(1000_000_000), bal)

	code, _ = e.do(t, http.MethodGet, "/api/requests/1/receipt", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, rep := e.do(t, http.MethodGet, "/api/experts/"+expertAddr+"/reputation", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), rep["offers_selected"])
	assert.Equal(t, float64(1), rep["policies_paid_out"])
}

func TestCreateRequestErrors(t *testing.T) {
	e := newEnv(t)

	code, _ := e.do(t, http.MethodPost, "/api/requests", "", e.createBody())
	assert.Equal(t, http.StatusUnauthorized, code)

	bad := e.createBody()
	bad["conditions"] = []map[string]any{{"type": "snow", "operator": "gt", "aggregate": 1}}
	code, _ = e.do(t, http.MethodPost, "/api/requests", requesterAddr, bad)
	assert.Equal(t, http.StatusBadRequest, code)

	empty := e.createBody()
	empty["conditions"] = []map[string]any{}
	code, body := e.do(t, http.MethodPost, "/api/requests", requesterAddr, empty)
	assert.Equal(t, http.StatusUnprocessableEntity, code, body)

	inverted := e.createBody()
	inverted["start"], inverted["end"] = inverted["end"], inverted["start"]
	code, _ = e.do(t, http.MethodPost, "/api/requests", requesterAddr, inverted)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	badAmount := e.createBody()
	badAmount["coverage_amount"] = "1.0000001"
	code, _ = e.do(t, http.MethodPost, "/api/requests", requesterAddr, badAmount)
	assert.Equal(t, http.StatusBadRequest, code)

	for _, huge := range []string{"9223372036854.775808", "18446744073709.551615"} {
		tooLarge := e.createBody()
		tooLarge["coverage_amount"] = huge
		code, body = e.do(t, http.MethodPost, "/api/requests", requesterAddr, tooLarge)
		assert.Equal(t, http.StatusBadRequest, code, body)
	}
}

func TestMutationGuards(t *testing.T) {
	e := newEnv(t)
	code, _ := e.do(t, http.MethodPost, "/api/requests", requesterAddr, e.createBody())
	require.Equal(t, http.StatusCreated, code)
	code, _ = e.do(t, http.MethodPost, "/api/requests/1/offers", expertAddr, map[string]any{"premium": "250"})
	require.Equal(t, http.StatusCreated, code)

	code, _ = e.do(t, http.MethodPost, "/api/requests/1/select", strangerAddr, map[string]any{"offer_index": 0})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = e.do(t, http.MethodPost, "/api/requests/1/select", requesterAddr, map[string]any{"offer_index": 7})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = e.do(t, http.MethodPost, "/api/requests/1/fund", investorAddr, map[string]any{"amount": "10"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = e.do(t, http.MethodPost, "/api/requests/99/offers", expertAddr, map[string]any{"premium": "1"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = e.do(t, http.MethodGet, "/api/requests/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestFundingCapOverHTTP(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/api/requests", requesterAddr, e.createBody())
	e.do(t, http.MethodPost, "/api/requests/1/offers", expertAddr, map[string]any{"premium": "250"})
	code, _ := e.do(t, http.MethodPost, "/api/requests/1/select", requesterAddr, map[string]any{"offer_index": 0})
	require.Equal(t, http.StatusOK, code)

	e.fund(investorAddr, 2000)
	code, _ = e.do(t, http.MethodPost, "/api/requests/1/fund", investorAddr, map[string]any{"amount": "1500"})
	assert.Equal(t, http.StatusConflict, code)

	code, invs := e.do(t, http.MethodGet, "/api/requests/1/investments", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, invs["investments"])

	bal, err := e.ledger.BalanceOf(context.Background(), investorAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(2000_000_000), bal)
}

func TestListingAndStatus(t *testing.T) {
	e := newEnv(t)
	for range 3 {
		code, _ := e.do(t, http.MethodPost, "/api/requests", requesterAddr, e.createBody())
		require.Equal(t, http.StatusCreated, code)
	}
	e.do(t, http.MethodPost, "/api/requests/2/offers", expertAddr, map[string]any{"premium": "5"})

	code, ids := e.do(t, http.MethodGet, "/api/requests/ids", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, ids["ids"])

	code, list := e.do(t, http.MethodGet, "/api/requests?participant="+expertAddr, "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, list["requests"], 1)
	assert.Equal(t, float64(2), list["requests"].([]any)[0].(map[string]any)["id"])

	code, _ = e.do(t, http.MethodGet, "/api/requests?status=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, conds := e.do(t, http.MethodGet, "/api/requests/1/conditions", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, conds["conditions"], 1)
	assert.Equal(t, "rain", conds["conditions"].([]any)[0].(map[string]any)["type"])

	code, st := e.do(t, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), st["requests"])
	assert.Equal(t, "0.000000", st["escrow_balance"])
	assert.Equal(t, float64(500), st["expert_fee_bps"])
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		caller string
		want   int
	}{
		{domain.ErrUnauthorized, "", http.StatusUnauthorized},
		{domain.ErrUnauthorized, requesterAddr, http.StatusForbidden},
		{domain.ErrOfferNotFound, "", http.StatusNotFound},
		{domain.ErrLockHeld, "", http.StatusConflict},
		{domain.ErrAmountMismatch, "", http.StatusUnprocessableEntity},
		{domain.ErrTooEarly, "", http.StatusTooEarly},
		{domain.ErrOracle, "", http.StatusBadGateway},
		{fmt.Errorf("%w: %w", domain.ErrTransfer, domain.ErrTransferPending), "", http.StatusGatewayTimeout},
		{io.EOF, "", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err, tc.caller), tc.err.Error())
	}
}
