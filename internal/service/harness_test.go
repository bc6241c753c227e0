package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/weathercover/internal/cache/memory"
	"github.com/alanyoungcy/weathercover/internal/domain"
	ledgermem "github.com/alanyoungcy/weathercover/internal/ledger/memory"
	storemem "github.com/alanyoungcy/weathercover/internal/store/memory"
)

const (
	escrow    = "0xEscrow"
	requester = "0xRequester"
	expert1   = "0xExpert1"
	expert2   = "0xExpert2"
	investor1 = "0xInvestor1"
	investor2 = "0xInvestor2"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeOracle struct {
	mu    sync.Mutex
	obs   map[domain.WeatherType]domain.Observation
	err   error
	calls int
	last  domain.ObservationQuery
}

func (o *fakeOracle) Observe(_ context.Context, q domain.ObservationQuery) (map[domain.WeatherType]domain.Observation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	o.last = q
	if o.err != nil {
		return nil, o.err
	}
	return o.obs, nil
}

func (o *fakeOracle) report(t domain.WeatherType, aggregate int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = nil
	o.obs = map[domain.WeatherType]domain.Observation{t: {Aggregate: aggregate}}
}

type flakyStore struct {
	*storemem.RequestStore
	failSave error
}

func (f *flakyStore) Save(ctx context.Context, req domain.InsuranceRequest) (int64, error) {
	if f.failSave != nil {
		return 0, f.failSave
	}
	return f.RequestStore.Save(ctx, req)
}

type notifierSpy struct {
	mu     sync.Mutex
	events []domain.EventType
}

func (n *notifierSpy) NotifyEvent(_ context.Context, ev domain.LifecycleEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev.Type)
	return nil
}

type archiverSpy struct {
	receipts []domain.SettlementReceipt
}

func (a *archiverSpy) Archive(_ context.Context, r domain.SettlementReceipt) (string, error) {
	a.receipts = append(a.receipts, r)
	return "receipts/test.json", nil
}

func (a *archiverSpy) Fetch(_ context.Context, id int64, _ time.Time) (domain.SettlementReceipt, error) {
	for _, r := range a.receipts {
		if r.Request.ID == id {
			return r, nil
		}
	}
	return domain.SettlementReceipt{}, domain.ErrNotFound
}

type harness struct {
	svc      *InsuranceService
	store    *flakyStore
	journal  *storemem.DisbursementStore
	audit    *storemem.AuditStore
	ledger   *ledgermem.Ledger
	locks    *cachemem.LockManager
	oracle   *fakeOracle
	bus      *cachemem.SignalBus
	clock    *testClock
	notifier *notifierSpy
	archiver *archiverSpy
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    &flakyStore{RequestStore: storemem.NewRequestStore()},
		journal:  storemem.NewDisbursementStore(),
		audit:    storemem.NewAuditStore(),
		ledger:   ledgermem.New(escrow),
		locks:    cachemem.NewLockManager(),
		oracle:   &fakeOracle{},
		bus:      cachemem.NewSignalBus(),
		clock:    &testClock{t: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
		notifier: &notifierSpy{},
		archiver: &archiverSpy{},
	}
	h.svc = h.service(h.ledger, h.locks, Options{})
	return h
}

// service builds an InsuranceService over the harness stores with the given
// ledger, lock manager and options.
func (h *harness) service(l domain.Ledger, locks domain.LockManager, opts Options) *InsuranceService {
	opts.Now = h.clock.Now
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewInsuranceService(
		h.store, h.journal, l, h.oracle,
		locks, h.bus, h.audit,
		opts,
		logger,
	).WithNotifier(h.notifier).WithArchiver(h.archiver)
}

// fund mints amount to addr and approves the escrow to pull it.
func (h *harness) fund(addr string, amount domain.Amount) {
	h.ledger.Mint(addr, amount)
	h.ledger.Approve(addr, escrow, amount)
}

func (h *harness) balance(t *testing.T, addr string) domain.Amount {
	t.Helper()
	b, err := h.ledger.BalanceOf(context.Background(), addr)
	require.NoError(t, err)
	return b
}

func (h *harness) get(t *testing.T, id int64) domain.InsuranceRequest {
	t.Helper()
	req, err := h.svc.GetRequest(context.Background(), id)
	require.NoError(t, err)
	return req
}

func (h *harness) newRequest(coverage domain.Amount) domain.NewRequest {
	now := h.clock.Now()
	return domain.NewRequest{
		Requester:      requester,
		Title:          "Rice harvest",
		Description:    "Heavy rain cover",
		Location:       "Niigata",
		CoverageAmount: coverage,
		Conditions: []domain.WeatherCondition{
			{Type: domain.WeatherRain, Op: domain.OpGreaterThan, AggregateValue: 50},
		},
		Start: now,
		End:   now.Add(24 * time.Hour),
	}
}

// pending creates a request with offers of 300 (expert1) and 250 (expert2).
func (h *harness) pending(t *testing.T) int64 {
	t.Helper()
	ctx := context.Background()
	req, err := h.svc.CreateRequest(ctx, h.newRequest(1000))
	require.NoError(t, err)
	_, _, err = h.svc.SubmitOffer(ctx, req.ID, expert1, 300, "conservative")
	require.NoError(t, err)
	_, _, err = h.svc.SubmitOffer(ctx, req.ID, expert2, 250, "aggressive")
	require.NoError(t, err)
	return req.ID
}

// funding selects offer 1 on a fresh pending request.
func (h *harness) funding(t *testing.T) int64 {
	t.Helper()
	id := h.pending(t)
	_, err := h.svc.SelectOffer(context.Background(), id, requester, 1)
	require.NoError(t, err)
	return id
}

// premiumDue funds a request with two investments of 500.
func (h *harness) premiumDue(t *testing.T) int64 {
	t.Helper()
	ctx := context.Background()
	id := h.funding(t)
	h.fund(investor1, 500)
	h.fund(investor2, 500)
	_, err := h.svc.FundPool(ctx, id, investor1, 500)
	require.NoError(t, err)
	_, err = h.svc.FundPool(ctx, id, investor2, 500)
	require.NoError(t, err)
	return id
}

// active pays the 250 premium on a fully funded request.
func (h *harness) active(t *testing.T) int64 {
	t.Helper()
	id := h.premiumDue(t)
	h.fund(requester, 250)
	_, err := h.svc.PayPremium(context.Background(), id, requester, 250)
	require.NoError(t, err)
	return id
}

func requireInvariants(t *testing.T, req domain.InsuranceRequest) {
	t.Helper()
	require.Equal(t, req.SumInvestments(), req.TotalFunded, "totalFunded drifted from investments")
	require.LessOrEqual(t, req.TotalFunded, req.CoverageAmount, "pool exceeds coverage")
}
