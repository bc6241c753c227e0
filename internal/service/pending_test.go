package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/weathercover/internal/domain"
	ledgermem "github.com/alanyoungcy/weathercover/internal/ledger/memory"
)

// stuckLedger reports every earlier transfer as still unconfirmed while stuck
// is set.
type stuckLedger struct {
	*ledgermem.Ledger
	mu    sync.Mutex
	stuck bool
}

func (l *stuckLedger) Confirm(ctx context.Context, ref string) error {
	l.mu.Lock()
	stuck := l.stuck
	l.mu.Unlock()
	if stuck {
		return fmt.Errorf("%s: %w: not mined yet", ref, domain.ErrTransferPending)
	}
	return l.Ledger.Confirm(ctx, ref)
}

func (l *stuckLedger) setStuck(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stuck = v
}

// slowLedger delays every escrow payout.
type slowLedger struct {
	*ledgermem.Ledger
	delay time.Duration
}

func (l *slowLedger) Transfer(ctx context.Context, to string, amount domain.Amount) (string, error) {
	time.Sleep(l.delay)
	return l.Ledger.Transfer(ctx, to, amount)
}

// brittleLocks hands out leases that can never be renewed.
type brittleLocks struct {
	domain.LockManager
}

type brittleLease struct {
	domain.Lease
}

func (b brittleLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	l, err := b.LockManager.Acquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return brittleLease{l}, nil
}

func (brittleLease) Extend(context.Context, time.Duration) error {
	return errors.New("redis: connection refused")
}

func transfersTo(l *ledgermem.Ledger, addr string) int {
	n := 0
	for _, t := range l.History() {
		if t.To == addr {
			n++
		}
	}
	return n
}

func TestPayPremiumLaggedReceiptPaysExpertOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.premiumDue(t)
	h.fund(requester, 250)

	h.ledger.LagConfirmationsTo(expert2, 1)
	_, err := h.svc.PayPremium(ctx, id, requester, 250)
	require.ErrorIs(t, err, domain.ErrTransferPending)
	assert.ErrorIs(t, err, domain.ErrTransfer)
	assert.Equal(t, domain.StatusPremiumDue, h.get(t, id).Status)
	assert.EqualValues(t, 12, h.balance(t, expert2), "the lagged transfer did move funds")

	d, err := h.journal.Get(ctx, domain.ExpertFeeKey(id))
	require.NoError(t, err)
	assert.Equal(t, domain.DisbursementPending, d.Status)
	assert.NotEmpty(t, d.TxRef)

	req, err := h.svc.PayPremium(ctx, id, requester, 250)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, req.Status)
	assert.EqualValues(t, 12, h.balance(t, expert2), "expert fee paid once")
	assert.Equal(t, 1, transfersTo(h.ledger, expert2))
	assert.EqualValues(t, 119, h.balance(t, investor1))
	assert.EqualValues(t, 119, h.balance(t, investor2))
	assert.EqualValues(t, 0, h.balance(t, escrow))

	d, err = h.journal.Get(ctx, domain.ExpertFeeKey(id))
	require.NoError(t, err)
	assert.True(t, d.Confirmed())
}

func TestUnconfirmedLegIsNeverResent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.premiumDue(t)
	h.fund(requester, 250)

	stuck := &stuckLedger{Ledger: h.ledger}
	h.svc = h.service(stuck, h.locks, Options{})

	h.ledger.LagConfirmationsTo(expert2, 1)
	_, err := h.svc.PayPremium(ctx, id, requester, 250)
	require.ErrorIs(t, err, domain.ErrTransferPending)

	stuck.setStuck(true)
	for range 3 {
		_, err = h.svc.PayPremium(ctx, id, requester, 250)
		require.ErrorIs(t, err, domain.ErrTransferPending)
	}
	assert.Equal(t, 1, transfersTo(h.ledger, expert2))
	assert.EqualValues(t, 0, h.balance(t, investor1), "later legs wait for the pending one")

	stuck.setStuck(false)
	_, err = h.svc.PayPremium(ctx, id, requester, 250)
	require.NoError(t, err)
	assert.EqualValues(t, 12, h.balance(t, expert2))
	assert.Equal(t, 1, transfersTo(h.ledger, expert2))
}

func TestDroppedPendingPayoutIsSentAgain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.active(t)
	h.clock.Advance(24 * time.Hour)
	h.oracle.report(domain.WeatherRain, 90)

	require.NoError(t, h.journal.Record(ctx, domain.Disbursement{
		Key:       domain.PayoutKey(id),
		RequestID: id,
		Kind:      domain.KindPayout,
		From:      escrow,
		To:        requester,
		Amount:    1000,
		TxRef:     "mem-dropped",
		Status:    domain.DisbursementPending,
	}))

	req, err := h.svc.SettlePolicy(ctx, id, "")
	require.NoError(t, err)
	assert.True(t, *req.Payout)
	assert.EqualValues(t, 1000, h.balance(t, requester))

	d, err := h.journal.Get(ctx, domain.PayoutKey(id))
	require.NoError(t, err)
	assert.True(t, d.Confirmed())
	assert.NotEqual(t, "mem-dropped", d.TxRef)
}

func TestPendingLegWithoutRefBlocksSettlement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.active(t)
	h.clock.Advance(24 * time.Hour)
	h.oracle.report(domain.WeatherRain, 90)

	require.NoError(t, h.journal.Record(ctx, domain.Disbursement{
		Key:       domain.PayoutKey(id),
		RequestID: id,
		Kind:      domain.KindPayout,
		Amount:    1000,
		Status:    domain.DisbursementPending,
	}))

	_, err := h.svc.SettlePolicy(ctx, id, "")
	require.ErrorIs(t, err, domain.ErrTransferPending)
	assert.EqualValues(t, 0, h.balance(t, requester))
	assert.Equal(t, domain.StatusActive, h.get(t, id).Status)
}

func TestLockRenewedDuringSlowLegs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.premiumDue(t)
	h.fund(requester, 250)

	h.svc = h.service(&slowLedger{Ledger: h.ledger, delay: 60 * time.Millisecond}, h.locks, Options{LockTTL: 30 * time.Millisecond})

	errc := make(chan error, 1)
	go func() {
		_, err := h.svc.PayPremium(ctx, id, requester, 250)
		errc <- err
	}()

	time.Sleep(100 * time.Millisecond)
	_, err := h.locks.Acquire(ctx, requestLockKey(id), time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld, "lock held past its ttl while legs run")

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("premium payment did not finish")
	}
	assert.Equal(t, domain.StatusActive, h.get(t, id).Status)
	assert.EqualValues(t, 12, h.balance(t, expert2))
}

func TestLostLockStopsBeforeNextLeg(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.premiumDue(t)
	h.fund(requester, 250)

	slow := &slowLedger{Ledger: h.ledger, delay: 50 * time.Millisecond}
	h.svc = h.service(slow, brittleLocks{h.locks}, Options{LockTTL: 15 * time.Millisecond})

	_, err := h.svc.PayPremium(ctx, id, requester, 250)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Equal(t, domain.StatusPremiumDue, h.get(t, id).Status)
	assert.EqualValues(t, 12, h.balance(t, expert2), "the in-flight leg completes")
	assert.EqualValues(t, 0, h.balance(t, investor1), "no leg starts after the lock is lost")

	h.svc = h.service(h.ledger, h.locks, Options{})
	req, err := h.svc.PayPremium(ctx, id, requester, 250)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, req.Status)
	assert.EqualValues(t, 12, h.balance(t, expert2))
	assert.EqualValues(t, 119, h.balance(t, investor1))
	assert.EqualValues(t, 119, h.balance(t, investor2))
}
