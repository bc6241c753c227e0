package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/weathercover/internal/cache/memory"
	"github.com/alanyoungcy/weathercover/internal/domain"
)

func TestCreateRequestValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n := h.newRequest(1000)
	n.Conditions = nil
	_, err := h.svc.CreateRequest(ctx, n)
	assert.ErrorIs(t, err, domain.ErrEmptyConditions)

	n = h.newRequest(0)
	_, err = h.svc.CreateRequest(ctx, n)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	n = h.newRequest(1000)
	n.End = n.Start
	_, err = h.svc.CreateRequest(ctx, n)
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)

	n = h.newRequest(1000)
	n.Requester = ""
	_, err = h.svc.CreateRequest(ctx, n)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	ids, err := h.svc.ListRequestIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "rejected creates store nothing")
	assert.Empty(t, h.ledger.History())
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.svc.CreateRequest(ctx, h.newRequest(1000))
		require.NoError(t, err)
	}
	ids, err := h.svc.ListRequestIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	req := h.get(t, 2)
	assert.Equal(t, domain.StatusPending, req.Status)
	assert.Nil(t, req.Payout)
	assert.Nil(t, req.SelectedOffer)
}

func TestSubmitOfferGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _, err := h.svc.SubmitOffer(ctx, 42, expert1, 100, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	id := h.pending(t)
	_, _, err = h.svc.SubmitOffer(ctx, id, expert1, 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, _, err = h.svc.SubmitOffer(ctx, id, "", 10, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, idx, err := h.svc.SubmitOffer(ctx, id, expert1, 275, "second quote")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	_, err = h.svc.SelectOffer(ctx, id, requester, 0)
	require.NoError(t, err)
	_, _, err = h.svc.SubmitOffer(ctx, id, expert2, 100, "late")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	offers, err := h.svc.GetOffers(ctx, id)
	require.NoError(t, err)
	assert.Len(t, offers, 3)
}

func TestSelectOfferGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.pending(t)

	_, err := h.svc.SelectOffer(ctx, id, expert1, 0)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.svc.SelectOffer(ctx, id, requester, 2)
	assert.ErrorIs(t, err, domain.ErrOfferNotFound)

	_, err = h.svc.SelectOffer(ctx, id, requester, -1)
	assert.ErrorIs(t, err, domain.ErrOfferNotFound)

	// Address comparison ignores case.
	_, err = h.svc.SelectOffer(ctx, id, "0xREQUESTER", 0)
	assert.NoError(t, err)
}

func TestFundPoolGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pendingID := h.pending(t)
	h.fund(investor1, 100)
	_, err := h.svc.FundPool(ctx, pendingID, investor1, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	id := h.funding(t)
	_, err = h.svc.FundPool(ctx, id, investor1, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = h.svc.FundPool(ctx, id, "", 10)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	// Allowance below the amount aborts before any state change.
	_, err = h.svc.FundPool(ctx, id, investor2, 100)
	assert.ErrorIs(t, err, domain.ErrTransfer)
	req := h.get(t, id)
	assert.Empty(t, req.Investments)
	assert.Zero(t, req.TotalFunded)
}

func TestFundPoolRepeatedInvestmentsStaySeparate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.funding(t)
	h.fund(investor1, 1000)

	for _, amt := range []domain.Amount{100, 200, 700} {
		_, err := h.svc.FundPool(ctx, id, investor1, amt)
		require.NoError(t, err)
	}
	inv, err := h.svc.GetInvestments(ctx, id)
	require.NoError(t, err)
	require.Len(t, inv, 3)
	assert.EqualValues(t, 200, inv[1].Amount)

	req := h.get(t, id)
	assert.Equal(t, domain.StatusPremiumDue, req.Status)
	requireInvariants(t, req)
}

func TestFundPoolCompensatesFailedSave(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.funding(t)
	h.fund(investor1, 300)

	h.store.failSave = errors.New("disk full")
	_, err := h.svc.FundPool(ctx, id, investor1, 300)
	require.Error(t, err)
	h.store.failSave = nil

	assert.EqualValues(t, 300, h.balance(t, investor1), "pull reversed")
	assert.EqualValues(t, 0, h.balance(t, escrow))
	assert.Zero(t, h.get(t, id).TotalFunded)

	ds, err := h.svc.Disbursements(ctx, id)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, domain.KindFunding, ds[0].Kind)
	assert.Equal(t, domain.KindFundingReversal, ds[1].Kind)
}

func TestPayPremiumGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	fundingID := h.funding(t)
	_, err := h.svc.PayPremium(ctx, fundingID, requester, 250)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	id := h.premiumDue(t)
	h.fund(requester, 300)

	_, err = h.svc.PayPremium(ctx, id, investor1, 250)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.svc.PayPremium(ctx, id, requester, 300)
	assert.ErrorIs(t, err, domain.ErrAmountMismatch)
	assert.EqualValues(t, 300, h.balance(t, requester))

	_, err = h.svc.PayPremium(ctx, id, requester, 250)
	require.NoError(t, err)
	_, err = h.svc.PayPremium(ctx, id, requester, 250)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestConcurrentFundingNeverExceedsCoverage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.funding(t)

	investors := []string{"0xA1", "0xA2", "0xA3", "0xA4", "0xA5", "0xA6", "0xA7", "0xA8", "0xA9", "0xA10"}
	for _, inv := range investors {
		h.fund(inv, 200)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, inv := range investors {
		wg.Add(1)
		go func(inv string) {
			defer wg.Done()
			_, err := h.svc.FundPool(ctx, id, inv, 200)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t,
				errors.Is(err, domain.ErrInvalidStatus) || errors.Is(err, domain.ErrFundingCapExceeded),
				"unexpected error: %v", err)
		}(inv)
	}
	wg.Wait()

	req := h.get(t, id)
	assert.Equal(t, 5, succeeded)
	assert.EqualValues(t, 1000, req.TotalFunded)
	assert.Equal(t, domain.StatusPremiumDue, req.Status)
	assert.EqualValues(t, 1000, h.balance(t, escrow))
	requireInvariants(t, req)
}

func TestStatusOnlyMovesForward(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.active(t)

	_, err := h.svc.SelectOffer(ctx, id, requester, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
	_, _, err = h.svc.SubmitOffer(ctx, id, expert1, 10, "")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
	h.fund(investor1, 10)
	_, err = h.svc.FundPool(ctx, id, investor1, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	assert.Equal(t, domain.StatusActive, h.get(t, id).Status)
}

func TestCommitRejectsBackwardOrSkippedTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.funding(t)
	loaded := h.get(t, id)

	back := loaded
	back.Status = domain.StatusPending
	err := h.svc.commit(ctx, domain.StatusFunding, &back)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	skip := loaded
	skip.Status = domain.StatusActive
	err = h.svc.commit(ctx, domain.StatusFunding, &skip)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	same := loaded
	require.NoError(t, h.svc.commit(ctx, domain.StatusFunding, &same))
	next := same
	next.Status = domain.StatusPremiumDue
	require.NoError(t, h.svc.commit(ctx, domain.StatusFunding, &next))

	assert.Equal(t, domain.StatusPremiumDue, h.get(t, id).Status)
}

func TestCacheIgnoresProjectionLoadedBeforeCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cache := cachemem.NewRequestCache()
	h.svc.WithCache(cache)
	id := h.funding(t)

	// A reader loads the request before the pool is funded...
	stale, err := h.store.Get(ctx, id)
	require.NoError(t, err)

	h.fund(investor1, 400)
	_, err = h.svc.FundPool(ctx, id, investor1, 400)
	require.NoError(t, err)

	// ...and writes it to the cache only after the commit invalidated it.
	require.NoError(t, cache.Set(ctx, stale))

	req := h.get(t, id)
	assert.EqualValues(t, 400, req.TotalFunded)
	cached, err := cache.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, req.Version, cached.Version)
}
