package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

func investments(amounts ...domain.Amount) ([]domain.Investment, domain.Amount) {
	var total domain.Amount
	out := make([]domain.Investment, len(amounts))
	for i, a := range amounts {
		out[i] = domain.Investment{Investor: "0x", Amount: a}
		total += a
	}
	return out, total
}

func TestSplitPremiumEvenPool(t *testing.T) {
	inv, total := investments(500, 500)
	split, err := splitPremium(250, DefaultExpertFeeBps, inv, total)
	require.NoError(t, err)
	assert.EqualValues(t, 12, split.ExpertFee)
	assert.Equal(t, []domain.Amount{119, 119}, split.Shares)
}

func TestSplitPremiumRemainderToLastEntry(t *testing.T) {
	inv, total := investments(333, 333, 334)
	split, err := splitPremium(100, DefaultExpertFeeBps, inv, total)
	require.NoError(t, err)
	assert.EqualValues(t, 5, split.ExpertFee)
	assert.Equal(t, []domain.Amount{31, 31, 33}, split.Shares)

	var sum domain.Amount
	for _, s := range split.Shares {
		sum += s
	}
	assert.EqualValues(t, 100, sum+split.ExpertFee, "nothing dropped")
}

func TestSplitPremiumLargeAmounts(t *testing.T) {
	big := domain.Amount(math.MaxUint64 / 2)
	inv, total := investments(big, big)
	split, err := splitPremium(domain.Amount(math.MaxUint64-1), DefaultExpertFeeBps, inv, total)
	require.NoError(t, err)
	assert.Equal(t, split.Shares[0], split.Shares[1])
}

func TestSplitPremiumErrors(t *testing.T) {
	_, err := splitPremium(100, DefaultExpertFeeBps, nil, 0)
	assert.Error(t, err)

	inv, total := investments(10)
	_, err = splitPremium(100, 10_001, inv, total)
	assert.Error(t, err)
}

func TestMulDiv(t *testing.T) {
	v, err := mulDiv(7, 3, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 10, v)

	_, err = mulDiv(1, 1, 0)
	assert.Error(t, err)

	_, err = mulDiv(math.MaxUint64, 2, 1)
	assert.ErrorIs(t, err, errOverflow)
}
