package service

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

var errOverflow = errors.New("amount overflow")

// premiumSplit is the distribution of one premium payment.
type premiumSplit struct {
	ExpertFee domain.Amount
	Shares    []domain.Amount // parallel to the request's investments
}

// splitPremium gives the expert floor(premium*feeBps/10000) and splits the
// rest pro-rata by investment amount, each share floored. The rounding
// remainder goes to the last investment entry so the split sums to premium.
func splitPremium(premium domain.Amount, feeBps uint64, investments []domain.Investment, totalFunded domain.Amount) (premiumSplit, error) {
	if len(investments) == 0 || totalFunded == 0 {
		return premiumSplit{}, fmt.Errorf("split premium: no investments")
	}
	if feeBps > bpsDenominator {
		return premiumSplit{}, fmt.Errorf("split premium: fee %d bps exceeds 100%%", feeBps)
	}

	fee, err := mulDiv(premium, domain.Amount(feeBps), bpsDenominator)
	if err != nil {
		return premiumSplit{}, err
	}
	rest := premium - fee

	shares := make([]domain.Amount, len(investments))
	var distributed domain.Amount
	for i, inv := range investments {
		share, err := mulDiv(rest, inv.Amount, totalFunded)
		if err != nil {
			return premiumSplit{}, err
		}
		shares[i] = share
		distributed += share
	}
	if distributed > rest {
		return premiumSplit{}, fmt.Errorf("split premium: shares %d exceed %d", distributed, rest)
	}
	shares[len(shares)-1] += rest - distributed

	return premiumSplit{ExpertFee: fee, Shares: shares}, nil
}

// mulDiv computes floor(a*b/d) in 256-bit space.
func mulDiv(a, b, d domain.Amount) (domain.Amount, error) {
	if d == 0 {
		return 0, fmt.Errorf("mul div: division by zero")
	}
	z, overflow := new(uint256.Int).MulDivOverflow(
		uint256.NewInt(uint64(a)),
		uint256.NewInt(uint64(b)),
		uint256.NewInt(uint64(d)),
	)
	if overflow || !z.IsUint64() {
		return 0, fmt.Errorf("mul div %d*%d/%d: %w", a, b, d, errOverflow)
	}
	return domain.Amount(z.Uint64()), nil
}
