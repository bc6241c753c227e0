package domain

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// AmountDecimals is the fixed-point precision of the settlement stablecoin.
const AmountDecimals = 6

// Amount is a stablecoin quantity in micro-units (1 USDC = 1_000_000).
type Amount uint64

// MaxAmount is the largest amount accepted from user input. Stores persist
// amounts as signed 64-bit integers.
const MaxAmount = Amount(math.MaxInt64)

// String renders the amount as a decimal with AmountDecimals places.
func (a Amount) String() string {
	return decimal.NewFromBigInt(a.Big(), -AmountDecimals).StringFixed(AmountDecimals)
}

// Big returns the amount as a *big.Int for ledger calls.
func (a Amount) Big() *big.Int {
	return new(big.Int).SetUint64(uint64(a))
}

// AmountFromBig converts an on-chain integer into an Amount.
func AmountFromBig(v *big.Int) (Amount, error) {
	if v == nil {
		return 0, nil
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("amount %s out of range", v.String())
	}
	return Amount(v.Uint64()), nil
}

// ParseAmount parses a human decimal string such as "12.5" into micro-units.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return 0, fmt.Errorf("parse amount %q: negative", s)
	}
	scaled := d.Shift(AmountDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("parse amount %q: more than %d decimals", s, AmountDecimals)
	}
	a, err := AmountFromBig(scaled.BigInt())
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if a > MaxAmount {
		return 0, fmt.Errorf("parse amount %q: exceeds maximum %s", s, MaxAmount)
	}
	return a, nil
}
