package chain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseUnits converts a human decimal amount ("0.00025") into base units for
// a token with the given decimals. Digits beyond the token precision are
// truncated.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("chain: parse amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("chain: parse amount %q: negative", amount)
	}
	return d.Shift(int32(decimals)).BigInt(), nil
}

// MustParseUnits is ParseUnits for compile-time constants.
func MustParseUnits(amount string, decimals int) *big.Int {
	v, err := ParseUnits(amount, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatUnits renders base units as a decimal string in token units.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}
