package fixedpoint

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const decimals = 18

// ParseDecimal converts a human readable decimal string such as "1.1" into its
// 18-decimal fixed point representation. Digits beyond the 18th are rejected.
func ParseDecimal(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("fixedpoint: empty decimal")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("fixedpoint: parse %q: %w", trimmed, err)
	}
	if d.IsNegative() {
		return nil, ErrNegative
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("fixedpoint: %q has more than %d decimals", trimmed, decimals)
	}
	out := scaled.BigInt()
	if err := CheckUint256(out); err != nil {
		return nil, err
	}
	return out, nil
}

// MustParseDecimal is ParseDecimal for constants and tests.
func MustParseDecimal(value string) *big.Int {
	out, err := ParseDecimal(value)
	if err != nil {
		panic(err)
	}
	return out
}

// Format renders an 18-decimal value without trailing zeros.
func Format(value *big.Int) string {
	if value == nil {
		return "0"
	}
	if IsMaxUint256(value) {
		return "max"
	}
	return decimal.NewFromBigInt(value, -decimals).String()
}
