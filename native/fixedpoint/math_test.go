package fixedpoint

import (
	"errors"
	"math/big"
	"testing"
)

func dec(value string) *big.Int { return MustParseDecimal(value) }

func TestMulDivRounding(t *testing.T) {
	cases := []struct {
		name     string
		a, b, d  int64
		rounding Rounding
		want     int64
	}{
		{"exact", 10, 10, 5, RoundDown, 20},
		{"down", 10, 1, 3, RoundDown, 3},
		{"up", 10, 1, 3, RoundUp, 4},
		{"half up below", 10, 1, 3, RoundHalfUp, 3},
		{"half up at half", 5, 1, 2, RoundHalfUp, 3},
		{"half up above", 5, 1, 3, RoundHalfUp, 2},
	}
	for _, tc := range cases {
		got, err := MulDiv(big.NewInt(tc.a), big.NewInt(tc.b), big.NewInt(tc.d), tc.rounding)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("%s: expected %d, got %s", tc.name, tc.want, got)
		}
	}
	if _, err := MulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0), RoundDown); !errors.Is(err, ErrZeroDenominator) {
		t.Fatalf("expected ErrZeroDenominator, got %v", err)
	}
}

func TestDecPowHalfLife(t *testing.T) {
	// 720 minutes is the configured half-life of the decay factor.
	got := DecPow(MinuteDecayFactor, 720)
	half := dec("0.5")
	diff := new(big.Int).Sub(got, half)
	diff.Abs(diff)
	if diff.Cmp(big.NewInt(1_000_000_000)) > 0 {
		t.Fatalf("expected ~0.5 after 720 minutes, got %s", Format(got))
	}
	if DecPow(MinuteDecayFactor, 0).Cmp(Decimal) != 0 {
		t.Fatalf("expected unit result for zero exponent")
	}
	capped := DecPow(MinuteDecayFactor, MaxDecayMinutes*4)
	if capped.Cmp(DecPow(MinuteDecayFactor, MaxDecayMinutes)) != 0 {
		t.Fatalf("expected exponent to be capped")
	}
}

func TestDecayedBaseRateMonotonic(t *testing.T) {
	base := dec("0.05")
	prev := new(big.Int).Set(base)
	for _, minutes := range []uint64{1, 10, 60, 720, 10_000} {
		got := DecayedBaseRate(base, minutes)
		if got.Cmp(prev) > 0 {
			t.Fatalf("decay increased at %d minutes: %s > %s", minutes, got, prev)
		}
		prev = got
	}
	if DecayedBaseRate(big.NewInt(0), 100).Sign() != 0 {
		t.Fatalf("expected zero base to stay zero")
	}
}

func TestComputeCRSentinels(t *testing.T) {
	price := dec("200")
	if cr := ComputeCR(dec("1"), big.NewInt(0), price); !IsMaxUint256(cr) {
		t.Fatalf("expected max sentinel for zero debt, got %s", cr)
	}
	if cr := ComputeCR(big.NewInt(0), dec("100"), price); cr.Sign() != 0 {
		t.Fatalf("expected zero for zero collateral, got %s", cr)
	}
	if cr := ComputeCR(dec("1"), dec("100"), big.NewInt(0)); cr.Sign() != 0 {
		t.Fatalf("expected zero for zero price, got %s", cr)
	}
	cr := ComputeCR(dec("1"), dec("110"), price)
	if Format(cr) != "1.818181818181818181" {
		t.Fatalf("unexpected ICR %s", Format(cr))
	}
	nicr := ComputeNominalCR(dec("1"), dec("100"))
	if nicr.Cmp(dec("1")) != 0 {
		t.Fatalf("unexpected NICR %s", nicr)
	}
}

func TestParseDecimal(t *testing.T) {
	v, err := ParseDecimal("1.1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v.String() != "1100000000000000000" {
		t.Fatalf("unexpected value %s", v)
	}
	if _, err := ParseDecimal("-1"); !errors.Is(err, ErrNegative) {
		t.Fatalf("expected ErrNegative, got %v", err)
	}
	if _, err := ParseDecimal("0.0000000000000000001"); err == nil {
		t.Fatalf("expected precision error")
	}
	if Format(v) != "1.1" {
		t.Fatalf("unexpected format %s", Format(v))
	}
}

func TestCheckUint256(t *testing.T) {
	if err := CheckUint256(MaxUint256()); err != nil {
		t.Fatalf("max should fit: %v", err)
	}
	over := new(big.Int).Add(MaxUint256(), big.NewInt(1))
	if err := CheckUint256(over); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}
