package fixedpoint

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// Rounding selects how MulDiv treats the remainder of the division.
type Rounding uint8

const (
	RoundDown Rounding = iota
	RoundUp
	RoundHalfUp
)

// MaxDecayMinutes caps the exponent used by DecPow at roughly one year.
const MaxDecayMinutes = 525_600

var (
	// Decimal is the 18-decimal fixed point unit.
	Decimal = mustBigInt("1000000000000000000")
	// NICRPrecision scales nominal collateral ratios so that they stay
	// comparable across assets with small collateral amounts.
	NICRPrecision = mustBigInt("100000000000000000000")
	// MinuteDecayFactor is 0.5^(1/720), giving the base rate a twelve hour
	// half-life.
	MinuteDecayFactor = mustBigInt("999037758833783000")

	halfDecimal = new(big.Int).Rsh(Decimal, 1)
	maxUint256  = new(uint256.Int).SetAllOne()
)

var (
	ErrNegative        = errors.New("fixedpoint: value must not be negative")
	ErrOverflow        = errors.New("fixedpoint: value exceeds 256 bits")
	ErrZeroDenominator = errors.New("fixedpoint: division by zero")
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// MaxUint256 returns the largest representable amount. It doubles as the
// collateral ratio sentinel for positions without debt.
func MaxUint256() *big.Int {
	return maxUint256.ToBig()
}

// IsMaxUint256 reports whether value equals the MaxUint256 sentinel.
func IsMaxUint256(value *big.Int) bool {
	if value == nil {
		return false
	}
	v, overflow := uint256.FromBig(value)
	if overflow {
		return false
	}
	return v.Eq(maxUint256)
}

// CheckUint256 rejects values that would not fit the on-chain amount domain.
func CheckUint256(value *big.Int) error {
	if value == nil {
		return nil
	}
	if value.Sign() < 0 {
		return ErrNegative
	}
	if _, overflow := uint256.FromBig(value); overflow {
		return ErrOverflow
	}
	return nil
}

// Zero returns a fresh zero value.
func Zero() *big.Int { return new(big.Int) }

// Copy returns an independent copy, treating nil as zero.
func Copy(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// MulDiv returns a*b/d using the requested rounding. Nil operands are treated
// as zero.
func MulDiv(a, b, d *big.Int, rounding Rounding) (*big.Int, error) {
	if d == nil || d.Sign() == 0 {
		return nil, ErrZeroDenominator
	}
	if a == nil || b == nil {
		return new(big.Int), nil
	}
	product := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(product, d, new(big.Int))
	if rem.Sign() == 0 {
		return quo, nil
	}
	switch rounding {
	case RoundUp:
		quo.Add(quo, big.NewInt(1))
	case RoundHalfUp:
		doubled := new(big.Int).Lsh(rem, 1)
		if doubled.CmpAbs(d) >= 0 {
			quo.Add(quo, big.NewInt(1))
		}
	}
	return quo, nil
}

// MulDivDown is MulDiv rounding down, returning zero on a zero denominator.
func MulDivDown(a, b, d *big.Int) *big.Int {
	out, err := MulDiv(a, b, d, RoundDown)
	if err != nil {
		return new(big.Int)
	}
	return out
}

// DecMul multiplies two 18-decimal values rounding half up.
func DecMul(x, y *big.Int) *big.Int {
	if x == nil || y == nil {
		return new(big.Int)
	}
	product := new(big.Int).Mul(x, y)
	product.Add(product, halfDecimal)
	return product.Quo(product, Decimal)
}

// DecPow raises an 18-decimal base to an integer power by repeated squaring.
// The exponent is capped at MaxDecayMinutes.
func DecPow(base *big.Int, minutes uint64) *big.Int {
	if minutes > MaxDecayMinutes {
		minutes = MaxDecayMinutes
	}
	if minutes == 0 {
		return new(big.Int).Set(Decimal)
	}
	if base == nil {
		return new(big.Int)
	}
	y := new(big.Int).Set(Decimal)
	x := new(big.Int).Set(base)
	n := minutes
	for n > 1 {
		if n%2 == 0 {
			x = DecMul(x, x)
			n /= 2
		} else {
			y = DecMul(x, y)
			x = DecMul(x, x)
			n = (n - 1) / 2
		}
	}
	return DecMul(x, y)
}

// DecayedBaseRate applies the per-minute decay factor to base.
func DecayedBaseRate(base *big.Int, minutes uint64) *big.Int {
	if base == nil || base.Sign() == 0 {
		return new(big.Int)
	}
	factor := DecPow(MinuteDecayFactor, minutes)
	return MulDivDown(base, factor, Decimal)
}

// Min returns a copy of the smaller value.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns a copy of the larger value.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// ComputeCR returns coll*price/debt. Positions without debt report the
// MaxUint256 sentinel and positions without collateral or price report zero.
func ComputeCR(coll, debt, price *big.Int) *big.Int {
	if coll == nil || coll.Sign() == 0 || price == nil || price.Sign() == 0 {
		return new(big.Int)
	}
	if debt == nil || debt.Sign() == 0 {
		return MaxUint256()
	}
	return MulDivDown(coll, price, debt)
}

// ComputeNominalCR returns coll*1e20/debt, the price independent ordering key.
func ComputeNominalCR(coll, debt *big.Int) *big.Int {
	if coll == nil || coll.Sign() == 0 {
		return new(big.Int)
	}
	if debt == nil || debt.Sign() == 0 {
		return MaxUint256()
	}
	return MulDivDown(coll, NICRPrecision, debt)
}

// SubFloor returns a-b, clamped at zero.
func SubFloor(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		return out.SetInt64(0)
	}
	return out
}
