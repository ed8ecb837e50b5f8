package collateral

import (
	"math/big"
	"strings"

	"vesselchain/native/fixedpoint"
)

// Params captures the risk configuration of a single collateral asset.
type Params struct {
	Asset    string
	Decimals uint8
	Active   bool
	// MCR is the minimum individual collateral ratio below which a vessel
	// can be liquidated.
	MCR *big.Int
	// CCR is the critical system collateral ratio. The asset enters
	// Recovery Mode while its TCR is below it.
	CCR                 *big.Int
	MinNetDebt          *big.Int
	MintCap             *big.Int
	BorrowingFee        *big.Int
	RedemptionFeeFloor  *big.Int
	DebtGasCompensation *big.Int
	// PercentDivisor sets the collateral gas compensation to coll/PercentDivisor.
	PercentDivisor           uint64
	RedemptionBlockTimestamp uint64
	RedemptionBaseFeeEnabled bool
}

// Clone returns a deep copy of the parameter set.
func (p Params) Clone() Params {
	clone := p
	clone.MCR = fixedpoint.Copy(p.MCR)
	clone.CCR = fixedpoint.Copy(p.CCR)
	clone.MinNetDebt = fixedpoint.Copy(p.MinNetDebt)
	clone.MintCap = fixedpoint.Copy(p.MintCap)
	clone.BorrowingFee = fixedpoint.Copy(p.BorrowingFee)
	clone.RedemptionFeeFloor = fixedpoint.Copy(p.RedemptionFeeFloor)
	clone.DebtGasCompensation = fixedpoint.Copy(p.DebtGasCompensation)
	return clone
}

// Default values applied to a newly added collateral.
var (
	DefaultMCR                = fixedpoint.MustParseDecimal("1.1")
	DefaultCCR                = fixedpoint.MustParseDecimal("1.5")
	DefaultMinNetDebt         = fixedpoint.MustParseDecimal("2000")
	DefaultMintCap            = fixedpoint.MustParseDecimal("1000000")
	DefaultBorrowingFee       = fixedpoint.MustParseDecimal("0.005")
	DefaultRedemptionFeeFloor = fixedpoint.MustParseDecimal("0.005")
)

const DefaultPercentDivisor = 200

// Safety bounds enforced by the setters.
var (
	minMCR                = fixedpoint.MustParseDecimal("1.01")
	maxMCR                = fixedpoint.MustParseDecimal("10")
	maxCCR                = fixedpoint.MustParseDecimal("10")
	maxBorrowingFee       = fixedpoint.MustParseDecimal("0.1")
	maxMinNetDebt         = fixedpoint.MustParseDecimal("2000")
	maxRedemptionFeeFloor = fixedpoint.MustParseDecimal("0.1")
)

const (
	minPercentDivisor = 2
	maxPercentDivisor = 200
)

// DefaultParams returns the defaults used when an asset is first registered.
func DefaultParams(asset string, decimals uint8, gasCompensation *big.Int) Params {
	return Params{
		Asset:                    NormalizeAsset(asset),
		Decimals:                 decimals,
		Active:                   true,
		MCR:                      fixedpoint.Copy(DefaultMCR),
		CCR:                      fixedpoint.Copy(DefaultCCR),
		MinNetDebt:               fixedpoint.Copy(DefaultMinNetDebt),
		MintCap:                  fixedpoint.Copy(DefaultMintCap),
		BorrowingFee:             fixedpoint.Copy(DefaultBorrowingFee),
		RedemptionFeeFloor:       fixedpoint.Copy(DefaultRedemptionFeeFloor),
		DebtGasCompensation:      fixedpoint.Copy(gasCompensation),
		PercentDivisor:           DefaultPercentDivisor,
		RedemptionBaseFeeEnabled: true,
	}
}

// Validate checks every field against the safety bounds.
func (p Params) Validate() error {
	if p.Asset == "" {
		return ErrInvalidAsset
	}
	if err := checkRange(p.MCR, minMCR, maxMCR); err != nil {
		return wrapParam("mcr", err)
	}
	if err := checkRange(p.CCR, nil, maxCCR); err != nil {
		return wrapParam("ccr", err)
	}
	if err := checkRange(p.MinNetDebt, nil, maxMinNetDebt); err != nil {
		return wrapParam("min net debt", err)
	}
	if err := checkRange(p.BorrowingFee, nil, maxBorrowingFee); err != nil {
		return wrapParam("borrowing fee", err)
	}
	if err := checkRange(p.RedemptionFeeFloor, nil, maxRedemptionFeeFloor); err != nil {
		return wrapParam("redemption fee floor", err)
	}
	if err := checkRange(p.MintCap, nil, nil); err != nil {
		return wrapParam("mint cap", err)
	}
	if err := checkRange(p.DebtGasCompensation, nil, nil); err != nil {
		return wrapParam("gas compensation", err)
	}
	if p.PercentDivisor < minPercentDivisor || p.PercentDivisor > maxPercentDivisor {
		return wrapParam("percent divisor", ErrOutOfSafetyBounds)
	}
	return nil
}

func checkRange(value, min, max *big.Int) error {
	if value == nil {
		return ErrOutOfSafetyBounds
	}
	if err := fixedpoint.CheckUint256(value); err != nil {
		return err
	}
	if min != nil && value.Cmp(min) < 0 {
		return ErrOutOfSafetyBounds
	}
	if max != nil && value.Cmp(max) > 0 {
		return ErrOutOfSafetyBounds
	}
	return nil
}

// NormalizeAsset trims and upper-cases an asset symbol.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
