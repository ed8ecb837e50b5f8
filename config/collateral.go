package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"vesselchain/native/collateral"
	"vesselchain/native/fixedpoint"
)

// CollateralFile lists the collateral assets registered at startup.
type CollateralFile struct {
	Collaterals []CollateralSpec `yaml:"collaterals"`
}

// CollateralSpec describes one asset. Decimal fields are human readable
// ("1.1", "2000") and empty values fall back to the protocol defaults.
type CollateralSpec struct {
	Asset                    string `yaml:"asset"`
	Decimals                 uint8  `yaml:"decimals"`
	Active                   *bool  `yaml:"active"`
	MCR                      string `yaml:"mcr"`
	CCR                      string `yaml:"ccr"`
	MinNetDebt               string `yaml:"min_net_debt"`
	MintCap                  string `yaml:"mint_cap"`
	BorrowingFee             string `yaml:"borrowing_fee"`
	RedemptionFeeFloor       string `yaml:"redemption_fee_floor"`
	GasCompensation          string `yaml:"gas_compensation"`
	PercentDivisor           uint64 `yaml:"percent_divisor"`
	RedemptionBlockTimestamp uint64 `yaml:"redemption_block_timestamp"`
	RedemptionBaseFeeEnabled *bool  `yaml:"redemption_base_fee_enabled"`
	// Price seeds the oracle until a feeder publishes a fresh quote.
	Price string `yaml:"price"`
}

// LoadCollateral reads and validates the collateral file at path.
func LoadCollateral(path string) (CollateralFile, error) {
	var file CollateralFile
	if strings.TrimSpace(path) == "" {
		return file, fmt.Errorf("collateral file path required")
	}
	f, err := os.Open(path)
	if err != nil {
		return file, fmt.Errorf("open collateral file: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return CollateralFile{}, fmt.Errorf("decode collateral file: %w", err)
	}
	file.normalize()
	if err := file.validate(); err != nil {
		return CollateralFile{}, err
	}
	return file, nil
}

func (f *CollateralFile) normalize() {
	for i := range f.Collaterals {
		spec := &f.Collaterals[i]
		spec.Asset = collateral.NormalizeAsset(spec.Asset)
		if spec.Decimals == 0 {
			spec.Decimals = 18
		}
	}
}

func (f CollateralFile) validate() error {
	if len(f.Collaterals) == 0 {
		return fmt.Errorf("collateral file lists no assets")
	}
	seen := make(map[string]struct{}, len(f.Collaterals))
	for _, spec := range f.Collaterals {
		if spec.Asset == "" {
			return fmt.Errorf("collateral asset symbol required")
		}
		if _, dup := seen[spec.Asset]; dup {
			return fmt.Errorf("collateral %s listed twice", spec.Asset)
		}
		seen[spec.Asset] = struct{}{}
		params, err := spec.Params()
		if err != nil {
			return fmt.Errorf("collateral %s: %w", spec.Asset, err)
		}
		if err := params.Validate(); err != nil {
			return fmt.Errorf("collateral %s: %w", spec.Asset, err)
		}
		if _, err := spec.SeedPrice(); err != nil {
			return fmt.Errorf("collateral %s: %w", spec.Asset, err)
		}
	}
	return nil
}

// Params converts the spec into engine parameters.
func (s CollateralSpec) Params() (collateral.Params, error) {
	gasComp, err := parseAmount("gas_compensation", s.GasCompensation, nil)
	if err != nil {
		return collateral.Params{}, err
	}
	if gasComp == nil {
		return collateral.Params{}, fmt.Errorf("gas_compensation required")
	}
	params := collateral.DefaultParams(s.Asset, s.Decimals, gasComp)
	fields := []struct {
		name  string
		value string
		dst   **big.Int
	}{
		{name: "mcr", value: s.MCR, dst: &params.MCR},
		{name: "ccr", value: s.CCR, dst: &params.CCR},
		{name: "min_net_debt", value: s.MinNetDebt, dst: &params.MinNetDebt},
		{name: "mint_cap", value: s.MintCap, dst: &params.MintCap},
		{name: "borrowing_fee", value: s.BorrowingFee, dst: &params.BorrowingFee},
		{name: "redemption_fee_floor", value: s.RedemptionFeeFloor, dst: &params.RedemptionFeeFloor},
	}
	for _, field := range fields {
		value, err := parseAmount(field.name, field.value, *field.dst)
		if err != nil {
			return collateral.Params{}, err
		}
		*field.dst = value
	}
	if s.PercentDivisor != 0 {
		params.PercentDivisor = s.PercentDivisor
	}
	params.RedemptionBlockTimestamp = s.RedemptionBlockTimestamp
	if s.Active != nil {
		params.Active = *s.Active
	}
	if s.RedemptionBaseFeeEnabled != nil {
		params.RedemptionBaseFeeEnabled = *s.RedemptionBaseFeeEnabled
	}
	return params, nil
}

// SeedPrice returns the configured starting price, or nil when unset.
func (s CollateralSpec) SeedPrice() (*big.Int, error) {
	price, err := parseAmount("price", s.Price, nil)
	if err != nil {
		return nil, err
	}
	if price != nil && price.Sign() == 0 {
		return nil, fmt.Errorf("price must be positive")
	}
	return price, nil
}

// parseAmount converts a decimal string into an 18-decimal fixed point
// value. Empty input returns fallback.
func parseAmount(name, raw string, fallback *big.Int) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	value, err := fixedpoint.ParseDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return value, nil
}
