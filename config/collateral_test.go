package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"vesselchain/native/collateral"
	"vesselchain/native/fixedpoint"
)

func writeCollateralFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collateral.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadCollateralAppliesDefaults(t *testing.T) {
	path := writeCollateralFile(t, `
collaterals:
  - asset: weth
    gas_compensation: "200"
    price: "1850.25"
  - asset: reth
    decimals: 18
    mcr: "1.2"
    ccr: "1.6"
    min_net_debt: "1800"
    borrowing_fee: "0.01"
    gas_compensation: "200"
    percent_divisor: 100
    redemption_block_timestamp: 1700000000
    redemption_base_fee_enabled: false
    active: false
`)
	file, err := LoadCollateral(path)
	require.NoError(t, err)
	require.Len(t, file.Collaterals, 2)

	weth, err := file.Collaterals[0].Params()
	require.NoError(t, err)
	require.Equal(t, "WETH", weth.Asset)
	require.Equal(t, uint8(18), weth.Decimals)
	require.True(t, weth.Active)
	require.Zero(t, weth.MCR.Cmp(collateral.DefaultMCR))
	require.Zero(t, weth.MinNetDebt.Cmp(collateral.DefaultMinNetDebt))
	require.Zero(t, weth.DebtGasCompensation.Cmp(fixedpoint.MustParseDecimal("200")))
	price, err := file.Collaterals[0].SeedPrice()
	require.NoError(t, err)
	require.Equal(t, "1850.25", fixedpoint.Format(price))

	reth, err := file.Collaterals[1].Params()
	require.NoError(t, err)
	require.False(t, reth.Active)
	require.False(t, reth.RedemptionBaseFeeEnabled)
	require.Equal(t, "1.2", fixedpoint.Format(reth.MCR))
	require.Equal(t, "1.6", fixedpoint.Format(reth.CCR))
	require.Equal(t, "0.01", fixedpoint.Format(reth.BorrowingFee))
	require.Equal(t, uint64(100), reth.PercentDivisor)
	require.Equal(t, uint64(1_700_000_000), reth.RedemptionBlockTimestamp)
	unset, err := file.Collaterals[1].SeedPrice()
	require.NoError(t, err)
	require.Nil(t, unset)
}

func TestLoadCollateralRejectsInvalidFiles(t *testing.T) {
	cases := []struct {
		name     string
		contents string
		want     string
	}{
		{name: "empty", contents: "collaterals: []\n", want: "no assets"},
		{name: "unknown field", contents: "collaterals:\n  - asset: weth\n    gas_compensation: \"1\"\n    colour: red\n", want: "colour"},
		{name: "duplicate", contents: "collaterals:\n  - asset: weth\n    gas_compensation: \"1\"\n  - asset: WETH\n    gas_compensation: \"1\"\n", want: "listed twice"},
		{name: "missing gas compensation", contents: "collaterals:\n  - asset: weth\n", want: "gas_compensation required"},
		{name: "mcr out of bounds", contents: "collaterals:\n  - asset: weth\n    gas_compensation: \"1\"\n    mcr: \"1.001\"\n", want: "mcr"},
		{name: "too many decimals", contents: "collaterals:\n  - asset: weth\n    gas_compensation: \"0.0000000000000000001\"\n", want: "gas_compensation"},
		{name: "zero price", contents: "collaterals:\n  - asset: weth\n    gas_compensation: \"1\"\n    price: \"0\"\n", want: "price must be positive"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadCollateral(writeCollateralFile(t, tc.contents))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}

	_, err := LoadCollateral("")
	require.Error(t, err)
}
