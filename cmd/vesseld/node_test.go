package main

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"vesselchain/config"
	"vesselchain/crypto"
	"vesselchain/native/collateral"
	nativecommon "vesselchain/native/common"
	"vesselchain/native/fixedpoint"
	"vesselchain/native/vessels"
	"vesselchain/storage"
)

func testCollateral() config.CollateralFile {
	return config.CollateralFile{Collaterals: []config.CollateralSpec{{
		Asset:           "WETH",
		Decimals:        18,
		MinNetDebt:      "20",
		BorrowingFee:    "0",
		GasCompensation: "10",
		Price:           "200",
	}}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testOwner(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[crypto.AddressLength-1] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func TestNewNodeWiresModules(t *testing.T) {
	cfg := config.Default()
	feeRecipient := crypto.ModuleAddress("treasury")
	cfg.Accounts.FeeRecipient = feeRecipient.String()
	n, err := newNode(cfg, testCollateral(), storage.NewMemDB(), quietLogger())
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	if !n.engine.FeeRecipient().Equal(feeRecipient) {
		t.Fatalf("fee recipient override ignored: %s", n.engine.FeeRecipient())
	}
	if got := n.engine.RedemptionSoftening(); got != config.DefaultRedemptionSofteningBps {
		t.Fatalf("softening: %d", got)
	}
	if n.debt.Symbol() != config.DefaultDebtTokenSymbol {
		t.Fatalf("debt symbol: %s", n.debt.Symbol())
	}

	owner := testOwner(1)
	if err := n.ledger.Mint("WETH", owner, fixedpoint.MustParseDecimal("1")); err != nil {
		t.Fatalf("mint: %v", err)
	}
	v, err := n.engine.Open("WETH", owner, fixedpoint.MustParseDecimal("1"), fixedpoint.MustParseDecimal("100"), vessels.BorrowOptions{})
	if err != nil {
		t.Fatalf("open through wired node: %v", err)
	}
	if v.Debt.Cmp(fixedpoint.MustParseDecimal("110")) != 0 {
		t.Fatalf("debt: %s", fixedpoint.Format(v.Debt))
	}
	balance, err := n.debt.BalanceOf(owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(fixedpoint.MustParseDecimal("100")) != 0 {
		t.Fatalf("borrowed balance: %s", fixedpoint.Format(balance))
	}
}

func TestNewNodeAppliesPausesAndWhitelists(t *testing.T) {
	cfg := config.Default()
	redeemer := testOwner(2)
	cfg.Pauses.Stability = true
	cfg.Whitelists.EnforceRedeemers = true
	cfg.Whitelists.Redeemers = []string{redeemer.String()}
	n, err := newNode(cfg, testCollateral(), storage.NewMemDB(), quietLogger())
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	if _, err := n.pool.Provide(redeemer, fixedpoint.MustParseDecimal("1")); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused stability pool, got %v", err)
	}
	for _, tc := range []struct {
		addr crypto.Address
		want bool
	}{
		{addr: redeemer, want: true},
		{addr: testOwner(3), want: false},
	} {
		ok, err := n.params.Authorized(collateral.RoleRedeemer, tc.addr)
		if err != nil {
			t.Fatalf("authorized: %v", err)
		}
		if ok != tc.want {
			t.Fatalf("redeemer %s authorized=%v want %v", tc.addr, ok, tc.want)
		}
	}
	ok, err := n.params.Authorized(collateral.RoleLiquidator, testOwner(3))
	if err != nil || !ok {
		t.Fatalf("liquidators are open when not enforced: %v %v", ok, err)
	}
}

func TestNewNodeRejectsBadSoftening(t *testing.T) {
	cfg := config.Default()
	cfg.RedemptionSofteningBps = 9_000
	if _, err := newNode(cfg, testCollateral(), storage.NewMemDB(), quietLogger()); !errors.Is(err, vessels.ErrInvalidSoftening) {
		t.Fatalf("expected ErrInvalidSoftening, got %v", err)
	}
}

func TestRegisterCollateralReplacesStoredParams(t *testing.T) {
	db := storage.NewMemDB()
	cfg := config.Default()
	if _, err := newNode(cfg, testCollateral(), db, quietLogger()); err != nil {
		t.Fatalf("first boot: %v", err)
	}
	updated := testCollateral()
	updated.Collaterals[0].MCR = "1.2"
	n, err := newNode(cfg, updated, db, quietLogger())
	if err != nil {
		t.Fatalf("second boot: %v", err)
	}
	params, err := n.params.Params("WETH")
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if fixedpoint.Format(params.MCR) != "1.2" {
		t.Fatalf("mcr not replaced: %s", fixedpoint.Format(params.MCR))
	}
}
