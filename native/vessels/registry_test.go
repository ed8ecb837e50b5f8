package vessels

import (
	"errors"
	"math/big"
	"testing"

	"vesselchain/core/events"
	"vesselchain/crypto"
	"vesselchain/native/fixedpoint"
)

func TestOpenVessel(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, alice, "1", "100")

	if v.Status != StatusActive {
		t.Fatalf("status: %s", v.Status)
	}
	requireAmount(t, "debt includes gas compensation", dec("110"), v.Debt)
	requireAmount(t, "coll", dec("1"), v.Coll)
	requireAmount(t, "stake", dec("1"), v.Stake)
	if v.ArrayIndex != 0 {
		t.Fatalf("array index: %d", v.ArrayIndex)
	}

	requireAmount(t, "owner debt tokens", dec("100"), f.debtBalance(t, alice))
	requireAmount(t, "gas pool", dec("10"), f.debtBalance(t, f.engine.GasPoolAccount()))
	requireAmount(t, "pool collateral", dec("1"), f.collBalance(t, f.engine.PoolAccount()))
	requireAmount(t, "owner collateral", new(big.Int), f.collBalance(t, alice))

	listed, err := f.index.Contains(testAsset, alice)
	if err != nil || !listed {
		t.Fatalf("vessel not indexed: %v", err)
	}
	state := f.assetState(t)
	requireAmount(t, "active coll", dec("1"), state.ActiveColl)
	requireAmount(t, "active debt", dec("110"), state.ActiveDebt)
	requireAmount(t, "total stakes", dec("1"), state.TotalStakes)
	if f.emitter.count(events.TypeVesselUpdated) != 1 {
		t.Fatalf("expected one vessel event, got %d", f.emitter.count(events.TypeVesselUpdated))
	}
}

func TestOpenValidation(t *testing.T) {
	f := newFixture(t)
	f.open(t, carol, "3", "300")
	f.fundColl(t, alice, "20")

	cases := []struct {
		name  string
		owner crypto.Address
		coll  string
		debt  string
		want  error
	}{
		{name: "below min net debt", owner: alice, coll: "1", debt: "10", want: ErrBelowMinNetDebt},
		{name: "icr below mcr", owner: alice, coll: "0.5", debt: "100", want: ErrICRBelowMCR},
		{name: "tcr below ccr", owner: alice, coll: "11", debt: "1900", want: ErrTCRBelowCCR},
		{name: "zero collateral", owner: alice, coll: "0", debt: "100", want: ErrZeroAmount},
		{name: "unfunded", owner: bob, coll: "1", debt: "100", want: ErrInsufficientCollateral},
		{name: "already open", owner: carol, coll: "1", debt: "100", want: ErrVesselExists},
	}
	for _, tc := range cases {
		_, err := f.engine.Open(testAsset, tc.owner, dec(tc.coll), dec(tc.debt), BorrowOptions{})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	if err := f.params.SetMintCap(testAsset, dec("400")); err != nil {
		t.Fatalf("set mint cap: %v", err)
	}
	if _, err := f.engine.Open(testAsset, alice, dec("1"), dec("100"), BorrowOptions{}); !errors.Is(err, ErrMintCapExceeded) {
		t.Fatalf("expected ErrMintCapExceeded, got %v", err)
	}
	if err := f.params.SetActive(testAsset, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := f.engine.Open(testAsset, alice, dec("1"), dec("100"), BorrowOptions{}); !errors.Is(err, ErrAssetInactive) {
		t.Fatalf("expected ErrAssetInactive, got %v", err)
	}

	state := f.assetState(t)
	requireAmount(t, "active debt untouched", dec("310"), state.ActiveDebt)
	requireAmount(t, "alice collateral untouched", dec("20"), f.collBalance(t, alice))
}

func TestAdjustVessel(t *testing.T) {
	f := newFixture(t)
	f.open(t, carol, "3", "300")
	f.open(t, alice, "1", "100")

	f.fundColl(t, alice, "1")
	v, err := f.engine.Adjust(testAsset, alice, dec("1"), nil, false, BorrowOptions{})
	if err != nil {
		t.Fatalf("add collateral: %v", err)
	}
	requireAmount(t, "coll after deposit", dec("2"), v.Coll)
	requireAmount(t, "stake follows coll", dec("2"), v.Stake)

	v, err = f.engine.Adjust(testAsset, alice, nil, dec("50"), true, BorrowOptions{})
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	requireAmount(t, "debt after borrow", dec("160"), v.Debt)
	requireAmount(t, "debt tokens after borrow", dec("150"), f.debtBalance(t, alice))

	v, err = f.engine.Adjust(testAsset, alice, nil, dec("30"), false, BorrowOptions{})
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	requireAmount(t, "debt after repay", dec("130"), v.Debt)
	requireAmount(t, "debt tokens after repay", dec("120"), f.debtBalance(t, alice))

	cases := []struct {
		name     string
		coll     *big.Int
		debt     *big.Int
		increase bool
		want     error
	}{
		{name: "withdraw below mcr", coll: new(big.Int).Neg(dec("1.9")), want: ErrICRBelowMCR},
		{name: "repay below min net debt", debt: dec("101"), want: ErrBelowMinNetDebt},
		{name: "repay beyond net debt", debt: dec("121"), want: ErrRepaymentExceedsNetDebt},
		{name: "no change", want: ErrZeroAmount},
	}
	for _, tc := range cases {
		_, err := f.engine.Adjust(testAsset, alice, tc.coll, tc.debt, tc.increase, BorrowOptions{})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if _, err := f.engine.Adjust(testAsset, bob, dec("1"), nil, false, BorrowOptions{}); !errors.Is(err, ErrPositionNotActive) {
		t.Fatalf("expected ErrPositionNotActive, got %v", err)
	}

	state := f.assetState(t)
	requireAmount(t, "active coll", dec("5"), state.ActiveColl)
	requireAmount(t, "active debt", dec("440"), state.ActiveDebt)
	requireAmount(t, "total stakes", dec("5"), state.TotalStakes)
}

func TestAdjustInRecoveryMode(t *testing.T) {
	f := newFixture(t)
	f.open(t, carol, "3", "300")
	f.open(t, alice, "1", "100")
	f.setPrice(t, "155")

	recovery, err := f.engine.CheckRecoveryMode(testAsset, dec("155"))
	if err != nil || !recovery {
		t.Fatalf("expected recovery mode: %v", err)
	}
	if _, err := f.engine.Adjust(testAsset, alice, new(big.Int).Neg(dec("0.1")), nil, false, BorrowOptions{}); !errors.Is(err, ErrCollWithdrawalRecovery) {
		t.Fatalf("expected ErrCollWithdrawalRecovery, got %v", err)
	}
	if _, err := f.engine.Adjust(testAsset, alice, nil, dec("1"), true, BorrowOptions{}); !errors.Is(err, ErrICRBelowCCR) {
		t.Fatalf("expected ErrICRBelowCCR, got %v", err)
	}

	f.fundColl(t, bob, "1")
	if _, err := f.engine.Open(testAsset, bob, dec("1"), dec("100"), BorrowOptions{}); !errors.Is(err, ErrICRBelowCCR) {
		t.Fatalf("expected ErrICRBelowCCR, got %v", err)
	}
	v, err := f.engine.Open(testAsset, bob, dec("1"), dec("90"), BorrowOptions{})
	if err != nil {
		t.Fatalf("open above ccr in recovery: %v", err)
	}
	requireAmount(t, "no borrowing fee in recovery", dec("100"), v.Debt)

	f.fundColl(t, alice, "1")
	if _, err := f.engine.Adjust(testAsset, alice, dec("1"), nil, false, BorrowOptions{}); err != nil {
		t.Fatalf("top up in recovery: %v", err)
	}
	recovery, err = f.engine.CheckRecoveryMode(testAsset, dec("155"))
	if err != nil || recovery {
		t.Fatalf("expected normal mode after top up: %v", err)
	}
}

func TestCloseVessel(t *testing.T) {
	f := newFixture(t)
	f.open(t, alice, "1", "100")
	f.open(t, carol, "3", "300")

	if err := f.engine.CloseVessel(testAsset, alice); err != nil {
		t.Fatalf("close: %v", err)
	}
	v := f.vessel(t, alice)
	if v.Status != StatusClosedByOwner {
		t.Fatalf("status: %s", v.Status)
	}
	requireAmount(t, "debt zeroed", new(big.Int), v.Debt)
	requireAmount(t, "collateral returned", dec("1"), f.collBalance(t, alice))
	requireAmount(t, "debt burned", new(big.Int), f.debtBalance(t, alice))
	requireAmount(t, "gas compensation released", dec("10"), f.debtBalance(t, f.engine.GasPoolAccount()))

	owners, err := f.engine.VesselOwners(testAsset)
	if err != nil {
		t.Fatalf("owners: %v", err)
	}
	if len(owners) != 1 || !owners[0].Equal(carol) {
		t.Fatalf("unexpected owners %v", owners)
	}
	if idx := f.vessel(t, carol).ArrayIndex; idx != 0 {
		t.Fatalf("carol should move into slot 0, got %d", idx)
	}
	if listed, _ := f.index.Contains(testAsset, alice); listed {
		t.Fatalf("closed vessel still indexed")
	}
	state := f.assetState(t)
	requireAmount(t, "active debt", dec("310"), state.ActiveDebt)
	requireAmount(t, "total stakes", dec("3"), state.TotalStakes)

	if err := f.engine.CloseVessel(testAsset, alice); !errors.Is(err, ErrPositionNotActive) {
		t.Fatalf("expected ErrPositionNotActive, got %v", err)
	}
}

func TestCloseVesselChecks(t *testing.T) {
	f := newFixture(t)
	f.open(t, carol, "3", "300")
	f.open(t, alice, "1", "100")

	f.setPrice(t, "160")
	if err := f.engine.CloseVessel(testAsset, carol); !errors.Is(err, ErrTCRBelowCCR) {
		t.Fatalf("expected ErrTCRBelowCCR, got %v", err)
	}
	f.setPrice(t, "155")
	if err := f.engine.CloseVessel(testAsset, alice); !errors.Is(err, ErrCloseInRecoveryMode) {
		t.Fatalf("expected ErrCloseInRecoveryMode, got %v", err)
	}
	f.setPrice(t, "200")
	if err := f.debt.Transfer(alice, bob, dec("1")); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := f.engine.CloseVessel(testAsset, alice); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func sumStakes(t *testing.T, f *fixture) *big.Int {
	t.Helper()
	owners, err := f.engine.VesselOwners(testAsset)
	if err != nil {
		t.Fatalf("owners: %v", err)
	}
	total := new(big.Int)
	for _, owner := range owners {
		total.Add(total, f.vessel(t, owner).Stake)
	}
	return total
}

func TestStakeConservation(t *testing.T) {
	f := newFixture(t)
	check := func(label string) {
		t.Helper()
		requireAmount(t, label, f.assetState(t).TotalStakes, sumStakes(t, f))
	}
	f.open(t, carol, "20", "1000")
	f.open(t, bob, "3", "300")
	f.open(t, alice, "1", "100")
	check("after opens")

	f.setPrice(t, "120")
	if _, err := f.engine.LiquidateVessels(testAsset, 0, liquidator); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	check("after liquidation")

	f.open(t, erin, "1", "50")
	check("after open with snapshot ratio")

	f.fundColl(t, bob, "1")
	if _, err := f.engine.Adjust(testAsset, bob, dec("1"), nil, false, BorrowOptions{}); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	check("after adjust")

	if err := f.engine.CloseVessel(testAsset, erin); err != nil {
		t.Fatalf("close: %v", err)
	}
	check("after close")
}

func TestIndexOrderedByNominalICR(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct {
		owner crypto.Address
		coll  string
	}{{alice, "1.2"}, {bob, "3"}, {carol, "1.5"}, {dave, "2"}, {erin, "5"}} {
		f.open(t, tc.owner, tc.coll, "100")
	}
	assertOrdered := func(label string) {
		t.Helper()
		var prev *big.Int
		err := f.index.Walk(testAsset, func(owner crypto.Address) bool {
			nicr, err := f.engine.NominalICR(testAsset, owner)
			if err != nil {
				t.Fatalf("%s: nicr: %v", label, err)
			}
			if prev != nil && nicr.Cmp(prev) > 0 {
				t.Fatalf("%s: %s out of order", label, owner)
			}
			prev = nicr
			return true
		})
		if err != nil {
			t.Fatalf("%s: walk: %v", label, err)
		}
	}
	assertOrdered("after opens")
	last, err := f.index.GetLast(testAsset)
	if err != nil || !last.Equal(alice) {
		t.Fatalf("expected alice at the tail, got %s (%v)", last, err)
	}

	f.fundColl(t, alice, "10")
	if _, err := f.engine.Adjust(testAsset, alice, dec("10"), nil, false, BorrowOptions{}); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	assertOrdered("after reinsert")
	first, err := f.index.GetFirst(testAsset)
	if err != nil || !first.Equal(alice) {
		t.Fatalf("expected alice at the head, got %s (%v)", first, err)
	}
}

func TestComputeICRSentinels(t *testing.T) {
	if got := ComputeICR(dec("1"), new(big.Int), dec("200")); !fixedpoint.IsMaxUint256(got) {
		t.Fatalf("zero debt should report the max sentinel, got %s", got)
	}
	if got := ComputeICR(new(big.Int), dec("100"), dec("200")); got.Sign() != 0 {
		t.Fatalf("zero collateral should report 0, got %s", got)
	}
	requireAmount(t, "icr", dec("2"), ComputeICR(dec("1"), dec("100"), dec("200")))
	requireAmount(t, "nicr", dec("1"), ComputeNominalICR(dec("1"), dec("100")))
}
