package vessels

import (
	"errors"
	"math/big"
	"testing"

	"vesselchain/core/events"
	"vesselchain/crypto"
	"vesselchain/native/collateral"
	"vesselchain/native/fixedpoint"
)

func (f *fixture) fundDebt(t *testing.T, owner crypto.Address, amount string) {
	t.Helper()
	if err := f.debt.Mint(owner, dec(amount)); err != nil {
		t.Fatalf("mint debt: %v", err)
	}
}

func (f *fixture) redeemRequest(t *testing.T, redeemer crypto.Address, amount string) RedemptionRequest {
	t.Helper()
	hints, err := f.engine.GetRedemptionHints(testAsset, dec(amount), nil, 0)
	if err != nil {
		t.Fatalf("redemption hints: %v", err)
	}
	upper, lower, err := f.engine.FindInsertHints(testAsset, hints.PartialNICR, crypto.Address{}, crypto.Address{})
	if err != nil {
		t.Fatalf("insert hints: %v", err)
	}
	return RedemptionRequest{
		Asset:                     testAsset,
		Redeemer:                  redeemer,
		Amount:                    hints.TruncatedAmount,
		FirstHint:                 hints.FirstHint,
		UpperPartialHint:          upper,
		LowerPartialHint:          lower,
		PartialRedemptionHintNICR: hints.PartialNICR,
		MaxFeePercentage:          dec("1"),
	}
}

// openLadder opens three vessels that redeem in the order bob, carol, erin.
func (f *fixture) openLadder(t *testing.T) {
	t.Helper()
	f.open(t, erin, "2", "100")
	f.open(t, carol, "0.35", "40")
	f.open(t, bob, "0.25", "30")
}

func redemptionFee(base, drawn *big.Int) *big.Int {
	rate := new(big.Int).Add(dec("0.005"), base)
	return fixedpoint.MulDivDown(rate, drawn, fixedpoint.Decimal)
}

func TestRedeemPartially(t *testing.T) {
	f := newFixture(t)
	f.open(t, alice, "1", "100")
	if err := f.debt.Transfer(alice, bob, dec("50")); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	req := f.redeemRequest(t, bob, "50")
	requireAmount(t, "partial hint", fixedpoint.ComputeNominalCR(dec("0.7575"), dec("60")), req.PartialRedemptionHintNICR)
	if !req.FirstHint.Equal(alice) {
		t.Fatalf("first hint: %s", req.FirstHint)
	}

	res, err := f.engine.RedeemCollateral(req)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.Outcome != RedemptionCompleted || len(res.Steps) != 1 || res.Steps[0].Closed {
		t.Fatalf("unexpected result %+v", res)
	}
	requireAmount(t, "redeemed", dec("50"), res.DebtRedeemed)
	requireAmount(t, "drawn", dec("0.2425"), res.CollDrawn)

	base := new(big.Int).Quo(fixedpoint.MulDivDown(dec("50"), fixedpoint.Decimal, dec("110")), big.NewInt(2))
	stored, err := f.engine.BaseRate(testAsset)
	if err != nil {
		t.Fatalf("base rate: %v", err)
	}
	requireAmount(t, "base rate", base, stored)
	fee := redemptionFee(base, dec("0.2425"))
	requireAmount(t, "fee", fee, res.Fee)
	requireAmount(t, "redeemer collateral", new(big.Int).Sub(dec("0.2425"), fee), f.collBalance(t, bob))
	requireAmount(t, "fee recipient collateral", fee, f.collBalance(t, f.engine.FeeRecipient()))
	requireAmount(t, "redeemer debt burned", new(big.Int), f.debtBalance(t, bob))

	v := f.vessel(t, alice)
	requireAmount(t, "vessel debt", dec("60"), v.Debt)
	requireAmount(t, "vessel coll", dec("0.7575"), v.Coll)
	state := f.assetState(t)
	requireAmount(t, "active debt", dec("60"), state.ActiveDebt)
	requireAmount(t, "active coll", dec("0.7575"), state.ActiveColl)
	if f.emitter.count(events.TypeRedemption) != 1 {
		t.Fatalf("expected a redemption event")
	}
}

func TestRedeemAcrossVessels(t *testing.T) {
	f := newFixture(t)
	f.openLadder(t)
	f.fundDebt(t, dave, "75")

	req := f.redeemRequest(t, dave, "75")
	if !req.FirstHint.Equal(bob) {
		t.Fatalf("first hint: %s", req.FirstHint)
	}
	requireAmount(t, "truncated", dec("75"), req.Amount)
	requireAmount(t, "partial hint", fixedpoint.ComputeNominalCR(dec("1.97575"), dec("105")), req.PartialRedemptionHintNICR)

	res, err := f.engine.RedeemCollateral(req)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.Outcome != RedemptionCompleted || len(res.Steps) != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.Steps[0].Closed || !res.Steps[1].Closed || res.Steps[2].Closed {
		t.Fatalf("expected bob and carol closed, got %+v", res.Steps)
	}
	requireAmount(t, "drawn", dec("0.36375"), res.CollDrawn)
	base := new(big.Int).Quo(fixedpoint.MulDivDown(dec("75"), fixedpoint.Decimal, dec("200")), big.NewInt(2))
	requireAmount(t, "fee", redemptionFee(base, dec("0.36375")), res.Fee)

	for _, tc := range []struct {
		owner crypto.Address
		want  string
	}{{bob, "0.1045"}, {carol, "0.156"}} {
		owner, want := tc.owner, tc.want
		if got := f.vessel(t, owner).Status; got != StatusClosedByRedemption {
			t.Fatalf("%s status: %s", owner, got)
		}
		surplus, err := f.engine.SurplusOf(testAsset, owner)
		if err != nil {
			t.Fatalf("surplus: %v", err)
		}
		requireAmount(t, "surplus", dec(want), surplus)
	}
	v := f.vessel(t, erin)
	requireAmount(t, "erin debt", dec("105"), v.Debt)
	requireAmount(t, "erin coll", dec("1.97575"), v.Coll)

	state := f.assetState(t)
	requireAmount(t, "active coll", dec("1.97575"), state.ActiveColl)
	requireAmount(t, "active debt", dec("105"), state.ActiveDebt)
	requireAmount(t, "surplus pool", dec("0.2605"), state.SurplusColl)
	requireAmount(t, "gas pool", dec("10"), f.debtBalance(t, f.engine.GasPoolAccount()))
	owners, err := f.engine.VesselOwners(testAsset)
	if err != nil {
		t.Fatalf("owners: %v", err)
	}
	if len(owners) != 1 || !owners[0].Equal(erin) {
		t.Fatalf("unexpected owners %v", owners)
	}

	claimed, err := f.engine.ClaimCollateral(testAsset, bob)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	requireAmount(t, "claimed", dec("0.1045"), claimed)
}

func TestRedeemStopsAtStaleHint(t *testing.T) {
	f := newFixture(t)
	f.openLadder(t)
	f.fundDebt(t, dave, "75")

	req := f.redeemRequest(t, dave, "75")
	req.PartialRedemptionHintNICR = dec("1")
	res, err := f.engine.RedeemCollateral(req)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.Outcome != RedemptionStoppedStaleHint {
		t.Fatalf("outcome: %s", res.Outcome)
	}
	requireAmount(t, "redeemed before cancel", dec("70"), res.DebtRedeemed)
	requireAmount(t, "partial left alone", dec("110"), f.vessel(t, erin).Debt)
	requireAmount(t, "unredeemed tokens stay", dec("5"), f.debtBalance(t, dave))
}

func TestRedeemMaxIterations(t *testing.T) {
	f := newFixture(t)
	f.openLadder(t)
	f.fundDebt(t, dave, "75")

	req := f.redeemRequest(t, dave, "75")
	req.MaxIterations = 1
	res, err := f.engine.RedeemCollateral(req)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.Outcome != RedemptionMaxIterations || len(res.Steps) != 1 || !res.Steps[0].Owner.Equal(bob) {
		t.Fatalf("unexpected result %+v", res)
	}
	requireAmount(t, "redeemed", dec("30"), res.DebtRedeemed)
}

func TestRedeemNothingDrawn(t *testing.T) {
	f := newFixture(t)
	f.open(t, alice, "1", "100")

	hints, err := f.engine.GetRedemptionHints(testAsset, dec("90"), nil, 0)
	if err != nil {
		t.Fatalf("hints: %v", err)
	}
	requireAmount(t, "truncated to keep min net debt", dec("80"), hints.TruncatedAmount)

	below := RedemptionRequest{
		Asset:                     testAsset,
		Redeemer:                  alice,
		Amount:                    dec("90"),
		PartialRedemptionHintNICR: fixedpoint.ComputeNominalCR(dec("0.5635"), dec("20")),
		MaxFeePercentage:          dec("1"),
	}
	if _, err := f.engine.RedeemCollateral(below); !errors.Is(err, ErrUnableToRedeem) {
		t.Fatalf("expected ErrUnableToRedeem, got %v", err)
	}

	stale := below
	stale.Amount = dec("50")
	if _, err := f.engine.RedeemCollateral(stale); !errors.Is(err, ErrStaleHint) {
		t.Fatalf("expected ErrStaleHint, got %v", err)
	}
	stale.PartialRedemptionHintNICR = nil
	if _, err := f.engine.RedeemCollateral(stale); !errors.Is(err, ErrStaleHint) {
		t.Fatalf("expected ErrStaleHint for a missing hint, got %v", err)
	}
	requireAmount(t, "vessel untouched", dec("110"), f.vessel(t, alice).Debt)
	requireAmount(t, "balance untouched", dec("100"), f.debtBalance(t, alice))
}

func TestRedemptionPreconditions(t *testing.T) {
	f := newFixture(t)
	f.open(t, alice, "1", "100")
	base := RedemptionRequest{Asset: testAsset, Redeemer: alice, Amount: dec("50"), MaxFeePercentage: dec("1")}

	with := func(mutate func(*RedemptionRequest)) RedemptionRequest {
		req := base
		mutate(&req)
		return req
	}
	cases := []struct {
		name string
		req  RedemptionRequest
		want error
	}{
		{name: "zero amount", req: with(func(r *RedemptionRequest) { r.Amount = new(big.Int) }), want: ErrZeroAmount},
		{name: "fee below floor", req: with(func(r *RedemptionRequest) { r.MaxFeePercentage = dec("0.001") }), want: ErrFeeBoundsInvalid},
		{name: "fee above one", req: with(func(r *RedemptionRequest) { r.MaxFeePercentage = dec("1.01") }), want: ErrFeeBoundsInvalid},
		{name: "missing fee", req: with(func(r *RedemptionRequest) { r.MaxFeePercentage = nil }), want: ErrFeeBoundsInvalid},
		{name: "no balance", req: with(func(r *RedemptionRequest) { r.Redeemer = erin }), want: ErrInsufficientBalance},
	}
	for _, tc := range cases {
		if _, err := f.engine.RedeemCollateral(tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	f.setPrice(t, "100")
	if _, err := f.engine.RedeemCollateral(base); !errors.Is(err, ErrTCRBelowMCR) {
		t.Fatalf("expected ErrTCRBelowMCR, got %v", err)
	}
	f.setPrice(t, "200")

	if err := f.params.SetRedemptionBlockTimestamp(testAsset, unixSeconds(f.now)+3_600); err != nil {
		t.Fatalf("block redemptions: %v", err)
	}
	if _, err := f.engine.RedeemCollateral(base); !errors.Is(err, ErrRedemptionNotYetAllowed) {
		t.Fatalf("expected ErrRedemptionNotYetAllowed, got %v", err)
	}
	if err := f.params.SetRedemptionBlockTimestamp(testAsset, 0); err != nil {
		t.Fatalf("unblock redemptions: %v", err)
	}

	if err := f.params.SetWhitelistEnforced(collateral.RoleRedeemer, true); err != nil {
		t.Fatalf("enforce whitelist: %v", err)
	}
	if _, err := f.engine.RedeemCollateral(base); !errors.Is(err, ErrRedeemerNotWhitelisted) {
		t.Fatalf("expected ErrRedeemerNotWhitelisted, got %v", err)
	}
}

func TestRedemptionFeeAboveMaximumLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	f.open(t, alice, "1", "100")
	req := f.redeemRequest(t, alice, "50")
	req.MaxFeePercentage = dec("0.01")

	if _, err := f.engine.RedeemCollateral(req); !errors.Is(err, ErrFeeExceedsMaximum) {
		t.Fatalf("expected ErrFeeExceedsMaximum, got %v", err)
	}
	requireAmount(t, "vessel debt", dec("110"), f.vessel(t, alice).Debt)
	requireAmount(t, "redeemer balance", dec("100"), f.debtBalance(t, alice))
	base, err := f.engine.BaseRate(testAsset)
	if err != nil {
		t.Fatalf("base rate: %v", err)
	}
	requireAmount(t, "base rate", new(big.Int), base)
}

func TestRedemptionWithoutBaseFee(t *testing.T) {
	f := newFixture(t)
	f.open(t, alice, "1", "100")
	if err := f.params.SetRedemptionBaseFeeEnabled(testAsset, false); err != nil {
		t.Fatalf("disable base fee: %v", err)
	}
	req := f.redeemRequest(t, alice, "50")
	req.MaxFeePercentage = dec("0.005")

	res, err := f.engine.RedeemCollateral(req)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	requireAmount(t, "floor fee", redemptionFee(new(big.Int), dec("0.2425")), res.Fee)
	base, err := f.engine.BaseRate(testAsset)
	if err != nil {
		t.Fatalf("base rate: %v", err)
	}
	requireAmount(t, "base rate untouched", new(big.Int), base)
}

func TestRedeemLastVesselFullyResetsRewardTerms(t *testing.T) {
	f := newFixture(t)
	f.open(t, carol, "20", "1000")
	f.open(t, alice, "1", "100")
	f.setPrice(t, "120")
	if _, err := f.engine.LiquidateVessels(testAsset, 0, liquidator); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if f.assetState(t).LDebt.Sign() == 0 {
		t.Fatalf("expected redistributed debt before redemption")
	}
	f.setPrice(t, "200")
	f.fundDebt(t, dave, "1110")

	res, err := f.engine.RedeemCollateral(RedemptionRequest{
		Asset:            testAsset,
		Redeemer:         dave,
		Amount:           dec("1110"),
		FirstHint:        carol,
		MaxFeePercentage: dec("1"),
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.Outcome != RedemptionCompleted || len(res.Steps) != 1 || !res.Steps[0].Closed {
		t.Fatalf("unexpected result %+v", res)
	}
	requireAmount(t, "redeemed", dec("1110"), res.DebtRedeemed)
	requireAmount(t, "drawn", dec("5.3835"), res.CollDrawn)
	base := new(big.Int).Quo(fixedpoint.MulDivDown(dec("1110"), fixedpoint.Decimal, dec("1120")), big.NewInt(2))
	requireAmount(t, "fee", redemptionFee(base, dec("5.3835")), res.Fee)

	if got := f.vessel(t, carol).Status; got != StatusClosedByRedemption {
		t.Fatalf("carol status: %s", got)
	}
	surplus, err := f.engine.SurplusOf(testAsset, carol)
	if err != nil {
		t.Fatalf("surplus: %v", err)
	}
	requireAmount(t, "surplus", dec("15.6115"), surplus)
	requireAmount(t, "gas pool burned", new(big.Int), f.debtBalance(t, f.engine.GasPoolAccount()))
	requireAmount(t, "redeemer debt burned", new(big.Int), f.debtBalance(t, dave))

	state := f.assetState(t)
	for _, tc := range []struct {
		name string
		got  *big.Int
	}{
		{"L coll", state.LColl},
		{"L debt", state.LDebt},
		{"total stakes", state.TotalStakes},
		{"active debt", state.ActiveDebt},
		{"default debt", state.DefaultDebt},
	} {
		requireAmount(t, tc.name, new(big.Int), tc.got)
	}
	size, err := f.index.Size(testAsset)
	if err != nil || size != 0 {
		t.Fatalf("index size: %d %v", size, err)
	}
	owners, err := f.engine.VesselOwners(testAsset)
	if err != nil || len(owners) != 0 {
		t.Fatalf("owners: %v %v", owners, err)
	}
}
