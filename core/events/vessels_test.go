package events

import (
	"math/big"
	"testing"
)

func TestVesselUpdatedEvent(t *testing.T) {
	evt := VesselUpdated{
		Asset:     " weth ",
		Owner:     "vsl1owner",
		Debt:      big.NewInt(110),
		Coll:      big.NewInt(1),
		Status:    "active",
		Operation: "open",
	}.Event()
	if evt.Type != TypeVesselUpdated {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["asset"] != "WETH" {
		t.Fatalf("asset not normalised: %q", evt.Attributes["asset"])
	}
	if evt.Attributes["debt"] != "110" || evt.Attributes["coll"] != "1" {
		t.Fatalf("unexpected amounts: %+v", evt.Attributes)
	}
	if evt.Attributes["stake"] != "0" {
		t.Fatalf("nil stake should render as 0, got %q", evt.Attributes["stake"])
	}
	if evt.Attributes["operation"] != "open" {
		t.Fatalf("unexpected operation: %q", evt.Attributes["operation"])
	}
}

func TestLiquidationEvents(t *testing.T) {
	single := VesselLiquidated{Asset: "weth", Owner: "vsl1owner", Debt: big.NewInt(5), Disposal: "capped_offset", Recovery: true}.Event()
	if single.Attributes["recoveryMode"] != "true" || single.Attributes["disposal"] != "capped_offset" {
		t.Fatalf("unexpected attrs: %+v", single.Attributes)
	}

	summary := Liquidation{Asset: "weth", OperationID: "op-1", Count: 3, DebtOffset: big.NewInt(7)}.Event()
	if summary.Type != TypeLiquidation {
		t.Fatalf("unexpected type: %s", summary.Type)
	}
	if summary.Attributes["count"] != "3" || summary.Attributes["operationId"] != "op-1" {
		t.Fatalf("unexpected attrs: %+v", summary.Attributes)
	}
	if _, ok := summary.Attributes["liquidator"]; ok {
		t.Fatalf("empty liquidator should be omitted")
	}
}

func TestRedemptionEvent(t *testing.T) {
	evt := Redemption{
		Asset:     "weth",
		Redeemer:  "vsl1redeemer",
		Attempted: big.NewInt(75),
		Actual:    big.NewInt(70),
		Outcome:   "stale_hint",
	}.Event()
	if evt.Attributes["attempted"] != "75" || evt.Attributes["actual"] != "70" {
		t.Fatalf("unexpected amounts: %+v", evt.Attributes)
	}
	if evt.Attributes["fee"] != "0" || evt.Attributes["outcome"] != "stale_hint" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
}

func TestFeeEvents(t *testing.T) {
	origination := BorrowingFeePaid{Asset: "weth", Fee: big.NewInt(5)}.Event()
	if _, ok := origination.Attributes["epoch"]; ok {
		t.Fatalf("origination fee should not carry an epoch")
	}
	recurring := BorrowingFeePaid{Asset: "weth", Fee: big.NewInt(5), Epoch: 1_699_488_000}.Event()
	if recurring.Attributes["epoch"] != "1699488000" {
		t.Fatalf("unexpected epoch: %q", recurring.Attributes["epoch"])
	}
	surplus := CollateralSurplus{Asset: "weth", Amount: big.NewInt(9), Claimed: true}.Event()
	if surplus.Attributes["claimed"] != "true" || surplus.Attributes["amount"] != "9" {
		t.Fatalf("unexpected attrs: %+v", surplus.Attributes)
	}
}

func TestStabilityDepositEventSortsGains(t *testing.T) {
	evt := StabilityDepositUpdated{
		Depositor: "vsl1depositor",
		Deposit:   big.NewInt(390),
		Gains:     map[string]*big.Int{"wbtc": big.NewInt(2), "weth": big.NewInt(1)},
	}.Event()
	if evt.Attributes["gain.WETH"] != "1" || evt.Attributes["gain.WBTC"] != "2" {
		t.Fatalf("unexpected gains: %+v", evt.Attributes)
	}
	offset := StabilityOffset{Asset: "weth", DebtOffset: big.NewInt(110), Epoch: 1, Scale: 2}.Event()
	if offset.Attributes["epoch"] != "1" || offset.Attributes["scale"] != "2" {
		t.Fatalf("unexpected attrs: %+v", offset.Attributes)
	}
}
