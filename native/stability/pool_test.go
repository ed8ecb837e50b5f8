package stability

import (
	"errors"
	"math/big"
	"testing"

	"vesselchain/core/events"
	"vesselchain/core/state"
	"vesselchain/crypto"
	nativecommon "vesselchain/native/common"
	"vesselchain/native/fixedpoint"
	"vesselchain/native/tokens"
	"vesselchain/storage"
)

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

func makeAddress(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[crypto.AddressLength-1] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func dec(v string) *big.Int { return fixedpoint.MustParseDecimal(v) }

type fixture struct {
	pool    *Pool
	ledger  *tokens.Ledger
	debt    *tokens.DebtToken
	emitter *recordingEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	ledger := tokens.NewLedger(manager)
	debt := tokens.NewDebtToken(ledger, "")
	pool := NewPool(manager, debt, ledger, crypto.ModuleAddress("stability"))
	emitter := &recordingEmitter{}
	pool.SetEmitter(emitter)
	return &fixture{pool: pool, ledger: ledger, debt: debt, emitter: emitter}
}

func (f *fixture) provide(t *testing.T, who crypto.Address, amount *big.Int) {
	t.Helper()
	if err := f.debt.Mint(who, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := f.pool.Provide(who, amount); err != nil {
		t.Fatalf("provide: %v", err)
	}
}

// offset moves coll into the pool account before offsetting, as the
// liquidation path does.
func (f *fixture) offset(t *testing.T, debt *big.Int, coll *big.Int) OffsetResult {
	t.Helper()
	if err := f.ledger.Mint("WETH", f.pool.Account(), coll); err != nil {
		t.Fatalf("mint collateral: %v", err)
	}
	res, err := f.pool.Offset(debt, "weth", coll)
	if err != nil {
		t.Fatalf("offset: %v", err)
	}
	return res
}

func requireClose(t *testing.T, label string, want, got *big.Int, tolerance int64) {
	t.Helper()
	diff := new(big.Int).Sub(want, got)
	if diff.CmpAbs(big.NewInt(tolerance)) > 0 {
		t.Fatalf("%s: want %s got %s", label, want, got)
	}
}

func TestProvideRejectsZero(t *testing.T) {
	f := newFixture(t)
	if _, err := f.pool.Provide(makeAddress(1), big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, _, err := f.pool.Withdraw(makeAddress(1), big.NewInt(1)); !errors.Is(err, ErrNoDeposit) {
		t.Fatalf("expected ErrNoDeposit, got %v", err)
	}
}

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

func TestPausedPoolRejectsDepositsButOffsets(t *testing.T) {
	f := newFixture(t)
	depositor := makeAddress(1)
	f.provide(t, depositor, dec("100"))

	f.pool.SetPauses(pauseSet{moduleName: true})
	if _, err := f.pool.Provide(depositor, dec("1")); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, _, err := f.pool.Withdraw(depositor, dec("1")); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	f.offset(t, dec("10"), dec("0.1"))
	compounded, err := f.pool.CompoundedDeposit(depositor)
	if err != nil {
		t.Fatalf("compounded: %v", err)
	}
	// The loss per unit rounds up by one wei, so P lands on 0.9 - 1e-18.
	want := new(big.Int).Sub(dec("90"), big.NewInt(100))
	if compounded.Cmp(want) != 0 {
		t.Fatalf("compounded after offset: want %s got %s", want, compounded)
	}
}

func TestPartialOffsetSharesLossAndGains(t *testing.T) {
	f := newFixture(t)
	alice, bob := makeAddress(1), makeAddress(2)
	f.provide(t, alice, dec("1000"))
	f.provide(t, bob, dec("3000"))

	res := f.offset(t, dec("1000"), dec("2"))
	if res.DebtOffset.Cmp(dec("1000")) != 0 || res.CollAccepted.Cmp(dec("2")) != 0 {
		t.Fatalf("unexpected offset result: %+v", res)
	}
	if res.EpochAdvanced || res.ScaleAdvanced {
		t.Fatalf("partial offset must not roll epoch or scale")
	}

	total, err := f.pool.TotalDeposits()
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total.Cmp(dec("3000")) != 0 {
		t.Fatalf("unexpected total deposits: %s", total)
	}

	aliceDeposit, _ := f.pool.CompoundedDeposit(alice)
	bobDeposit, _ := f.pool.CompoundedDeposit(bob)
	requireClose(t, "alice deposit", dec("750"), aliceDeposit, 10_000)
	requireClose(t, "bob deposit", dec("2250"), bobDeposit, 10_000)

	aliceGain, _ := f.pool.DepositorGain(alice, "WETH")
	bobGain, _ := f.pool.DepositorGain(bob, "WETH")
	if aliceGain.Cmp(dec("0.5")) != 0 || bobGain.Cmp(dec("1.5")) != 0 {
		t.Fatalf("unexpected gains: alice %s bob %s", aliceGain, bobGain)
	}

	supply, _ := f.debt.TotalSupply()
	if supply.Cmp(dec("3000")) != 0 {
		t.Fatalf("offset debt must be burned, supply %s", supply)
	}
}

func TestWithdrawPaysDepositAndGains(t *testing.T) {
	f := newFixture(t)
	alice, bob := makeAddress(1), makeAddress(2)
	f.provide(t, alice, dec("1000"))
	f.provide(t, bob, dec("3000"))
	f.offset(t, dec("1000"), dec("2"))

	withdrawn, gains, err := f.pool.Withdraw(alice, dec("5000"))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	requireClose(t, "withdrawn", dec("750"), withdrawn, 10_000)
	if gains["WETH"] == nil || gains["WETH"].Cmp(dec("0.5")) != 0 {
		t.Fatalf("unexpected gains: %v", gains)
	}
	balance, _ := f.debt.BalanceOf(alice)
	if balance.Cmp(withdrawn) != 0 {
		t.Fatalf("unexpected debt balance %s", balance)
	}
	collBalance, _ := f.ledger.BalanceOf("WETH", alice)
	if collBalance.Cmp(dec("0.5")) != 0 {
		t.Fatalf("unexpected collateral balance %s", collBalance)
	}
	remaining, _ := f.pool.CollateralBalance("WETH")
	if remaining.Cmp(dec("1.5")) != 0 {
		t.Fatalf("unexpected pool collateral %s", remaining)
	}
	deposit, _ := f.pool.CompoundedDeposit(alice)
	if deposit.Sign() != 0 {
		t.Fatalf("expected emptied deposit, got %s", deposit)
	}

	// Claiming gains twice pays nothing.
	_, gains, err = f.pool.Withdraw(bob, big.NewInt(0))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if gains["WETH"].Cmp(dec("1.5")) != 0 {
		t.Fatalf("unexpected bob gain %v", gains)
	}
	_, gains, err = f.pool.Withdraw(bob, big.NewInt(0))
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(gains) != 0 {
		t.Fatalf("expected no further gains, got %v", gains)
	}
}

func TestFullOffsetAdvancesEpoch(t *testing.T) {
	f := newFixture(t)
	alice := makeAddress(1)
	f.provide(t, alice, dec("1000"))

	res := f.offset(t, dec("1000"), dec("1"))
	if !res.EpochAdvanced {
		t.Fatalf("expected epoch to advance")
	}
	totals, err := f.pool.Totals()
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.CurrentEpoch != 1 || totals.CurrentScale != 0 || totals.P.Cmp(fixedpoint.Decimal) != 0 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	deposit, _ := f.pool.CompoundedDeposit(alice)
	if deposit.Sign() != 0 {
		t.Fatalf("expected zero deposit after epoch roll, got %s", deposit)
	}
	gain, _ := f.pool.DepositorGain(alice, "WETH")
	if gain.Cmp(dec("1")) != 0 {
		t.Fatalf("unexpected gain %s", gain)
	}

	// Deposits made in the new epoch start fresh.
	bob := makeAddress(2)
	f.provide(t, bob, dec("200"))
	f.offset(t, dec("100"), dec("0.2"))
	bobDeposit, _ := f.pool.CompoundedDeposit(bob)
	requireClose(t, "bob deposit", dec("100"), bobDeposit, 10_000)
	bobGain, _ := f.pool.DepositorGain(bob, "WETH")
	if bobGain.Cmp(dec("0.2")) != 0 {
		t.Fatalf("unexpected bob gain %s", bobGain)
	}
}

func TestOffsetLargerThanDepositsIsCapped(t *testing.T) {
	f := newFixture(t)
	f.provide(t, makeAddress(1), dec("4000"))
	if err := f.ledger.Mint("WETH", f.pool.Account(), dec("10")); err != nil {
		t.Fatalf("mint: %v", err)
	}
	res, err := f.pool.Offset(dec("5000"), "WETH", dec("10"))
	if err != nil {
		t.Fatalf("offset: %v", err)
	}
	if res.DebtOffset.Cmp(dec("4000")) != 0 || res.CollAccepted.Cmp(dec("8")) != 0 {
		t.Fatalf("unexpected capped offset: %+v", res)
	}
	if !res.EpochAdvanced {
		t.Fatalf("emptying the pool must advance the epoch")
	}
}

func TestOffsetScaleChange(t *testing.T) {
	f := newFixture(t)
	alice := makeAddress(1)
	f.provide(t, alice, dec("1000"))

	remaining := big.NewInt(100_000_000_000)
	debt := new(big.Int).Sub(dec("1000"), remaining)
	res := f.offset(t, debt, dec("3"))
	if !res.ScaleAdvanced || res.EpochAdvanced {
		t.Fatalf("expected scale change only: %+v", res)
	}
	totals, _ := f.pool.Totals()
	if totals.CurrentScale != 1 {
		t.Fatalf("unexpected scale %d", totals.CurrentScale)
	}
	if totals.Deposits.Cmp(remaining) != 0 {
		t.Fatalf("unexpected deposits %s", totals.Deposits)
	}
	gain, _ := f.pool.DepositorGain(alice, "WETH")
	requireClose(t, "alice gain", dec("3"), gain, 1_000)

	bob := makeAddress(2)
	f.provide(t, bob, dec("100"))
	f.offset(t, dec("50"), dec("0.1"))
	bobDeposit, _ := f.pool.CompoundedDeposit(bob)
	requireClose(t, "bob deposit", dec("50"), bobDeposit, 1_000_000_000_000)
}

func TestPoolEmitsEvents(t *testing.T) {
	f := newFixture(t)
	f.provide(t, makeAddress(1), dec("10"))
	f.offset(t, dec("5"), dec("1"))
	var sawDeposit, sawOffset bool
	for _, evt := range f.emitter.events {
		switch evt.EventType() {
		case events.TypeStabilityDepositUpdated:
			sawDeposit = true
		case events.TypeStabilityOffset:
			sawOffset = true
		}
	}
	if !sawDeposit || !sawOffset {
		t.Fatalf("missing events: deposit=%v offset=%v", sawDeposit, sawOffset)
	}
}
