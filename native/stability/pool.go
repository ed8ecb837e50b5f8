package stability

import (
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"vesselchain/core/events"
	"vesselchain/crypto"
	nativecommon "vesselchain/native/common"
	"vesselchain/native/fixedpoint"
	"vesselchain/observability"
)

const moduleName = "stability"

var (
	globalKey     = []byte("stability/global")
	assetPrefix   = []byte("stability/asset/")
	assetListKey  = []byte("stability/assets")
	sumPrefix     = []byte("stability/sum/")
	depositPrefix = []byte("stability/deposit/")
)

func assetKey(asset string) []byte {
	buf := make([]byte, 0, len(assetPrefix)+len(asset))
	buf = append(buf, assetPrefix...)
	return append(buf, asset...)
}

func sumKey(asset string, epoch, scale uint64) []byte {
	buf := make([]byte, 0, len(sumPrefix)+len(asset)+42)
	buf = append(buf, sumPrefix...)
	buf = append(buf, asset...)
	buf = append(buf, '/')
	buf = strconv.AppendUint(buf, epoch, 10)
	buf = append(buf, '/')
	return strconv.AppendUint(buf, scale, 10)
}

func depositKey(addr crypto.Address) []byte {
	raw := addr.Bytes()
	buf := make([]byte, 0, len(depositPrefix)+len(raw))
	buf = append(buf, depositPrefix...)
	return append(buf, raw...)
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// Pool absorbs liquidated debt against stablecoin deposits and distributes
// the matching collateral to depositors. Deposits compound through a running
// product P and collateral gains accumulate in per-asset sums S indexed by
// epoch and scale, so no depositor is iterated during an offset.
type Pool struct {
	mu         sync.Mutex
	store      Storage
	debt       DebtToken
	collateral CollateralToken
	account    crypto.Address
	emitter    events.Emitter
	logger     *slog.Logger
	pauses     nativecommon.PauseView
}

// NewPool constructs a pool holding deposits and gains in account.
func NewPool(store Storage, debt DebtToken, collateral CollateralToken, account crypto.Address) *Pool {
	return &Pool{
		store:      store,
		debt:       debt,
		collateral: collateral,
		account:    account,
		emitter:    events.NoopEmitter{},
		logger:     slog.Default(),
	}
}

// SetEmitter wires the event sink.
func (p *Pool) SetEmitter(emitter events.Emitter) {
	if p == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	p.emitter = emitter
}

// SetLogger overrides the logger used for offset summaries.
func (p *Pool) SetLogger(logger *slog.Logger) {
	if p == nil || logger == nil {
		return
	}
	p.logger = logger
}

// SetPauses wires the pause view consulted by deposits and withdrawals.
// Offsets are never paused so liquidations keep working.
func (p *Pool) SetPauses(pauses nativecommon.PauseView) {
	if p == nil {
		return
	}
	p.pauses = pauses
}

// Account returns the module account holding deposits and collateral gains.
func (p *Pool) Account() crypto.Address {
	return p.account
}

func (p *Pool) ready() error {
	if p == nil || p.store == nil || p.debt == nil || p.collateral == nil {
		return ErrNotConfigured
	}
	return nil
}

func (p *Pool) loadGlobal() (*storedGlobal, error) {
	g := &storedGlobal{}
	if _, err := p.store.KVGet(globalKey, g); err != nil {
		return nil, err
	}
	g.ensure()
	return g, nil
}

func (p *Pool) loadAsset(asset string) (*storedAsset, error) {
	a := &storedAsset{}
	if _, err := p.store.KVGet(assetKey(asset), a); err != nil {
		return nil, err
	}
	a.ensure()
	return a, nil
}

func (p *Pool) loadSum(asset string, epoch, scale uint64) (*big.Int, error) {
	value := new(big.Int)
	if _, err := p.store.KVGet(sumKey(asset, epoch, scale), value); err != nil {
		return nil, err
	}
	return value, nil
}

func (p *Pool) loadDeposit(addr crypto.Address) (*storedDeposit, bool, error) {
	d := &storedDeposit{}
	ok, err := p.store.KVGet(depositKey(addr), d)
	if err != nil {
		return nil, false, err
	}
	if d.Initial == nil {
		d.Initial = new(big.Int)
	}
	if d.P == nil {
		d.P = new(big.Int)
	}
	return d, ok && d.Initial.Sign() > 0, nil
}

func (p *Pool) assets() ([]string, error) {
	var raw [][]byte
	if err := p.store.KVGetList(assetListKey, &raw); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		out = append(out, string(entry))
	}
	return out, nil
}

// TotalDeposits returns the debt tokens currently available for offsets.
func (p *Pool) TotalDeposits() (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	g, err := p.loadGlobal()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(g.TotalDeposits), nil
}

// Totals returns a copy of the pool aggregates.
func (p *Pool) Totals() (Totals, error) {
	if err := p.ready(); err != nil {
		return Totals{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	g, err := p.loadGlobal()
	if err != nil {
		return Totals{}, err
	}
	return Totals{
		Deposits:          new(big.Int).Set(g.TotalDeposits),
		P:                 new(big.Int).Set(g.P),
		CurrentScale:      g.CurrentScale,
		CurrentEpoch:      g.CurrentEpoch,
		LastDebtLossError: new(big.Int).Set(g.LastDebtLossError),
	}, nil
}

// CollateralBalance returns the collateral of asset held for depositors.
func (p *Pool) CollateralBalance(asset string) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.loadAsset(normalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(a.Collateral), nil
}

// Deposit returns the stored deposit of addr.
func (p *Pool) Deposit(addr crypto.Address) (Deposit, error) {
	if err := p.ready(); err != nil {
		return Deposit{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	d, _, err := p.loadDeposit(addr)
	if err != nil {
		return Deposit{}, err
	}
	return Deposit{Depositor: addr, Initial: new(big.Int).Set(d.Initial), Snapshot: d.snapshot()}, nil
}

// CompoundedDeposit returns the deposit of addr after all offsets so far.
func (p *Pool) CompoundedDeposit(addr crypto.Address) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	g, err := p.loadGlobal()
	if err != nil {
		return nil, err
	}
	d, ok, err := p.loadDeposit(addr)
	if err != nil || !ok {
		return new(big.Int), err
	}
	return compoundedDeposit(d, g), nil
}

// DepositorGain returns the collateral of asset claimable by addr.
func (p *Pool) DepositorGain(addr crypto.Address, asset string) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok, err := p.loadDeposit(addr)
	if err != nil || !ok {
		return new(big.Int), err
	}
	return p.depositorGain(d, normalizeAsset(asset))
}

func compoundedDeposit(d *storedDeposit, g *storedGlobal) *big.Int {
	if d.Initial.Sign() == 0 || d.P.Sign() == 0 {
		return new(big.Int)
	}
	if d.Epoch < g.CurrentEpoch {
		return new(big.Int)
	}
	var compounded *big.Int
	switch g.CurrentScale - d.Scale {
	case 0:
		compounded = fixedpoint.MulDivDown(d.Initial, g.P, d.P)
	case 1:
		compounded = fixedpoint.MulDivDown(d.Initial, g.P, d.P)
		compounded.Quo(compounded, ScaleFactor)
	default:
		return new(big.Int)
	}
	// Deposits reduced below a billionth of their size count as emptied.
	if compounded.Cmp(new(big.Int).Quo(d.Initial, ScaleFactor)) < 0 {
		return new(big.Int)
	}
	return compounded
}

func (p *Pool) depositorGain(d *storedDeposit, asset string) (*big.Int, error) {
	if d.Initial.Sign() == 0 || d.P.Sign() == 0 {
		return new(big.Int), nil
	}
	current, err := p.loadSum(asset, d.Epoch, d.Scale)
	if err != nil {
		return nil, err
	}
	next, err := p.loadSum(asset, d.Epoch, d.Scale+1)
	if err != nil {
		return nil, err
	}
	first := new(big.Int).Sub(current, d.sumFor(asset))
	second := new(big.Int).Quo(next, ScaleFactor)
	total := first.Add(first, second)
	gain := fixedpoint.MulDivDown(d.Initial, total, d.P)
	return gain.Quo(gain, fixedpoint.Decimal), nil
}

// payGains transfers every asset gain of the depositor and returns the
// amounts paid per asset.
func (p *Pool) payGains(addr crypto.Address, d *storedDeposit) (map[string]*big.Int, error) {
	assets, err := p.assets()
	if err != nil {
		return nil, err
	}
	paid := make(map[string]*big.Int)
	for _, asset := range assets {
		gain, err := p.depositorGain(d, asset)
		if err != nil {
			return nil, err
		}
		if gain.Sign() == 0 {
			continue
		}
		a, err := p.loadAsset(asset)
		if err != nil {
			return nil, err
		}
		if gain.Cmp(a.Collateral) > 0 {
			return nil, fmt.Errorf("%w: %s", errGainExceedsPool, asset)
		}
		if err := p.collateral.Transfer(asset, p.account, addr, gain); err != nil {
			return nil, fmt.Errorf("stability: pay %s gain: %w", asset, err)
		}
		a.Collateral.Sub(a.Collateral, gain)
		if err := p.store.KVPut(assetKey(asset), a); err != nil {
			return nil, err
		}
		paid[asset] = gain
	}
	return paid, nil
}

func (p *Pool) writeDeposit(addr crypto.Address, amount *big.Int, g *storedGlobal) error {
	d := &storedDeposit{Initial: new(big.Int).Set(amount)}
	if amount.Sign() > 0 {
		d.P = new(big.Int).Set(g.P)
		d.Scale = g.CurrentScale
		d.Epoch = g.CurrentEpoch
		assets, err := p.assets()
		if err != nil {
			return err
		}
		for _, asset := range assets {
			s, err := p.loadSum(asset, g.CurrentEpoch, g.CurrentScale)
			if err != nil {
				return err
			}
			d.Sums = append(d.Sums, storedSum{Asset: asset, S: s})
		}
	} else {
		d.P = new(big.Int)
	}
	return p.store.KVPut(depositKey(addr), d)
}

// Provide adds amount debt tokens to the depositor's compounded deposit and
// pays out any collateral gains accrued so far.
func (p *Pool) Provide(depositor crypto.Address, amount *big.Int) (map[string]*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	g, err := p.loadGlobal()
	if err != nil {
		return nil, err
	}
	d, _, err := p.loadDeposit(depositor)
	if err != nil {
		return nil, err
	}
	compounded := compoundedDeposit(d, g)
	if err := p.debt.Transfer(depositor, p.account, amount); err != nil {
		return nil, fmt.Errorf("stability: provide: %w", err)
	}
	paid, err := p.payGains(depositor, d)
	if err != nil {
		return nil, err
	}
	newDeposit := new(big.Int).Add(compounded, amount)
	g.TotalDeposits.Add(g.TotalDeposits, amount)
	if err := p.store.KVPut(globalKey, g); err != nil {
		return nil, err
	}
	if err := p.writeDeposit(depositor, newDeposit, g); err != nil {
		return nil, err
	}
	p.emitter.Emit(events.StabilityDepositUpdated{Depositor: depositor.String(), Deposit: newDeposit, Gains: paid})
	observability.Stability().SetDeposits(g.TotalDeposits)
	return paid, nil
}

// Withdraw returns up to amount of the depositor's compounded deposit and
// pays out collateral gains. A zero amount only claims gains.
func (p *Pool) Withdraw(depositor crypto.Address, amount *big.Int) (*big.Int, map[string]*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, nil, err
	}
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, nil, ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	g, err := p.loadGlobal()
	if err != nil {
		return nil, nil, err
	}
	d, ok, err := p.loadDeposit(depositor)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrNoDeposit
	}
	compounded := compoundedDeposit(d, g)
	withdrawn := fixedpoint.Min(amount, compounded)
	paid, err := p.payGains(depositor, d)
	if err != nil {
		return nil, nil, err
	}
	if withdrawn.Sign() > 0 {
		if err := p.debt.Transfer(p.account, depositor, withdrawn); err != nil {
			return nil, nil, fmt.Errorf("stability: withdraw: %w", err)
		}
		g.TotalDeposits = fixedpoint.SubFloor(g.TotalDeposits, withdrawn)
		if err := p.store.KVPut(globalKey, g); err != nil {
			return nil, nil, err
		}
	}
	remaining := new(big.Int).Sub(compounded, withdrawn)
	if err := p.writeDeposit(depositor, remaining, g); err != nil {
		return nil, nil, err
	}
	p.emitter.Emit(events.StabilityDepositUpdated{Depositor: depositor.String(), Deposit: remaining, Gains: paid})
	observability.Stability().SetDeposits(g.TotalDeposits)
	return withdrawn, paid, nil
}

// Offset cancels up to debt against the pool's deposits and credits the
// depositors with coll of asset, scaled down when the pool cannot absorb the
// full debt. The collateral must already sit in the pool account.
func (p *Pool) Offset(debt *big.Int, asset string, coll *big.Int) (OffsetResult, error) {
	result := OffsetResult{DebtOffset: new(big.Int), CollAccepted: new(big.Int)}
	if err := p.ready(); err != nil {
		return result, err
	}
	asset = normalizeAsset(asset)
	if asset == "" {
		return result, ErrInvalidAsset
	}
	if debt == nil || debt.Sign() == 0 {
		return result, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	g, err := p.loadGlobal()
	if err != nil {
		return result, err
	}
	if g.TotalDeposits.Sign() == 0 {
		return result, nil
	}
	offset := fixedpoint.Min(debt, g.TotalDeposits)
	accepted := fixedpoint.Copy(coll)
	if offset.Cmp(debt) < 0 {
		accepted = fixedpoint.MulDivDown(coll, offset, debt)
	}
	if err := p.store.KVAppend(assetListKey, []byte(asset)); err != nil {
		return result, err
	}
	a, err := p.loadAsset(asset)
	if err != nil {
		return result, err
	}

	collGainPerUnit, debtLossPerUnit := computeRewardsPerUnitStaked(accepted, offset, g, a)
	epochAdvanced, scaleAdvanced, err := p.updateRewardSumAndProduct(asset, collGainPerUnit, debtLossPerUnit, g)
	if err != nil {
		return result, err
	}

	if err := p.debt.Burn(p.account, offset); err != nil {
		return result, fmt.Errorf("stability: burn offset: %w", err)
	}
	g.TotalDeposits.Sub(g.TotalDeposits, offset)
	a.Collateral.Add(a.Collateral, accepted)
	if err := p.store.KVPut(assetKey(asset), a); err != nil {
		return result, err
	}
	if err := p.store.KVPut(globalKey, g); err != nil {
		return result, err
	}

	result.DebtOffset = offset
	result.CollAccepted = accepted
	result.EpochAdvanced = epochAdvanced
	result.ScaleAdvanced = scaleAdvanced
	metrics := observability.Stability()
	metrics.RecordOffset(asset, offset)
	metrics.SetDeposits(g.TotalDeposits)
	p.emitter.Emit(events.StabilityOffset{Asset: asset, DebtOffset: offset, CollAdded: accepted, Epoch: g.CurrentEpoch, Scale: g.CurrentScale})
	p.logger.Debug("stability pool offset",
		slog.String("asset", asset),
		slog.String("debt", fixedpoint.Format(offset)),
		slog.String("coll", fixedpoint.Format(accepted)),
		slog.Uint64("epoch", g.CurrentEpoch),
		slog.Uint64("scale", g.CurrentScale))
	return result, nil
}

func computeRewardsPerUnitStaked(coll, debt *big.Int, g *storedGlobal, a *storedAsset) (*big.Int, *big.Int) {
	collNumerator := new(big.Int).Mul(coll, fixedpoint.Decimal)
	collNumerator.Add(collNumerator, a.LastCollError)

	var debtLossPerUnit *big.Int
	if debt.Cmp(g.TotalDeposits) == 0 {
		debtLossPerUnit = new(big.Int).Set(fixedpoint.Decimal)
		g.LastDebtLossError = new(big.Int)
	} else {
		debtLossNumerator := new(big.Int).Mul(debt, fixedpoint.Decimal)
		debtLossNumerator.Sub(debtLossNumerator, g.LastDebtLossError)
		// Loss per unit rounds up; the error term carries the overshoot.
		debtLossPerUnit = new(big.Int).Quo(debtLossNumerator, g.TotalDeposits)
		debtLossPerUnit.Add(debtLossPerUnit, big.NewInt(1))
		g.LastDebtLossError = new(big.Int).Mul(debtLossPerUnit, g.TotalDeposits)
		g.LastDebtLossError.Sub(g.LastDebtLossError, debtLossNumerator)
	}

	collGainPerUnit := new(big.Int).Quo(collNumerator, g.TotalDeposits)
	remainder := new(big.Int).Mul(collGainPerUnit, g.TotalDeposits)
	a.LastCollError = collNumerator.Sub(collNumerator, remainder)
	return collGainPerUnit, debtLossPerUnit
}

func (p *Pool) updateRewardSumAndProduct(asset string, collGainPerUnit, debtLossPerUnit *big.Int, g *storedGlobal) (bool, bool, error) {
	currentP := new(big.Int).Set(g.P)
	newProductFactor := new(big.Int).Sub(fixedpoint.Decimal, debtLossPerUnit)

	currentS, err := p.loadSum(asset, g.CurrentEpoch, g.CurrentScale)
	if err != nil {
		return false, false, err
	}
	marginalGain := new(big.Int).Mul(collGainPerUnit, currentP)
	newS := currentS.Add(currentS, marginalGain)
	if err := p.store.KVPut(sumKey(asset, g.CurrentEpoch, g.CurrentScale), newS); err != nil {
		return false, false, err
	}

	var epochAdvanced, scaleAdvanced bool
	var newP *big.Int
	switch {
	case newProductFactor.Sign() <= 0:
		g.CurrentEpoch++
		g.CurrentScale = 0
		newP = new(big.Int).Set(fixedpoint.Decimal)
		epochAdvanced = true
	default:
		scaled := fixedpoint.MulDivDown(currentP, newProductFactor, fixedpoint.Decimal)
		if scaled.Cmp(ScaleFactor) < 0 {
			newP = new(big.Int).Mul(currentP, newProductFactor)
			newP.Mul(newP, ScaleFactor)
			newP.Quo(newP, fixedpoint.Decimal)
			g.CurrentScale++
			scaleAdvanced = true
		} else {
			newP = scaled
		}
	}
	if newP.Sign() <= 0 {
		return false, false, errProductZeroed
	}
	g.P = newP
	return epochAdvanced, scaleAdvanced, nil
}
