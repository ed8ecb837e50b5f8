package vessels

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"vesselchain/core/events"
	"vesselchain/crypto"
	"vesselchain/native/collateral"
	nativecommon "vesselchain/native/common"
	"vesselchain/native/fixedpoint"
	"vesselchain/observability"
)

const moduleName = "vessels"

const (
	// DefaultSofteningBps discounts redeemed collateral to 97% of face value.
	DefaultSofteningBps uint64 = 9_700
	MinSofteningBps     uint64 = 9_700
	MaxSofteningBps     uint64 = 10_000
)

var basisPoints = big.NewInt(10_000)

// Engine is the accounting core of the vessel protocol. It owns every
// vessel's state together with the per-asset reward and fee accumulators and
// drives borrower operations, liquidations and redemptions against the wired
// collaborators. Mutations are serialised behind a single lock and staged in
// a session so that a failed call leaves no partial state behind.
type Engine struct {
	mu sync.Mutex

	store      kvStore
	params     ParameterStore
	oracle     PriceOracle
	debt       DebtToken
	collateral CollateralToken
	index      OrderedIndex
	stability  StabilityPool
	pauses     nativecommon.PauseView
	emitter    events.Emitter
	logger     *slog.Logger
	metrics    *observability.VesselMetrics
	nowFn      func() time.Time

	poolAccount    crypto.Address
	gasPoolAccount crypto.Address
	feeRecipient   crypto.Address
	softeningBps   uint64
}

// NewEngine constructs an engine persisting to store. Module accounts default
// to addresses derived from their names and can be overridden.
func NewEngine(store Storage) *Engine {
	return &Engine{
		store:          kvStore{kv: store},
		emitter:        events.NoopEmitter{},
		logger:         slog.Default(),
		metrics:        observability.Vessels(),
		nowFn:          time.Now,
		poolAccount:    crypto.ModuleAddress("vessels/active-pool"),
		gasPoolAccount: crypto.ModuleAddress("vessels/gas-pool"),
		feeRecipient:   crypto.ModuleAddress("vessels/fee-collector"),
		softeningBps:   DefaultSofteningBps,
	}
}

// SetParameterStore wires the per-asset risk parameters.
func (e *Engine) SetParameterStore(params ParameterStore) {
	if e == nil {
		return
	}
	e.params = params
}

// SetPriceOracle wires the price source.
func (e *Engine) SetPriceOracle(oracle PriceOracle) {
	if e == nil {
		return
	}
	e.oracle = oracle
}

// SetDebtToken wires the stablecoin.
func (e *Engine) SetDebtToken(token DebtToken) {
	if e == nil {
		return
	}
	e.debt = token
}

// SetCollateralToken wires the collateral ledger.
func (e *Engine) SetCollateralToken(token CollateralToken) {
	if e == nil {
		return
	}
	e.collateral = token
}

// SetIndex wires the ordered vessel index. Indexes that validate positions
// against live nominal ICRs are pointed back at the engine's state.
func (e *Engine) SetIndex(index OrderedIndex) {
	if e == nil {
		return
	}
	e.index = index
	if setter, ok := index.(nicrSourceSetter); ok {
		setter.SetNICRSource(nicrReader{store: e.store})
	}
}

// SetStabilityPool wires the pool used to offset liquidated debt.
func (e *Engine) SetStabilityPool(pool StabilityPool) {
	if e == nil {
		return
	}
	e.stability = pool
}

// SetPauses wires the pause view consulted before every mutating call.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter wires the event sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetLogger overrides the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

// SetClock overrides the time source used for fee decay, fee epochs and the
// redemption soft launch.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil {
		return
	}
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
}

// SetAccounts overrides the module accounts. Zero addresses keep the current
// value.
func (e *Engine) SetAccounts(pool, gasPool, feeRecipient crypto.Address) {
	if e == nil {
		return
	}
	if !pool.IsZero() {
		e.poolAccount = pool
	}
	if !gasPool.IsZero() {
		e.gasPoolAccount = gasPool
	}
	if !feeRecipient.IsZero() {
		e.feeRecipient = feeRecipient
	}
}

// PoolAccount returns the account holding active, default and surplus
// collateral.
func (e *Engine) PoolAccount() crypto.Address { return e.poolAccount }

// GasPoolAccount returns the account holding the debt gas compensation
// reserve.
func (e *Engine) GasPoolAccount() crypto.Address { return e.gasPoolAccount }

// FeeRecipient returns the account credited with borrowing and redemption
// fees.
func (e *Engine) FeeRecipient() crypto.Address { return e.feeRecipient }

// SetRedemptionSoftening configures the collateral discount applied to
// redemptions, in basis points of face value.
func (e *Engine) SetRedemptionSoftening(bps uint64) error {
	if e == nil {
		return ErrNotConfigured
	}
	if bps < MinSofteningBps || bps > MaxSofteningBps {
		return fmt.Errorf("%w: %d", ErrInvalidSoftening, bps)
	}
	e.mu.Lock()
	e.softeningBps = bps
	e.mu.Unlock()
	return nil
}

// RedemptionSoftening returns the configured softening in basis points.
func (e *Engine) RedemptionSoftening() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.softeningBps
}

func (e *Engine) ready() error {
	if e == nil || e.store.kv == nil || e.params == nil || e.oracle == nil || e.debt == nil ||
		e.collateral == nil || e.index == nil {
		return ErrNotConfigured
	}
	return nil
}

func (e *Engine) guard() error {
	if err := e.ready(); err != nil {
		return err
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) now() time.Time {
	return e.nowFn()
}

func (e *Engine) loadParams(asset string) (collateral.Params, error) {
	params, err := e.params.Params(asset)
	if err != nil {
		return collateral.Params{}, fmt.Errorf("vessels: params %s: %w", asset, err)
	}
	return params, nil
}

func (e *Engine) price(asset string) (*big.Int, error) {
	price, err := e.oracle.GetPrice(asset)
	if err != nil {
		return nil, fmt.Errorf("vessels: price %s: %w", asset, err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("vessels: price %s: non-positive", asset)
	}
	return price, nil
}

func (e *Engine) stabilityDeposits() (*big.Int, error) {
	if e.stability == nil {
		return new(big.Int), nil
	}
	return e.stability.TotalDeposits()
}

func (e *Engine) record(asset, operation string, err error) {
	e.metrics.RecordOperation(asset, operation, err)
	if err != nil {
		e.logger.Debug("vessel operation rejected",
			slog.String("asset", asset),
			slog.String("operation", operation),
			slog.String("error", err.Error()))
	}
}

func checkAsset(asset string) (string, error) {
	normalized := normalizeAsset(asset)
	if normalized == "" {
		return "", ErrInvalidAsset
	}
	return normalized, nil
}

// nicrReader serves live nominal ICRs straight from storage. It is handed to
// the index and runs while the engine lock is held, so it never locks.
type nicrReader struct {
	store kvStore
}

func (r nicrReader) NominalICR(asset string, owner crypto.Address) (*big.Int, error) {
	asset = normalizeAsset(asset)
	v, err := r.store.vessel(asset, owner)
	if err != nil {
		return nil, err
	}
	if !v.Active() {
		return new(big.Int), nil
	}
	state, err := r.store.assetState(asset)
	if err != nil {
		return nil, err
	}
	coll, debt := entireCollDebt(v, state)
	return fixedpoint.ComputeNominalCR(coll, debt), nil
}
