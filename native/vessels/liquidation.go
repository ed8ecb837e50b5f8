package vessels

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/google/uuid"

	"vesselchain/core/events"
	"vesselchain/crypto"
	"vesselchain/native/collateral"
	"vesselchain/native/fixedpoint"
)

// DisposalKind tags how a liquidated vessel's debt and collateral are
// absorbed.
type DisposalKind uint8

const (
	DisposalSkip DisposalKind = iota
	DisposalOffset
	DisposalRedistribute
	DisposalMixed
	DisposalCappedOffset
)

func (k DisposalKind) String() string {
	switch k {
	case DisposalOffset:
		return "offset"
	case DisposalRedistribute:
		return "redistribute"
	case DisposalMixed:
		return "mixed"
	case DisposalCappedOffset:
		return "capped_offset"
	default:
		return "skip"
	}
}

// DisposalInput describes a single liquidation candidate. Coll and Debt
// include pending rewards.
type DisposalInput struct {
	Coll                *big.Int
	Debt                *big.Int
	Price               *big.Int
	MCR                 *big.Int
	TCR                 *big.Int
	Recovery            bool
	StabilityDeposits   *big.Int
	PercentDivisor      uint64
	DebtGasCompensation *big.Int
}

// Disposal is the outcome of DecideDisposal. For every kind other than
// DisposalSkip the collateral fields sum to the vessel's entire collateral:
// CollToSendToSP + CollToRedistribute + CollSurplus + CollGasCompensation.
type Disposal struct {
	Kind                DisposalKind
	ICR                 *big.Int
	Debt                *big.Int
	Coll                *big.Int
	DebtToOffset        *big.Int
	CollToSendToSP      *big.Int
	DebtToRedistribute  *big.Int
	CollToRedistribute  *big.Int
	CollSurplus         *big.Int
	CollGasCompensation *big.Int
	DebtGasCompensation *big.Int
}

func emptyDisposal(in DisposalInput, icr *big.Int) Disposal {
	return Disposal{
		Kind:                DisposalSkip,
		ICR:                 icr,
		Debt:                fixedpoint.Copy(in.Debt),
		Coll:                fixedpoint.Copy(in.Coll),
		DebtToOffset:        new(big.Int),
		CollToSendToSP:      new(big.Int),
		DebtToRedistribute:  new(big.Int),
		CollToRedistribute:  new(big.Int),
		CollSurplus:         new(big.Int),
		CollGasCompensation: new(big.Int),
		DebtGasCompensation: new(big.Int),
	}
}

func collGasCompensation(coll *big.Int, divisor uint64) *big.Int {
	if divisor == 0 {
		return new(big.Int)
	}
	return new(big.Int).Quo(coll, new(big.Int).SetUint64(divisor))
}

// DecideDisposal chooses how to absorb a vessel in a liquidation. It is pure:
// callers apply the returned amounts.
//
// Normal mode liquidates below MCR, offsetting against the Stability Pool up
// to its deposits and redistributing the rest. In recovery mode a vessel at or
// below 100% is redistributed whole, one below MCR follows the normal rules and
// one between MCR and TCR is fully offset with its collateral capped at
// debt*MCR/price when the pool can absorb all of its debt. Anything else is
// skipped.
func DecideDisposal(in DisposalInput) Disposal {
	coll := fixedpoint.Copy(in.Coll)
	debt := fixedpoint.Copy(in.Debt)
	icr := fixedpoint.ComputeCR(coll, debt, in.Price)
	out := emptyDisposal(in, icr)
	if debt.Sign() == 0 {
		return out
	}
	deposits := fixedpoint.Copy(in.StabilityDeposits)
	out.DebtGasCompensation = fixedpoint.Min(fixedpoint.Copy(in.DebtGasCompensation), debt)

	switch {
	case !in.Recovery:
		if icr.Cmp(in.MCR) >= 0 {
			return emptyDisposal(in, icr)
		}
		offsetAndRedistribute(&out, coll, debt, deposits, in.PercentDivisor)
	case icr.Cmp(fixedpoint.Decimal) <= 0:
		out.CollGasCompensation = collGasCompensation(coll, in.PercentDivisor)
		out.DebtToRedistribute = debt
		out.CollToRedistribute = new(big.Int).Sub(coll, out.CollGasCompensation)
		out.Kind = DisposalRedistribute
	case icr.Cmp(in.MCR) < 0:
		offsetAndRedistribute(&out, coll, debt, deposits, in.PercentDivisor)
	case in.TCR != nil && icr.Cmp(in.TCR) < 0 && debt.Cmp(deposits) <= 0:
		capped := fixedpoint.MulDivDown(debt, in.MCR, in.Price)
		if capped.Cmp(coll) > 0 {
			capped.Set(coll)
		}
		out.CollGasCompensation = collGasCompensation(capped, in.PercentDivisor)
		out.DebtToOffset = debt
		out.CollToSendToSP = new(big.Int).Sub(capped, out.CollGasCompensation)
		out.CollSurplus = new(big.Int).Sub(coll, capped)
		out.Kind = DisposalCappedOffset
	default:
		return emptyDisposal(in, icr)
	}
	return out
}

func offsetAndRedistribute(out *Disposal, coll, debt, deposits *big.Int, divisor uint64) {
	out.CollGasCompensation = collGasCompensation(coll, divisor)
	collToLiquidate := new(big.Int).Sub(coll, out.CollGasCompensation)
	if deposits.Sign() > 0 {
		out.DebtToOffset = fixedpoint.Min(debt, deposits)
		out.CollToSendToSP = fixedpoint.MulDivDown(collToLiquidate, out.DebtToOffset, debt)
	}
	out.DebtToRedistribute = new(big.Int).Sub(debt, out.DebtToOffset)
	out.CollToRedistribute = new(big.Int).Sub(collToLiquidate, out.CollToSendToSP)
	switch {
	case out.DebtToRedistribute.Sign() == 0:
		out.Kind = DisposalOffset
	case out.DebtToOffset.Sign() == 0:
		out.Kind = DisposalRedistribute
	default:
		out.Kind = DisposalMixed
	}
}

// LiquidationResult summarises a liquidation call.
type LiquidationResult struct {
	OperationID         string
	Asset               string
	Recovery            bool
	Liquidated          []crypto.Address
	LiquidatedDebt      *big.Int
	LiquidatedColl      *big.Int
	DebtOffset          *big.Int
	CollSentToSP        *big.Int
	DebtRedistributed   *big.Int
	CollRedistributed   *big.Int
	CollSurplus         *big.Int
	CollGasCompensation *big.Int
	DebtGasCompensation *big.Int
}

func newLiquidationResult(asset string, recovery bool) *LiquidationResult {
	return &LiquidationResult{
		OperationID:         uuid.NewString(),
		Asset:               asset,
		Recovery:            recovery,
		LiquidatedDebt:      new(big.Int),
		LiquidatedColl:      new(big.Int),
		DebtOffset:          new(big.Int),
		CollSentToSP:        new(big.Int),
		DebtRedistributed:   new(big.Int),
		CollRedistributed:   new(big.Int),
		CollSurplus:         new(big.Int),
		CollGasCompensation: new(big.Int),
		DebtGasCompensation: new(big.Int),
	}
}

func (r *LiquidationResult) add(owner crypto.Address, d Disposal) {
	r.Liquidated = append(r.Liquidated, owner)
	r.LiquidatedDebt.Add(r.LiquidatedDebt, d.Debt)
	r.LiquidatedColl.Add(r.LiquidatedColl, d.Coll)
	r.DebtOffset.Add(r.DebtOffset, d.DebtToOffset)
	r.CollSentToSP.Add(r.CollSentToSP, d.CollToSendToSP)
	r.DebtRedistributed.Add(r.DebtRedistributed, d.DebtToRedistribute)
	r.CollRedistributed.Add(r.CollRedistributed, d.CollToRedistribute)
	r.CollSurplus.Add(r.CollSurplus, d.CollSurplus)
	r.CollGasCompensation.Add(r.CollGasCompensation, d.CollGasCompensation)
	r.DebtGasCompensation.Add(r.DebtGasCompensation, d.DebtGasCompensation)
}

// liquidationRun carries the trackers of one liquidation call. In recovery
// mode the system totals are re-evaluated after every vessel so the batch can
// fall back to normal-mode rules once TCR recovers.
type liquidationRun struct {
	engine       *Engine
	s            *session
	asset        string
	params       collateral.Params
	price        *big.Int
	backToNormal bool
	systemColl   *big.Int
	systemDebt   *big.Int
	remainingSP  *big.Int
	result       *LiquidationResult
	disposals    []liquidationRecord
}

type liquidationRecord struct {
	recovery bool
	kind     string
	debt     *big.Int
}

func (e *Engine) newLiquidationRun(asset string, liquidator crypto.Address) (*liquidationRun, error) {
	params, err := e.loadParams(asset)
	if err != nil {
		return nil, err
	}
	ok, err := e.params.Authorized(collateral.RoleLiquidator, liquidator)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLiquidatorNotAuthorized
	}
	price, err := e.price(asset)
	if err != nil {
		return nil, err
	}
	deposits, err := e.stabilityDeposits()
	if err != nil {
		return nil, err
	}
	s := e.newSession()
	state, err := s.assetState(asset)
	if err != nil {
		return nil, err
	}
	recovery := recoveryMode(state, params, price)
	return &liquidationRun{
		engine:       e,
		s:            s,
		asset:        asset,
		params:       params,
		price:        price,
		backToNormal: !recovery,
		systemColl:   state.EntireColl(),
		systemDebt:   state.EntireDebt(),
		remainingSP:  fixedpoint.Copy(deposits),
		result:       newLiquidationResult(asset, recovery),
	}, nil
}

// step evaluates one vessel and liquidates it when it qualifies. stop reports
// that a walk from the tail cannot find further candidates.
func (r *liquidationRun) step(v *Vessel) (liquidated, stop bool, err error) {
	state, err := r.s.assetState(r.asset)
	if err != nil {
		return false, false, err
	}
	coll, debt := entireCollDebt(v, state)
	in := DisposalInput{
		Coll:                coll,
		Debt:                debt,
		Price:               r.price,
		MCR:                 r.params.MCR,
		StabilityDeposits:   r.remainingSP,
		PercentDivisor:      r.params.PercentDivisor,
		DebtGasCompensation: r.params.DebtGasCompensation,
	}
	icr := fixedpoint.ComputeCR(coll, debt, r.price)
	recovery := !r.backToNormal
	owners, err := r.s.ownerList(r.asset)
	if err != nil {
		return false, false, err
	}
	// The last vessel of an asset is never liquidated.
	if len(owners) <= 1 {
		return false, true, nil
	}
	if recovery {
		if icr.Cmp(r.params.MCR) >= 0 && r.remainingSP.Sign() == 0 {
			return false, true, nil
		}
		in.Recovery = true
		in.TCR = fixedpoint.ComputeCR(r.systemColl, r.systemDebt, r.price)
	} else if icr.Cmp(r.params.MCR) >= 0 {
		return false, true, nil
	}

	d := DecideDisposal(in)
	if d.Kind == DisposalSkip {
		return false, false, nil
	}
	if err := r.s.applyPendingRewards(v); err != nil {
		return false, false, err
	}
	if err := r.s.closeVessel(v, StatusClosedByLiquidation); err != nil {
		return false, false, err
	}
	if d.CollSurplus.Sign() > 0 {
		entry, err := r.s.surplusOf(r.asset, v.Owner)
		if err != nil {
			return false, false, err
		}
		entry.amount.Add(entry.amount, d.CollSurplus)
		state.SurplusColl.Add(state.SurplusColl, d.CollSurplus)
		r.s.emit(events.CollateralSurplus{Asset: r.asset, Owner: v.Owner.String(), Amount: fixedpoint.Copy(entry.amount)})
	}
	r.remainingSP = fixedpoint.SubFloor(r.remainingSP, d.DebtToOffset)
	if recovery {
		r.systemDebt = fixedpoint.SubFloor(r.systemDebt, d.DebtToOffset)
		removed := new(big.Int).Add(d.CollToSendToSP, d.CollGasCompensation)
		removed.Add(removed, d.CollSurplus)
		r.systemColl = fixedpoint.SubFloor(r.systemColl, removed)
		r.backToNormal = r.systemDebt.Sign() == 0 ||
			fixedpoint.ComputeCR(r.systemColl, r.systemDebt, r.price).Cmp(r.params.CCR) >= 0
	}
	r.result.add(v.Owner, d)
	r.s.emit(events.VesselLiquidated{
		Asset:    r.asset,
		Owner:    v.Owner.String(),
		Debt:     fixedpoint.Copy(d.Debt),
		Coll:     fixedpoint.Copy(d.Coll),
		Disposal: d.Kind.String(),
		Recovery: recovery,
	})
	r.disposals = append(r.disposals, liquidationRecord{recovery: recovery, kind: d.Kind.String(), debt: d.Debt})
	return true, false, nil
}

// settleOffset runs the Stability Pool offset before any engine state is
// touched. Debt and collateral the pool does not absorb are moved to the
// redistribution totals.
func (r *liquidationRun) settleOffset() error {
	res := r.result
	if res.DebtOffset.Sign() == 0 {
		return nil
	}
	sp := r.engine.stability
	if sp == nil {
		return ErrNotConfigured
	}
	state, err := r.s.assetState(r.asset)
	if err != nil {
		return err
	}
	// A shortfall must be redistributable before the pool is touched.
	if state.TotalStakes.Sign() == 0 {
		return ErrNoStakeToRedistribute
	}
	out, err := sp.Offset(fixedpoint.Copy(res.DebtOffset), r.asset, fixedpoint.Copy(res.CollSentToSP))
	if err != nil {
		return fmt.Errorf("vessels: stability pool offset: %w", err)
	}
	if out.DebtOffset == nil || out.CollAccepted == nil ||
		out.DebtOffset.Cmp(res.DebtOffset) > 0 || out.CollAccepted.Cmp(res.CollSentToSP) > 0 {
		return fmt.Errorf("%w: offset %s of %s", errOffsetMismatch, out.DebtOffset, res.DebtOffset)
	}
	debtShort := new(big.Int).Sub(res.DebtOffset, out.DebtOffset)
	collShort := new(big.Int).Sub(res.CollSentToSP, out.CollAccepted)
	if debtShort.Sign() > 0 || collShort.Sign() > 0 {
		r.engine.logger.Warn("stability pool offset short",
			slog.String("asset", r.asset),
			slog.String("requested", fixedpoint.Format(res.DebtOffset)),
			slog.String("offset", fixedpoint.Format(out.DebtOffset)))
		res.DebtRedistributed.Add(res.DebtRedistributed, debtShort)
		res.CollRedistributed.Add(res.CollRedistributed, collShort)
	}
	res.DebtOffset = fixedpoint.Copy(out.DebtOffset)
	res.CollSentToSP = fixedpoint.Copy(out.CollAccepted)
	return nil
}

// finish settles the offset, applies the aggregated totals, stages the token
// movements and commits.
func (r *liquidationRun) finish(liquidator crypto.Address) (*LiquidationResult, error) {
	res := r.result
	if len(res.Liquidated) == 0 {
		return nil, ErrNothingToLiquidate
	}
	e, s, asset := r.engine, r.s, r.asset
	state, err := s.assetState(asset)
	if err != nil {
		return nil, err
	}
	if (res.DebtRedistributed.Sign() > 0 || res.CollRedistributed.Sign() > 0) && state.TotalStakes.Sign() == 0 {
		return nil, ErrNoStakeToRedistribute
	}
	if err := r.settleOffset(); err != nil {
		return nil, err
	}
	state.ActiveDebt = fixedpoint.SubFloor(state.ActiveDebt, res.DebtOffset)
	removed := new(big.Int).Add(res.CollSentToSP, res.CollGasCompensation)
	removed.Add(removed, res.CollSurplus)
	state.ActiveColl = fixedpoint.SubFloor(state.ActiveColl, removed)
	s.touchAsset(asset)
	if err := s.redistribute(asset, res.CollRedistributed, res.DebtRedistributed); err != nil {
		return nil, err
	}
	if err := s.snapshotTotals(asset); err != nil {
		return nil, err
	}

	pool, gasPool := e.poolAccount, e.gasPoolAccount
	if res.CollSentToSP.Sign() > 0 {
		collToSP, spAccount := fixedpoint.Copy(res.CollSentToSP), e.stability.Account()
		s.effect("send collateral to stability pool", func() error {
			return e.collateral.Transfer(asset, pool, spAccount, collToSP)
		})
	}
	if res.CollGasCompensation.Sign() > 0 {
		amount := fixedpoint.Copy(res.CollGasCompensation)
		s.effect("collateral gas compensation", func() error {
			return e.collateral.Transfer(asset, pool, liquidator, amount)
		})
	}
	if res.DebtGasCompensation.Sign() > 0 {
		amount := fixedpoint.Copy(res.DebtGasCompensation)
		s.effect("debt gas compensation", func() error {
			return e.debt.Transfer(gasPool, liquidator, amount)
		})
	}
	s.emit(events.Liquidation{
		Asset:               asset,
		OperationID:         res.OperationID,
		Liquidator:          liquidator.String(),
		Count:               len(res.Liquidated),
		LiquidatedDebt:      fixedpoint.Copy(res.LiquidatedDebt),
		LiquidatedColl:      fixedpoint.Copy(res.LiquidatedColl),
		DebtOffset:          fixedpoint.Copy(res.DebtOffset),
		DebtRedistributed:   fixedpoint.Copy(res.DebtRedistributed),
		CollGasCompensation: fixedpoint.Copy(res.CollGasCompensation),
		DebtGasCompensation: fixedpoint.Copy(res.DebtGasCompensation),
	})
	if err := s.commit(); err != nil {
		return nil, err
	}
	for _, rec := range r.disposals {
		e.metrics.RecordLiquidation(asset, rec.recovery, rec.kind, rec.debt)
	}
	e.metrics.SetTCR(asset, systemTCR(state, nil, nil, r.price))
	e.logger.Info("vessels liquidated",
		slog.String("operation", res.OperationID),
		slog.String("asset", asset),
		slog.Int("count", len(res.Liquidated)),
		slog.Bool("recovery", res.Recovery),
		slog.String("debt", fixedpoint.Format(res.LiquidatedDebt)),
		slog.String("offset", fixedpoint.Format(res.DebtOffset)),
		slog.String("redistributed", fixedpoint.Format(res.DebtRedistributed)))
	return res, nil
}

// LiquidateVessels walks the asset's vessels from the lowest nominal ICR and
// liquidates up to n of them (0 means no limit).
func (e *Engine) LiquidateVessels(asset string, n uint64, liquidator crypto.Address) (result *LiquidationResult, err error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	asset, err = checkAsset(asset)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.record(asset, "liquidate", err) }()

	run, err := e.newLiquidationRun(asset, liquidator)
	if err != nil {
		return nil, err
	}
	cur, err := e.index.GetLast(asset)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); (n == 0 || i < n) && !cur.IsZero(); i++ {
		next, err := e.index.GetPrev(asset, cur)
		if err != nil {
			return nil, err
		}
		v, err := run.s.vessel(asset, cur)
		if err != nil {
			return nil, err
		}
		if !v.Active() {
			return nil, fmt.Errorf("vessels: index lists inactive vessel %s", cur)
		}
		_, stop, err := run.step(v)
		if err != nil {
			return nil, err
		}
		if stop {
			break
		}
		cur = next
	}
	return run.finish(liquidator)
}

// BatchLiquidate liquidates the named vessels that qualify, skipping the rest.
func (e *Engine) BatchLiquidate(asset string, owners []crypto.Address, liquidator crypto.Address) (result *LiquidationResult, err error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	asset, err = checkAsset(asset)
	if err != nil {
		return nil, err
	}
	if len(owners) == 0 {
		return nil, ErrNothingToLiquidate
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.record(asset, "batch_liquidate", err) }()
	return e.liquidateOwners(asset, owners, liquidator, false)
}

// Liquidate liquidates a single vessel. Unlike BatchLiquidate it reports why
// the vessel does not qualify.
func (e *Engine) Liquidate(asset string, owner, liquidator crypto.Address) (result *LiquidationResult, err error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	asset, err = checkAsset(asset)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.record(asset, "liquidate_single", err) }()
	return e.liquidateOwners(asset, []crypto.Address{owner}, liquidator, true)
}

func (e *Engine) liquidateOwners(asset string, owners []crypto.Address, liquidator crypto.Address, strict bool) (*LiquidationResult, error) {
	run, err := e.newLiquidationRun(asset, liquidator)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(owners))
	for _, owner := range owners {
		if seen[owner.Key()] {
			continue
		}
		seen[owner.Key()] = true
		v, err := run.s.vessel(asset, owner)
		if err != nil {
			return nil, err
		}
		if !v.Active() {
			if strict {
				return nil, ErrPositionNotActive
			}
			continue
		}
		liquidated, _, err := run.step(v)
		if err != nil {
			return nil, err
		}
		if !liquidated && strict {
			return nil, ErrICRNotBelowThreshold
		}
	}
	return run.finish(liquidator)
}
