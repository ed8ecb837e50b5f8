package vessels

import (
	"log/slog"
	"math/big"

	"github.com/google/uuid"

	"vesselchain/core/events"
	"vesselchain/crypto"
	"vesselchain/native/collateral"
	"vesselchain/native/fixedpoint"
)

// RedemptionOutcome records why a redemption loop stopped.
type RedemptionOutcome string

const (
	RedemptionCompleted              RedemptionOutcome = "completed"
	RedemptionExhausted              RedemptionOutcome = "exhausted"
	RedemptionMaxIterations          RedemptionOutcome = "max_iterations"
	RedemptionStoppedStaleHint       RedemptionOutcome = "stale_hint"
	RedemptionStoppedBelowMinNetDebt RedemptionOutcome = "below_min_net_debt"
)

// RedemptionRequest carries the inputs of RedeemCollateral. The hints are
// usually produced by GetRedemptionHints and FindInsertHints.
type RedemptionRequest struct {
	Asset                     string
	Redeemer                  crypto.Address
	Amount                    *big.Int
	FirstHint                 crypto.Address
	UpperPartialHint          crypto.Address
	LowerPartialHint          crypto.Address
	PartialRedemptionHintNICR *big.Int
	MaxIterations             uint64
	MaxFeePercentage          *big.Int
}

// RedemptionStep is the effect of a redemption on one vessel.
type RedemptionStep struct {
	Owner        crypto.Address
	DebtRedeemed *big.Int
	CollDrawn    *big.Int
	Closed       bool
	Surplus      *big.Int
}

// RedemptionResult summarises a redemption.
type RedemptionResult struct {
	OperationID  string
	Asset        string
	Attempted    *big.Int
	DebtRedeemed *big.Int
	CollDrawn    *big.Int
	Fee          *big.Int
	CollSent     *big.Int
	Outcome      RedemptionOutcome
	Steps        []RedemptionStep
}

// redemptionCollLot converts redeemed debt into collateral at price, reduced
// by the softening factor. Both divisions round down.
func redemptionCollLot(debt, price *big.Int, softeningBps uint64) *big.Int {
	lot := fixedpoint.MulDivDown(debt, fixedpoint.Decimal, price)
	return fixedpoint.MulDivDown(lot, new(big.Int).SetUint64(softeningBps), basisPoints)
}

func (e *Engine) checkRedemption(req RedemptionRequest, params collateral.Params, now uint64) error {
	if now < params.RedemptionBlockTimestamp {
		return ErrRedemptionNotYetAllowed
	}
	ok, err := e.params.Authorized(collateral.RoleRedeemer, req.Redeemer)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRedeemerNotWhitelisted
	}
	if !positive(req.Amount) {
		return ErrZeroAmount
	}
	if err := fixedpoint.CheckUint256(req.Amount); err != nil {
		return err
	}
	if req.MaxFeePercentage == nil ||
		req.MaxFeePercentage.Cmp(params.RedemptionFeeFloor) < 0 ||
		req.MaxFeePercentage.Cmp(fixedpoint.Decimal) > 0 {
		return ErrFeeBoundsInvalid
	}
	return nil
}

// validFirstHint reports whether hint is the worst vessel at or above MCR.
func (s *session) validFirstHint(asset string, hint crypto.Address, price, mcr *big.Int) (bool, error) {
	if hint.IsZero() {
		return false, nil
	}
	index := s.engine.index
	listed, err := index.Contains(asset, hint)
	if err != nil || !listed {
		return false, err
	}
	icr, err := s.currentICR(asset, hint, price)
	if err != nil {
		return false, err
	}
	if icr.Cmp(mcr) < 0 {
		return false, nil
	}
	next, err := index.GetNext(asset, hint)
	if err != nil {
		return false, err
	}
	if next.IsZero() {
		return true, nil
	}
	icr, err = s.currentICR(asset, next, price)
	if err != nil {
		return false, err
	}
	return icr.Cmp(mcr) < 0, nil
}

func (s *session) currentICR(asset string, owner crypto.Address, price *big.Int) (*big.Int, error) {
	v, err := s.vessel(asset, owner)
	if err != nil {
		return nil, err
	}
	state, err := s.assetState(asset)
	if err != nil {
		return nil, err
	}
	coll, debt := entireCollDebt(v, state)
	return fixedpoint.ComputeCR(coll, debt, price), nil
}

// RedeemCollateral burns up to req.Amount debt tokens from the redeemer
// against the asset's vessels, lowest ICR at or above MCR first, and pays
// out the drawn collateral less the redemption fee.
func (e *Engine) RedeemCollateral(req RedemptionRequest) (result *RedemptionResult, err error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	asset, err := checkAsset(req.Asset)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.record(asset, "redeem", err) }()

	params, err := e.loadParams(asset)
	if err != nil {
		return nil, err
	}
	s := e.newSession()
	if err := e.checkRedemption(req, params, unixSeconds(s.now)); err != nil {
		return nil, err
	}
	price, err := e.price(asset)
	if err != nil {
		return nil, err
	}
	state, err := s.assetState(asset)
	if err != nil {
		return nil, err
	}
	if systemTCR(state, nil, nil, price).Cmp(params.MCR) < 0 {
		return nil, ErrTCRBelowMCR
	}
	if err := e.checkBalance(req.Redeemer, req.Amount); err != nil {
		return nil, err
	}
	supplyAtStart := state.EntireDebt()

	res := &RedemptionResult{
		OperationID:  uuid.NewString(),
		Asset:        asset,
		Attempted:    new(big.Int).Set(req.Amount),
		DebtRedeemed: new(big.Int),
		CollDrawn:    new(big.Int),
		Fee:          new(big.Int),
		CollSent:     new(big.Int),
	}

	cur := req.FirstHint
	valid, err := s.validFirstHint(asset, cur, price, params.MCR)
	if err != nil {
		return nil, err
	}
	if !valid {
		cur, err = e.index.GetLast(asset)
		if err != nil {
			return nil, err
		}
		for !cur.IsZero() {
			icr, err := s.currentICR(asset, cur, price)
			if err != nil {
				return nil, err
			}
			if icr.Cmp(params.MCR) >= 0 {
				break
			}
			if cur, err = e.index.GetPrev(asset, cur); err != nil {
				return nil, err
			}
		}
	}

	remaining := new(big.Int).Set(req.Amount)
	iterations := req.MaxIterations
	softening := e.softeningBps
	gasComp := params.DebtGasCompensation
	burnGasComp := new(big.Int)
	var cancelled RedemptionOutcome

	for !cur.IsZero() && remaining.Sign() > 0 && (req.MaxIterations == 0 || iterations > 0) {
		next, err := e.index.GetPrev(asset, cur)
		if err != nil {
			return nil, err
		}
		v, err := s.vessel(asset, cur)
		if err != nil {
			return nil, err
		}
		if err := s.applyPendingRewards(v); err != nil {
			return nil, err
		}
		if fixedpoint.ComputeCR(v.Coll, v.Debt, price).Cmp(params.MCR) < 0 {
			cur = next
			continue
		}
		if req.MaxIterations != 0 {
			iterations--
		}

		debtLot := fixedpoint.Min(remaining, fixedpoint.SubFloor(v.Debt, gasComp))
		if debtLot.Sign() == 0 {
			cur = next
			continue
		}
		collLot := fixedpoint.Min(redemptionCollLot(debtLot, price, softening), v.Coll)
		newDebt := new(big.Int).Sub(v.Debt, debtLot)
		newColl := new(big.Int).Sub(v.Coll, collLot)

		if newDebt.Cmp(gasComp) == 0 {
			step := RedemptionStep{Owner: v.Owner, DebtRedeemed: debtLot, CollDrawn: collLot, Closed: true, Surplus: newColl}
			if err := s.closeVessel(v, StatusClosedByRedemption); err != nil {
				return nil, err
			}
			state.ActiveDebt = fixedpoint.SubFloor(state.ActiveDebt, new(big.Int).Add(debtLot, gasComp))
			state.ActiveColl = fixedpoint.SubFloor(state.ActiveColl, new(big.Int).Add(collLot, newColl))
			burnGasComp.Add(burnGasComp, gasComp)
			if newColl.Sign() > 0 {
				entry, err := s.surplusOf(asset, v.Owner)
				if err != nil {
					return nil, err
				}
				entry.amount.Add(entry.amount, newColl)
				state.SurplusColl.Add(state.SurplusColl, newColl)
				s.emit(events.CollateralSurplus{Asset: asset, Owner: v.Owner.String(), Amount: fixedpoint.Copy(entry.amount)})
			}
			s.touchAsset(asset)
			res.Steps = append(res.Steps, step)
		} else {
			newNICR := fixedpoint.ComputeNominalCR(newColl, newDebt)
			if req.PartialRedemptionHintNICR == nil || newNICR.Cmp(req.PartialRedemptionHintNICR) != 0 {
				cancelled = RedemptionStoppedStaleHint
			} else if new(big.Int).Sub(newDebt, gasComp).Cmp(params.MinNetDebt) < 0 {
				cancelled = RedemptionStoppedBelowMinNetDebt
			}
			if cancelled != "" {
				e.logger.Debug("partial redemption cancelled",
					slog.String("operation", res.OperationID),
					slog.String("asset", asset),
					slog.String("owner", v.Owner.String()),
					slog.String("reason", string(cancelled)))
				break
			}
			v.Coll = newColl
			v.Debt = newDebt
			if err := s.updateStake(v); err != nil {
				return nil, err
			}
			state.ActiveDebt = fixedpoint.SubFloor(state.ActiveDebt, debtLot)
			state.ActiveColl = fixedpoint.SubFloor(state.ActiveColl, collLot)
			s.touchAsset(asset)
			s.touchVessel(v)
			s.reInsertIndex(v, newNICR, req.UpperPartialHint, req.LowerPartialHint)
			s.emit(vesselEvent(v, "redeem"))
			res.Steps = append(res.Steps, RedemptionStep{Owner: v.Owner, DebtRedeemed: debtLot, CollDrawn: collLot, Surplus: new(big.Int)})
		}
		res.DebtRedeemed.Add(res.DebtRedeemed, debtLot)
		res.CollDrawn.Add(res.CollDrawn, collLot)
		remaining.Sub(remaining, debtLot)
		cur = next
	}

	switch {
	case cancelled != "":
		res.Outcome = cancelled
	case remaining.Sign() == 0:
		res.Outcome = RedemptionCompleted
	case !cur.IsZero():
		res.Outcome = RedemptionMaxIterations
	default:
		res.Outcome = RedemptionExhausted
	}
	if res.CollDrawn.Sign() == 0 {
		if cancelled == RedemptionStoppedStaleHint {
			return nil, ErrStaleHint
		}
		return nil, ErrUnableToRedeem
	}

	if params.RedemptionBaseFeeEnabled {
		if err := s.bumpBaseRate(asset, fraction(res.DebtRedeemed, supplyAtStart)); err != nil {
			return nil, err
		}
	}
	fees, err := s.feeState(asset)
	if err != nil {
		return nil, err
	}
	rate := redemptionRate(params, fees.BaseRate)
	res.Fee = fixedpoint.MulDivDown(rate, res.CollDrawn, fixedpoint.Decimal)
	if res.Fee.Cmp(res.CollDrawn) >= 0 {
		return nil, ErrFeeExceedsReturnedCollateral
	}
	if fraction(res.Fee, res.CollDrawn).Cmp(req.MaxFeePercentage) > 0 {
		return nil, ErrFeeExceedsMaximum
	}
	res.CollSent = new(big.Int).Sub(res.CollDrawn, res.Fee)

	redeemer, pool, gasPool, recipient := req.Redeemer, e.poolAccount, e.gasPoolAccount, e.feeRecipient
	redeemed, sent, fee := fixedpoint.Copy(res.DebtRedeemed), fixedpoint.Copy(res.CollSent), fixedpoint.Copy(res.Fee)
	s.effect("burn redeemed debt", func() error { return e.debt.Burn(redeemer, redeemed) })
	if burnGasComp.Sign() > 0 {
		s.effect("burn gas compensation", func() error { return e.debt.Burn(gasPool, burnGasComp) })
	}
	s.effect("send redeemed collateral", func() error { return e.collateral.Transfer(asset, pool, redeemer, sent) })
	if fee.Sign() > 0 {
		s.effect("send redemption fee", func() error { return e.collateral.Transfer(asset, pool, recipient, fee) })
	}
	s.emit(events.Redemption{
		Asset:       asset,
		OperationID: res.OperationID,
		Redeemer:    redeemer.String(),
		Attempted:   fixedpoint.Copy(res.Attempted),
		Actual:      fixedpoint.Copy(res.DebtRedeemed),
		CollSent:    fixedpoint.Copy(res.CollSent),
		Fee:         fixedpoint.Copy(res.Fee),
		Outcome:     string(res.Outcome),
	})
	if err := s.commit(); err != nil {
		return nil, err
	}
	e.metrics.RecordRedemption(asset, string(res.Outcome), res.DebtRedeemed)
	e.metrics.SetBaseRate(asset, fees.BaseRate)
	e.metrics.SetTCR(asset, systemTCR(state, nil, nil, price))
	e.logger.Info("collateral redeemed",
		slog.String("operation", res.OperationID),
		slog.String("asset", asset),
		slog.String("redeemer", redeemer.String()),
		slog.String("debt", fixedpoint.Format(res.DebtRedeemed)),
		slog.String("coll", fixedpoint.Format(res.CollDrawn)),
		slog.String("fee", fixedpoint.Format(res.Fee)),
		slog.Int("vessels", len(res.Steps)),
		slog.String("outcome", string(res.Outcome)))
	return res, nil
}
