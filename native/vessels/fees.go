package vessels

import (
	"fmt"
	"math/big"
	"time"

	"vesselchain/core/events"
	"vesselchain/crypto"
	"vesselchain/native/collateral"
	"vesselchain/native/fixedpoint"
)

const (
	// FeeEpoch is the period over which the recurring vessel fee is charged.
	FeeEpoch = 7 * 24 * time.Hour
	// minFeeUpdateInterval is the granularity of lastFeeOperationTime.
	minFeeUpdateInterval = 60
)

var (
	// MaxBorrowingFee caps the dynamic borrowing rate at 5%.
	MaxBorrowingFee = fixedpoint.MustParseDecimal("0.05")
	// redemptionBeta halves the redeemed fraction when bumping the base rate.
	redemptionBeta = big.NewInt(2)
)

// FeeEpochStart returns the start of the fee epoch containing ts.
func FeeEpochStart(ts uint64) uint64 {
	period := uint64(FeeEpoch / time.Second)
	return ts - ts%period
}

func unixSeconds(t time.Time) uint64 {
	if t.Unix() <= 0 {
		return 0
	}
	return uint64(t.Unix())
}

func minutesPassed(state *FeeState, now uint64) uint64 {
	if now <= state.LastFeeOperationTime {
		return 0
	}
	return (now - state.LastFeeOperationTime) / 60
}

// decayedBaseRate returns the base rate decayed to now without storing it.
func decayedBaseRate(state *FeeState, now uint64) *big.Int {
	return fixedpoint.DecayedBaseRate(state.BaseRate, minutesPassed(state, now))
}

// updateLastFeeOpTime only moves the timestamp once a full minute has passed.
func updateLastFeeOpTime(state *FeeState, now uint64) bool {
	if now < state.LastFeeOperationTime+minFeeUpdateInterval {
		return false
	}
	state.LastFeeOperationTime = now
	return true
}

// decayBaseRate stores the decayed base rate.
func (s *session) decayBaseRate(asset string) (*FeeState, error) {
	state, err := s.feeState(asset)
	if err != nil {
		return nil, err
	}
	now := unixSeconds(s.now)
	decayed := decayedBaseRate(state, now)
	if updateLastFeeOpTime(state, now) || decayed.Cmp(state.BaseRate) != 0 {
		state.BaseRate = decayed
		s.touchFee(asset)
	}
	return state, nil
}

// bumpBaseRate adds fraction/2 to the decayed base rate, capped at 100%.
func (s *session) bumpBaseRate(asset string, fraction *big.Int) error {
	state, err := s.feeState(asset)
	if err != nil {
		return err
	}
	now := unixSeconds(s.now)
	rate := decayedBaseRate(state, now)
	rate.Add(rate, new(big.Int).Quo(fraction, redemptionBeta))
	if rate.Cmp(fixedpoint.Decimal) > 0 {
		rate.Set(fixedpoint.Decimal)
	}
	state.BaseRate = rate
	updateLastFeeOpTime(state, now)
	s.touchFee(asset)
	s.emit(events.BaseRateUpdated{Asset: asset, BaseRate: fixedpoint.Copy(rate)})
	return nil
}

// borrowingRate is max(floor, decayedBaseRate) capped at MaxBorrowingFee.
func borrowingRate(params collateral.Params, baseRate *big.Int) *big.Int {
	rate := fixedpoint.Max(params.BorrowingFee, baseRate)
	return fixedpoint.Min(rate, MaxBorrowingFee)
}

// redemptionRate is floor + baseRate capped at 100%, or the flat floor when
// the dynamic component is disabled.
func redemptionRate(params collateral.Params, baseRate *big.Int) *big.Int {
	if !params.RedemptionBaseFeeEnabled {
		return new(big.Int).Set(params.RedemptionFeeFloor)
	}
	rate := new(big.Int).Add(params.RedemptionFeeFloor, baseRate)
	return fixedpoint.Min(rate, fixedpoint.Decimal)
}

// fraction returns amount*1e18/total, or zero without a total.
func fraction(amount, total *big.Int) *big.Int {
	if total == nil || total.Sign() == 0 {
		return new(big.Int)
	}
	return fixedpoint.MulDivDown(amount, fixedpoint.Decimal, total)
}

func checkBorrowMaxFee(maxFee *big.Int, params collateral.Params, recovery bool) (*big.Int, error) {
	if maxFee == nil {
		return new(big.Int).Set(fixedpoint.Decimal), nil
	}
	if maxFee.Cmp(fixedpoint.Decimal) > 0 {
		return nil, ErrFeeBoundsInvalid
	}
	if !recovery && maxFee.Cmp(params.BorrowingFee) < 0 {
		return nil, ErrFeeBoundsInvalid
	}
	return maxFee, nil
}

// chargeBorrowingFee decays the base rate, prices the fee for amount and
// bumps the rate by amount over the asset's entire system debt, the same
// denominator redemptions use. Recovery mode borrows without a fee.
func (s *session) chargeBorrowingFee(asset string, amount *big.Int, params collateral.Params, maxFee *big.Int, recovery bool) (*big.Int, error) {
	maxFee, err := checkBorrowMaxFee(maxFee, params, recovery)
	if err != nil {
		return nil, err
	}
	state, err := s.decayBaseRate(asset)
	if err != nil {
		return nil, err
	}
	if recovery {
		return new(big.Int), nil
	}
	rate := borrowingRate(params, state.BaseRate)
	fee := fixedpoint.MulDivDown(rate, amount, fixedpoint.Decimal)
	if fraction(fee, amount).Cmp(maxFee) > 0 {
		return nil, ErrFeeExceedsMaximum
	}
	assetState, err := s.assetState(asset)
	if err != nil {
		return nil, err
	}
	if systemDebt := assetState.EntireDebt(); systemDebt.Sign() > 0 {
		if err := s.bumpBaseRate(asset, fraction(amount, systemDebt)); err != nil {
			return nil, err
		}
	}
	return fee, nil
}

// collectVesselFee charges the recurring fee once per epoch: borrowingFee of
// the vessel's entire debt is added to it and minted to the fee recipient.
// Pending rewards are applied first.
func (s *session) collectVesselFee(v *Vessel, params collateral.Params) (*big.Int, error) {
	if !v.Active() {
		return new(big.Int), nil
	}
	if err := s.applyPendingRewards(v); err != nil {
		return nil, err
	}
	epoch := FeeEpochStart(unixSeconds(s.now))
	if v.LastFeeEpoch >= epoch {
		return new(big.Int), nil
	}
	v.LastFeeEpoch = epoch
	s.touchVessel(v)
	fee := fixedpoint.MulDivDown(params.BorrowingFee, v.Debt, fixedpoint.Decimal)
	if fee.Sign() == 0 {
		return fee, nil
	}
	state, err := s.assetState(v.Asset)
	if err != nil {
		return nil, err
	}
	v.Debt.Add(v.Debt, fee)
	state.ActiveDebt.Add(state.ActiveDebt, fee)
	s.touchAsset(v.Asset)

	recipient, token := s.engine.feeRecipient, s.engine.debt
	s.effect("mint vessel fee", func() error { return token.Mint(recipient, fee) })
	s.emit(events.BorrowingFeePaid{Asset: v.Asset, Owner: v.Owner.String(), Fee: fixedpoint.Copy(fee), Epoch: epoch})
	return fee, nil
}

// CollectVesselFee charges the owner's recurring fee for the current epoch
// and returns the amount added to the vessel's debt.
func (e *Engine) CollectVesselFee(asset string, owner crypto.Address) (fee *big.Int, err error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	asset, err = checkAsset(asset)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.record(asset, "collect_fee", err) }()

	params, err := e.loadParams(asset)
	if err != nil {
		return nil, err
	}
	s := e.newSession()
	v, err := s.vessel(asset, owner)
	if err != nil {
		return nil, err
	}
	if !v.Active() {
		return nil, ErrPositionNotActive
	}
	fee, err = s.collectVesselFee(v, params)
	if err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		s.reInsertIndex(v, fixedpoint.ComputeNominalCR(v.Coll, v.Debt), crypto.Address{}, crypto.Address{})
	}
	if err := s.commit(); err != nil {
		return nil, err
	}
	return fee, nil
}

// BaseRate returns the stored base rate of asset.
func (e *Engine) BaseRate(asset string) (*big.Int, error) {
	state, err := e.feeSnapshot(asset)
	if err != nil {
		return nil, err
	}
	return state.BaseRate, nil
}

// DecayedBaseRate returns the base rate decayed to the current time.
func (e *Engine) DecayedBaseRate(asset string) (*big.Int, error) {
	state, err := e.feeSnapshot(asset)
	if err != nil {
		return nil, err
	}
	return decayedBaseRate(&state, unixSeconds(e.now())), nil
}

// BorrowingRate returns the rate charged on new debt at the current time.
func (e *Engine) BorrowingRate(asset string) (*big.Int, error) {
	base, err := e.DecayedBaseRate(asset)
	if err != nil {
		return nil, err
	}
	params, err := e.loadParams(normalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	return borrowingRate(params, base), nil
}

// RedemptionRate returns the rate charged on redeemed collateral at the
// current time, before the redemption's own bump.
func (e *Engine) RedemptionRate(asset string) (*big.Int, error) {
	base, err := e.DecayedBaseRate(asset)
	if err != nil {
		return nil, err
	}
	params, err := e.loadParams(normalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	return redemptionRate(params, base), nil
}

// BorrowingFee prices a borrowing of amount at the current rate.
func (e *Engine) BorrowingFee(asset string, amount *big.Int) (*big.Int, error) {
	rate, err := e.BorrowingRate(asset)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDivDown(rate, amount, fixedpoint.Decimal), nil
}

func (e *Engine) feeSnapshot(asset string) (FeeState, error) {
	if err := e.ready(); err != nil {
		return FeeState{}, err
	}
	asset, err := checkAsset(asset)
	if err != nil {
		return FeeState{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	state, err := e.store.feeState(asset)
	if err != nil {
		return FeeState{}, fmt.Errorf("vessels: fee state %s: %w", asset, err)
	}
	return FeeState{BaseRate: fixedpoint.Copy(state.BaseRate), LastFeeOperationTime: state.LastFeeOperationTime}, nil
}
