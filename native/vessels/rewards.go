package vessels

import (
	"math/big"

	"vesselchain/core/events"
	"vesselchain/native/fixedpoint"
)

// pendingRewards returns the redistributed collateral and debt the vessel has
// not yet pulled in: stake * (L - snapshot) / 1e18, rounded down.
func pendingRewards(v *Vessel, state *AssetState) (*big.Int, *big.Int) {
	if !v.Active() || v.Stake.Sign() == 0 {
		return new(big.Int), new(big.Int)
	}
	collDelta := fixedpoint.SubFloor(state.LColl, v.Snapshot.Coll)
	debtDelta := fixedpoint.SubFloor(state.LDebt, v.Snapshot.Debt)
	coll := fixedpoint.MulDivDown(v.Stake, collDelta, fixedpoint.Decimal)
	debt := fixedpoint.MulDivDown(v.Stake, debtDelta, fixedpoint.Decimal)
	return coll, debt
}

// entireCollDebt returns the vessel's collateral and debt including pending
// rewards, without mutating it.
func entireCollDebt(v *Vessel, state *AssetState) (*big.Int, *big.Int) {
	pendingColl, pendingDebt := pendingRewards(v, state)
	return new(big.Int).Add(v.Coll, pendingColl), new(big.Int).Add(v.Debt, pendingDebt)
}

// computeStake converts collateral into stake at the ratio frozen by the last
// liquidation, so new vessels do not share in rewards that predate them.
func computeStake(coll *big.Int, state *AssetState) *big.Int {
	if state.TotalCollateralSnapshot.Sign() == 0 || state.TotalStakesSnapshot.Sign() == 0 {
		return new(big.Int).Set(coll)
	}
	return fixedpoint.MulDivDown(coll, state.TotalStakesSnapshot, state.TotalCollateralSnapshot)
}

// applyPendingRewards moves the vessel's pending rewards from default to
// active accounting and refreshes its snapshot. Calling it twice without an
// intervening redistribution is a no-op.
func (s *session) applyPendingRewards(v *Vessel) error {
	if !v.Active() {
		return nil
	}
	state, err := s.assetState(v.Asset)
	if err != nil {
		return err
	}
	if v.Snapshot.Coll.Cmp(state.LColl) == 0 && v.Snapshot.Debt.Cmp(state.LDebt) == 0 {
		return nil
	}
	pendingColl, pendingDebt := pendingRewards(v, state)
	if pendingColl.Sign() > 0 || pendingDebt.Sign() > 0 {
		v.Coll.Add(v.Coll, pendingColl)
		v.Debt.Add(v.Debt, pendingDebt)
		state.DefaultColl = fixedpoint.SubFloor(state.DefaultColl, pendingColl)
		state.DefaultDebt = fixedpoint.SubFloor(state.DefaultDebt, pendingDebt)
		state.ActiveColl.Add(state.ActiveColl, pendingColl)
		state.ActiveDebt.Add(state.ActiveDebt, pendingDebt)
		s.touchAsset(v.Asset)
		s.emit(vesselEvent(v, "apply_rewards"))
	}
	s.updateSnapshot(v, state)
	s.touchVessel(v)
	return nil
}

func (s *session) updateSnapshot(v *Vessel, state *AssetState) {
	v.Snapshot = RewardSnapshot{Coll: new(big.Int).Set(state.LColl), Debt: new(big.Int).Set(state.LDebt)}
}

// updateStake recomputes the vessel's stake from its collateral and adjusts
// the asset's total.
func (s *session) updateStake(v *Vessel) error {
	state, err := s.assetState(v.Asset)
	if err != nil {
		return err
	}
	stake := computeStake(v.Coll, state)
	state.TotalStakes = fixedpoint.SubFloor(state.TotalStakes, v.Stake)
	state.TotalStakes.Add(state.TotalStakes, stake)
	v.Stake = stake
	s.touchAsset(v.Asset)
	s.touchVessel(v)
	return nil
}

func (s *session) removeStake(v *Vessel) error {
	state, err := s.assetState(v.Asset)
	if err != nil {
		return err
	}
	state.TotalStakes = fixedpoint.SubFloor(state.TotalStakes, v.Stake)
	v.Stake = new(big.Int)
	s.touchAsset(v.Asset)
	s.touchVessel(v)
	return nil
}

// redistribute spreads coll and debt over every remaining stake by raising
// the L terms. The division remainder is carried into the next call so
// truncation does not accumulate.
func (s *session) redistribute(asset string, coll, debt *big.Int) error {
	if coll.Sign() == 0 && debt.Sign() == 0 {
		return nil
	}
	state, err := s.assetState(asset)
	if err != nil {
		return err
	}
	if state.TotalStakes.Sign() == 0 {
		return ErrNoStakeToRedistribute
	}
	collNumerator := new(big.Int).Mul(coll, fixedpoint.Decimal)
	collNumerator.Add(collNumerator, state.LastCollError)
	debtNumerator := new(big.Int).Mul(debt, fixedpoint.Decimal)
	debtNumerator.Add(debtNumerator, state.LastDebtError)

	collPerUnit, collRem := new(big.Int).QuoRem(collNumerator, state.TotalStakes, new(big.Int))
	debtPerUnit, debtRem := new(big.Int).QuoRem(debtNumerator, state.TotalStakes, new(big.Int))
	state.LastCollError = collRem
	state.LastDebtError = debtRem

	state.LColl.Add(state.LColl, collPerUnit)
	state.LDebt.Add(state.LDebt, debtPerUnit)

	state.ActiveColl = fixedpoint.SubFloor(state.ActiveColl, coll)
	state.ActiveDebt = fixedpoint.SubFloor(state.ActiveDebt, debt)
	state.DefaultColl.Add(state.DefaultColl, coll)
	state.DefaultDebt.Add(state.DefaultDebt, debt)
	s.touchAsset(asset)
	s.emit(events.LTermsUpdated{Asset: asset, LColl: fixedpoint.Copy(state.LColl), LDebt: fixedpoint.Copy(state.LDebt)})
	return nil
}

// snapshotTotals freezes the stake to collateral ratio used for new stakes.
// It runs after gas compensation has left the pool.
func (s *session) snapshotTotals(asset string) error {
	state, err := s.assetState(asset)
	if err != nil {
		return err
	}
	state.TotalStakesSnapshot = new(big.Int).Set(state.TotalStakes)
	state.TotalCollateralSnapshot = state.EntireColl()
	s.touchAsset(asset)
	return nil
}

// closeVessel zeroes the vessel, removes its stake, owner slot and index
// entry and sets the terminal status. Pool totals are settled by the caller.
// When the last vessel of an asset closes the reward terms start over.
func (s *session) closeVessel(v *Vessel, status Status) error {
	if err := s.removeStake(v); err != nil {
		return err
	}
	if err := s.removeOwner(v); err != nil {
		return err
	}
	s.removeIndex(v)
	v.Status = status
	v.Coll = new(big.Int)
	v.Debt = new(big.Int)
	v.Snapshot = RewardSnapshot{Coll: new(big.Int), Debt: new(big.Int)}
	s.touchVessel(v)

	owners, err := s.ownerList(v.Asset)
	if err != nil {
		return err
	}
	if len(owners) == 0 {
		state, err := s.assetState(v.Asset)
		if err != nil {
			return err
		}
		state.LColl = new(big.Int)
		state.LDebt = new(big.Int)
		state.LastCollError = new(big.Int)
		state.LastDebtError = new(big.Int)
		state.TotalStakes = new(big.Int)
		state.TotalStakesSnapshot = new(big.Int)
		state.TotalCollateralSnapshot = new(big.Int)
		s.touchAsset(v.Asset)
	}
	s.emit(vesselEvent(v, "close"))
	return nil
}
