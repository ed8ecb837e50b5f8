package vessels

import (
	"math/big"

	"vesselchain/core/events"
	"vesselchain/crypto"
	"vesselchain/native/fixedpoint"
)

// SurplusOf returns the collateral the owner can claim after a capped
// liquidation or a full redemption.
func (e *Engine) SurplusOf(asset string, owner crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	asset, err := checkAsset(asset)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.surplus(asset, owner)
}

// ClaimCollateral pays the owner's surplus out of the pool account.
func (e *Engine) ClaimCollateral(asset string, owner crypto.Address) (amount *big.Int, err error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	asset, err = checkAsset(asset)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.record(asset, "claim_surplus", err) }()

	s := e.newSession()
	entry, err := s.surplusOf(asset, owner)
	if err != nil {
		return nil, err
	}
	if entry.amount.Sign() == 0 {
		return nil, ErrNoSurplus
	}
	amount = new(big.Int).Set(entry.amount)
	entry.amount = new(big.Int)
	state, err := s.assetState(asset)
	if err != nil {
		return nil, err
	}
	state.SurplusColl = fixedpoint.SubFloor(state.SurplusColl, amount)
	s.touchAsset(asset)

	pool := e.poolAccount
	s.effect("claim surplus", func() error { return e.collateral.Transfer(asset, pool, owner, amount) })
	s.emit(events.CollateralSurplus{Asset: asset, Owner: owner.String(), Amount: fixedpoint.Copy(amount), Claimed: true})
	if err := s.commit(); err != nil {
		return nil, err
	}
	return amount, nil
}
