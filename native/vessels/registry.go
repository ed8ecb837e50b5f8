package vessels

import (
	"math/big"

	"vesselchain/core/events"
	"vesselchain/crypto"
	"vesselchain/native/collateral"
	"vesselchain/native/fixedpoint"
)

func vesselEvent(v *Vessel, operation string) events.VesselUpdated {
	return events.VesselUpdated{
		Asset:     v.Asset,
		Owner:     v.Owner.String(),
		Debt:      fixedpoint.Copy(v.Debt),
		Coll:      fixedpoint.Copy(v.Coll),
		Stake:     fixedpoint.Copy(v.Stake),
		Status:    v.Status.String(),
		Operation: operation,
	}
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// systemTCR returns the asset's total collateralisation ratio after applying
// the given deltas to entire system collateral and debt.
func systemTCR(state *AssetState, collDelta, debtDelta, price *big.Int) *big.Int {
	coll := state.EntireColl()
	debt := state.EntireDebt()
	if collDelta != nil {
		coll.Add(coll, collDelta)
	}
	if debtDelta != nil {
		debt.Add(debt, debtDelta)
	}
	if coll.Sign() < 0 {
		coll.SetInt64(0)
	}
	if debt.Sign() < 0 {
		debt.SetInt64(0)
	}
	return fixedpoint.ComputeCR(coll, debt, price)
}

// recoveryMode reports TCR < CCR. A system without debt is never in recovery.
func recoveryMode(state *AssetState, params collateral.Params, price *big.Int) bool {
	if state.EntireDebt().Sign() == 0 {
		return false
	}
	return systemTCR(state, nil, nil, price).Cmp(params.CCR) < 0
}

func (e *Engine) checkBalance(owner crypto.Address, amount *big.Int) error {
	balance, err := e.debt.BalanceOf(owner)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (e *Engine) checkCollateralBalance(asset string, owner crypto.Address, amount *big.Int) error {
	balance, err := e.collateral.BalanceOf(asset, owner)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	return nil
}

// Open creates a vessel for owner with coll collateral and debt requested
// debt tokens. The vessel's recorded debt adds the borrowing fee and the gas
// compensation reserve.
func (e *Engine) Open(asset string, owner crypto.Address, coll, debt *big.Int, opts BorrowOptions) (vessel *Vessel, err error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	asset, err = checkAsset(asset)
	if err != nil {
		return nil, err
	}
	if owner.IsZero() {
		return nil, ErrZeroOwner
	}
	if !positive(coll) || !positive(debt) {
		return nil, ErrZeroAmount
	}
	if err := fixedpoint.CheckUint256(coll); err != nil {
		return nil, err
	}
	if err := fixedpoint.CheckUint256(debt); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.record(asset, "open", err) }()

	params, err := e.loadParams(asset)
	if err != nil {
		return nil, err
	}
	if !params.Active {
		return nil, ErrAssetInactive
	}
	price, err := e.price(asset)
	if err != nil {
		return nil, err
	}
	s := e.newSession()
	v, err := s.vessel(asset, owner)
	if err != nil {
		return nil, err
	}
	if v.Active() {
		return nil, ErrVesselExists
	}
	state, err := s.assetState(asset)
	if err != nil {
		return nil, err
	}
	recovery := recoveryMode(state, params, price)

	fee, err := s.chargeBorrowingFee(asset, debt, params, opts.MaxFeePercentage, recovery)
	if err != nil {
		return nil, err
	}
	if debt.Cmp(params.MinNetDebt) < 0 {
		return nil, ErrBelowMinNetDebt
	}
	composite := new(big.Int).Add(debt, fee)
	composite.Add(composite, params.DebtGasCompensation)
	if newDebt := new(big.Int).Add(state.EntireDebt(), composite); newDebt.Cmp(params.MintCap) > 0 {
		return nil, ErrMintCapExceeded
	}

	icr := fixedpoint.ComputeCR(coll, composite, price)
	if recovery {
		if icr.Cmp(params.CCR) < 0 {
			return nil, ErrICRBelowCCR
		}
	} else {
		if icr.Cmp(params.MCR) < 0 {
			return nil, ErrICRBelowMCR
		}
		if systemTCR(state, coll, composite, price).Cmp(params.CCR) < 0 {
			return nil, ErrTCRBelowCCR
		}
	}
	if err := e.checkCollateralBalance(asset, owner, coll); err != nil {
		return nil, err
	}

	v.Status = StatusActive
	v.Coll = new(big.Int).Set(coll)
	v.Debt = composite
	v.Stake = new(big.Int)
	v.LastFeeEpoch = FeeEpochStart(unixSeconds(s.now))
	s.updateSnapshot(v, state)
	if err := s.updateStake(v); err != nil {
		return nil, err
	}
	if err := s.addOwner(v); err != nil {
		return nil, err
	}
	state.ActiveColl.Add(state.ActiveColl, coll)
	state.ActiveDebt.Add(state.ActiveDebt, composite)
	s.touchAsset(asset)
	s.touchVessel(v)
	s.insertIndex(v, fixedpoint.ComputeNominalCR(v.Coll, v.Debt), opts.UpperHint, opts.LowerHint)

	pool, gasPool, recipient := e.poolAccount, e.gasPoolAccount, e.feeRecipient
	gasComp := new(big.Int).Set(params.DebtGasCompensation)
	s.effect("deposit collateral", func() error { return e.collateral.Transfer(asset, owner, pool, coll) })
	s.effect("mint debt", func() error { return e.debt.Mint(owner, debt) })
	if fee.Sign() > 0 {
		s.effect("mint borrowing fee", func() error { return e.debt.Mint(recipient, fee) })
		s.emit(events.BorrowingFeePaid{Asset: asset, Owner: owner.String(), Fee: fixedpoint.Copy(fee)})
	}
	if gasComp.Sign() > 0 {
		s.effect("mint gas compensation", func() error { return e.debt.Mint(gasPool, gasComp) })
	}
	s.emit(vesselEvent(v, "open"))
	if err := s.commit(); err != nil {
		return nil, err
	}
	e.metrics.SetTCR(asset, systemTCR(state, nil, nil, price))
	return v.Clone(), nil
}

// Adjust changes a vessel's collateral by collChange (negative withdraws) and
// its debt by debtChange in the direction given by isDebtIncrease. The
// recurring fee and pending rewards are applied first.
func (e *Engine) Adjust(asset string, owner crypto.Address, collChange, debtChange *big.Int, isDebtIncrease bool, opts BorrowOptions) (vessel *Vessel, err error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	asset, err = checkAsset(asset)
	if err != nil {
		return nil, err
	}
	if collChange == nil {
		collChange = new(big.Int)
	}
	if debtChange == nil {
		debtChange = new(big.Int)
	}
	if debtChange.Sign() < 0 {
		return nil, ErrZeroAmount
	}
	if collChange.Sign() == 0 && debtChange.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.record(asset, "adjust", err) }()

	params, err := e.loadParams(asset)
	if err != nil {
		return nil, err
	}
	price, err := e.price(asset)
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
	if _, err := s.collectVesselFee(v, params); err != nil {
		return nil, err
	}
	if err := s.applyPendingRewards(v); err != nil {
		return nil, err
	}
	state, err := s.assetState(asset)
	if err != nil {
		return nil, err
	}
	recovery := recoveryMode(state, params, price)
	oldICR := fixedpoint.ComputeCR(v.Coll, v.Debt, price)

	borrowing := isDebtIncrease && debtChange.Sign() > 0
	fee := new(big.Int)
	if borrowing {
		if !params.Active {
			return nil, ErrAssetInactive
		}
		fee, err = s.chargeBorrowingFee(asset, debtChange, params, opts.MaxFeePercentage, recovery)
		if err != nil {
			return nil, err
		}
	}

	newColl := new(big.Int).Add(v.Coll, collChange)
	if newColl.Sign() < 0 {
		return nil, ErrInsufficientCollateral
	}
	newDebt := new(big.Int).Set(v.Debt)
	debtDelta := new(big.Int)
	if borrowing {
		debtDelta.Add(debtChange, fee)
		newDebt.Add(newDebt, debtDelta)
	} else if debtChange.Sign() > 0 {
		netDebt := fixedpoint.SubFloor(v.Debt, params.DebtGasCompensation)
		if debtChange.Cmp(netDebt) > 0 {
			return nil, ErrRepaymentExceedsNetDebt
		}
		newDebt.Sub(newDebt, debtChange)
		debtDelta.Neg(debtChange)
		if new(big.Int).Sub(newDebt, params.DebtGasCompensation).Cmp(params.MinNetDebt) < 0 {
			return nil, ErrBelowMinNetDebt
		}
	}

	newICR := fixedpoint.ComputeCR(newColl, newDebt, price)
	if recovery {
		if collChange.Sign() < 0 {
			return nil, ErrCollWithdrawalRecovery
		}
		if borrowing {
			if newICR.Cmp(params.CCR) < 0 {
				return nil, ErrICRBelowCCR
			}
			if newICR.Cmp(oldICR) < 0 {
				return nil, ErrICRDecreased
			}
		}
	} else {
		if newICR.Cmp(params.MCR) < 0 {
			return nil, ErrICRBelowMCR
		}
		if systemTCR(state, collChange, debtDelta, price).Cmp(params.CCR) < 0 {
			return nil, ErrTCRBelowCCR
		}
	}
	if borrowing {
		if newSystemDebt := new(big.Int).Add(state.EntireDebt(), debtDelta); newSystemDebt.Cmp(params.MintCap) > 0 {
			return nil, ErrMintCapExceeded
		}
	} else if debtChange.Sign() > 0 {
		if err := e.checkBalance(owner, debtChange); err != nil {
			return nil, err
		}
	}
	if collChange.Sign() > 0 {
		if err := e.checkCollateralBalance(asset, owner, collChange); err != nil {
			return nil, err
		}
	}

	v.Coll = newColl
	v.Debt = newDebt
	if err := s.updateStake(v); err != nil {
		return nil, err
	}
	state.ActiveColl.Add(state.ActiveColl, collChange)
	state.ActiveDebt.Add(state.ActiveDebt, debtDelta)
	s.touchAsset(asset)
	s.touchVessel(v)
	s.reInsertIndex(v, fixedpoint.ComputeNominalCR(v.Coll, v.Debt), opts.UpperHint, opts.LowerHint)

	pool, recipient := e.poolAccount, e.feeRecipient
	switch collChange.Sign() {
	case 1:
		amount := new(big.Int).Set(collChange)
		s.effect("deposit collateral", func() error { return e.collateral.Transfer(asset, owner, pool, amount) })
	case -1:
		amount := new(big.Int).Neg(collChange)
		s.effect("withdraw collateral", func() error { return e.collateral.Transfer(asset, pool, owner, amount) })
	}
	if borrowing {
		amount := new(big.Int).Set(debtChange)
		s.effect("mint debt", func() error { return e.debt.Mint(owner, amount) })
		if fee.Sign() > 0 {
			s.effect("mint borrowing fee", func() error { return e.debt.Mint(recipient, fee) })
			s.emit(events.BorrowingFeePaid{Asset: asset, Owner: owner.String(), Fee: fixedpoint.Copy(fee)})
		}
	} else if debtChange.Sign() > 0 {
		amount := new(big.Int).Set(debtChange)
		s.effect("repay debt", func() error { return e.debt.Burn(owner, amount) })
	}
	s.emit(vesselEvent(v, "adjust"))
	if err := s.commit(); err != nil {
		return nil, err
	}
	e.metrics.SetTCR(asset, systemTCR(state, nil, nil, price))
	return v.Clone(), nil
}

// CloseVessel repays the owner's net debt, releases the gas compensation
// reserve and returns all collateral. Closing is refused in recovery mode or
// when it would push the system into it.
func (e *Engine) CloseVessel(asset string, owner crypto.Address) (err error) {
	if err := e.guard(); err != nil {
		return err
	}
	asset, err = checkAsset(asset)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.record(asset, "close", err) }()

	params, err := e.loadParams(asset)
	if err != nil {
		return err
	}
	price, err := e.price(asset)
	if err != nil {
		return err
	}
	s := e.newSession()
	v, err := s.vessel(asset, owner)
	if err != nil {
		return err
	}
	if !v.Active() {
		return ErrPositionNotActive
	}
	if err := s.applyPendingRewards(v); err != nil {
		return err
	}
	state, err := s.assetState(asset)
	if err != nil {
		return err
	}
	if recoveryMode(state, params, price) {
		return ErrCloseInRecoveryMode
	}
	coll := new(big.Int).Set(v.Coll)
	debt := new(big.Int).Set(v.Debt)
	owners, err := s.ownerList(asset)
	if err != nil {
		return err
	}
	// The last vessel may always close; redistribution dust left in default
	// accounting would otherwise fail the TCR check.
	if len(owners) > 1 && systemTCR(state, new(big.Int).Neg(coll), new(big.Int).Neg(debt), price).Cmp(params.CCR) < 0 {
		return ErrTCRBelowCCR
	}
	gasComp := fixedpoint.Min(params.DebtGasCompensation, debt)
	netDebt := new(big.Int).Sub(debt, gasComp)
	if err := e.checkBalance(owner, netDebt); err != nil {
		return err
	}

	if err := s.closeVessel(v, StatusClosedByOwner); err != nil {
		return err
	}
	state.ActiveColl = fixedpoint.SubFloor(state.ActiveColl, coll)
	state.ActiveDebt = fixedpoint.SubFloor(state.ActiveDebt, debt)
	s.touchAsset(asset)

	pool, gasPool := e.poolAccount, e.gasPoolAccount
	if netDebt.Sign() > 0 {
		s.effect("repay debt", func() error { return e.debt.Burn(owner, netDebt) })
	}
	if gasComp.Sign() > 0 {
		s.effect("burn gas compensation", func() error { return e.debt.Burn(gasPool, gasComp) })
	}
	if coll.Sign() > 0 {
		s.effect("return collateral", func() error { return e.collateral.Transfer(asset, pool, owner, coll) })
	}
	if err := s.commit(); err != nil {
		return err
	}
	e.metrics.SetTCR(asset, systemTCR(state, nil, nil, price))
	return nil
}

// ApplyPendingRewards pulls the vessel's share of past redistributions into
// its collateral and debt.
func (e *Engine) ApplyPendingRewards(asset string, owner crypto.Address) (err error) {
	if err := e.guard(); err != nil {
		return err
	}
	asset, err = checkAsset(asset)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.newSession()
	v, err := s.vessel(asset, owner)
	if err != nil {
		return err
	}
	if !v.Active() {
		return ErrPositionNotActive
	}
	if err := s.applyPendingRewards(v); err != nil {
		return err
	}
	return s.commit()
}

// Vessel returns the stored vessel without pending rewards.
func (e *Engine) Vessel(asset string, owner crypto.Address) (*Vessel, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	asset, err := checkAsset(asset)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.vessel(asset, owner)
}

// EntireDebtAndColl returns the vessel's debt and collateral including
// pending rewards.
func (e *Engine) EntireDebtAndColl(asset string, owner crypto.Address) (EntireDebtAndColl, error) {
	if err := e.ready(); err != nil {
		return EntireDebtAndColl{}, err
	}
	asset, err := checkAsset(asset)
	if err != nil {
		return EntireDebtAndColl{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := e.store.vessel(asset, owner)
	if err != nil {
		return EntireDebtAndColl{}, err
	}
	state, err := e.store.assetState(asset)
	if err != nil {
		return EntireDebtAndColl{}, err
	}
	pendingColl, pendingDebt := pendingRewards(v, state)
	return EntireDebtAndColl{
		Debt:        new(big.Int).Add(v.Debt, pendingDebt),
		Coll:        new(big.Int).Add(v.Coll, pendingColl),
		PendingDebt: pendingDebt,
		PendingColl: pendingColl,
	}, nil
}

// PendingRewards returns the vessel's unapplied collateral and debt rewards.
func (e *Engine) PendingRewards(asset string, owner crypto.Address) (*big.Int, *big.Int, error) {
	entire, err := e.EntireDebtAndColl(asset, owner)
	if err != nil {
		return nil, nil, err
	}
	return entire.PendingColl, entire.PendingDebt, nil
}

// ComputeICR returns coll*price/debt with the zero-debt sentinel.
func ComputeICR(coll, debt, price *big.Int) *big.Int {
	return fixedpoint.ComputeCR(coll, debt, price)
}

// ComputeNominalICR returns coll*1e20/debt with the zero-debt sentinel.
func ComputeNominalICR(coll, debt *big.Int) *big.Int {
	return fixedpoint.ComputeNominalCR(coll, debt)
}

// CurrentICR returns the vessel's ICR at price, including pending rewards.
func (e *Engine) CurrentICR(asset string, owner crypto.Address, price *big.Int) (*big.Int, error) {
	entire, err := e.EntireDebtAndColl(asset, owner)
	if err != nil {
		return nil, err
	}
	return fixedpoint.ComputeCR(entire.Coll, entire.Debt, price), nil
}

// NominalICR returns the vessel's nominal ICR including pending rewards.
func (e *Engine) NominalICR(asset string, owner crypto.Address) (*big.Int, error) {
	entire, err := e.EntireDebtAndColl(asset, owner)
	if err != nil {
		return nil, err
	}
	return fixedpoint.ComputeNominalCR(entire.Coll, entire.Debt), nil
}

// AssetState returns a copy of the asset's aggregates.
func (e *Engine) AssetState(asset string) (*AssetState, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	asset, err := checkAsset(asset)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.assetState(asset)
}

// VesselOwners returns the owners of every active vessel of asset.
func (e *Engine) VesselOwners(asset string) ([]crypto.Address, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	asset, err := checkAsset(asset)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.owners(asset)
}

// TCR returns the asset's total collateralisation ratio at price.
func (e *Engine) TCR(asset string, price *big.Int) (*big.Int, error) {
	state, err := e.AssetState(asset)
	if err != nil {
		return nil, err
	}
	return systemTCR(state, nil, nil, price), nil
}

// CheckRecoveryMode reports whether the asset is in recovery mode at price.
func (e *Engine) CheckRecoveryMode(asset string, price *big.Int) (bool, error) {
	state, err := e.AssetState(asset)
	if err != nil {
		return false, err
	}
	params, err := e.loadParams(normalizeAsset(asset))
	if err != nil {
		return false, err
	}
	return recoveryMode(state, params, price), nil
}

// Snapshot returns the asset's aggregates at the oracle price.
func (e *Engine) Snapshot(asset string) (SystemSnapshot, error) {
	if err := e.ready(); err != nil {
		return SystemSnapshot{}, err
	}
	asset, err := checkAsset(asset)
	if err != nil {
		return SystemSnapshot{}, err
	}
	params, err := e.loadParams(asset)
	if err != nil {
		return SystemSnapshot{}, err
	}
	price, err := e.price(asset)
	if err != nil {
		return SystemSnapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	state, err := e.store.assetState(asset)
	if err != nil {
		return SystemSnapshot{}, err
	}
	fees, err := e.store.feeState(asset)
	if err != nil {
		return SystemSnapshot{}, err
	}
	size, err := e.index.Size(asset)
	if err != nil {
		return SystemSnapshot{}, err
	}
	return SystemSnapshot{
		Asset:        asset,
		Price:        price,
		State:        state,
		Fees:         *fees,
		TCR:          systemTCR(state, nil, nil, price),
		RecoveryMode: recoveryMode(state, params, price),
		Vessels:      size,
	}, nil
}
