package vessels

import (
	"math/big"

	"vesselchain/crypto"
	"vesselchain/native/fixedpoint"
)

// Status tracks the lifecycle of a vessel.
type Status uint8

const (
	StatusNonExistent Status = iota
	StatusActive
	StatusClosedByOwner
	StatusClosedByLiquidation
	StatusClosedByRedemption
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusClosedByOwner:
		return "closed_by_owner"
	case StatusClosedByLiquidation:
		return "closed_by_liquidation"
	case StatusClosedByRedemption:
		return "closed_by_redemption"
	default:
		return "nonexistent"
	}
}

// RewardSnapshot holds the L terms a vessel last had its pending rewards
// applied against.
type RewardSnapshot struct {
	Coll *big.Int
	Debt *big.Int
}

// Vessel is a single borrower's collateral and debt record for one asset.
// Debt includes the gas compensation reserve.
type Vessel struct {
	Asset        string
	Owner        crypto.Address
	Status       Status
	Coll         *big.Int
	Debt         *big.Int
	Stake        *big.Int
	ArrayIndex   uint64
	Snapshot     RewardSnapshot
	LastFeeEpoch uint64
}

// Clone returns a deep copy of the vessel.
func (v *Vessel) Clone() *Vessel {
	if v == nil {
		return nil
	}
	clone := *v
	clone.Coll = fixedpoint.Copy(v.Coll)
	clone.Debt = fixedpoint.Copy(v.Debt)
	clone.Stake = fixedpoint.Copy(v.Stake)
	clone.Snapshot = RewardSnapshot{Coll: fixedpoint.Copy(v.Snapshot.Coll), Debt: fixedpoint.Copy(v.Snapshot.Debt)}
	return &clone
}

// Active reports whether the vessel is open.
func (v *Vessel) Active() bool {
	return v != nil && v.Status == StatusActive
}

func (v *Vessel) ensure() {
	if v.Coll == nil {
		v.Coll = new(big.Int)
	}
	if v.Debt == nil {
		v.Debt = new(big.Int)
	}
	if v.Stake == nil {
		v.Stake = new(big.Int)
	}
	if v.Snapshot.Coll == nil {
		v.Snapshot.Coll = new(big.Int)
	}
	if v.Snapshot.Debt == nil {
		v.Snapshot.Debt = new(big.Int)
	}
}

// AssetState aggregates the accounting of one collateral asset.
//
// Collateral and debt applied to vessels is "active". Redistributed amounts
// not yet pulled into a vessel sit in "default". Entire system collateral and
// debt are the sum of both.
type AssetState struct {
	ActiveColl  *big.Int
	ActiveDebt  *big.Int
	DefaultColl *big.Int
	DefaultDebt *big.Int
	SurplusColl *big.Int

	TotalStakes             *big.Int
	TotalStakesSnapshot     *big.Int
	TotalCollateralSnapshot *big.Int

	LColl         *big.Int
	LDebt         *big.Int
	LastCollError *big.Int
	LastDebtError *big.Int
}

func (a *AssetState) ensure() {
	for _, field := range []**big.Int{
		&a.ActiveColl, &a.ActiveDebt, &a.DefaultColl, &a.DefaultDebt, &a.SurplusColl,
		&a.TotalStakes, &a.TotalStakesSnapshot, &a.TotalCollateralSnapshot,
		&a.LColl, &a.LDebt, &a.LastCollError, &a.LastDebtError,
	} {
		if *field == nil {
			*field = new(big.Int)
		}
	}
}

// Clone returns a deep copy of the asset state.
func (a *AssetState) Clone() *AssetState {
	if a == nil {
		return nil
	}
	return &AssetState{
		ActiveColl:              fixedpoint.Copy(a.ActiveColl),
		ActiveDebt:              fixedpoint.Copy(a.ActiveDebt),
		DefaultColl:             fixedpoint.Copy(a.DefaultColl),
		DefaultDebt:             fixedpoint.Copy(a.DefaultDebt),
		SurplusColl:             fixedpoint.Copy(a.SurplusColl),
		TotalStakes:             fixedpoint.Copy(a.TotalStakes),
		TotalStakesSnapshot:     fixedpoint.Copy(a.TotalStakesSnapshot),
		TotalCollateralSnapshot: fixedpoint.Copy(a.TotalCollateralSnapshot),
		LColl:                   fixedpoint.Copy(a.LColl),
		LDebt:                   fixedpoint.Copy(a.LDebt),
		LastCollError:           fixedpoint.Copy(a.LastCollError),
		LastDebtError:           fixedpoint.Copy(a.LastDebtError),
	}
}

// EntireColl returns active plus pending redistributed collateral.
func (a *AssetState) EntireColl() *big.Int {
	return new(big.Int).Add(a.ActiveColl, a.DefaultColl)
}

// EntireDebt returns active plus pending redistributed debt.
func (a *AssetState) EntireDebt() *big.Int {
	return new(big.Int).Add(a.ActiveDebt, a.DefaultDebt)
}

// FeeState is the decaying base rate of one asset.
type FeeState struct {
	BaseRate             *big.Int
	LastFeeOperationTime uint64
}

func (f *FeeState) ensure() {
	if f.BaseRate == nil {
		f.BaseRate = new(big.Int)
	}
}

// BorrowOptions carries the optional inputs of open and adjust calls.
type BorrowOptions struct {
	// MaxFeePercentage bounds the borrowing fee rate. Nil accepts up to 100%.
	MaxFeePercentage *big.Int
	UpperHint        crypto.Address
	LowerHint        crypto.Address
}

// EntireDebtAndColl is a vessel's position including pending rewards.
type EntireDebtAndColl struct {
	Debt        *big.Int
	Coll        *big.Int
	PendingDebt *big.Int
	PendingColl *big.Int
}

// SystemSnapshot is a read-only view of an asset's aggregates.
type SystemSnapshot struct {
	Asset        string
	Price        *big.Int
	State        *AssetState
	Fees         FeeState
	TCR          *big.Int
	RecoveryMode bool
	Vessels      uint64
}
