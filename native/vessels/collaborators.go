package vessels

import (
	"math/big"

	"vesselchain/crypto"
	"vesselchain/native/collateral"
	"vesselchain/native/sortedvessels"
	"vesselchain/native/stability"
)

// PriceOracle supplies the current 18-decimal price of a collateral asset.
type PriceOracle interface {
	GetPrice(asset string) (*big.Int, error)
}

// DebtToken is the stablecoin minted against vessels.
type DebtToken interface {
	Mint(to crypto.Address, amount *big.Int) error
	Burn(from crypto.Address, amount *big.Int) error
	Transfer(from, to crypto.Address, amount *big.Int) error
	BalanceOf(addr crypto.Address) (*big.Int, error)
	TotalSupply() (*big.Int, error)
}

// CollateralToken moves collateral between accounts.
type CollateralToken interface {
	Transfer(asset string, from, to crypto.Address, amount *big.Int) error
	BalanceOf(asset string, addr crypto.Address) (*big.Int, error)
}

// OrderedIndex keeps the active vessels of each asset sorted by nominal ICR,
// highest at the head. GetNext moves toward the tail and GetPrev toward the
// head.
type OrderedIndex interface {
	Insert(asset string, owner crypto.Address, nicr *big.Int, prevHint, nextHint crypto.Address) error
	Remove(asset string, owner crypto.Address) error
	ReInsert(asset string, owner crypto.Address, nicr *big.Int, prevHint, nextHint crypto.Address) error
	Contains(asset string, owner crypto.Address) (bool, error)
	Size(asset string) (uint64, error)
	GetFirst(asset string) (crypto.Address, error)
	GetLast(asset string) (crypto.Address, error)
	GetNext(asset string, owner crypto.Address) (crypto.Address, error)
	GetPrev(asset string, owner crypto.Address) (crypto.Address, error)
	FindInsertPosition(asset string, nicr *big.Int, prevHint, nextHint crypto.Address) (crypto.Address, crypto.Address, error)
}

// ParameterStore exposes per-asset risk parameters and role whitelists.
type ParameterStore interface {
	Params(asset string) (collateral.Params, error)
	Authorized(role collateral.Role, addr crypto.Address) (bool, error)
}

// StabilityPool absorbs liquidated debt. Offset expects the collateral to
// already sit in Account().
type StabilityPool interface {
	Account() crypto.Address
	TotalDeposits() (*big.Int, error)
	Offset(debt *big.Int, asset string, coll *big.Int) (stability.OffsetResult, error)
}

// nicrSourceSetter is implemented by indexes that read live nominal ICRs
// back from the engine.
type nicrSourceSetter interface {
	SetNICRSource(source sortedvessels.NICRSource)
}
