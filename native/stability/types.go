package stability

import (
	"errors"
	"math/big"

	"vesselchain/crypto"
	"vesselchain/native/fixedpoint"
)

var (
	ErrInvalidAmount   = errors.New("stability: amount must be positive")
	ErrNoDeposit       = errors.New("stability: depositor has no deposit")
	ErrNotConfigured   = errors.New("stability: pool not configured")
	ErrInvalidAsset    = errors.New("stability: asset required")
	errProductZeroed   = errors.New("stability: running product reached zero")
	errGainExceedsPool = errors.New("stability: depositor gain exceeds pool collateral")
)

// ScaleFactor bounds the precision loss of the running product. When an
// offset would take P below it, P is rescaled and the scale counter moves on.
var ScaleFactor = big.NewInt(1_000_000_000)

// DebtToken is the subset of the stablecoin used by the pool.
type DebtToken interface {
	Transfer(from, to crypto.Address, amount *big.Int) error
	Burn(from crypto.Address, amount *big.Int) error
}

// CollateralToken is the subset of the collateral ledger used by the pool.
type CollateralToken interface {
	Transfer(asset string, from, to crypto.Address, amount *big.Int) error
}

// Storage is the persistence surface required by the pool.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Snapshot is the pool state a deposit was last compounded against.
type Snapshot struct {
	P     *big.Int
	Scale uint64
	Epoch uint64
	// S maps asset to the reward sum at the snapshot's epoch and scale.
	S map[string]*big.Int
}

// Deposit describes a depositor's position.
type Deposit struct {
	Depositor crypto.Address
	Initial   *big.Int
	Snapshot  Snapshot
}

// Totals exposes the pool aggregates.
type Totals struct {
	Deposits          *big.Int
	P                 *big.Int
	CurrentScale      uint64
	CurrentEpoch      uint64
	LastDebtLossError *big.Int
}

// OffsetResult reports what an offset consumed.
type OffsetResult struct {
	DebtOffset    *big.Int
	CollAccepted  *big.Int
	EpochAdvanced bool
	ScaleAdvanced bool
}

type storedGlobal struct {
	TotalDeposits     *big.Int
	P                 *big.Int
	CurrentScale      uint64
	CurrentEpoch      uint64
	LastDebtLossError *big.Int
}

func (g *storedGlobal) ensure() {
	if g.TotalDeposits == nil {
		g.TotalDeposits = new(big.Int)
	}
	if g.P == nil || g.P.Sign() == 0 {
		g.P = new(big.Int).Set(fixedpoint.Decimal)
	}
	if g.LastDebtLossError == nil {
		g.LastDebtLossError = new(big.Int)
	}
}

type storedAsset struct {
	Collateral    *big.Int
	LastCollError *big.Int
}

func (a *storedAsset) ensure() {
	if a.Collateral == nil {
		a.Collateral = new(big.Int)
	}
	if a.LastCollError == nil {
		a.LastCollError = new(big.Int)
	}
}

type storedSum struct {
	Asset string
	S     *big.Int
}

type storedDeposit struct {
	Initial *big.Int
	P       *big.Int
	Scale   uint64
	Epoch   uint64
	Sums    []storedSum
}

func (d storedDeposit) snapshot() Snapshot {
	snap := Snapshot{P: fixedpoint.Copy(d.P), Scale: d.Scale, Epoch: d.Epoch, S: make(map[string]*big.Int, len(d.Sums))}
	for _, sum := range d.Sums {
		snap.S[sum.Asset] = fixedpoint.Copy(sum.S)
	}
	return snap
}

func (d storedDeposit) sumFor(asset string) *big.Int {
	for _, sum := range d.Sums {
		if sum.Asset == asset {
			return fixedpoint.Copy(sum.S)
		}
	}
	return new(big.Int)
}
