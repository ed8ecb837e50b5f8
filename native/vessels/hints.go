package vessels

import (
	"math/big"

	"vesselchain/crypto"
	"vesselchain/native/fixedpoint"
)

// RedemptionHints are the inputs a redeemer needs to pass RedeemCollateral.
type RedemptionHints struct {
	FirstHint       crypto.Address
	PartialNICR     *big.Int
	TruncatedAmount *big.Int
}

// GetRedemptionHints simulates a redemption of amount at price and returns
// the first vessel it would touch, the nominal ICR the final partially
// redeemed vessel would end at and the amount that can be redeemed without
// leaving that vessel below the minimum net debt. A nil price uses the
// oracle. maxIterations of 0 means no limit.
func (e *Engine) GetRedemptionHints(asset string, amount, price *big.Int, maxIterations uint64) (RedemptionHints, error) {
	if err := e.ready(); err != nil {
		return RedemptionHints{}, err
	}
	asset, err := checkAsset(asset)
	if err != nil {
		return RedemptionHints{}, err
	}
	if !positive(amount) {
		return RedemptionHints{}, ErrZeroAmount
	}
	params, err := e.loadParams(asset)
	if err != nil {
		return RedemptionHints{}, err
	}
	if price == nil {
		if price, err = e.price(asset); err != nil {
			return RedemptionHints{}, err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.store.assetState(asset)
	if err != nil {
		return RedemptionHints{}, err
	}
	entire := func(owner crypto.Address) (*big.Int, *big.Int, error) {
		v, err := e.store.vessel(asset, owner)
		if err != nil {
			return nil, nil, err
		}
		coll, debt := entireCollDebt(v, state)
		return coll, debt, nil
	}

	cur, err := e.index.GetLast(asset)
	if err != nil {
		return RedemptionHints{}, err
	}
	for !cur.IsZero() {
		coll, debt, err := entire(cur)
		if err != nil {
			return RedemptionHints{}, err
		}
		if fixedpoint.ComputeCR(coll, debt, price).Cmp(params.MCR) >= 0 {
			break
		}
		if cur, err = e.index.GetPrev(asset, cur); err != nil {
			return RedemptionHints{}, err
		}
	}
	hints := RedemptionHints{FirstHint: cur, PartialNICR: new(big.Int)}

	remaining := new(big.Int).Set(amount)
	gasComp := params.DebtGasCompensation
	for i := uint64(0); !cur.IsZero() && remaining.Sign() > 0 && (maxIterations == 0 || i < maxIterations); i++ {
		coll, debt, err := entire(cur)
		if err != nil {
			return RedemptionHints{}, err
		}
		netDebt := fixedpoint.SubFloor(debt, gasComp)
		if netDebt.Cmp(remaining) > 0 {
			if netDebt.Cmp(params.MinNetDebt) > 0 {
				lot := fixedpoint.Min(remaining, new(big.Int).Sub(netDebt, params.MinNetDebt))
				newColl := fixedpoint.SubFloor(coll, redemptionCollLot(lot, price, e.softeningBps))
				newDebt := new(big.Int).Sub(debt, lot)
				hints.PartialNICR = fixedpoint.ComputeNominalCR(newColl, newDebt)
				remaining.Sub(remaining, lot)
			}
			break
		}
		remaining.Sub(remaining, netDebt)
		if cur, err = e.index.GetPrev(asset, cur); err != nil {
			return RedemptionHints{}, err
		}
	}
	hints.TruncatedAmount = new(big.Int).Sub(amount, remaining)
	return hints, nil
}

// FindInsertHints returns the neighbours a vessel with the given nominal ICR
// would be inserted between, starting the search from the supplied hints.
func (e *Engine) FindInsertHints(asset string, nicr *big.Int, prevHint, nextHint crypto.Address) (crypto.Address, crypto.Address, error) {
	if err := e.ready(); err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	asset, err := checkAsset(asset)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.FindInsertPosition(asset, nicr, prevHint, nextHint)
}
