package vessels

import (
	"math/big"
	"strings"

	"vesselchain/crypto"
)

// Storage is the persistence surface required by the engine.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	vesselPrefix  = []byte("vessels/vessel/")
	assetPrefix   = []byte("vessels/asset/")
	feePrefix     = []byte("vessels/fee/")
	ownersPrefix  = []byte("vessels/owners/")
	surplusPrefix = []byte("vessels/surplus/")
)

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func assetScopedKey(prefix []byte, asset string) []byte {
	buf := make([]byte, 0, len(prefix)+len(asset))
	buf = append(buf, prefix...)
	return append(buf, asset...)
}

func ownerScopedKey(prefix []byte, asset string, owner crypto.Address) []byte {
	raw := owner.Bytes()
	buf := make([]byte, 0, len(prefix)+len(asset)+1+len(raw))
	buf = append(buf, prefix...)
	buf = append(buf, asset...)
	buf = append(buf, '/')
	return append(buf, raw...)
}

type storedVessel struct {
	Status       uint8
	Coll         *big.Int
	Debt         *big.Int
	Stake        *big.Int
	ArrayIndex   uint64
	SnapshotColl *big.Int
	SnapshotDebt *big.Int
	LastFeeEpoch uint64
}

func newStoredVessel(v *Vessel) storedVessel {
	return storedVessel{
		Status:       uint8(v.Status),
		Coll:         v.Coll,
		Debt:         v.Debt,
		Stake:        v.Stake,
		ArrayIndex:   v.ArrayIndex,
		SnapshotColl: v.Snapshot.Coll,
		SnapshotDebt: v.Snapshot.Debt,
		LastFeeEpoch: v.LastFeeEpoch,
	}
}

func (s storedVessel) vessel(asset string, owner crypto.Address) *Vessel {
	v := &Vessel{
		Asset:        asset,
		Owner:        owner,
		Status:       Status(s.Status),
		Coll:         s.Coll,
		Debt:         s.Debt,
		Stake:        s.Stake,
		ArrayIndex:   s.ArrayIndex,
		Snapshot:     RewardSnapshot{Coll: s.SnapshotColl, Debt: s.SnapshotDebt},
		LastFeeEpoch: s.LastFeeEpoch,
	}
	v.ensure()
	return v
}

type storedOwners struct {
	Owners [][]byte
}

// kvStore maps engine records onto the key-value store.
type kvStore struct {
	kv Storage
}

func (s kvStore) vessel(asset string, owner crypto.Address) (*Vessel, error) {
	var stored storedVessel
	if _, err := s.kv.KVGet(ownerScopedKey(vesselPrefix, asset, owner), &stored); err != nil {
		return nil, err
	}
	return stored.vessel(asset, owner), nil
}

func (s kvStore) putVessel(v *Vessel) error {
	return s.kv.KVPut(ownerScopedKey(vesselPrefix, v.Asset, v.Owner), newStoredVessel(v))
}

func (s kvStore) assetState(asset string) (*AssetState, error) {
	state := &AssetState{}
	if _, err := s.kv.KVGet(assetScopedKey(assetPrefix, asset), state); err != nil {
		return nil, err
	}
	state.ensure()
	return state, nil
}

func (s kvStore) putAssetState(asset string, state *AssetState) error {
	return s.kv.KVPut(assetScopedKey(assetPrefix, asset), state)
}

func (s kvStore) feeState(asset string) (*FeeState, error) {
	state := &FeeState{}
	if _, err := s.kv.KVGet(assetScopedKey(feePrefix, asset), state); err != nil {
		return nil, err
	}
	state.ensure()
	return state, nil
}

func (s kvStore) putFeeState(asset string, state *FeeState) error {
	return s.kv.KVPut(assetScopedKey(feePrefix, asset), state)
}

func (s kvStore) owners(asset string) ([]crypto.Address, error) {
	var stored storedOwners
	if _, err := s.kv.KVGet(assetScopedKey(ownersPrefix, asset), &stored); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(stored.Owners))
	for _, raw := range stored.Owners {
		addr, err := crypto.AddressFromBytes(crypto.AccountPrefix, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func (s kvStore) putOwners(asset string, owners []crypto.Address) error {
	stored := storedOwners{Owners: make([][]byte, 0, len(owners))}
	for _, owner := range owners {
		stored.Owners = append(stored.Owners, append([]byte(nil), owner.Bytes()...))
	}
	return s.kv.KVPut(assetScopedKey(ownersPrefix, asset), stored)
}

func (s kvStore) surplus(asset string, owner crypto.Address) (*big.Int, error) {
	value := new(big.Int)
	if _, err := s.kv.KVGet(ownerScopedKey(surplusPrefix, asset, owner), value); err != nil {
		return nil, err
	}
	return value, nil
}

func (s kvStore) putSurplus(asset string, owner crypto.Address, amount *big.Int) error {
	return s.kv.KVPut(ownerScopedKey(surplusPrefix, asset, owner), amount)
}
