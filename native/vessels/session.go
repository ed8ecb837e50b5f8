package vessels

import (
	"fmt"
	"math/big"
	"time"

	"vesselchain/core/events"
	"vesselchain/crypto"
)

type indexOpKind uint8

const (
	indexInsert indexOpKind = iota
	indexReInsert
	indexRemove
)

type indexOp struct {
	kind  indexOpKind
	asset string
	owner crypto.Address
	nicr  *big.Int
	prev  crypto.Address
	next  crypto.Address
}

type effect struct {
	name  string
	apply func() error
}

type surplusEntry struct {
	asset  string
	owner  crypto.Address
	amount *big.Int
}

// session stages the reads and writes of one engine call. Nothing reaches
// storage, the index or the token ledgers until commit.
type session struct {
	engine *Engine
	now    time.Time

	vessels     map[string]*Vessel
	vesselOrder []string
	dirtyVessel map[string]bool

	assets     map[string]*AssetState
	assetOrder []string
	dirtyAsset map[string]bool

	fees     map[string]*FeeState
	feeOrder []string
	dirtyFee map[string]bool

	owners      map[string][]crypto.Address
	ownersOrder []string
	dirtyOwners map[string]bool

	surplus      map[string]*surplusEntry
	surplusOrder []string

	indexOps []indexOp
	effects  []effect
	events   []events.Event
}

func (e *Engine) newSession() *session {
	return &session{
		engine:      e,
		now:         e.now(),
		vessels:     make(map[string]*Vessel),
		dirtyVessel: make(map[string]bool),
		assets:      make(map[string]*AssetState),
		dirtyAsset:  make(map[string]bool),
		fees:        make(map[string]*FeeState),
		dirtyFee:    make(map[string]bool),
		owners:      make(map[string][]crypto.Address),
		dirtyOwners: make(map[string]bool),
		surplus:     make(map[string]*surplusEntry),
	}
}

func vesselKey(asset string, owner crypto.Address) string {
	return asset + "/" + owner.Key()
}

func (s *session) vessel(asset string, owner crypto.Address) (*Vessel, error) {
	key := vesselKey(asset, owner)
	if v, ok := s.vessels[key]; ok {
		return v, nil
	}
	v, err := s.engine.store.vessel(asset, owner)
	if err != nil {
		return nil, err
	}
	s.vessels[key] = v
	return v, nil
}

func (s *session) touchVessel(v *Vessel) {
	key := vesselKey(v.Asset, v.Owner)
	if !s.dirtyVessel[key] {
		s.dirtyVessel[key] = true
		s.vesselOrder = append(s.vesselOrder, key)
	}
}

func (s *session) assetState(asset string) (*AssetState, error) {
	if state, ok := s.assets[asset]; ok {
		return state, nil
	}
	state, err := s.engine.store.assetState(asset)
	if err != nil {
		return nil, err
	}
	s.assets[asset] = state
	return state, nil
}

func (s *session) touchAsset(asset string) {
	if !s.dirtyAsset[asset] {
		s.dirtyAsset[asset] = true
		s.assetOrder = append(s.assetOrder, asset)
	}
}

func (s *session) feeState(asset string) (*FeeState, error) {
	if state, ok := s.fees[asset]; ok {
		return state, nil
	}
	state, err := s.engine.store.feeState(asset)
	if err != nil {
		return nil, err
	}
	s.fees[asset] = state
	return state, nil
}

func (s *session) touchFee(asset string) {
	if !s.dirtyFee[asset] {
		s.dirtyFee[asset] = true
		s.feeOrder = append(s.feeOrder, asset)
	}
}

func (s *session) ownerList(asset string) ([]crypto.Address, error) {
	if owners, ok := s.owners[asset]; ok {
		return owners, nil
	}
	owners, err := s.engine.store.owners(asset)
	if err != nil {
		return nil, err
	}
	s.owners[asset] = owners
	return owners, nil
}

func (s *session) setOwners(asset string, owners []crypto.Address) {
	s.owners[asset] = owners
	if !s.dirtyOwners[asset] {
		s.dirtyOwners[asset] = true
		s.ownersOrder = append(s.ownersOrder, asset)
	}
}

// addOwner appends the vessel to the asset's owner list.
func (s *session) addOwner(v *Vessel) error {
	owners, err := s.ownerList(v.Asset)
	if err != nil {
		return err
	}
	v.ArrayIndex = uint64(len(owners))
	s.setOwners(v.Asset, append(owners, v.Owner))
	return nil
}

// removeOwner swaps the last owner into the vessel's slot and pops the list.
func (s *session) removeOwner(v *Vessel) error {
	owners, err := s.ownerList(v.Asset)
	if err != nil {
		return err
	}
	length := uint64(len(owners))
	idx := v.ArrayIndex
	if idx >= length || !owners[idx].Equal(v.Owner) {
		return fmt.Errorf("vessels: owner list corrupt at %s[%d]", v.Asset, idx)
	}
	last := owners[length-1]
	updated := append([]crypto.Address(nil), owners[:length-1]...)
	if idx != length-1 {
		updated[idx] = last
		moved, err := s.vessel(v.Asset, last)
		if err != nil {
			return err
		}
		moved.ArrayIndex = idx
		s.touchVessel(moved)
	}
	v.ArrayIndex = 0
	s.setOwners(v.Asset, updated)
	return nil
}

func (s *session) surplusOf(asset string, owner crypto.Address) (*surplusEntry, error) {
	key := vesselKey(asset, owner)
	if entry, ok := s.surplus[key]; ok {
		return entry, nil
	}
	amount, err := s.engine.store.surplus(asset, owner)
	if err != nil {
		return nil, err
	}
	entry := &surplusEntry{asset: asset, owner: owner, amount: amount}
	s.surplus[key] = entry
	s.surplusOrder = append(s.surplusOrder, key)
	return entry, nil
}

func (s *session) insertIndex(v *Vessel, nicr *big.Int, prev, next crypto.Address) {
	s.indexOps = append(s.indexOps, indexOp{kind: indexInsert, asset: v.Asset, owner: v.Owner, nicr: nicr, prev: prev, next: next})
}

func (s *session) reInsertIndex(v *Vessel, nicr *big.Int, prev, next crypto.Address) {
	s.indexOps = append(s.indexOps, indexOp{kind: indexReInsert, asset: v.Asset, owner: v.Owner, nicr: nicr, prev: prev, next: next})
}

func (s *session) removeIndex(v *Vessel) {
	s.indexOps = append(s.indexOps, indexOp{kind: indexRemove, asset: v.Asset, owner: v.Owner})
}

func (s *session) effect(name string, apply func() error) {
	s.effects = append(s.effects, effect{name: name, apply: apply})
}

func (s *session) emit(evt events.Event) {
	s.events = append(s.events, evt)
}

// commit persists staged state, then updates the index, then runs token
// effects in the order they were staged and finally emits events. The index
// reads nominal ICRs back from storage, so state must land first.
func (s *session) commit() error {
	store := s.engine.store
	for _, key := range s.vesselOrder {
		if err := store.putVessel(s.vessels[key]); err != nil {
			return err
		}
	}
	for _, asset := range s.assetOrder {
		if err := store.putAssetState(asset, s.assets[asset]); err != nil {
			return err
		}
	}
	for _, asset := range s.feeOrder {
		if err := store.putFeeState(asset, s.fees[asset]); err != nil {
			return err
		}
	}
	for _, asset := range s.ownersOrder {
		if err := store.putOwners(asset, s.owners[asset]); err != nil {
			return err
		}
	}
	for _, key := range s.surplusOrder {
		entry := s.surplus[key]
		if err := store.putSurplus(entry.asset, entry.owner, entry.amount); err != nil {
			return err
		}
	}
	index := s.engine.index
	for _, op := range s.indexOps {
		var err error
		switch op.kind {
		case indexInsert:
			err = index.Insert(op.asset, op.owner, op.nicr, op.prev, op.next)
		case indexReInsert:
			err = index.ReInsert(op.asset, op.owner, op.nicr, op.prev, op.next)
		case indexRemove:
			err = index.Remove(op.asset, op.owner)
		}
		if err != nil {
			return fmt.Errorf("vessels: index %s: %w", op.owner, err)
		}
	}
	for _, eff := range s.effects {
		if err := eff.apply(); err != nil {
			return fmt.Errorf("vessels: %s: %w", eff.name, err)
		}
	}
	for _, evt := range s.events {
		s.engine.emitter.Emit(evt)
	}
	return nil
}
