package sortedvessels

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"vesselchain/crypto"
)

var (
	ErrAlreadyListed  = errors.New("sortedvessels: vessel already in list")
	ErrNotListed      = errors.New("sortedvessels: vessel not in list")
	ErrZeroOwner      = errors.New("sortedvessels: owner must not be zero")
	ErrZeroNICR       = errors.New("sortedvessels: nominal ICR must be positive")
	errNilStore       = errors.New("sortedvessels: store not initialised")
	errNoNICRSource   = errors.New("sortedvessels: nominal ICR source not configured")
	errAssetRequired  = errors.New("sortedvessels: asset required")
	errCorruptPointer = errors.New("sortedvessels: list pointer references missing node")
)

// NICRSource reports the live nominal ICR of a listed vessel, including any
// pending redistribution rewards.
type NICRSource interface {
	NominalICR(asset string, owner crypto.Address) (*big.Int, error)
}

// Storage is the persistence surface required by the list.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type storedNode struct {
	Exists bool
	Next   []byte
	Prev   []byte
}

type storedMeta struct {
	Head []byte
	Tail []byte
	Size uint64
}

// List keeps the vessels of every asset ordered by nominal ICR, highest at the
// head and lowest at the tail. Keys are not stored: ordering is checked
// against the live NICR reported by the configured source, so callers pass
// hints that are re-validated before use.
type List struct {
	mu     sync.RWMutex
	store  Storage
	source NICRSource
}

// NewList constructs a list backed by the provided storage.
func NewList(store Storage) *List {
	return &List{store: store}
}

// SetNICRSource wires the nominal ICR lookup used to validate positions.
func (l *List) SetNICRSource(source NICRSource) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.source = source
	l.mu.Unlock()
}

var (
	metaPrefix = []byte("sortedvessels/meta/")
	nodePrefix = []byte("sortedvessels/node/")
)

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func metaKey(asset string) []byte {
	buf := make([]byte, 0, len(metaPrefix)+len(asset))
	buf = append(buf, metaPrefix...)
	return append(buf, asset...)
}

func nodeKey(asset string, id []byte) []byte {
	buf := make([]byte, 0, len(nodePrefix)+len(asset)+1+len(id))
	buf = append(buf, nodePrefix...)
	buf = append(buf, asset...)
	buf = append(buf, '/')
	return append(buf, id...)
}

func toAddress(raw []byte) crypto.Address {
	if len(raw) != crypto.AddressLength {
		return crypto.Address{}
	}
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func rawID(addr crypto.Address) []byte {
	if addr.IsZero() {
		return nil
	}
	return append([]byte(nil), addr.Bytes()...)
}

// view is a single-asset cursor over the persisted list. Node reads are cached
// so that a traversal touches storage once per node.
type view struct {
	list  *List
	asset string
	meta  storedMeta
	nodes map[string]*storedNode
	dirty map[string]bool
}

func (l *List) view(asset string) (*view, error) {
	if l == nil || l.store == nil {
		return nil, errNilStore
	}
	normalized := normalizeAsset(asset)
	if normalized == "" {
		return nil, errAssetRequired
	}
	v := &view{list: l, asset: normalized, nodes: make(map[string]*storedNode), dirty: make(map[string]bool)}
	if _, err := l.store.KVGet(metaKey(normalized), &v.meta); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *view) node(id []byte) (*storedNode, error) {
	if node, ok := v.nodes[string(id)]; ok {
		return node, nil
	}
	node := &storedNode{}
	if len(id) > 0 {
		if _, err := v.list.store.KVGet(nodeKey(v.asset, id), node); err != nil {
			return nil, err
		}
	}
	v.nodes[string(id)] = node
	return node, nil
}

func (v *view) contains(id []byte) (bool, error) {
	if len(id) == 0 {
		return false, nil
	}
	node, err := v.node(id)
	if err != nil {
		return false, err
	}
	return node.Exists, nil
}

func (v *view) nicr(id []byte) (*big.Int, error) {
	if v.list.source == nil {
		return nil, errNoNICRSource
	}
	return v.list.source.NominalICR(v.asset, toAddress(id))
}

func (v *view) flush() error {
	for id := range v.dirty {
		if err := v.list.store.KVPut(nodeKey(v.asset, []byte(id)), v.nodes[id]); err != nil {
			return err
		}
	}
	return v.list.store.KVPut(metaKey(v.asset), v.meta)
}

func (v *view) validInsertPosition(nicr *big.Int, prev, next []byte) (bool, error) {
	switch {
	case len(prev) == 0 && len(next) == 0:
		return v.meta.Size == 0, nil
	case len(prev) == 0:
		if string(v.meta.Head) != string(next) {
			return false, nil
		}
		nextNICR, err := v.nicr(next)
		if err != nil {
			return false, err
		}
		return nicr.Cmp(nextNICR) >= 0, nil
	case len(next) == 0:
		if string(v.meta.Tail) != string(prev) {
			return false, nil
		}
		prevNICR, err := v.nicr(prev)
		if err != nil {
			return false, err
		}
		return nicr.Cmp(prevNICR) <= 0, nil
	default:
		prevNode, err := v.node(prev)
		if err != nil {
			return false, err
		}
		if string(prevNode.Next) != string(next) {
			return false, nil
		}
		prevNICR, err := v.nicr(prev)
		if err != nil {
			return false, err
		}
		nextNICR, err := v.nicr(next)
		if err != nil {
			return false, err
		}
		return prevNICR.Cmp(nicr) >= 0 && nicr.Cmp(nextNICR) >= 0, nil
	}
}

func (v *view) descend(nicr *big.Int, start []byte) ([]byte, []byte, error) {
	if string(v.meta.Head) == string(start) {
		startNICR, err := v.nicr(start)
		if err != nil {
			return nil, nil, err
		}
		if nicr.Cmp(startNICR) >= 0 {
			return nil, start, nil
		}
	}
	prev := start
	startNode, err := v.node(prev)
	if err != nil {
		return nil, nil, err
	}
	next := startNode.Next
	for len(prev) > 0 {
		ok, err := v.validInsertPosition(nicr, prev, next)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			break
		}
		prevNode, err := v.node(prev)
		if err != nil {
			return nil, nil, err
		}
		prev = prevNode.Next
		if len(prev) == 0 {
			next = nil
			break
		}
		nextNode, err := v.node(prev)
		if err != nil {
			return nil, nil, err
		}
		next = nextNode.Next
	}
	return prev, next, nil
}

func (v *view) ascend(nicr *big.Int, start []byte) ([]byte, []byte, error) {
	if string(v.meta.Tail) == string(start) {
		startNICR, err := v.nicr(start)
		if err != nil {
			return nil, nil, err
		}
		if nicr.Cmp(startNICR) <= 0 {
			return start, nil, nil
		}
	}
	next := start
	startNode, err := v.node(next)
	if err != nil {
		return nil, nil, err
	}
	prev := startNode.Prev
	for len(next) > 0 {
		ok, err := v.validInsertPosition(nicr, prev, next)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			break
		}
		nextNode, err := v.node(next)
		if err != nil {
			return nil, nil, err
		}
		next = nextNode.Prev
		if len(next) == 0 {
			prev = nil
			break
		}
		prevNode, err := v.node(next)
		if err != nil {
			return nil, nil, err
		}
		prev = prevNode.Prev
	}
	return prev, next, nil
}

func (v *view) findInsertPosition(nicr *big.Int, prev, next []byte) ([]byte, []byte, error) {
	if len(prev) > 0 {
		listed, err := v.contains(prev)
		if err != nil {
			return nil, nil, err
		}
		if !listed {
			prev = nil
		} else {
			prevNICR, err := v.nicr(prev)
			if err != nil {
				return nil, nil, err
			}
			if nicr.Cmp(prevNICR) > 0 {
				prev = nil
			}
		}
	}
	if len(next) > 0 {
		listed, err := v.contains(next)
		if err != nil {
			return nil, nil, err
		}
		if !listed {
			next = nil
		} else {
			nextNICR, err := v.nicr(next)
			if err != nil {
				return nil, nil, err
			}
			if nicr.Cmp(nextNICR) < 0 {
				next = nil
			}
		}
	}
	switch {
	case len(prev) == 0 && len(next) == 0:
		if v.meta.Size == 0 {
			return nil, nil, nil
		}
		return v.descend(nicr, v.meta.Head)
	case len(prev) == 0:
		return v.ascend(nicr, next)
	default:
		return v.descend(nicr, prev)
	}
}

func (v *view) insert(id []byte, nicr *big.Int, prev, next []byte) error {
	listed, err := v.contains(id)
	if err != nil {
		return err
	}
	if listed {
		return ErrAlreadyListed
	}
	if nicr == nil || nicr.Sign() <= 0 {
		return ErrZeroNICR
	}
	ok, err := v.validInsertPosition(nicr, prev, next)
	if err != nil {
		return err
	}
	if !ok {
		if prev, next, err = v.findInsertPosition(nicr, prev, next); err != nil {
			return err
		}
	}
	node := &storedNode{Exists: true}
	v.nodes[string(id)] = node
	v.dirty[string(id)] = true
	switch {
	case len(prev) == 0 && len(next) == 0:
		v.meta.Head = id
		v.meta.Tail = id
	case len(prev) == 0:
		node.Next = v.meta.Head
		headNode, err := v.node(v.meta.Head)
		if err != nil {
			return err
		}
		headNode.Prev = id
		v.dirty[string(v.meta.Head)] = true
		v.meta.Head = id
	case len(next) == 0:
		node.Prev = v.meta.Tail
		tailNode, err := v.node(v.meta.Tail)
		if err != nil {
			return err
		}
		tailNode.Next = id
		v.dirty[string(v.meta.Tail)] = true
		v.meta.Tail = id
	default:
		node.Next = next
		node.Prev = prev
		prevNode, err := v.node(prev)
		if err != nil {
			return err
		}
		nextNode, err := v.node(next)
		if err != nil {
			return err
		}
		prevNode.Next = id
		nextNode.Prev = id
		v.dirty[string(prev)] = true
		v.dirty[string(next)] = true
	}
	v.meta.Size++
	return nil
}

func (v *view) remove(id []byte) error {
	node, err := v.node(id)
	if err != nil {
		return err
	}
	if !node.Exists {
		return ErrNotListed
	}
	if v.meta.Size > 1 {
		switch {
		case string(id) == string(v.meta.Head):
			v.meta.Head = node.Next
			headNode, err := v.node(node.Next)
			if err != nil {
				return err
			}
			if !headNode.Exists {
				return errCorruptPointer
			}
			headNode.Prev = nil
			v.dirty[string(node.Next)] = true
		case string(id) == string(v.meta.Tail):
			v.meta.Tail = node.Prev
			tailNode, err := v.node(node.Prev)
			if err != nil {
				return err
			}
			if !tailNode.Exists {
				return errCorruptPointer
			}
			tailNode.Next = nil
			v.dirty[string(node.Prev)] = true
		default:
			prevNode, err := v.node(node.Prev)
			if err != nil {
				return err
			}
			nextNode, err := v.node(node.Next)
			if err != nil {
				return err
			}
			prevNode.Next = node.Next
			nextNode.Prev = node.Prev
			v.dirty[string(node.Prev)] = true
			v.dirty[string(node.Next)] = true
		}
	} else {
		v.meta.Head = nil
		v.meta.Tail = nil
	}
	node.Exists = false
	node.Next = nil
	node.Prev = nil
	v.dirty[string(id)] = true
	v.meta.Size--
	return nil
}

// Insert adds owner at the position implied by nicr, using prevHint and
// nextHint as the starting point of the search.
func (l *List) Insert(asset string, owner crypto.Address, nicr *big.Int, prevHint, nextHint crypto.Address) error {
	if owner.IsZero() {
		return ErrZeroOwner
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	v, err := l.view(asset)
	if err != nil {
		return err
	}
	if err := v.insert(rawID(owner), nicr, rawID(prevHint), rawID(nextHint)); err != nil {
		return fmt.Errorf("insert %s: %w", owner, err)
	}
	return v.flush()
}

// Remove unlinks owner from the asset's list.
func (l *List) Remove(asset string, owner crypto.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, err := l.view(asset)
	if err != nil {
		return err
	}
	if err := v.remove(rawID(owner)); err != nil {
		return fmt.Errorf("remove %s: %w", owner, err)
	}
	return v.flush()
}

// ReInsert moves owner to the position implied by its new nominal ICR.
func (l *List) ReInsert(asset string, owner crypto.Address, nicr *big.Int, prevHint, nextHint crypto.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, err := l.view(asset)
	if err != nil {
		return err
	}
	id := rawID(owner)
	if err := v.remove(id); err != nil {
		return fmt.Errorf("reinsert %s: %w", owner, err)
	}
	if err := v.insert(id, nicr, rawID(prevHint), rawID(nextHint)); err != nil {
		return fmt.Errorf("reinsert %s: %w", owner, err)
	}
	return v.flush()
}

// Contains reports whether owner is listed for asset.
func (l *List) Contains(asset string, owner crypto.Address) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, err := l.view(asset)
	if err != nil {
		return false, err
	}
	return v.contains(rawID(owner))
}

// Size returns the number of listed vessels for asset.
func (l *List) Size(asset string) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, err := l.view(asset)
	if err != nil {
		return 0, err
	}
	return v.meta.Size, nil
}

// GetFirst returns the vessel with the highest nominal ICR.
func (l *List) GetFirst(asset string) (crypto.Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, err := l.view(asset)
	if err != nil {
		return crypto.Address{}, err
	}
	return toAddress(v.meta.Head), nil
}

// GetLast returns the vessel with the lowest nominal ICR.
func (l *List) GetLast(asset string) (crypto.Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, err := l.view(asset)
	if err != nil {
		return crypto.Address{}, err
	}
	return toAddress(v.meta.Tail), nil
}

// GetNext returns the neighbour of owner towards the tail (lower NICR).
func (l *List) GetNext(asset string, owner crypto.Address) (crypto.Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, err := l.view(asset)
	if err != nil {
		return crypto.Address{}, err
	}
	node, err := v.node(rawID(owner))
	if err != nil {
		return crypto.Address{}, err
	}
	return toAddress(node.Next), nil
}

// GetPrev returns the neighbour of owner towards the head (higher NICR).
func (l *List) GetPrev(asset string, owner crypto.Address) (crypto.Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, err := l.view(asset)
	if err != nil {
		return crypto.Address{}, err
	}
	node, err := v.node(rawID(owner))
	if err != nil {
		return crypto.Address{}, err
	}
	return toAddress(node.Prev), nil
}

// ValidInsertPosition reports whether (prev, next) brackets nicr.
func (l *List) ValidInsertPosition(asset string, nicr *big.Int, prev, next crypto.Address) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, err := l.view(asset)
	if err != nil {
		return false, err
	}
	return v.validInsertPosition(nicr, rawID(prev), rawID(next))
}

// FindInsertPosition returns the neighbours between which a vessel with the
// given nominal ICR belongs. Stale or invalid hints fall back to a list walk.
func (l *List) FindInsertPosition(asset string, nicr *big.Int, prevHint, nextHint crypto.Address) (crypto.Address, crypto.Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, err := l.view(asset)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	prev, next, err := v.findInsertPosition(nicr, rawID(prevHint), rawID(nextHint))
	if err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	return toAddress(prev), toAddress(next), nil
}

// Walk visits listed vessels from head to tail until fn returns false.
func (l *List) Walk(asset string, fn func(owner crypto.Address) bool) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, err := l.view(asset)
	if err != nil {
		return err
	}
	cursor := v.meta.Head
	for len(cursor) > 0 {
		if !fn(toAddress(cursor)) {
			return nil
		}
		node, err := v.node(cursor)
		if err != nil {
			return err
		}
		cursor = node.Next
	}
	return nil
}
