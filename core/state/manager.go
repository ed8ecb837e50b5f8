package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"vesselchain/storage"
)

// ErrEmptyKey is returned by every helper when called with a nil or empty key.
var ErrEmptyKey = errors.New("state: key must not be empty")

// Manager persists module records as RLP under keccak-hashed keys. Collateral
// params, vessels, snapshots, the sorted index, token balances and stability
// deposits all go through it.
type Manager struct {
	mu sync.RWMutex
	db storage.Database
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func hashKey(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	return ethcrypto.Keccak256(key), nil
}

// load returns nil data for an absent key. Callers hold the lock.
func (m *Manager) load(hashed []byte) ([]byte, error) {
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	hashed, err := hashKey(key)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(hashed, encoded)
}

// KVGet decodes the record under key into out and reports whether it existed.
// A nil out only checks presence.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	hashed, err := hashKey(key)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	data, err := m.load(hashed)
	m.mu.RUnlock()
	if err != nil || len(data) == 0 {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) KVDelete(key []byte) error {
	hashed, err := hashKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Delete(hashed)
}

// KVAppend adds value to the byte-slice list under key unless it is already
// present. Insertion order is preserved.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	hashed, err := hashKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := m.load(hashed)
	if err != nil {
		return err
	}
	var members [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &members); err != nil {
			return fmt.Errorf("state: decode list %q: %w", key, err)
		}
	}
	for _, member := range members {
		if bytes.Equal(member, value) {
			return nil
		}
	}
	members = append(members, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(members)
	if err != nil {
		return err
	}
	return m.db.Put(hashed, encoded)
}

// KVGetList decodes the list under key into out, a pointer to a slice. An
// absent key leaves out as an empty, non-nil slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	hashed, err := hashKey(key)
	if err != nil {
		return err
	}
	m.mu.RLock()
	data, err := m.load(hashed)
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	if len(data) > 0 {
		return rlp.DecodeBytes(data, out)
	}
	return emptySlice(out)
}

func emptySlice(out interface{}) error {
	ptr := reflect.ValueOf(out)
	if ptr.Kind() != reflect.Ptr || ptr.IsNil() {
		return fmt.Errorf("state: list destination must be a non-nil pointer, got %T", out)
	}
	slice := ptr.Elem()
	if slice.Kind() != reflect.Slice {
		return fmt.Errorf("state: list destination must point to a slice, got %T", out)
	}
	slice.Set(reflect.MakeSlice(slice.Type(), 0, 0))
	return nil
}
