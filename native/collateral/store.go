package collateral

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"vesselchain/crypto"
)

var (
	ErrInvalidAsset       = errors.New("collateral: asset symbol required")
	ErrUnknownAsset       = errors.New("collateral: asset not registered")
	ErrAssetExists        = errors.New("collateral: asset already registered")
	ErrOutOfSafetyBounds  = errors.New("collateral: value outside safety bounds")
	ErrStoreNotConfigured = errors.New("collateral: store not initialised")
)

func wrapParam(name string, err error) error {
	return fmt.Errorf("collateral: %s: %w", name, err)
}

// Role identifies a whitelist maintained by the store.
type Role string

const (
	RoleRedeemer   Role = "redeemer"
	RoleLiquidator Role = "liquidator"
)

// Storage is the persistence surface required by the store.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

type storedParams struct {
	Asset                    string
	Decimals                 uint8
	Active                   bool
	MCR                      *big.Int
	CCR                      *big.Int
	MinNetDebt               *big.Int
	MintCap                  *big.Int
	BorrowingFee             *big.Int
	RedemptionFeeFloor       *big.Int
	DebtGasCompensation      *big.Int
	PercentDivisor           uint64
	RedemptionBlockTimestamp uint64
	RedemptionBaseFeeEnabled bool
}

func newStoredParams(p Params) storedParams {
	return storedParams(p.Clone())
}

func (s storedParams) params() Params {
	return Params(s).Clone()
}

// Store persists collateral parameters and the redeemer/liquidator
// whitelists. Setters validate against the safety bounds before writing.
type Store struct {
	mu    sync.RWMutex
	store Storage
}

// NewStore constructs a parameter store backed by the provided storage.
func NewStore(store Storage) *Store {
	return &Store{store: store}
}

// AddCollateral registers a new asset with default risk parameters.
func (s *Store) AddCollateral(asset string, decimals uint8, gasCompensation *big.Int) (Params, error) {
	if s == nil || s.store == nil {
		return Params{}, ErrStoreNotConfigured
	}
	normalized := NormalizeAsset(asset)
	if normalized == "" {
		return Params{}, ErrInvalidAsset
	}
	params := DefaultParams(normalized, decimals, gasCompensation)
	if err := params.Validate(); err != nil {
		return Params{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.store.KVGet(paramsKey(normalized), nil)
	if err != nil {
		return Params{}, err
	}
	if ok {
		return Params{}, ErrAssetExists
	}
	if err := s.store.KVPut(paramsKey(normalized), newStoredParams(params)); err != nil {
		return Params{}, err
	}
	if err := s.store.KVAppend(assetIndexKey, []byte(normalized)); err != nil {
		return Params{}, err
	}
	return params.Clone(), nil
}

// PutParams replaces every parameter of a registered or new asset at once.
// It is used when loading collateral sets from configuration.
func (s *Store) PutParams(params Params) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	params.Asset = NormalizeAsset(params.Asset)
	if err := params.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.KVPut(paramsKey(params.Asset), newStoredParams(params)); err != nil {
		return err
	}
	return s.store.KVAppend(assetIndexKey, []byte(params.Asset))
}

// Params returns a copy of the parameters registered for asset.
func (s *Store) Params(asset string) (Params, error) {
	if s == nil || s.store == nil {
		return Params{}, ErrStoreNotConfigured
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(asset)
}

func (s *Store) load(asset string) (Params, error) {
	normalized := NormalizeAsset(asset)
	if normalized == "" {
		return Params{}, ErrInvalidAsset
	}
	var stored storedParams
	ok, err := s.store.KVGet(paramsKey(normalized), &stored)
	if err != nil {
		return Params{}, err
	}
	if !ok {
		return Params{}, fmt.Errorf("%w: %s", ErrUnknownAsset, normalized)
	}
	return stored.params(), nil
}

// Assets lists registered assets in registration order.
func (s *Store) Assets() ([]string, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var raw [][]byte
	if err := s.store.KVGetList(assetIndexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		out = append(out, string(entry))
	}
	return out, nil
}

func (s *Store) update(asset string, mutate func(*Params) error) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	params, err := s.load(asset)
	if err != nil {
		return err
	}
	if err := mutate(&params); err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	return s.store.KVPut(paramsKey(params.Asset), newStoredParams(params))
}

func (s *Store) SetMCR(asset string, value *big.Int) error {
	return s.update(asset, func(p *Params) error {
		if err := checkRange(value, minMCR, maxMCR); err != nil {
			return wrapParam("mcr", err)
		}
		p.MCR = new(big.Int).Set(value)
		return nil
	})
}

func (s *Store) SetCCR(asset string, value *big.Int) error {
	return s.update(asset, func(p *Params) error {
		if err := checkRange(value, nil, maxCCR); err != nil {
			return wrapParam("ccr", err)
		}
		p.CCR = new(big.Int).Set(value)
		return nil
	})
}

func (s *Store) SetMinNetDebt(asset string, value *big.Int) error {
	return s.update(asset, func(p *Params) error {
		if err := checkRange(value, nil, maxMinNetDebt); err != nil {
			return wrapParam("min net debt", err)
		}
		p.MinNetDebt = new(big.Int).Set(value)
		return nil
	})
}

func (s *Store) SetMintCap(asset string, value *big.Int) error {
	return s.update(asset, func(p *Params) error {
		if err := checkRange(value, nil, nil); err != nil {
			return wrapParam("mint cap", err)
		}
		p.MintCap = new(big.Int).Set(value)
		return nil
	})
}

func (s *Store) SetBorrowingFee(asset string, value *big.Int) error {
	return s.update(asset, func(p *Params) error {
		if err := checkRange(value, nil, maxBorrowingFee); err != nil {
			return wrapParam("borrowing fee", err)
		}
		p.BorrowingFee = new(big.Int).Set(value)
		return nil
	})
}

func (s *Store) SetRedemptionFeeFloor(asset string, value *big.Int) error {
	return s.update(asset, func(p *Params) error {
		if err := checkRange(value, nil, maxRedemptionFeeFloor); err != nil {
			return wrapParam("redemption fee floor", err)
		}
		p.RedemptionFeeFloor = new(big.Int).Set(value)
		return nil
	})
}

func (s *Store) SetPercentDivisor(asset string, value uint64) error {
	return s.update(asset, func(p *Params) error {
		if value < minPercentDivisor || value > maxPercentDivisor {
			return wrapParam("percent divisor", ErrOutOfSafetyBounds)
		}
		p.PercentDivisor = value
		return nil
	})
}

// SetRedemptionBlockTimestamp blocks redemptions of asset until the unix
// timestamp has passed.
func (s *Store) SetRedemptionBlockTimestamp(asset string, ts uint64) error {
	return s.update(asset, func(p *Params) error {
		p.RedemptionBlockTimestamp = ts
		return nil
	})
}

// SetRedemptionBaseFeeEnabled toggles the dynamic base rate component of the
// redemption fee. When disabled only the floor is charged.
func (s *Store) SetRedemptionBaseFeeEnabled(asset string, enabled bool) error {
	return s.update(asset, func(p *Params) error {
		p.RedemptionBaseFeeEnabled = enabled
		return nil
	})
}

func (s *Store) SetActive(asset string, active bool) error {
	return s.update(asset, func(p *Params) error {
		p.Active = active
		return nil
	})
}

// SetWhitelisted adds or removes addr from the role's whitelist.
func (s *Store) SetWhitelisted(role Role, addr crypto.Address, allowed bool) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.KVPut(whitelistKey(role, addr), allowed)
}

// IsWhitelisted reports whether addr is on the role's whitelist.
func (s *Store) IsWhitelisted(role Role, addr crypto.Address) (bool, error) {
	if s == nil || s.store == nil {
		return false, ErrStoreNotConfigured
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var allowed bool
	if _, err := s.store.KVGet(whitelistKey(role, addr), &allowed); err != nil {
		return false, err
	}
	return allowed, nil
}

// SetWhitelistEnforced toggles whether the role's whitelist is consulted.
func (s *Store) SetWhitelistEnforced(role Role, enforced bool) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.KVPut(whitelistEnforcedKey(role), enforced)
}

// WhitelistEnforced reports whether the role's whitelist is consulted.
func (s *Store) WhitelistEnforced(role Role) (bool, error) {
	if s == nil || s.store == nil {
		return false, ErrStoreNotConfigured
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var enforced bool
	if _, err := s.store.KVGet(whitelistEnforcedKey(role), &enforced); err != nil {
		return false, err
	}
	return enforced, nil
}

// Authorized combines WhitelistEnforced and IsWhitelisted.
func (s *Store) Authorized(role Role, addr crypto.Address) (bool, error) {
	enforced, err := s.WhitelistEnforced(role)
	if err != nil {
		return false, err
	}
	if !enforced {
		return true, nil
	}
	return s.IsWhitelisted(role, addr)
}
