package tokens

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"vesselchain/core/events"
	"vesselchain/crypto"
	"vesselchain/native/fixedpoint"
)

var (
	ErrInvalidAmount       = errors.New("tokens: amount must be positive")
	ErrInsufficientBalance = errors.New("tokens: insufficient balance")
	ErrInvalidToken        = errors.New("tokens: token symbol required")
	errNilStore            = errors.New("tokens: store not initialised")
)

// Storage is the persistence surface required by the ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	balancePrefix = []byte("tokens/balance/")
	supplyPrefix  = []byte("tokens/supply/")
)

func balanceKey(token string, addr crypto.Address) []byte {
	raw := addr.Bytes()
	buf := make([]byte, 0, len(balancePrefix)+len(token)+1+len(raw))
	buf = append(buf, balancePrefix...)
	buf = append(buf, token...)
	buf = append(buf, '/')
	return append(buf, raw...)
}

func supplyKey(token string) []byte {
	buf := make([]byte, 0, len(supplyPrefix)+len(token))
	buf = append(buf, supplyPrefix...)
	return append(buf, token...)
}

// Ledger tracks balances and total supply for any number of fungible tokens.
// Debt token and collateral balances both live here under their own symbols.
type Ledger struct {
	mu      sync.RWMutex
	store   Storage
	emitter events.Emitter
}

// NewLedger constructs a ledger backed by the provided storage.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store, emitter: events.NoopEmitter{}}
}

// SetEmitter wires the supply change event sink.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

func normalizeToken(token string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(token))
	if normalized == "" {
		return "", ErrInvalidToken
	}
	return normalized, nil
}

func (l *Ledger) read(key []byte) (*big.Int, error) {
	value := new(big.Int)
	if _, err := l.store.KVGet(key, value); err != nil {
		return nil, err
	}
	return value, nil
}

// BalanceOf returns the balance of addr in token.
func (l *Ledger) BalanceOf(token string, addr crypto.Address) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, errNilStore
	}
	symbol, err := normalizeToken(token)
	if err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.read(balanceKey(symbol, addr))
}

// TotalSupply returns the outstanding supply of token.
func (l *Ledger) TotalSupply(token string) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, errNilStore
	}
	symbol, err := normalizeToken(token)
	if err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.read(supplyKey(symbol))
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return fixedpoint.CheckUint256(amount)
}

// Mint credits amount to addr and increases the supply.
func (l *Ledger) Mint(token string, to crypto.Address, amount *big.Int) error {
	if l == nil || l.store == nil {
		return errNilStore
	}
	symbol, err := normalizeToken(token)
	if err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.read(balanceKey(symbol, to))
	if err != nil {
		return err
	}
	supply, err := l.read(supplyKey(symbol))
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	supply.Add(supply, amount)
	if err := fixedpoint.CheckUint256(supply); err != nil {
		return fmt.Errorf("tokens: mint %s: %w", symbol, err)
	}
	if err := l.store.KVPut(balanceKey(symbol, to), balance); err != nil {
		return err
	}
	if err := l.store.KVPut(supplyKey(symbol), supply); err != nil {
		return err
	}
	l.emitter.Emit(events.TokenSupply{Token: symbol, Total: supply, Delta: amount, Reason: events.SupplyReasonMint})
	return nil
}

// Burn debits amount from addr and reduces the supply.
func (l *Ledger) Burn(token string, from crypto.Address, amount *big.Int) error {
	if l == nil || l.store == nil {
		return errNilStore
	}
	symbol, err := normalizeToken(token)
	if err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.read(balanceKey(symbol, from))
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, symbol, balance, amount)
	}
	supply, err := l.read(supplyKey(symbol))
	if err != nil {
		return err
	}
	balance.Sub(balance, amount)
	supply.Sub(supply, amount)
	if err := l.store.KVPut(balanceKey(symbol, from), balance); err != nil {
		return err
	}
	if err := l.store.KVPut(supplyKey(symbol), supply); err != nil {
		return err
	}
	l.emitter.Emit(events.TokenSupply{Token: symbol, Total: supply, Delta: new(big.Int).Neg(amount), Reason: events.SupplyReasonBurn})
	return nil
}

// Transfer moves amount of token between two accounts.
func (l *Ledger) Transfer(token string, from, to crypto.Address, amount *big.Int) error {
	if l == nil || l.store == nil {
		return errNilStore
	}
	symbol, err := normalizeToken(token)
	if err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fromBalance, err := l.read(balanceKey(symbol, from))
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, symbol, fromBalance, amount)
	}
	if from.Equal(to) {
		return nil
	}
	toBalance, err := l.read(balanceKey(symbol, to))
	if err != nil {
		return err
	}
	fromBalance.Sub(fromBalance, amount)
	toBalance.Add(toBalance, amount)
	if err := l.store.KVPut(balanceKey(symbol, from), fromBalance); err != nil {
		return err
	}
	return l.store.KVPut(balanceKey(symbol, to), toBalance)
}
