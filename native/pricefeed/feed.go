package pricefeed

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"vesselchain/native/fixedpoint"
)

var (
	// ErrStalePrice indicates the latest quote is older than the freshness window.
	ErrStalePrice = errors.New("pricefeed: stale price")
	// ErrNoPrice indicates no quote was ever recorded for the asset.
	ErrNoPrice = errors.New("pricefeed: price not available")
	// ErrInvalidPrice rejects zero or negative quotes.
	ErrInvalidPrice = errors.New("pricefeed: price must be positive")
)

// Quote is an 18-decimal debt-token price for one unit of collateral.
type Quote struct {
	Price     *big.Int
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Feed keeps the latest quote per collateral asset and enforces a freshness
// window on reads. A zero max age disables the staleness check.
type Feed struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	maxAge time.Duration
	clock  func() time.Time
}

// NewFeed constructs an empty feed with the provided freshness window.
func NewFeed(maxAge time.Duration) *Feed {
	return &Feed{quotes: make(map[string]Quote), maxAge: maxAge, clock: time.Now}
}

// SetClock overrides the time source for deterministic testing.
func (f *Feed) SetClock(clock func() time.Time) {
	if f == nil || clock == nil {
		return
	}
	f.mu.Lock()
	f.clock = clock
	f.mu.Unlock()
}

// SetMaxAge updates the freshness window used when serving prices.
func (f *Feed) SetMaxAge(maxAge time.Duration) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.maxAge = maxAge
	f.mu.Unlock()
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// SetPrice records an 18-decimal price for asset observed at ts. A zero ts
// stamps the quote with the feed clock.
func (f *Feed) SetPrice(asset string, price *big.Int, ts time.Time, source string) error {
	if f == nil {
		return fmt.Errorf("pricefeed: feed not configured")
	}
	key := normalizeAsset(asset)
	if key == "" {
		return fmt.Errorf("pricefeed: asset required")
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	if err := fixedpoint.CheckUint256(price); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if ts.IsZero() {
		ts = f.clock()
	}
	f.quotes[key] = Quote{Price: new(big.Int).Set(price), Timestamp: ts, Source: strings.TrimSpace(source)}
	return nil
}

// SetDecimal records a human readable price such as "1850.25".
func (f *Feed) SetDecimal(asset, price string, ts time.Time, source string) error {
	parsed, err := fixedpoint.ParseDecimal(price)
	if err != nil {
		return fmt.Errorf("pricefeed: %w", err)
	}
	return f.SetPrice(asset, parsed, ts, source)
}

// Quote returns the latest quote without applying the freshness window.
func (f *Feed) Quote(asset string) (Quote, bool) {
	if f == nil {
		return Quote{}, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[normalizeAsset(asset)]
	if !ok {
		return Quote{}, false
	}
	return q.Clone(), true
}

// GetPrice returns the current price for asset, failing with ErrStalePrice
// when the quote is older than the freshness window.
func (f *Feed) GetPrice(asset string) (*big.Int, error) {
	if f == nil {
		return nil, fmt.Errorf("pricefeed: feed not configured")
	}
	key := normalizeAsset(asset)
	f.mu.RLock()
	q, ok := f.quotes[key]
	now := f.clock()
	maxAge := f.maxAge
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, key)
	}
	if maxAge > 0 && now.Sub(q.Timestamp) > maxAge {
		return nil, fmt.Errorf("%w: %s last updated %s", ErrStalePrice, key, q.Timestamp.UTC().Format(time.RFC3339))
	}
	return new(big.Int).Set(q.Price), nil
}
