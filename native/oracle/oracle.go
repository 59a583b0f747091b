package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// PriceQuote captures one observation for an asset along with the timestamp
// reported by the upstream feed and the feed identifier. Prices are E9 fixed
// point (1e9 == $1).
type PriceQuote struct {
	PriceE9   *big.Int
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Timestamp: q.Timestamp, Source: q.Source}
	if q.PriceE9 != nil {
		clone.PriceE9 = new(big.Int).Set(q.PriceE9)
	}
	return clone
}

// PriceFeed resolves the current price for an asset symbol.
type PriceFeed interface {
	GetPrice(asset string) (PriceQuote, error)
}

// ErrNoFreshQuote indicates that the aggregator could not retrieve a quote
// within the configured freshness window.
var ErrNoFreshQuote = errors.New("oracle: no fresh quote available")

// Aggregator consults a list of registered feeds in priority order until a
// fresh quote is obtained. The settlement engine still enforces its own
// staleness and step bounds on whatever the aggregator returns.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	feeds    map[string]PriceFeed
	maxAge   time.Duration
}

// NewAggregator constructs an aggregator with the provided priority ordering
// and freshness window. A nil priority starts empty and grows as feeds
// register.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	return &Aggregator{
		priority: append([]string{}, priority...),
		feeds:    make(map[string]PriceFeed),
		maxAge:   maxAge,
	}
}

// SetMaxAge updates the freshness window used when filtering quotes.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// Register adds or replaces a feed under the supplied identifier. Identifiers
// are stored lowercase so lookups stay consistent regardless of configuration
// casing.
func (a *Aggregator) Register(name string, feed PriceFeed) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feeds[trimmed] = feed
	for _, entry := range a.priority {
		if strings.EqualFold(entry, trimmed) {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// GetPrice fetches a quote respecting the priority ordering, skipping feeds
// that error, return a non-positive price or fall outside the freshness
// window. The returned quote is a defensive copy.
func (a *Aggregator) GetPrice(asset string) (PriceQuote, error) {
	if a == nil {
		return PriceQuote{}, fmt.Errorf("oracle aggregator not configured")
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	a.mu.RUnlock()

	symbol := normaliseSymbol(asset)
	if symbol == "" {
		return PriceQuote{}, fmt.Errorf("oracle: asset symbol required")
	}

	var lastErr error
	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = time.Now().Add(-maxAge)
	}

	for _, name := range priority {
		a.mu.RLock()
		feed := a.feeds[strings.ToLower(name)]
		a.mu.RUnlock()
		if feed == nil {
			continue
		}
		quote, err := feed.GetPrice(symbol)
		if err != nil {
			lastErr = err
			continue
		}
		if quote.PriceE9 == nil || quote.PriceE9.Sign() <= 0 {
			lastErr = fmt.Errorf("oracle feed %s returned invalid price", name)
			continue
		}
		if maxAge > 0 && quote.Timestamp.Before(cutoff) {
			lastErr = ErrNoFreshQuote
			continue
		}
		result := quote.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = strings.ToLower(name)
		}
		return result, nil
	}

	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return PriceQuote{}, lastErr
}

// ManualFeed is an in-memory feed used for tests and manual overrides during
// incident response.
type ManualFeed struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

// NewManualFeed constructs an empty manual feed.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{quotes: make(map[string]PriceQuote)}
}

// Set stores the provided E9 price for the asset.
func (m *ManualFeed) Set(asset string, priceE9 *big.Int, ts time.Time) {
	if m == nil || priceE9 == nil {
		return
	}
	symbol := normaliseSymbol(asset)
	if symbol == "" {
		return
	}
	m.mu.Lock()
	m.quotes[symbol] = PriceQuote{
		PriceE9:   new(big.Int).Set(priceE9),
		Timestamp: ts,
		Source:    "manual",
	}
	m.mu.Unlock()
}

// SetDecimal records a decimal price string, e.g. "1.25", for the asset.
func (m *ManualFeed) SetDecimal(asset, price string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual feed not configured")
	}
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return fmt.Errorf("manual feed: price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("manual feed: invalid price %q", price)
	}
	if rat.Sign() <= 0 {
		return fmt.Errorf("manual feed: price must be positive")
	}
	m.Set(asset, ratToE9(rat), ts)
	return nil
}

// GetPrice returns the stored quote for the asset, if any.
func (m *ManualFeed) GetPrice(asset string) (PriceQuote, error) {
	if m == nil {
		return PriceQuote{}, fmt.Errorf("manual feed not configured")
	}
	m.mu.RLock()
	quote, ok := m.quotes[normaliseSymbol(asset)]
	m.mu.RUnlock()
	if !ok {
		return PriceQuote{}, ErrNoFreshQuote
	}
	return quote.Clone(), nil
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

var e9 = big.NewInt(1_000_000_000)

func ratToE9(rat *big.Rat) *big.Int {
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(e9))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}
