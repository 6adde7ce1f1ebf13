package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"
)

// Cache key kinds. One namespace per public operation.
const (
	kindStockPrice    = "stock_price"
	kindOptionQuote   = "option_quote"
	kindOptionChain   = "option_chain"
	kindExpirations   = "expirations"
	kindPreviousClose = "previous_close"
	kindEarningsNext  = "earnings_next"
)

// ManagerConfig assembles the provider stack.
type ManagerConfig struct {
	Primary         string
	FallbackEnabled bool
	FallbackOrder   []string
	MaxAttempts     int
}

// Manager routes market-data calls through the per-cycle cache, a primary
// provider, and an ordered fallback list. Safe for concurrent use: the cache
// serializes its own state and providers are required to be goroutine-safe.
type Manager struct {
	providers map[string]Provider
	cfg       ManagerConfig
	cache     *Cache
	logger    *log.Logger
}

// NewManager builds a manager over the given providers. The primary must be
// present in providers; fallback names that are not registered are skipped
// at call time with a log line rather than failing construction.
func NewManager(providers []Provider, cfg ManagerConfig, cache *Cache, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "marketdata: ", log.LstdFlags)
	}
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	if _, ok := byName[cfg.Primary]; !ok {
		return nil, fmt.Errorf("primary provider %q is not registered", cfg.Primary)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = len(cfg.FallbackOrder)
	}
	return &Manager{
		providers: byName,
		cfg:       cfg,
		cache:     cache,
		logger:    logger,
	}, nil
}

// StartNewCycle resets the per-cycle cache and returns the new cycle id.
func (m *Manager) StartNewCycle() uint64 {
	return m.cache.StartNewCycle()
}

// CycleID returns the current cache cycle id.
func (m *Manager) CycleID() uint64 {
	return m.cache.CycleID()
}

// fallbackProviders returns the try-order after the primary, capped at
// MaxAttempts, excluding the primary itself.
func (m *Manager) fallbackProviders() []Provider {
	if !m.cfg.FallbackEnabled {
		return nil
	}
	out := make([]Provider, 0, len(m.cfg.FallbackOrder))
	for _, name := range m.cfg.FallbackOrder {
		if len(out) >= m.cfg.MaxAttempts {
			break
		}
		if name == m.cfg.Primary {
			continue
		}
		p, ok := m.providers[name]
		if !ok {
			m.logger.Printf("fallback provider %q not registered, skipping", name)
			continue
		}
		out = append(out, p)
	}
	return out
}

// fetch runs fn against the primary and then the fallback order, returning
// the first success. Config errors abort immediately: they never recover by
// switching vendors.
func fetch[T any](m *Manager, kind, cacheKey string, fn func(Provider) (T, error)) (T, error) {
	var zero T
	if v, ok := m.cache.Get(kind, cacheKey); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	primary := m.providers[m.cfg.Primary]
	v, err := fn(primary)
	if err == nil {
		m.cache.Put(kind, cacheKey, v)
		return v, nil
	}
	if IsConfigError(err) {
		return zero, err
	}
	lastErr := err

	for _, p := range m.fallbackProviders() {
		m.logger.Printf("%s(%s) failed on %s (%v), trying %s", kind, cacheKey, lastProvider(lastErr, m.cfg.Primary), lastErr, p.Name())
		v, err = fn(p)
		if err == nil {
			m.cache.Put(kind, cacheKey, v)
			return v, nil
		}
		if IsConfigError(err) {
			return zero, err
		}
		lastErr = err
	}

	m.logger.Printf("%s(%s) unavailable after all providers: %v", kind, cacheKey, lastErr)
	return zero, lastErr
}

// lastProvider pulls the provider name out of a taxonomy error for logging.
func lastProvider(err error, fallback string) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Provider
	}
	return fallback
}

// StockPrice returns the latest underlying price for symbol.
func (m *Manager) StockPrice(ctx context.Context, symbol string) (float64, error) {
	return fetch(m, kindStockPrice, symbol, func(p Provider) (float64, error) {
		return p.StockPrice(ctx, symbol)
	})
}

// OptionQuote returns the canonical quote for one OCC contract, with the mid
// computed from bid/ask when both sides are positive.
func (m *Manager) OptionQuote(ctx context.Context, contractSymbol string) (*OptionQuote, error) {
	q, err := fetch(m, kindOptionQuote, contractSymbol, func(p Provider) (*OptionQuote, error) {
		return p.OptionQuote(ctx, contractSymbol)
	})
	if err != nil {
		return nil, err
	}
	normalized := *q
	if normalized.Bid > 0 && normalized.Ask > 0 {
		normalized.Mid = (normalized.Bid + normalized.Ask) / 2
	} else {
		normalized.Mid = 0
	}
	if normalized.Symbol == "" {
		normalized.Symbol = contractSymbol
	}
	return &normalized, nil
}

// OptionChain returns the standardized chain for a symbol and expiration.
func (m *Manager) OptionChain(ctx context.Context, symbol string, expiration time.Time) (*OptionChain, error) {
	cacheKey := symbol + ":" + expiration.Format("2006-01-02")
	return fetch(m, kindOptionChain, cacheKey, func(p Provider) (*OptionChain, error) {
		return p.OptionChain(ctx, symbol, expiration)
	})
}

// OptionExpirations returns the ordered expiration dates for a symbol.
func (m *Manager) OptionExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	return fetch(m, kindExpirations, symbol, func(p Provider) ([]time.Time, error) {
		return p.OptionExpirations(ctx, symbol)
	})
}

// HistoricalBars returns a time series of price bars. Bars are not cached:
// the spans vary per caller and the gap strategy fetches them once per cycle
// through PreviousClose anyway.
func (m *Manager) HistoricalBars(ctx context.Context, symbol string, start, end time.Time, interval string) ([]Bar, error) {
	primary := m.providers[m.cfg.Primary]
	bars, err := primary.HistoricalBars(ctx, symbol, start, end, interval)
	if err == nil {
		return bars, nil
	}
	if IsConfigError(err) {
		return nil, err
	}
	for _, p := range m.fallbackProviders() {
		bars, err = p.HistoricalBars(ctx, symbol, start, end, interval)
		if err == nil {
			return bars, nil
		}
		if IsConfigError(err) {
			return nil, err
		}
	}
	return nil, err
}

// PreviousClose derives yesterday's close from a week of daily bars, taking
// the second-to-last close so a partial bar for today never leaks in.
func (m *Manager) PreviousClose(ctx context.Context, symbol string, now time.Time) (float64, error) {
	return fetch(m, kindPreviousClose, symbol, func(p Provider) (float64, error) {
		bars, err := p.HistoricalBars(ctx, symbol, now.AddDate(0, 0, -7), now, "1d")
		if err != nil {
			return 0, err
		}
		if len(bars) < 2 {
			return 0, NewError(p.Name(), KindQuoteNotFound,
				fmt.Sprintf("not enough daily bars for %s previous close", symbol), nil)
		}
		return bars[len(bars)-2].Close, nil
	})
}

// NextEarningsDate returns the next earnings date when any provider in the
// stack supports the capability. ok=false means no date is known.
func (m *Manager) NextEarningsDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	if v, hit := m.cache.Get(kindEarningsNext, symbol); hit {
		if d, ok := v.(time.Time); ok {
			return d, !d.IsZero(), nil
		}
	}

	tried := false
	order := append([]string{m.cfg.Primary}, m.cfg.FallbackOrder...)
	for _, name := range order {
		p, ok := m.providers[name]
		if !ok {
			continue
		}
		ep, ok := p.(EarningsProvider)
		if !ok {
			continue
		}
		tried = true
		d, known, err := ep.NextEarningsDate(ctx, symbol)
		if err != nil {
			continue
		}
		if known {
			m.cache.Put(kindEarningsNext, symbol, d)
			return d, true, nil
		}
	}
	if !tried {
		return time.Time{}, false, nil
	}
	m.cache.Put(kindEarningsNext, symbol, time.Time{})
	return time.Time{}, false, nil
}
