// Package marketdata composes quote providers behind a fallback-ordered
// manager with a per-cycle cache. Every provider standardizes its output to
// the canonical shapes defined here.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eddiefleurent/michael_scarn/internal/models"
)

// ErrorKind classifies provider failures for routing decisions.
type ErrorKind string

const (
	// KindConnection covers timeouts, resets, and 5xx responses.
	KindConnection ErrorKind = "provider_connection"
	// KindRateLimit is a vendor throttle; the provider is skipped this cycle.
	KindRateLimit ErrorKind = "rate_limit_exceeded"
	// KindQuoteNotFound means the contract or symbol has no quote.
	KindQuoteNotFound ErrorKind = "quote_not_found"
	// KindInvalidSymbol means the request itself was malformed.
	KindInvalidSymbol ErrorKind = "invalid_symbol"
	// KindConfig is a startup-fatal misconfiguration (missing API key).
	KindConfig ErrorKind = "provider_config"
)

// Error is the provider error taxonomy. Every error surfaced by a provider
// carries the provider's name and a kind.
type Error struct {
	Provider string
	Kind     ErrorKind
	Msg      string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Provider, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Msg)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// NewError builds a taxonomy error for a provider.
func NewError(provider string, kind ErrorKind, msg string, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the error kind, or "" for non-taxonomy errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsConfigError reports a startup-fatal provider misconfiguration.
func IsConfigError(err error) bool { return KindOf(err) == KindConfig }

// OptionQuote is the canonical option quote shape. Mid is computed by the
// manager: (bid+ask)/2 only when both sides are positive, else 0.
type OptionQuote struct {
	Symbol       string  `json:"symbol"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Last         float64 `json:"last"`
	Mid          float64 `json:"mid"`
	Volume       int64   `json:"volume"`
	OpenInterest int64   `json:"open_interest"`
	IV           float64 `json:"implied_volatility"`
	Delta        float64 `json:"delta"`
	Gamma        float64 `json:"gamma"`
	Theta        float64 `json:"theta"`
	Vega         float64 `json:"vega"`
	Rho          float64 `json:"rho"`
}

// ChainRow is the canonical option chain row. Providers must emit exactly
// these fields; numeric fields default to 0 and strings to empty.
type ChainRow struct {
	Symbol       string           `json:"symbol"`
	Strike       float64          `json:"strike"`
	Type         models.TradeType `json:"type"`
	Expiration   time.Time        `json:"expiration"`
	Bid          float64          `json:"bid"`
	Ask          float64          `json:"ask"`
	Last         float64          `json:"last"`
	Volume       int64            `json:"volume"`
	OpenInterest int64            `json:"open_interest"`
	IV           float64          `json:"implied_volatility"`
	Delta        float64          `json:"delta"`
	Gamma        float64          `json:"gamma"`
	Theta        float64          `json:"theta"`
	Vega         float64          `json:"vega"`
	Rho          float64          `json:"rho"`
}

// OptionChain is a full chain split by contract type.
type OptionChain struct {
	Calls []ChainRow `json:"calls"`
	Puts  []ChainRow `json:"puts"`
}

// Bar is one historical price bar.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Provider is the abstract market-data vendor contract. All operations are
// synchronous from the core's perspective.
type Provider interface {
	Name() string
	StockPrice(ctx context.Context, symbol string) (float64, error)
	OptionQuote(ctx context.Context, contractSymbol string) (*OptionQuote, error)
	OptionChain(ctx context.Context, symbol string, expiration time.Time) (*OptionChain, error)
	OptionExpirations(ctx context.Context, symbol string) ([]time.Time, error)
	HistoricalBars(ctx context.Context, symbol string, start, end time.Time, interval string) ([]Bar, error)
}

// EarningsProvider is an optional provider capability.
type EarningsProvider interface {
	NextEarningsDate(ctx context.Context, symbol string) (time.Time, bool, error)
}
