package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTradierProviderTest(t *testing.T, handler http.HandlerFunc) *TradierProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewTradierProvider(TradierConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	return p
}

func TestNewTradierProvider_MissingKeyIsConfigError(t *testing.T) {
	_, err := NewTradierProvider(TradierConfig{})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestTradierProvider_OptionQuote(t *testing.T) {
	p := newTradierProviderTest(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "/markets/quotes", r.URL.Path)
		require.Equal(t, "SPY251211C00590000", r.URL.Query().Get("symbols"))
		require.Equal(t, "true", r.URL.Query().Get("greeks"))
		w.Write([]byte(`{"quotes":{"quote":{
			"symbol":"SPY251211C00590000","bid":2.00,"ask":2.10,"last":2.04,
			"volume":1200,"open_interest":5500,
			"greeks":{"delta":0.42,"gamma":0.03,"theta":-0.08,"vega":0.11,"rho":0.02,"mid_iv":0.19}
		}}}`))
	})

	q, err := p.OptionQuote(context.Background(), "SPY251211C00590000")
	require.NoError(t, err)
	assert.Equal(t, 2.00, q.Bid)
	assert.Equal(t, 2.10, q.Ask)
	assert.Equal(t, 0.42, q.Delta)
	assert.Equal(t, 0.19, q.IV)
	// The fallback manager owns mid computation
	assert.Zero(t, q.Mid)
}

func TestTradierProvider_StockPrice_NoQuote(t *testing.T) {
	p := newTradierProviderTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quotes":{"quote":null}}`))
	})

	_, err := p.StockPrice(context.Background(), "ZZZZ")
	require.Error(t, err)
	assert.Equal(t, KindQuoteNotFound, KindOf(err))
}

func TestTradierProvider_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   ErrorKind
	}{
		{"throttle", http.StatusTooManyRequests, KindRateLimit},
		{"bad credentials", http.StatusUnauthorized, KindConfig},
		{"vendor outage", http.StatusBadGateway, KindConnection},
		{"bad request", http.StatusBadRequest, KindInvalidSymbol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTradierProviderTest(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			_, err := p.StockPrice(context.Background(), "SPY")
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestTradierProvider_OptionChain_SplitsByType(t *testing.T) {
	p := newTradierProviderTest(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/markets/options/chains", r.URL.Path)
		require.Equal(t, "2025-12-11", r.URL.Query().Get("expiration"))
		w.Write([]byte(`{"options":{"option":[
			{"symbol":"SPY251211C00590000","option_type":"call","strike":590,
			 "expiration_date":"2025-12-11","bid":2.00,"ask":2.10,"last":2.05},
			{"symbol":"SPY251211P00440000","option_type":"put","strike":440,
			 "expiration_date":"2025-12-11","bid":0.90,"ask":1.00,"last":0.95}
		]}}`))
	})

	exp := time.Date(2025, 12, 11, 0, 0, 0, 0, time.UTC)
	chain, err := p.OptionChain(context.Background(), "SPY", exp)
	require.NoError(t, err)
	require.Len(t, chain.Calls, 1)
	require.Len(t, chain.Puts, 1)
	assert.Equal(t, 590.0, chain.Calls[0].Strike)
	assert.Equal(t, 440.0, chain.Puts[0].Strike)
}

func TestTradierProvider_OptionExpirations(t *testing.T) {
	p := newTradierProviderTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"expirations":{"date":["2025-12-11","2025-12-18"]}}`))
	})

	dates, err := p.OptionExpirations(context.Background(), "SPY")
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.Equal(t, time.Date(2025, 12, 18, 0, 0, 0, 0, time.UTC), dates[1])
}

func TestTradierProvider_HistoricalBars(t *testing.T) {
	p := newTradierProviderTest(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/markets/history", r.URL.Path)
		require.Equal(t, "daily", r.URL.Query().Get("interval"))
		w.Write([]byte(`{"history":{"day":[
			{"date":"2025-11-28","open":448,"high":451,"low":447,"close":450,"volume":100},
			{"date":"2025-12-01","open":450,"high":453,"low":449,"close":452,"volume":120}
		]}}`))
	})

	start := time.Date(2025, 11, 24, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	bars, err := p.HistoricalBars(context.Background(), "SPY", start, end, "1d")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 450.0, bars[0].Close)
	assert.Equal(t, 452.0, bars[1].Close)
}
