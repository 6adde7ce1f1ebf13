package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eddiefleurent/michael_scarn/internal/models"
)

const (
	tradierLiveURL    = "https://api.tradier.com/v1"
	tradierSandboxURL = "https://sandbox.tradier.com/v1"
)

// TradierConfig configures the Tradier market-data provider. The market-data
// key can differ from the trading key; sandbox keys only see delayed data.
type TradierConfig struct {
	APIKey  string
	BaseURL string
	Sandbox bool
	Timeout time.Duration
}

// TradierProvider serves quotes, chains, expirations, and history from the
// Tradier market-data API.
type TradierProvider struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

// NewTradierProvider creates a Tradier provider. A missing API key is a
// configuration error so the fallback manager refuses to start with it.
func NewTradierProvider(cfg TradierConfig) (*TradierProvider, error) {
	if cfg.APIKey == "" {
		return nil, NewError("tradier", KindConfig, "api key is required", nil)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Sandbox {
			baseURL = tradierSandboxURL
		} else {
			baseURL = tradierLiveURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TradierProvider{
		client:  &http.Client{Timeout: timeout},
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// WithHTTPClient overrides the HTTP client (tests, custom transport).
func (t *TradierProvider) WithHTTPClient(c *http.Client) *TradierProvider {
	if c != nil {
		t.client = c
	}
	return t
}

var _ Provider = (*TradierProvider)(nil)

// Name identifies this provider in fallback ordering and error reports.
func (t *TradierProvider) Name() string { return "tradier" }

// oneOrMany absorbs Tradier returning a bare object where a one-element
// array is documented.
type oneOrMany[T any] []T

func (s *oneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`"null"`)) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

type tradierQuote struct {
	Symbol       string  `json:"symbol"`
	Last         float64 `json:"last"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Volume       int64   `json:"volume"`
	OpenInterest int64   `json:"open_interest"`
	Greeks       *struct {
		Delta float64 `json:"delta"`
		Gamma float64 `json:"gamma"`
		Theta float64 `json:"theta"`
		Vega  float64 `json:"vega"`
		Rho   float64 `json:"rho"`
		MidIV float64 `json:"mid_iv"`
	} `json:"greeks"`
}

type tradierQuotesResponse struct {
	Quotes struct {
		Quote oneOrMany[tradierQuote] `json:"quote"`
	} `json:"quotes"`
}

type tradierChainResponse struct {
	Options struct {
		Option oneOrMany[struct {
			tradierQuote
			OptionType     string  `json:"option_type"`
			Strike         float64 `json:"strike"`
			ExpirationDate string  `json:"expiration_date"`
		}] `json:"option"`
	} `json:"options"`
}

type tradierExpirationsResponse struct {
	Expirations struct {
		Date []string `json:"date"`
	} `json:"expirations"`
}

type tradierHistoryResponse struct {
	History struct {
		Day []struct {
			Date   string  `json:"date"`
			Open   float64 `json:"open"`
			High   float64 `json:"high"`
			Low    float64 `json:"low"`
			Close  float64 `json:"close"`
			Volume int64   `json:"volume"`
		} `json:"day"`
	} `json:"history"`
}

// StockPrice returns the underlying's last trade price.
func (t *TradierProvider) StockPrice(ctx context.Context, symbol string) (float64, error) {
	q, err := t.quote(ctx, symbol, false)
	if err != nil {
		return 0, err
	}
	if q.Last <= 0 {
		return 0, NewError(t.Name(), KindQuoteNotFound, "no last price for "+symbol, nil)
	}
	return q.Last, nil
}

// OptionQuote returns the quote for one OCC contract. Greeks come along when
// the vendor has them; the manager computes the mid.
func (t *TradierProvider) OptionQuote(ctx context.Context, contractSymbol string) (*OptionQuote, error) {
	q, err := t.quote(ctx, contractSymbol, true)
	if err != nil {
		return nil, err
	}
	out := &OptionQuote{
		Symbol:       q.Symbol,
		Bid:          q.Bid,
		Ask:          q.Ask,
		Last:         q.Last,
		Volume:       q.Volume,
		OpenInterest: q.OpenInterest,
	}
	if g := q.Greeks; g != nil {
		out.IV = g.MidIV
		out.Delta = g.Delta
		out.Gamma = g.Gamma
		out.Theta = g.Theta
		out.Vega = g.Vega
		out.Rho = g.Rho
	}
	return out, nil
}

func (t *TradierProvider) quote(ctx context.Context, symbol string, greeks bool) (*tradierQuote, error) {
	params := url.Values{}
	params.Set("symbols", symbol)
	params.Set("greeks", fmt.Sprintf("%t", greeks))

	var resp tradierQuotesResponse
	if err := t.get(ctx, "/markets/quotes", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Quotes.Quote) == 0 {
		return nil, NewError(t.Name(), KindQuoteNotFound, "no quote for "+symbol, nil)
	}
	q := resp.Quotes.Quote[0]
	return &q, nil
}

// OptionChain returns the standardized chain for one expiration, split into
// calls and puts.
func (t *TradierProvider) OptionChain(ctx context.Context, symbol string, expiration time.Time) (*OptionChain, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("expiration", expiration.Format("2006-01-02"))
	params.Set("greeks", "true")

	var resp tradierChainResponse
	if err := t.get(ctx, "/markets/options/chains", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Options.Option) == 0 {
		return nil, NewError(t.Name(), KindQuoteNotFound,
			fmt.Sprintf("no chain for %s %s", symbol, expiration.Format("2006-01-02")), nil)
	}

	chain := &OptionChain{}
	for _, o := range resp.Options.Option {
		exp, err := time.Parse("2006-01-02", o.ExpirationDate)
		if err != nil {
			exp = expiration
		}
		row := ChainRow{
			Symbol:       o.Symbol,
			Strike:       o.Strike,
			Expiration:   exp,
			Bid:          o.Bid,
			Ask:          o.Ask,
			Last:         o.Last,
			Volume:       o.Volume,
			OpenInterest: o.OpenInterest,
		}
		if g := o.Greeks; g != nil {
			row.IV = g.MidIV
			row.Delta = g.Delta
			row.Gamma = g.Gamma
			row.Theta = g.Theta
			row.Vega = g.Vega
			row.Rho = g.Rho
		}
		switch o.OptionType {
		case "call":
			row.Type = models.TradeTypeCall
			chain.Calls = append(chain.Calls, row)
		case "put":
			row.Type = models.TradeTypePut
			chain.Puts = append(chain.Puts, row)
		}
	}
	return chain, nil
}

// OptionExpirations returns the listed expiration dates for a symbol.
func (t *TradierProvider) OptionExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("includeAllRoots", "true")
	params.Set("strikes", "false")

	var resp tradierExpirationsResponse
	if err := t.get(ctx, "/markets/options/expirations", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Expirations.Date) == 0 {
		return nil, NewError(t.Name(), KindQuoteNotFound, "no expirations for "+symbol, nil)
	}

	dates := make([]time.Time, 0, len(resp.Expirations.Date))
	for _, d := range resp.Expirations.Date {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, NewError(t.Name(), KindInvalidSymbol,
				fmt.Sprintf("unparseable expiration %q for %s", d, symbol), err)
		}
		dates = append(dates, parsed)
	}
	return dates, nil
}

// HistoricalBars returns daily (or coarser) bars over [start, end].
func (t *TradierProvider) HistoricalBars(ctx context.Context, symbol string, start, end time.Time, interval string) ([]Bar, error) {
	if interval == "" || interval == "1d" {
		interval = "daily"
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("start", start.Format("2006-01-02"))
	params.Set("end", end.Format("2006-01-02"))

	var resp tradierHistoryResponse
	if err := t.get(ctx, "/markets/history", params, &resp); err != nil {
		return nil, err
	}

	bars := make([]Bar, 0, len(resp.History.Day))
	for _, d := range resp.History.Day {
		ts, err := time.Parse("2006-01-02", d.Date)
		if err != nil {
			continue
		}
		bars = append(bars, Bar{
			Time:   ts,
			Open:   d.Open,
			High:   d.High,
			Low:    d.Low,
			Close:  d.Close,
			Volume: d.Volume,
		})
	}
	if len(bars) == 0 {
		return nil, NewError(t.Name(), KindQuoteNotFound, "no history for "+symbol, nil)
	}
	return bars, nil
}

// get performs one GET and folds HTTP failures into the error taxonomy.
func (t *TradierProvider) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := t.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return NewError(t.Name(), KindInvalidSymbol, "building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return NewError(t.Name(), KindConnection, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewError(t.Name(), KindRateLimit, "throttled by vendor", nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewError(t.Name(), KindConfig, fmt.Sprintf("rejected credentials (HTTP %d)", resp.StatusCode), nil)
	case resp.StatusCode >= 500:
		return NewError(t.Name(), KindConnection, fmt.Sprintf("vendor error (HTTP %d)", resp.StatusCode), nil)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return NewError(t.Name(), KindInvalidSymbol,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return NewError(t.Name(), KindConnection, "decoding response", err)
	}
	return nil
}
