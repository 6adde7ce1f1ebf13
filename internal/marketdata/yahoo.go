package marketdata

import (
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

const yahooBaseURL = "https://query1.finance.yahoo.com"

// YahooConfig configures the Yahoo Finance provider. The API is keyless, so
// this provider can never fail with a config error; it exists as a fallback
// behind the authenticated primary.
type YahooConfig struct {
	BaseURL string
	Timeout time.Duration
}

// YahooProvider serves quotes, chains, and history from the public Yahoo
// Finance endpoints. Quotes are delayed; good enough for a fallback.
type YahooProvider struct {
	client  *http.Client
	baseURL string
}

// NewYahooProvider creates a Yahoo provider.
func NewYahooProvider(cfg YahooConfig) *YahooProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = yahooBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &YahooProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// WithHTTPClient overrides the HTTP client (tests, custom transport).
func (y *YahooProvider) WithHTTPClient(c *http.Client) *YahooProvider {
	if c != nil {
		y.client = c
	}
	return y
}

var _ Provider = (*YahooProvider)(nil)

// Name identifies this provider in fallback ordering and error reports.
func (y *YahooProvider) Name() string { return "yahoo" }

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

type yahooContract struct {
	ContractSymbol    string  `json:"contractSymbol"`
	Strike            float64 `json:"strike"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	LastPrice         float64 `json:"lastPrice"`
	Volume            int64   `json:"volume"`
	OpenInterest      int64   `json:"openInterest"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
	Expiration        int64   `json:"expiration"`
}

type yahooOptionsResponse struct {
	OptionChain struct {
		Result []struct {
			ExpirationDates []int64 `json:"expirationDates"`
			Options         []struct {
				ExpirationDate int64           `json:"expirationDate"`
				Calls          []yahooContract `json:"calls"`
				Puts           []yahooContract `json:"puts"`
			} `json:"options"`
		} `json:"result"`
	} `json:"optionChain"`
}

// StockPrice returns the regular-market price for a symbol.
func (y *YahooProvider) StockPrice(ctx context.Context, symbol string) (float64, error) {
	var resp yahooChartResponse
	if err := y.get(ctx, "/v8/finance/chart/"+url.PathEscape(symbol), nil, &resp); err != nil {
		return 0, err
	}
	if len(resp.Chart.Result) == 0 {
		return 0, NewError(y.Name(), KindQuoteNotFound, "no chart for "+symbol, nil)
	}
	price := resp.Chart.Result[0].Meta.RegularMarketPrice
	if price <= 0 {
		return 0, NewError(y.Name(), KindQuoteNotFound, "no market price for "+symbol, nil)
	}
	return price, nil
}

// OptionQuote looks a contract up in its expiration's chain; Yahoo has no
// single-contract quote endpoint.
func (y *YahooProvider) OptionQuote(ctx context.Context, contractSymbol string) (*OptionQuote, error) {
	occ, err := models.ParseOCC(contractSymbol)
	if err != nil {
		return nil, NewError(y.Name(), KindInvalidSymbol, "unparseable contract "+contractSymbol, err)
	}
	chain, err := y.OptionChain(ctx, occ.Root, occ.Expiration)
	if err != nil {
		return nil, err
	}
	rows := chain.Calls
	if occ.Type == models.TradeTypePut {
		rows = chain.Puts
	}
	for _, row := range rows {
		if row.Symbol == contractSymbol {
			return &OptionQuote{
				Symbol:       row.Symbol,
				Bid:          row.Bid,
				Ask:          row.Ask,
				Last:         row.Last,
				Volume:       row.Volume,
				OpenInterest: row.OpenInterest,
				IV:           row.IV,
			}, nil
		}
	}
	return nil, NewError(y.Name(), KindQuoteNotFound, "contract not in chain: "+contractSymbol, nil)
}

// OptionChain returns the chain for one expiration. Yahoo keys expirations
// by unix timestamp at midnight UTC.
func (y *YahooProvider) OptionChain(ctx context.Context, symbol string, expiration time.Time) (*OptionChain, error) {
	day := time.Date(expiration.Year(), expiration.Month(), expiration.Day(), 0, 0, 0, 0, time.UTC)
	params := url.Values{}
	params.Set("date", fmt.Sprintf("%d", day.Unix()))

	var resp yahooOptionsResponse
	if err := y.get(ctx, "/v7/finance/options/"+url.PathEscape(symbol), params, &resp); err != nil {
		return nil, err
	}
	if len(resp.OptionChain.Result) == 0 || len(resp.OptionChain.Result[0].Options) == 0 {
		return nil, NewError(y.Name(), KindQuoteNotFound,
			fmt.Sprintf("no chain for %s %s", symbol, day.Format("2006-01-02")), nil)
	}

	opts := resp.OptionChain.Result[0].Options[0]
	chain := &OptionChain{}
	for _, c := range opts.Calls {
		chain.Calls = append(chain.Calls, yahooRow(c, models.TradeTypeCall))
	}
	for _, p := range opts.Puts {
		chain.Puts = append(chain.Puts, yahooRow(p, models.TradeTypePut))
	}
	return chain, nil
}

func yahooRow(c yahooContract, typ models.TradeType) ChainRow {
	return ChainRow{
		Symbol:       c.ContractSymbol,
		Strike:       c.Strike,
		Type:         typ,
		Expiration:   time.Unix(c.Expiration, 0).UTC(),
		Bid:          c.Bid,
		Ask:          c.Ask,
		Last:         c.LastPrice,
		Volume:       c.Volume,
		OpenInterest: c.OpenInterest,
		IV:           c.ImpliedVolatility,
	}
}

// OptionExpirations returns the listed expiration dates for a symbol.
func (y *YahooProvider) OptionExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	var resp yahooOptionsResponse
	if err := y.get(ctx, "/v7/finance/options/"+url.PathEscape(symbol), nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.OptionChain.Result) == 0 || len(resp.OptionChain.Result[0].ExpirationDates) == 0 {
		return nil, NewError(y.Name(), KindQuoteNotFound, "no expirations for "+symbol, nil)
	}
	dates := make([]time.Time, 0, len(resp.OptionChain.Result[0].ExpirationDates))
	for _, ts := range resp.OptionChain.Result[0].ExpirationDates {
		dates = append(dates, time.Unix(ts, 0).UTC())
	}
	return dates, nil
}

// HistoricalBars returns daily bars over [start, end] from the chart
// endpoint. Rows with a zero close (halts, partial bars) are dropped.
func (y *YahooProvider) HistoricalBars(ctx context.Context, symbol string, start, end time.Time, interval string) ([]Bar, error) {
	if interval == "" || interval == "daily" {
		interval = "1d"
	}
	params := url.Values{}
	params.Set("period1", fmt.Sprintf("%d", start.Unix()))
	params.Set("period2", fmt.Sprintf("%d", end.Unix()))
	params.Set("interval", interval)

	var resp yahooChartResponse
	if err := y.get(ctx, "/v8/finance/chart/"+url.PathEscape(symbol), params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, NewError(y.Name(), KindQuoteNotFound, "no history for "+symbol, nil)
	}

	result := resp.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] <= 0 {
			continue
		}
		bar := Bar{Time: time.Unix(ts, 0).UTC(), Close: quote.Close[i]}
		if i < len(quote.Open) {
			bar.Open = quote.Open[i]
		}
		if i < len(quote.High) {
			bar.High = quote.High[i]
		}
		if i < len(quote.Low) {
			bar.Low = quote.Low[i]
		}
		if i < len(quote.Volume) {
			bar.Volume = quote.Volume[i]
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, NewError(y.Name(), KindQuoteNotFound, "no usable bars for "+symbol, nil)
	}
	return bars, nil
}

// get performs one GET and folds HTTP failures into the error taxonomy.
func (y *YahooProvider) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := y.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return NewError(y.Name(), KindInvalidSymbol, "building request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "michael-scarn/1.0")

	resp, err := y.client.Do(req)
	if err != nil {
		return NewError(y.Name(), KindConnection, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewError(y.Name(), KindRateLimit, "throttled by vendor", nil)
	case resp.StatusCode == http.StatusNotFound:
		return NewError(y.Name(), KindQuoteNotFound, "symbol not found", nil)
	case resp.StatusCode >= 500:
		return NewError(y.Name(), KindConnection, fmt.Sprintf("vendor error (HTTP %d)", resp.StatusCode), nil)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return NewError(y.Name(), KindInvalidSymbol,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return NewError(y.Name(), KindConnection, "decoding response", err)
	}
	return nil
}
