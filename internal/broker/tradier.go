package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eddiefleurent/michael_scarn/internal/models"
)

const (
	tradierLiveURL    = "https://api.tradier.com/v1"
	tradierSandboxURL = "https://sandbox.tradier.com/v1"
)

// APIError is a non-2xx response from the brokerage API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// TradierConfig configures the Tradier client. Sandbox mode targets the
// paper-trading endpoint; an explicit BaseURL overrides both.
type TradierConfig struct {
	APIKey    string
	AccountID string
	BaseURL   string
	Sandbox   bool
	Timeout   time.Duration
}

// Tradier is the Tradier brokerage client. One instance is safe for
// concurrent use; http.Client handles its own locking.
type Tradier struct {
	client    *http.Client
	apiKey    string
	baseURL   string
	accountID string
	logger    *log.Logger
}

// NewTradier creates a Tradier client.
func NewTradier(cfg TradierConfig, logger *log.Logger) (*Tradier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("tradier: api key is required")
	}
	if cfg.AccountID == "" {
		return nil, fmt.Errorf("tradier: account id is required")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "tradier: ", log.LstdFlags)
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
	return &Tradier{
		client:    &http.Client{Timeout: timeout},
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		accountID: cfg.AccountID,
		logger:    logger,
	}, nil
}

// WithHTTPClient overrides the HTTP client (tests, custom transport).
func (t *Tradier) WithHTTPClient(c *http.Client) *Tradier {
	if c != nil {
		t.client = c
	}
	return t
}

var _ Broker = (*Tradier)(nil)

// singleOrArray absorbs Tradier's habit of returning a bare object where a
// one-element array is documented.
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
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

type tradierBalances struct {
	Balances struct {
		AccountType    string  `json:"account_type"`
		TotalEquity    float64 `json:"total_equity"`
		TotalCash      float64 `json:"total_cash"`
		MarketValue    float64 `json:"market_value"`
		PendingCash    float64 `json:"pending_cash"`
		UnclearedFunds float64 `json:"uncleared_funds"`

		Margin *struct {
			OptionBuyingPower float64 `json:"option_buying_power"`
			StockBuyingPower  float64 `json:"stock_buying_power"`
		} `json:"margin"`
		Cash *struct {
			CashAvailable float64 `json:"cash_available"`
		} `json:"cash"`
		PDT *struct {
			OptionBuyingPower float64 `json:"option_buying_power"`
			StockBuyingPower  float64 `json:"stock_buying_power"`
		} `json:"pdt"`
	} `json:"balances"`
}

type tradierOrder struct {
	ID            int     `json:"id"`
	Status        string  `json:"status"`
	AvgFillPrice  float64 `json:"avg_fill_price"`
	ExecQuantity  float64 `json:"exec_quantity"`
	CreateDate    string  `json:"create_date"`
	OptionSymbol  string  `json:"option_symbol"`
	Class         string  `json:"class"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Duration      string  `json:"duration"`
	Price         float64 `json:"price"`
	Quantity      float64 `json:"quantity"`
	Tag           string  `json:"tag"`
	ReasonDetails string  `json:"reason_description"`
}

type tradierOrderResponse struct {
	Order tradierOrder `json:"order"`
}

type tradierPositions struct {
	Positions struct {
		Position singleOrArray[struct {
			Symbol    string  `json:"symbol"`
			Quantity  float64 `json:"quantity"`
			CostBasis float64 `json:"cost_basis"`
		}] `json:"position"`
	} `json:"positions"`
}

type tradierLookup struct {
	Symbols []struct {
		RootSymbol string   `json:"rootSymbol"`
		Options    []string `json:"options"`
	} `json:"symbols"`
}

// GetAccount fetches the account balance snapshot. Options buying power is
// taken from the account-type-specific block when present.
func (t *Tradier) GetAccount(ctx context.Context) (*Account, error) {
	var resp tradierBalances
	endpoint := fmt.Sprintf("%s/accounts/%s/balances", t.baseURL, t.accountID)
	if err := t.request(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching balances: %w", err)
	}

	b := resp.Balances
	acct := &Account{
		Equity:         b.TotalEquity,
		PortfolioValue: b.TotalEquity,
		BuyingPower:    b.TotalCash,
	}
	switch {
	case b.Margin != nil:
		acct.OptionsBuyingPower = b.Margin.OptionBuyingPower
		acct.BuyingPower = b.Margin.StockBuyingPower
	case b.PDT != nil:
		acct.OptionsBuyingPower = b.PDT.OptionBuyingPower
		acct.BuyingPower = b.PDT.StockBuyingPower
	case b.Cash != nil:
		acct.OptionsBuyingPower = b.Cash.CashAvailable
		acct.BuyingPower = b.Cash.CashAvailable
	}
	return acct, nil
}

// tradierSide maps the action onto Tradier's option order side vocabulary.
func tradierSide(a models.Action) (string, error) {
	switch a {
	case models.ActionBuyToOpen:
		return "buy_to_open", nil
	case models.ActionSellToClose:
		return "sell_to_close", nil
	case models.ActionSellToOpen:
		return "sell_to_open", nil
	case models.ActionBuyToClose:
		return "buy_to_close", nil
	default:
		return "", fmt.Errorf("unsupported order action: %q", a)
	}
}

// SubmitOrder places a single-leg option order.
func (t *Tradier) SubmitOrder(ctx context.Context, order Order) (*OrderResult, error) {
	if order.Quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %d, must be positive", order.Quantity)
	}
	if order.Type == "limit" && order.LimitPrice <= 0 {
		return nil, fmt.Errorf("invalid limit price %.2f, must be positive", order.LimitPrice)
	}
	side, err := tradierSide(order.Action)
	if err != nil {
		return nil, err
	}
	occ, err := models.ParseOCC(order.OptionSymbol)
	if err != nil {
		return nil, fmt.Errorf("parsing option symbol %q: %w", order.OptionSymbol, err)
	}

	params := url.Values{}
	params.Set("class", "option")
	params.Set("symbol", occ.Root)
	params.Set("option_symbol", order.OptionSymbol)
	params.Set("side", side)
	params.Set("quantity", strconv.Itoa(order.Quantity))
	params.Set("type", order.Type)
	params.Set("duration", string(order.Duration))
	if order.Type == "limit" {
		params.Set("price", fmt.Sprintf("%.2f", order.LimitPrice))
	}
	if order.Tag != "" {
		params.Set("tag", order.Tag)
	}

	var resp tradierOrderResponse
	endpoint := fmt.Sprintf("%s/accounts/%s/orders", t.baseURL, t.accountID)
	if err := t.request(ctx, http.MethodPost, endpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("submitting %s %s: %w", side, order.OptionSymbol, err)
	}
	return orderResult(resp.Order), nil
}

// GetOrderByID polls one order's state.
func (t *Tradier) GetOrderByID(ctx context.Context, orderID string) (*OrderResult, error) {
	var resp tradierOrderResponse
	endpoint := fmt.Sprintf("%s/accounts/%s/orders/%s", t.baseURL, t.accountID, url.PathEscape(orderID))
	if err := t.request(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching order %s: %w", orderID, err)
	}
	return orderResult(resp.Order), nil
}

// CancelOrderByID cancels a working order. Canceling an order that already
// reached a terminal state is a broker-side error and surfaces as one.
func (t *Tradier) CancelOrderByID(ctx context.Context, orderID string) error {
	var resp tradierOrderResponse
	endpoint := fmt.Sprintf("%s/accounts/%s/orders/%s", t.baseURL, t.accountID, url.PathEscape(orderID))
	if err := t.request(ctx, http.MethodDelete, endpoint, nil, &resp); err != nil {
		return fmt.Errorf("canceling order %s: %w", orderID, err)
	}
	return nil
}

// ClosePosition flattens one contract position at market. The closing side
// is derived from the sign of the held quantity.
func (t *Tradier) ClosePosition(ctx context.Context, optionSymbol string, quantity int) (*OrderResult, error) {
	pos, err := t.GetOpenPosition(ctx, optionSymbol)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, fmt.Errorf("no open position in %s", optionSymbol)
	}
	action := models.ActionSellToClose
	if pos.Quantity < 0 {
		action = models.ActionBuyToClose
	}
	if quantity <= 0 {
		quantity = pos.Quantity
		if quantity < 0 {
			quantity = -quantity
		}
	}
	return t.SubmitOrder(ctx, Order{
		OptionSymbol: optionSymbol,
		Action:       action,
		Type:         "market",
		Quantity:     quantity,
		Duration:     DurationDay,
	})
}

// GetPositions lists every position held in the account.
func (t *Tradier) GetPositions(ctx context.Context) ([]Position, error) {
	var resp tradierPositions
	endpoint := fmt.Sprintf("%s/accounts/%s/positions", t.baseURL, t.accountID)
	if err := t.request(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}
	positions := make([]Position, 0, len(resp.Positions.Position))
	for _, p := range resp.Positions.Position {
		positions = append(positions, Position{
			OptionSymbol: p.Symbol,
			Quantity:     int(p.Quantity),
			CostBasis:    p.CostBasis,
		})
	}
	return positions, nil
}

// GetOpenPosition returns the held position in one contract, or nil when the
// account holds none.
func (t *Tradier) GetOpenPosition(ctx context.Context, optionSymbol string) (*Position, error) {
	positions, err := t.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].OptionSymbol == optionSymbol {
			return &positions[i], nil
		}
	}
	return nil, nil
}

// GetOptionContracts discovers listed contracts for an underlying via the
// symbol lookup endpoint. Symbols that do not parse as OCC tickers (vendor
// quirks, adjusted contracts) are skipped.
func (t *Tradier) GetOptionContracts(ctx context.Context, symbol string) ([]OptionContract, error) {
	params := url.Values{}
	params.Set("underlying", symbol)
	endpoint := t.baseURL + "/markets/options/lookup?" + params.Encode()

	var resp tradierLookup
	if err := t.request(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("looking up contracts for %s: %w", symbol, err)
	}

	var contracts []OptionContract
	for _, root := range resp.Symbols {
		for _, occTicker := range root.Options {
			occ, err := models.ParseOCC(occTicker)
			if err != nil {
				continue
			}
			contracts = append(contracts, OptionContract{
				Symbol:     occTicker,
				Underlying: occ.Root,
				Strike:     occ.Strike,
				Expiration: occ.Expiration,
				Type:       occ.Type,
				Active:     true,
			})
		}
	}
	return contracts, nil
}

func orderResult(o tradierOrder) *OrderResult {
	submitted, _ := time.Parse(time.RFC3339, o.CreateDate)
	return &OrderResult{
		ID:           strconv.Itoa(o.ID),
		Status:       NormalizeStatus(o.Status),
		FilledPrice:  o.AvgFillPrice,
		ExecQuantity: int(o.ExecQuantity),
		SubmittedAt:  submitted,
	}
}

// request performs one API call. POST bodies are form-encoded; every call
// carries the bearer token. Error bodies are capped at 64KB.
func (t *Tradier) request(ctx context.Context, method, endpoint string, params url.Values, out interface{}) error {
	var req *http.Request
	var err error
	if method == http.MethodPost && params != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "michael-scarn/1.0 (+tradier)")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			t.logger.Printf("closing response body: %v", cerr)
		}
	}()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	case http.StatusNoContent:
		return nil
	default:
		body, rerr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if rerr != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil && err != io.EOF {
		return err
	}
	return nil
}
