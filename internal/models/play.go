package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const sharesPerContract = 100.0

// OrderType selects the price policy when an order is submitted.
type OrderType string

const (
	// OrderTypeMarket submits at market.
	OrderTypeMarket OrderType = "market"
	// OrderTypeLimitAtBid submits a limit order at the quoted bid.
	OrderTypeLimitAtBid OrderType = "limit_at_bid"
	// OrderTypeLimitAtAsk submits a limit order at the quoted ask.
	OrderTypeLimitAtAsk OrderType = "limit_at_ask"
	// OrderTypeLimitAtMid submits a limit order at the bid/ask midpoint.
	OrderTypeLimitAtMid OrderType = "limit_at_mid"
	// OrderTypeLimitAtLast submits a limit order at the last traded price.
	OrderTypeLimitAtLast OrderType = "limit_at_last"
)

// Valid returns true if the OrderType is one of the defined constants.
func (o OrderType) Valid() bool {
	switch o {
	case OrderTypeMarket, OrderTypeLimitAtBid, OrderTypeLimitAtAsk,
		OrderTypeLimitAtMid, OrderTypeLimitAtLast:
		return true
	default:
		return false
	}
}

// SLMode selects how a stop loss is executed.
type SLMode string

const (
	// SLModeStop exits with a market order when the trigger is hit.
	SLModeStop SLMode = "STOP"
	// SLModeLimit exits with a limit order when the trigger is hit.
	SLModeLimit SLMode = "LIMIT"
	// SLModeContingency works a limit order first and falls back to a
	// market order past the backup trigger or the wait window.
	SLModeContingency SLMode = "CONTINGENCY"
)

// Valid returns true if the SLMode is one of the defined constants.
func (m SLMode) Valid() bool {
	return m == SLModeStop || m == SLModeLimit || m == SLModeContingency
}

// EntryPoint describes the entry trigger for a play.
type EntryPoint struct {
	StockPrice float64   `json:"stock_price"`          // target underlying price
	BufferUSD  float64   `json:"buffer,omitempty"`     // tolerance around the target
	OrderType  OrderType `json:"order_type,omitempty"` // defaults to limit_at_bid
	Premium    float64   `json:"entry_premium,omitempty"`
}

// TakeProfit describes the profit exit for a play. Exactly the trigger
// fields that are set participate; zero values mean "not configured".
type TakeProfit struct {
	Premium       float64         `json:"premium,omitempty"`         // absolute option premium
	PremiumPct    float64         `json:"premium_pct,omitempty"`     // percent move of the premium
	StockPrice    float64         `json:"stock_price,omitempty"`     // absolute underlying price
	StockPricePct float64         `json:"stock_price_pct,omitempty"` // percent move of the underlying
	OrderType     OrderType       `json:"order_type,omitempty"`
	Trailing      *TrailingConfig `json:"trailing,omitempty"`
	TrailingState *TrailingState  `json:"trailing_state,omitempty"`
}

// legacyTakeProfit carries field names older play files used.
type legacyTakeProfit struct {
	TPOptionPrem float64 `json:"TP_option_prem"`
	TPStockPrice float64 `json:"TP_stock_price"`
}

// UnmarshalJSON migrates legacy trigger keys (TP_option_prem, TP_stock_price)
// to the canonical representation at the persistence boundary.
func (tp *TakeProfit) UnmarshalJSON(data []byte) error {
	type plain TakeProfit
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*tp = TakeProfit(p)

	var legacy legacyTakeProfit
	if err := json.Unmarshal(data, &legacy); err == nil {
		if tp.Premium == 0 && legacy.TPOptionPrem > 0 {
			tp.Premium = legacy.TPOptionPrem
		}
		if tp.StockPrice == 0 && legacy.TPStockPrice > 0 {
			tp.StockPrice = legacy.TPStockPrice
		}
	}
	return nil
}

// StopLoss describes the loss exit for a play.
type StopLoss struct {
	Premium       float64   `json:"premium,omitempty"`
	PremiumPct    float64   `json:"premium_pct,omitempty"`
	StockPrice    float64   `json:"stock_price,omitempty"`
	StockPricePct float64   `json:"stock_price_pct,omitempty"`
	Mode          SLMode    `json:"sl_mode,omitempty"`
	OrderType     OrderType `json:"order_type,omitempty"`
	// Contingency backup levels, consulted only when Mode is CONTINGENCY.
	ContingencyPremium    float64 `json:"contingency_premium,omitempty"`
	ContingencyStockPrice float64 `json:"contingency_stock_price,omitempty"`
}

// legacyStopLoss carries field names older play files used.
type legacyStopLoss struct {
	SLOptionPrem float64 `json:"SL_option_prem"`
	SLStockPrice float64 `json:"SL_stock_price"`
}

// UnmarshalJSON migrates legacy trigger keys to the canonical representation.
func (sl *StopLoss) UnmarshalJSON(data []byte) error {
	type plain StopLoss
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*sl = StopLoss(p)

	var legacy legacyStopLoss
	if err := json.Unmarshal(data, &legacy); err == nil {
		if sl.Premium == 0 && legacy.SLOptionPrem > 0 {
			sl.Premium = legacy.SLOptionPrem
		}
		if sl.StockPrice == 0 && legacy.SLStockPrice > 0 {
			sl.StockPrice = legacy.SLStockPrice
		}
	}
	return nil
}

// TrailingConfig is a per-play override of the global trailing defaults.
// A nil pointer on the play means "use global defaults"; Disabled opts the
// play out entirely; ActivationPct of zero falls back to the global value.
type TrailingConfig struct {
	Disabled      bool    `json:"disabled,omitempty"`
	ActivationPct float64 `json:"activation_pct,omitempty"`
}

// TrailingState is the persisted runtime state of the trailing engine for
// one play. Levels are premium-denominated.
type TrailingState struct {
	Activated        bool           `json:"activated"`
	HighWaterPremium float64        `json:"high_water_premium"`
	LowWaterPremium  float64        `json:"low_water_premium,omitempty"` // short plays trail the minimum
	TP1Level         float64        `json:"tp1_level,omitempty"`
	TP2Level         float64        `json:"tp2_level,omitempty"`
	CapturePct       float64        `json:"capture_pct,omitempty"`
	LastRatchetPrem  float64        `json:"last_ratchet_premium,omitempty"`
	LastRatchetDay   string         `json:"last_ratchet_day,omitempty"` // YYYY-MM-DD
	History          []RatchetEvent `json:"history,omitempty"`
}

// RatchetEvent records one end-of-day ratchet decision, accepted or not.
type RatchetEvent struct {
	Date     string  `json:"date"`
	OldLevel float64 `json:"old_level"`
	NewLevel float64 `json:"new_level"`
	Reason   string  `json:"reason"`
}

// StatusBlock tracks the lifecycle state and the broker orders attached to
// the play. OrderState values mirror broker order statuses verbatim.
type StatusBlock struct {
	State                  PlayStatus `json:"play_status"`
	OrderID                string     `json:"order_id,omitempty"`
	OrderState             string     `json:"order_state,omitempty"`
	ClosingOrderID         string     `json:"closing_order_id,omitempty"`
	ClosingOrderState      string     `json:"closing_order_state,omitempty"`
	ClosingSubmittedAt     time.Time  `json:"closing_submitted_at,omitempty"`
	ContingencyOrderID     string     `json:"contingency_order_id,omitempty"`
	ContingencyOrderState  string     `json:"contingency_order_state,omitempty"`
	PositionExists         bool       `json:"position_exists"`
	ConditionalsHandled    bool       `json:"conditionals_handled"`
	EntryRetries           int        `json:"entry_retries,omitempty"`
	ValidationFailureNotes string     `json:"validation_failure,omitempty"`
}

// ConditionalPlays links a play into OCO and OTO groups by peer/child IDs.
type ConditionalPlays struct {
	OCOTriggers []string `json:"OCO_triggers,omitempty"`
	OTOTriggers []string `json:"OTO_triggers,omitempty"`
}

// PlayLog captures prices and greeks at open and close for the audit trail.
type PlayLog struct {
	OpenedAt          time.Time `json:"opened_at,omitempty"`
	ClosedAt          time.Time `json:"closed_at,omitempty"`
	StockPriceAtOpen  float64   `json:"stock_price_at_open,omitempty"`
	StockPriceAtClose float64   `json:"stock_price_at_close,omitempty"`
	PremiumAtOpen     float64   `json:"premium_at_open,omitempty"`
	PremiumAtClose    float64   `json:"premium_at_close,omitempty"`
	DeltaAtOpen       float64   `json:"delta_at_open,omitempty"`
	ThetaAtOpen       float64   `json:"theta_at_open,omitempty"`
	IVAtOpen          float64   `json:"iv_at_open,omitempty"`
	ExitReason        string    `json:"exit_reason,omitempty"`
}

// Play is the system's primary unit of work: a declarative trade plan with
// entry, take profit, stop loss, and lifecycle state. One JSON file per play.
type Play struct {
	ID                   string           `json:"play_id"`
	Symbol               string           `json:"symbol"`
	TradeType            TradeType        `json:"trade_type"`
	OptionContractSymbol string           `json:"option_contract_symbol"`
	StrikePrice          float64          `json:"strike_price"`
	ExpirationDate       time.Time        `json:"expiration_date"`
	Contracts            int              `json:"contracts"`
	Action               Action           `json:"action"`
	StrategyName         string           `json:"strategy_name"`
	PlaybookName         string           `json:"playbook_name,omitempty"`
	EntryPoint           EntryPoint       `json:"entry_point"`
	TakeProfit           TakeProfit       `json:"take_profit"`
	StopLoss             StopLoss         `json:"stop_loss"`
	Status               StatusBlock      `json:"status"`
	Conditionals         ConditionalPlays `json:"conditional_plays,omitempty"`
	Logging              PlayLog          `json:"logging,omitempty"`
	PlayExpirationDate   time.Time        `json:"play_expiration_date"`
	CreationDate         time.Time        `json:"creation_date"`
	Creator              string           `json:"creator,omitempty"`
}

// NewPlay creates a play in the NEW state with its OCC symbol derived from
// the top-level contract fields.
func NewPlay(id, symbol string, tradeType TradeType, strike float64,
	expiration time.Time, contracts int, action Action) *Play {
	return &Play{
		ID:                   id,
		Symbol:               symbol,
		TradeType:            tradeType,
		OptionContractSymbol: FormatOCC(symbol, expiration, tradeType, strike),
		StrikePrice:          strike,
		ExpirationDate:       expiration,
		Contracts:            contracts,
		Action:               action,
		Status:               StatusBlock{State: StatusNew},
		CreationDate:         time.Now().UTC(),
	}
}

// TransitionStatus moves the play to a new lifecycle state, enforcing the
// transition table. Side effects on the status block are confined to the
// fields the target state owns.
func (p *Play) TransitionStatus(to PlayStatus, condition string) error {
	if err := CanTransition(p.Status.State, to, condition); err != nil {
		return fmt.Errorf("play %s: %w", p.ID, err)
	}
	p.Status.State = to

	switch to {
	case StatusNew:
		if condition == ConditionOrderFailed {
			p.Status.OrderID = ""
			p.Status.OrderState = ""
			p.Status.EntryRetries++
		}
		if condition == ConditionParentFilled {
			p.Status.ConditionalsHandled = false
		}
	case StatusOpen:
		if condition == ConditionOrderFilled {
			p.Status.PositionExists = true
		}
		if condition == ConditionOrderFailed {
			// exit order failed: position still live, drop the dead order
			p.Status.ClosingOrderID = ""
			p.Status.ClosingOrderState = ""
			p.Status.ClosingSubmittedAt = time.Time{}
		}
	case StatusClosed:
		p.Status.PositionExists = false
	}
	return nil
}

// IsLong reports whether the play holds (or plans to hold) a long position.
func (p *Play) IsLong() bool {
	return p.Action.IsLong()
}

// IsShort reports whether the play holds (or plans to hold) a short position.
func (p *Play) IsShort() bool {
	return p.Action.IsShort()
}

// ExitAction derives the closing action from the opening action.
func (p *Play) ExitAction() (Action, error) {
	return p.Action.ExitAction()
}

// DTE returns whole days from now until the contract expiration, floored at 0.
func (p *Play) DTE(now time.Time) int {
	exp := p.ExpirationDate.UTC().Truncate(24 * time.Hour)
	days := int(exp.Sub(now.UTC().Truncate(24*time.Hour)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// IsPastGTD reports whether the play's expiration date (GTD) has passed.
// A play expiring today is still eligible.
func (p *Play) IsPastGTD(now time.Time) bool {
	if p.PlayExpirationDate.IsZero() {
		return false
	}
	gtd := p.PlayExpirationDate.UTC().Truncate(24 * time.Hour)
	today := now.UTC().Truncate(24 * time.Hour)
	return gtd.Before(today)
}

// EntryNotional returns the dollar cost basis of the play's entry:
// premium x contracts x 100 for long entries, strike x contracts x 100
// (cash-secured collateral) for short entries. Missing fields yield 0.
func (p *Play) EntryNotional() float64 {
	switch {
	case p.Action == ActionBuyToOpen:
		return p.EntryPoint.Premium * float64(p.Contracts) * sharesPerContract
	case p.Action == ActionSellToOpen:
		return p.StrikePrice * float64(p.Contracts) * sharesPerContract
	default:
		return 0
	}
}

// Validate enforces the play's structural invariants, in particular that the
// OCC contract symbol agrees with the four top-level contract fields. A
// non-nil error means the play must be tagged invalid and must not trade.
func (p *Play) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("play has no id")
	}
	if strings.TrimSpace(p.Symbol) == "" {
		return fmt.Errorf("play %s: symbol is required", p.ID)
	}
	if !p.TradeType.Valid() {
		return fmt.Errorf("play %s: trade_type %q must be CALL or PUT", p.ID, p.TradeType)
	}
	if !p.Action.Valid() || !p.Action.IsOpening() {
		return fmt.Errorf("play %s: action %q must be BTO or STO", p.ID, p.Action)
	}
	if p.Contracts <= 0 {
		return fmt.Errorf("play %s: contracts must be > 0 (got %d)", p.ID, p.Contracts)
	}
	if p.StrikePrice <= 0 {
		return fmt.Errorf("play %s: strike_price must be > 0 (got %.2f)", p.ID, p.StrikePrice)
	}

	occ, err := ParseOCC(p.OptionContractSymbol)
	if err != nil {
		return fmt.Errorf("play %s: %w", p.ID, err)
	}
	if !strings.EqualFold(occ.Root, p.Symbol) {
		return fmt.Errorf("play %s: OCC root %q does not match symbol %q", p.ID, occ.Root, p.Symbol)
	}
	if occ.Type != p.TradeType {
		return fmt.Errorf("play %s: OCC type %s does not match trade_type %s", p.ID, occ.Type, p.TradeType)
	}
	if !sameDay(occ.Expiration, p.ExpirationDate) {
		return fmt.Errorf("play %s: OCC expiration %s does not match expiration_date %s",
			p.ID, occ.Expiration.Format("2006-01-02"), p.ExpirationDate.Format("2006-01-02"))
	}
	if diff := occ.Strike - p.StrikePrice; diff > 0.0005 || diff < -0.0005 {
		return fmt.Errorf("play %s: OCC strike %.3f does not match strike_price %.3f",
			p.ID, occ.Strike, p.StrikePrice)
	}
	return nil
}

// CloseConditions carries a strategy's verdict on why an open play should
// close; the executor uses it to pick order type and exit reason.
type CloseConditions struct {
	ShouldClose       bool    `json:"should_close"`
	IsProfit          bool    `json:"is_profit"`
	IsPrimaryLoss     bool    `json:"is_primary_loss"`
	IsContingencyLoss bool    `json:"is_contingency_loss"`
	IsTimeExit        bool    `json:"is_time_exit"`
	ExitReason        string  `json:"exit_reason"`
	SLMode            SLMode  `json:"sl_mode,omitempty"`
	LimitPremium      float64 `json:"limit_premium,omitempty"`
}
