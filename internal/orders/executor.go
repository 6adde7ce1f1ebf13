// Package orders translates strategy decisions into broker orders: limit
// price selection, DAY time-in-force submission, per-play idempotency, and
// contingency stop-loss escalation.
package orders

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/eddiefleurent/michael_scarn/internal/broker"
	"github.com/eddiefleurent/michael_scarn/internal/marketdata"
	"github.com/eddiefleurent/michael_scarn/internal/models"
)

// QuoteSource is the slice of the market-data manager the executor needs.
type QuoteSource interface {
	OptionQuote(ctx context.Context, contractSymbol string) (*marketdata.OptionQuote, error)
}

// ExecutorConfig tunes the executor.
type ExecutorConfig struct {
	// ContingencyMaxWait is how long a CONTINGENCY limit exit may sit
	// unfilled before the executor escalates to a market order.
	ContingencyMaxWait time.Duration
	// Retry tunes the close-order retry client. The zero value takes
	// DefaultRetryConfig.
	Retry RetryConfig
}

// DefaultExecutorConfig is the default executor configuration.
var DefaultExecutorConfig = ExecutorConfig{
	ContingencyMaxWait: 3 * time.Minute,
}

// Executor submits entry and exit orders for plays. It mutates the play's
// status block in memory; persisting the play is the caller's job.
type Executor struct {
	broker broker.Broker
	quotes QuoteSource
	retry  *RetryClient
	logger *log.Logger
	config ExecutorConfig
}

// NewExecutor creates an order executor.
func NewExecutor(b broker.Broker, quotes QuoteSource, logger *log.Logger, config ...ExecutorConfig) *Executor {
	cfg := DefaultExecutorConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.ContingencyMaxWait <= 0 {
		cfg.ContingencyMaxWait = DefaultExecutorConfig.ContingencyMaxWait
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig
	}
	if logger == nil {
		logger = log.New(os.Stderr, "orders: ", log.LstdFlags)
	}
	if b == nil {
		panic("orders.NewExecutor: broker must not be nil")
	}
	return &Executor{
		broker: b,
		quotes: quotes,
		retry:  NewRetryClient(b, logger, cfg.Retry),
		logger: logger,
		config: cfg,
	}
}

// LimitPrice resolves the limit price for an order type from a quote.
// limit_at_mid requires both sides of the book; otherwise it falls back to
// the last traded price. Market orders price at 0.
func LimitPrice(orderType models.OrderType, q *marketdata.OptionQuote) (float64, error) {
	switch orderType {
	case models.OrderTypeMarket:
		return 0, nil
	case models.OrderTypeLimitAtBid:
		return q.Bid, nil
	case models.OrderTypeLimitAtAsk:
		return q.Ask, nil
	case models.OrderTypeLimitAtLast:
		return q.Last, nil
	case models.OrderTypeLimitAtMid, "":
		if q.Bid > 0 && q.Ask > 0 {
			return q.Mid, nil
		}
		return q.Last, nil
	default:
		return 0, fmt.Errorf("unknown order type %q", orderType)
	}
}

// orderTag derives a deterministic client-order tag from the play and the
// order's intent, so resubmissions after a crash carry the same tag.
func orderTag(play *models.Play, intent string) string {
	sum := sha256.Sum256([]byte(play.ID + "|" + intent + "|" + fmt.Sprint(play.Status.EntryRetries)))
	return "ms-" + intent + "-" + hex.EncodeToString(sum[:4])
}

// orderLive reports whether the broker still considers the order working.
func (e *Executor) orderLive(ctx context.Context, orderID string) (bool, error) {
	res, err := e.broker.GetOrderByID(ctx, orderID)
	if err != nil {
		return false, err
	}
	return !broker.NormalizeStatus(string(res.Status)).Terminal(), nil
}

// OpenPosition submits the entry order for a NEW play and advances it to
// PENDING_OPENING. Idempotent: if the play already has a live entry order
// at the broker, nothing new is submitted.
func (e *Executor) OpenPosition(ctx context.Context, play *models.Play) error {
	if play.Status.OrderID != "" {
		live, err := e.orderLive(ctx, play.Status.OrderID)
		if err != nil {
			return fmt.Errorf("checking existing entry order %s: %w", play.Status.OrderID, err)
		}
		if live {
			e.logger.Printf("play %s entry order %s still live, skipping resubmit", play.ID, play.Status.OrderID)
			return nil
		}
	}

	q, err := e.quotes.OptionQuote(ctx, play.OptionContractSymbol)
	if err != nil {
		return fmt.Errorf("quoting %s for entry: %w", play.OptionContractSymbol, err)
	}
	orderType := play.EntryPoint.OrderType
	if orderType == "" {
		orderType = models.OrderTypeLimitAtBid
	}
	price, err := LimitPrice(orderType, q)
	if err != nil {
		return err
	}

	order := broker.Order{
		OptionSymbol: play.OptionContractSymbol,
		Action:       play.Action,
		Type:         brokerOrderType(orderType),
		Quantity:     play.Contracts,
		LimitPrice:   price,
		Duration:     broker.DurationDay,
		Tag:          orderTag(play, "entry"),
	}
	res, err := e.broker.SubmitOrder(ctx, order)
	if err != nil {
		return fmt.Errorf("submitting entry for play %s: %w", play.ID, err)
	}

	play.Status.OrderID = res.ID
	play.Status.OrderState = string(res.Status)
	if err := play.TransitionStatus(models.StatusPendingOpening, models.ConditionEntrySubmitted); err != nil {
		return err
	}
	e.logger.Printf("play %s entry submitted: order=%s type=%s limit=%.2f qty=%d",
		play.ID, res.ID, orderType, price, play.Contracts)
	return nil
}

// ClosePosition submits the exit order for an OPEN play and advances it to
// PENDING_CLOSING. The exit action is the pair of the opening action, and
// the submission goes through the retry client: transient broker failures
// must not leave a position unattended.
func (e *Executor) ClosePosition(ctx context.Context, play *models.Play, cc models.CloseConditions) error {
	if play.Status.ClosingOrderID != "" {
		live, err := e.orderLive(ctx, play.Status.ClosingOrderID)
		if err != nil {
			return fmt.Errorf("checking existing exit order %s: %w", play.Status.ClosingOrderID, err)
		}
		if live {
			e.logger.Printf("play %s exit order %s still live, skipping resubmit", play.ID, play.Status.ClosingOrderID)
			return nil
		}
	}

	exitAction, err := play.Action.ExitAction()
	if err != nil {
		return fmt.Errorf("play %s: %w", play.ID, err)
	}

	orderType, price, err := e.exitPricing(ctx, play, cc)
	if err != nil {
		return err
	}

	order := broker.Order{
		OptionSymbol: play.OptionContractSymbol,
		Action:       exitAction,
		Type:         brokerOrderType(orderType),
		Quantity:     play.Contracts,
		LimitPrice:   price,
		Duration:     broker.DurationDay,
		Tag:          orderTag(play, "exit"),
	}
	res, err := e.retry.SubmitCloseWithRetry(ctx, order)
	if err != nil {
		return fmt.Errorf("submitting exit for play %s: %w", play.ID, err)
	}

	play.Status.ClosingOrderID = res.ID
	play.Status.ClosingOrderState = string(res.Status)
	play.Status.ClosingSubmittedAt = time.Now().UTC()
	play.Logging.ExitReason = cc.ExitReason

	condition := models.ConditionExitSubmitted
	if cc.IsTimeExit {
		condition = models.ConditionForceClose
	}
	if err := play.TransitionStatus(models.StatusPendingClosing, condition); err != nil {
		return err
	}
	e.logger.Printf("play %s exit submitted: order=%s action=%s reason=%s limit=%.2f",
		play.ID, res.ID, exitAction, cc.ExitReason, price)
	return nil
}

// exitPricing picks the order type and limit price for an exit.
func (e *Executor) exitPricing(ctx context.Context, play *models.Play, cc models.CloseConditions) (models.OrderType, float64, error) {
	orderType := play.TakeProfit.OrderType
	if cc.IsPrimaryLoss || cc.IsContingencyLoss {
		orderType = play.StopLoss.OrderType
		if cc.SLMode == models.SLModeStop {
			orderType = models.OrderTypeMarket
		}
	}
	if cc.IsTimeExit {
		orderType = models.OrderTypeMarket
	}
	if orderType == "" {
		orderType = models.OrderTypeLimitAtBid
	}
	if orderType == models.OrderTypeMarket {
		return orderType, 0, nil
	}
	if cc.LimitPremium > 0 {
		return orderType, cc.LimitPremium, nil
	}

	q, err := e.quotes.OptionQuote(ctx, play.OptionContractSymbol)
	if err != nil {
		return "", 0, fmt.Errorf("quoting %s for exit: %w", play.OptionContractSymbol, err)
	}
	price, err := LimitPrice(orderType, q)
	if err != nil {
		return "", 0, err
	}
	return orderType, price, nil
}

// CheckContingency escalates a CONTINGENCY stop loss: when the working limit
// exit has outlived the wait window, or the market has moved beyond the
// backup trigger, the limit is canceled and a market close is submitted.
// Returns true when escalation happened.
func (e *Executor) CheckContingency(ctx context.Context, play *models.Play, now time.Time) (bool, error) {
	if play.Status.State != models.StatusPendingClosing ||
		play.StopLoss.Mode != models.SLModeContingency ||
		play.Status.ClosingOrderID == "" ||
		play.Status.ContingencyOrderID != "" {
		return false, nil
	}

	live, err := e.orderLive(ctx, play.Status.ClosingOrderID)
	if err != nil {
		return false, fmt.Errorf("checking exit order %s: %w", play.Status.ClosingOrderID, err)
	}
	if !live {
		return false, nil
	}

	timedOut := !play.Status.ClosingSubmittedAt.IsZero() &&
		now.Sub(play.Status.ClosingSubmittedAt) > e.config.ContingencyMaxWait

	triggered := false
	if play.StopLoss.ContingencyPremium > 0 {
		q, err := e.quotes.OptionQuote(ctx, play.OptionContractSymbol)
		if err != nil {
			e.logger.Printf("play %s contingency quote unavailable: %v", play.ID, err)
		} else {
			triggered = contingencyTriggered(play, q)
		}
	}

	if !timedOut && !triggered {
		return false, nil
	}

	e.logger.Printf("play %s contingency escalation: timed_out=%t triggered=%t", play.ID, timedOut, triggered)
	if err := e.broker.CancelOrderByID(ctx, play.Status.ClosingOrderID); err != nil {
		return false, fmt.Errorf("canceling limit exit %s: %w", play.Status.ClosingOrderID, err)
	}

	res, err := e.broker.ClosePosition(ctx, play.OptionContractSymbol, play.Contracts)
	if err != nil {
		return false, fmt.Errorf("submitting market close for play %s: %w", play.ID, err)
	}
	play.Status.ContingencyOrderID = res.ID
	play.Status.ContingencyOrderState = string(res.Status)
	// The contingency order supersedes the limit as the closing order the
	// lifecycle engine reconciles against.
	play.Status.ClosingOrderID = res.ID
	play.Status.ClosingOrderState = string(res.Status)
	e.logger.Printf("play %s market close submitted: order=%s", play.ID, res.ID)
	return true, nil
}

// contingencyTriggered reports whether the market has moved beyond the
// backup trigger. Short positions stop out as the premium rises; long
// positions as it falls.
func contingencyTriggered(play *models.Play, q *marketdata.OptionQuote) bool {
	trigger := play.StopLoss.ContingencyPremium
	if play.Action.IsShort() {
		// Cost to buy back is the ask; fall back to last
		cost := q.Ask
		if cost <= 0 {
			cost = q.Last
		}
		return cost >= trigger
	}
	proceeds := q.Bid
	if proceeds <= 0 {
		proceeds = q.Last
	}
	return proceeds > 0 && proceeds <= trigger
}

// brokerOrderType maps the play-level price policy onto the broker's two
// order types.
func brokerOrderType(t models.OrderType) string {
	if t == models.OrderTypeMarket {
		return "market"
	}
	return "limit"
}
