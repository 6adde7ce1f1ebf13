// Package lifecycle advances plays through the status state machine: GTD
// expiration, broker order reconciliation, OCC validation tagging, and the
// OCO/OTO conditional linkage between plays.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/eddiefleurent/michael_scarn/internal/broker"
	"github.com/eddiefleurent/michael_scarn/internal/clock"
	"github.com/eddiefleurent/michael_scarn/internal/marketdata"
	"github.com/eddiefleurent/michael_scarn/internal/models"
	"github.com/eddiefleurent/michael_scarn/internal/orders"
	"github.com/eddiefleurent/michael_scarn/internal/store"
)

// MarketData is the slice of the market-data manager the engine needs to
// stamp the audit log when fills land.
type MarketData interface {
	OptionQuote(ctx context.Context, contractSymbol string) (*marketdata.OptionQuote, error)
	StockPrice(ctx context.Context, symbol string) (float64, error)
}

// Engine owns every play status transition. All its passes are idempotent:
// running one twice in a cycle produces the same store state.
type Engine struct {
	store      store.Interface
	broker     broker.Broker
	executor   *orders.Executor
	marketData MarketData
	clock      clock.Clock
	logger     *log.Logger
}

// NewEngine creates a lifecycle engine. The executor is used for forced
// closes and contingency escalation; md for the greeks and underlying-price
// snapshots on fills, and may be nil.
func NewEngine(st store.Interface, b broker.Broker, executor *orders.Executor,
	md MarketData, clk clock.Clock, logger *log.Logger) *Engine {
	if st == nil {
		panic("lifecycle.NewEngine: store must not be nil")
	}
	if b == nil {
		panic("lifecycle.NewEngine: broker must not be nil")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "lifecycle: ", log.LstdFlags)
	}
	return &Engine{store: st, broker: b, executor: executor, marketData: md, clock: clk, logger: logger}
}

// ValidatePlays tags plays whose OCC contract symbol disagrees with their
// top-level fields as INVALID. Invalid plays never trade and stay parked for
// the operator; the failure note records what went wrong.
func (e *Engine) ValidatePlays(ctx context.Context) error {
	for _, status := range []models.PlayStatus{models.StatusNew, models.StatusTemp} {
		plays, err := e.store.ListByStatus(status)
		if err != nil {
			return fmt.Errorf("listing %s plays: %w", status, err)
		}
		for _, play := range plays {
			verr := play.Validate()
			if verr == nil {
				continue
			}
			e.logger.Printf("play %s failed validation: %v", play.ID, verr)
			play.Status.ValidationFailureNotes = verr.Error()
			if err := play.TransitionStatus(models.StatusInvalid, models.ConditionValidationFailed); err != nil {
				e.logger.Printf("play %s: %v", play.ID, err)
				continue
			}
			if err := e.store.Move(play, status, models.StatusInvalid); err != nil {
				return fmt.Errorf("moving invalid play %s: %w", play.ID, err)
			}
		}
	}
	return nil
}

// HandleExpired expires plays whose GTD date has passed. Unopened plays go
// straight to EXPIRED; open positions get a forced market exit.
func (e *Engine) HandleExpired(ctx context.Context) error {
	now := e.clock.Now()

	for _, status := range []models.PlayStatus{models.StatusNew, models.StatusTemp} {
		plays, err := e.store.ListByStatus(status)
		if err != nil {
			return fmt.Errorf("listing %s plays: %w", status, err)
		}
		for _, play := range plays {
			if !play.IsPastGTD(now) {
				continue
			}
			if err := play.TransitionStatus(models.StatusExpired, models.ConditionPlayExpired); err != nil {
				e.logger.Printf("play %s: %v", play.ID, err)
				continue
			}
			if err := e.store.Move(play, status, models.StatusExpired); err != nil {
				return fmt.Errorf("expiring play %s: %w", play.ID, err)
			}
			e.logger.Printf("play %s expired (GTD %s)", play.ID, play.PlayExpirationDate.Format("2006-01-02"))
		}
	}

	open, err := e.store.ListByStatus(models.StatusOpen)
	if err != nil {
		return fmt.Errorf("listing open plays: %w", err)
	}
	for _, play := range open {
		if !play.IsPastGTD(now) {
			continue
		}
		e.logger.Printf("play %s past GTD while open, forcing market exit", play.ID)
		cc := models.CloseConditions{
			ShouldClose: true,
			IsTimeExit:  true,
			ExitReason:  "play_expired",
		}
		if err := e.executor.ClosePosition(ctx, play, cc); err != nil {
			e.logger.Printf("play %s force close failed: %v", play.ID, err)
			continue
		}
		if err := e.store.Move(play, models.StatusOpen, models.StatusPendingClosing); err != nil {
			return fmt.Errorf("moving force-closed play %s: %w", play.ID, err)
		}
	}
	return nil
}

// ParkOTOChildren moves NEW plays that are OTO children of a not-yet-open
// parent into TEMP, where they wait for the parent fill.
func (e *Engine) ParkOTOChildren(ctx context.Context) error {
	waiting := make(map[string]string) // child id -> parent id
	for _, status := range []models.PlayStatus{models.StatusNew, models.StatusPendingOpening} {
		parents, err := e.store.ListByStatus(status)
		if err != nil {
			return fmt.Errorf("listing %s plays: %w", status, err)
		}
		for _, parent := range parents {
			if parent.Status.ConditionalsHandled {
				continue
			}
			for _, childID := range parent.Conditionals.OTOTriggers {
				waiting[childID] = parent.ID
			}
		}
	}
	if len(waiting) == 0 {
		return nil
	}

	plays, err := e.store.ListByStatus(models.StatusNew)
	if err != nil {
		return fmt.Errorf("listing new plays: %w", err)
	}
	for _, play := range plays {
		parentID, isChild := waiting[play.ID]
		if !isChild || parentID == play.ID {
			continue
		}
		if err := play.TransitionStatus(models.StatusTemp, models.ConditionAwaitParent); err != nil {
			e.logger.Printf("play %s: %v", play.ID, err)
			continue
		}
		if err := e.store.Move(play, models.StatusNew, models.StatusTemp); err != nil {
			return fmt.Errorf("parking OTO child %s: %w", play.ID, err)
		}
		e.logger.Printf("play %s parked in temp awaiting parent %s", play.ID, parentID)
	}
	return nil
}

// ReconcilePending polls the broker for every working order and advances the
// plays whose orders reached a terminal status. Contingency stop escalation
// runs as part of the pending-closing pass.
func (e *Engine) ReconcilePending(ctx context.Context) error {
	if err := e.reconcileOpening(ctx); err != nil {
		return err
	}
	return e.reconcileClosing(ctx)
}

func (e *Engine) reconcileOpening(ctx context.Context) error {
	plays, err := e.store.ListByStatus(models.StatusPendingOpening)
	if err != nil {
		return fmt.Errorf("listing pending_opening plays: %w", err)
	}
	for _, play := range plays {
		// An OCO cancel earlier in this pass may have moved the play out of
		// the partition already; skip stale snapshot entries.
		if _, cur, err := e.store.Find(play.ID); err != nil || cur != models.StatusPendingOpening {
			continue
		}
		if play.Status.OrderID == "" {
			// No order attached: send it back to NEW for a clean resubmit
			if err := play.TransitionStatus(models.StatusNew, models.ConditionOrderFailed); err != nil {
				e.logger.Printf("play %s: %v", play.ID, err)
				continue
			}
			if err := e.store.Move(play, models.StatusPendingOpening, models.StatusNew); err != nil {
				return err
			}
			continue
		}

		res, err := e.broker.GetOrderByID(ctx, play.Status.OrderID)
		if err != nil {
			e.logger.Printf("play %s: polling entry order %s: %v", play.ID, play.Status.OrderID, err)
			continue
		}
		status := broker.NormalizeStatus(string(res.Status))
		play.Status.OrderState = string(status)

		switch {
		case status == broker.OrderStatusFilled:
			if err := e.entryFilled(ctx, play, res); err != nil {
				return err
			}
		case status.Failed():
			e.logger.Printf("play %s entry order %s %s, reverting to new", play.ID, res.ID, status)
			if err := play.TransitionStatus(models.StatusNew, models.ConditionOrderFailed); err != nil {
				e.logger.Printf("play %s: %v", play.ID, err)
				continue
			}
			if err := e.store.Move(play, models.StatusPendingOpening, models.StatusNew); err != nil {
				return err
			}
		default:
			// Still working; persist the refreshed order state
			if err := e.store.Save(models.StatusPendingOpening, play); err != nil {
				return err
			}
		}
	}
	return nil
}

// entryFilled records the fill, opens the play, and fans out conditionals.
func (e *Engine) entryFilled(ctx context.Context, play *models.Play, res *broker.OrderResult) error {
	now := e.clock.Now().UTC()
	play.Logging.OpenedAt = now
	if res.FilledPrice > 0 {
		play.Logging.PremiumAtOpen = res.FilledPrice
		// The realized fill becomes the basis for TP/SL percent triggers
		// and the trailing engine.
		play.EntryPoint.Premium = res.FilledPrice
	}
	e.stampOpen(ctx, play)
	if err := play.TransitionStatus(models.StatusOpen, models.ConditionOrderFilled); err != nil {
		return fmt.Errorf("play %s: %w", play.ID, err)
	}
	if err := e.store.Move(play, models.StatusPendingOpening, models.StatusOpen); err != nil {
		return fmt.Errorf("opening play %s: %w", play.ID, err)
	}
	e.logger.Printf("play %s opened at %.2f", play.ID, res.FilledPrice)
	return e.handleConditionals(ctx, play)
}

func (e *Engine) reconcileClosing(ctx context.Context) error {
	plays, err := e.store.ListByStatus(models.StatusPendingClosing)
	if err != nil {
		return fmt.Errorf("listing pending_closing plays: %w", err)
	}
	for _, play := range plays {
		if _, cur, err := e.store.Find(play.ID); err != nil || cur != models.StatusPendingClosing {
			continue
		}
		if e.executor != nil {
			escalated, err := e.executor.CheckContingency(ctx, play, e.clock.Now())
			if err != nil {
				e.logger.Printf("play %s contingency check: %v", play.ID, err)
			} else if escalated {
				if err := e.store.Save(models.StatusPendingClosing, play); err != nil {
					return err
				}
			}
		}
		if play.Status.ClosingOrderID == "" {
			continue
		}

		res, err := e.broker.GetOrderByID(ctx, play.Status.ClosingOrderID)
		if err != nil {
			e.logger.Printf("play %s: polling exit order %s: %v", play.ID, play.Status.ClosingOrderID, err)
			continue
		}
		status := broker.NormalizeStatus(string(res.Status))
		play.Status.ClosingOrderState = string(status)

		switch {
		case status == broker.OrderStatusFilled:
			if err := e.exitFilled(ctx, play, res); err != nil {
				return err
			}
		case status.Failed():
			e.logger.Printf("play %s exit order %s %s, position still live", play.ID, res.ID, status)
			if err := play.TransitionStatus(models.StatusOpen, models.ConditionOrderFailed); err != nil {
				e.logger.Printf("play %s: %v", play.ID, err)
				continue
			}
			if err := e.store.Move(play, models.StatusPendingClosing, models.StatusOpen); err != nil {
				return err
			}
		default:
			if err := e.store.Save(models.StatusPendingClosing, play); err != nil {
				return err
			}
		}
	}
	return nil
}

// exitFilled records the close and retires the play.
func (e *Engine) exitFilled(ctx context.Context, play *models.Play, res *broker.OrderResult) error {
	play.Logging.ClosedAt = e.clock.Now().UTC()
	if res.FilledPrice > 0 {
		play.Logging.PremiumAtClose = res.FilledPrice
	}
	e.stampClose(ctx, play)
	if err := play.TransitionStatus(models.StatusClosed, models.ConditionOrderFilled); err != nil {
		return fmt.Errorf("play %s: %w", play.ID, err)
	}
	if err := e.store.Move(play, models.StatusPendingClosing, models.StatusClosed); err != nil {
		return fmt.Errorf("closing play %s: %w", play.ID, err)
	}
	e.logger.Printf("play %s closed at %.2f (%s)", play.ID, res.FilledPrice, play.Logging.ExitReason)
	return e.handleConditionals(ctx, play)
}

// stampOpen snapshots the greeks and underlying price into the audit log on
// entry fill. A quote outage only costs the snapshot, never the transition.
func (e *Engine) stampOpen(ctx context.Context, play *models.Play) {
	if e.marketData == nil {
		return
	}
	if q, err := e.marketData.OptionQuote(ctx, play.OptionContractSymbol); err != nil {
		e.logger.Printf("play %s: no greeks at open: %v", play.ID, err)
	} else {
		play.Logging.DeltaAtOpen = q.Delta
		play.Logging.ThetaAtOpen = q.Theta
		play.Logging.IVAtOpen = q.IV
	}
	if price, err := e.marketData.StockPrice(ctx, play.Symbol); err != nil {
		e.logger.Printf("play %s: no underlying price at open: %v", play.ID, err)
	} else {
		play.Logging.StockPriceAtOpen = price
	}
}

// stampClose snapshots the underlying price at exit fill.
func (e *Engine) stampClose(ctx context.Context, play *models.Play) {
	if e.marketData == nil {
		return
	}
	if price, err := e.marketData.StockPrice(ctx, play.Symbol); err != nil {
		e.logger.Printf("play %s: no underlying price at close: %v", play.ID, err)
	} else {
		play.Logging.StockPriceAtClose = price
	}
}

// handleConditionals runs the OCO cancel and OTO fan-out for a play that
// just reached OPEN or CLOSED. The fan-out runs at most once per play,
// guarded by conditionals_handled.
func (e *Engine) handleConditionals(ctx context.Context, play *models.Play) error {
	if err := e.cancelOCOSiblings(ctx, play); err != nil {
		return err
	}
	if play.Status.ConditionalsHandled {
		return nil
	}
	if err := e.activateOTOChildren(ctx, play); err != nil {
		return err
	}
	play.Status.ConditionalsHandled = true
	return e.store.Save(play.Status.State, play)
}

// cancelOCOSiblings expires every OCO peer still waiting to open. Peers with
// a working broker order get the order canceled first.
func (e *Engine) cancelOCOSiblings(ctx context.Context, play *models.Play) error {
	for _, peerID := range play.Conditionals.OCOTriggers {
		if peerID == play.ID {
			continue
		}
		peer, from, err := e.store.Find(peerID)
		if err != nil {
			e.logger.Printf("play %s: OCO peer %s not found: %v", play.ID, peerID, err)
			continue
		}
		switch from {
		case models.StatusNew, models.StatusPendingOpening:
		default:
			continue
		}

		if from == models.StatusPendingOpening && peer.Status.OrderID != "" {
			if err := e.broker.CancelOrderByID(ctx, peer.Status.OrderID); err != nil {
				e.logger.Printf("play %s: canceling OCO peer order %s: %v", play.ID, peer.Status.OrderID, err)
			}
		}
		if err := peer.TransitionStatus(models.StatusExpired, models.ConditionOCOCanceled); err != nil {
			e.logger.Printf("play %s: OCO peer %s: %v", play.ID, peerID, err)
			continue
		}
		if err := e.store.Move(peer, from, models.StatusExpired); err != nil {
			return fmt.Errorf("expiring OCO peer %s: %w", peerID, err)
		}
		e.logger.Printf("play %s triggered, OCO peer %s expired", play.ID, peerID)
	}
	return nil
}

// activateOTOChildren moves the play's OTO children from TEMP to NEW.
func (e *Engine) activateOTOChildren(ctx context.Context, play *models.Play) error {
	for _, childID := range play.Conditionals.OTOTriggers {
		if childID == play.ID {
			continue
		}
		child, from, err := e.store.Find(childID)
		if err != nil {
			e.logger.Printf("play %s: OTO child %s not found: %v", play.ID, childID, err)
			continue
		}
		if from != models.StatusTemp {
			continue
		}
		if err := child.TransitionStatus(models.StatusNew, models.ConditionParentFilled); err != nil {
			e.logger.Printf("play %s: OTO child %s: %v", play.ID, childID, err)
			continue
		}
		if err := e.store.Move(child, models.StatusTemp, models.StatusNew); err != nil {
			return fmt.Errorf("activating OTO child %s: %w", childID, err)
		}
		e.logger.Printf("play %s filled, OTO child %s activated", play.ID, childID)
	}
	return nil
}

// CancelPlay is the operator path: cancel a play that has not opened yet.
// Working entry orders are canceled at the broker first.
func (e *Engine) CancelPlay(ctx context.Context, playID string) error {
	play, from, err := e.store.Find(playID)
	if err != nil {
		return err
	}
	switch from {
	case models.StatusNew, models.StatusTemp, models.StatusPendingOpening:
	case models.StatusOpen:
		return e.requestClose(ctx, play)
	default:
		return fmt.Errorf("play %s in %s cannot be canceled", playID, from)
	}

	if from == models.StatusPendingOpening && play.Status.OrderID != "" {
		if err := e.broker.CancelOrderByID(ctx, play.Status.OrderID); err != nil {
			return fmt.Errorf("canceling entry order %s: %w", play.Status.OrderID, err)
		}
	}
	if err := play.TransitionStatus(models.StatusExpired, models.ConditionOperatorCancel); err != nil {
		return err
	}
	if err := e.store.Move(play, from, models.StatusExpired); err != nil {
		return fmt.Errorf("expiring play %s: %w", playID, err)
	}
	e.logger.Printf("play %s canceled by operator", playID)
	return nil
}

// requestClose submits a market exit for an open play on operator request.
func (e *Engine) requestClose(ctx context.Context, play *models.Play) error {
	cc := models.CloseConditions{
		ShouldClose: true,
		IsTimeExit:  true,
		ExitReason:  "operator_close",
	}
	if err := e.executor.ClosePosition(ctx, play, cc); err != nil {
		return err
	}
	return e.store.Move(play, models.StatusOpen, models.StatusPendingClosing)
}
