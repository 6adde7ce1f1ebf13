package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/michael_scarn/internal/broker"
	"github.com/eddiefleurent/michael_scarn/internal/clock"
	"github.com/eddiefleurent/michael_scarn/internal/models"
	"github.com/eddiefleurent/michael_scarn/internal/store"
)

const positionsFetchTimeout = 8 * time.Second

// Reconciler aligns the play store with what the brokerage actually holds.
// It runs once at startup, before the first cycle: a restart must not trade
// against a store that no longer matches the account.
type Reconciler struct {
	broker broker.Broker
	store  store.Interface
	clock  clock.Clock
	logger *log.Logger
}

// NewReconciler creates a startup reconciler.
func NewReconciler(b broker.Broker, st store.Interface, clk clock.Clock, logger *log.Logger) *Reconciler {
	return &Reconciler{broker: b, store: st, clock: clk, logger: logger}
}

// Run executes one reconciliation pass. OPEN plays with no backing broker
// position are recorded as manual closes; held option positions no play
// tracks are adopted as recovered OPEN plays.
func (r *Reconciler) Run(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, positionsFetchTimeout)
	defer cancel()
	positions, err := r.broker.GetPositions(fetchCtx)
	if err != nil {
		return fmt.Errorf("fetching broker positions: %w", err)
	}

	// Option positions only; equity legs in the same account are not ours.
	held := make(map[string]broker.Position)
	for _, pos := range positions {
		if _, err := models.ParseOCC(pos.OptionSymbol); err != nil {
			continue
		}
		held[pos.OptionSymbol] = pos
	}

	tracked := make(map[string]int)
	for _, status := range []models.PlayStatus{models.StatusOpen, models.StatusPendingClosing} {
		plays, err := r.store.ListByStatus(status)
		if err != nil {
			return fmt.Errorf("listing %s plays: %w", status, err)
		}
		for _, p := range plays {
			tracked[p.OptionContractSymbol] += p.Contracts
		}
	}
	r.logger.Printf("reconciling %d tracked contracts against %d broker option positions",
		len(tracked), len(held))

	if err := r.closeUnbackedPlays(held); err != nil {
		return err
	}
	return r.adoptOrphans(held, tracked)
}

// closeUnbackedPlays retires OPEN plays whose position is gone from the
// account, typically a manual close in the broker UI.
func (r *Reconciler) closeUnbackedPlays(held map[string]broker.Position) error {
	open, err := r.store.ListByStatus(models.StatusOpen)
	if err != nil {
		return fmt.Errorf("listing open plays: %w", err)
	}
	for _, play := range open {
		if _, ok := held[play.OptionContractSymbol]; ok {
			continue
		}
		r.logger.Printf("play %s has no backing position in %s, recording manual close",
			play.ID, play.OptionContractSymbol)

		// Recovery bypasses the order state machine: there is no exit order
		// to track, the position is simply gone.
		play.Status.State = models.StatusClosed
		play.Status.PositionExists = false
		play.Logging.ExitReason = "manual_close"
		play.Logging.ClosedAt = r.clock.Now().UTC()
		if err := r.store.Move(play, models.StatusOpen, models.StatusClosed); err != nil {
			return fmt.Errorf("closing unbacked play %s: %w", play.ID, err)
		}
	}
	return nil
}

// adoptOrphans creates recovery plays for held option positions no play
// accounts for, so the lifecycle engine manages them from here on.
func (r *Reconciler) adoptOrphans(held map[string]broker.Position, tracked map[string]int) error {
	for symbol, pos := range held {
		qty := pos.Quantity
		if qty < 0 {
			qty = -qty
		}
		missing := qty - tracked[symbol]
		if missing <= 0 {
			continue
		}
		play, err := r.recoveryPlay(pos, missing)
		if err != nil {
			r.logger.Printf("cannot adopt position %s: %v", symbol, err)
			continue
		}
		if err := r.store.Save(models.StatusOpen, play); err != nil {
			return fmt.Errorf("saving recovered play for %s: %w", symbol, err)
		}
		r.logger.Printf("adopted orphan position %s as play %s (%d contracts)",
			symbol, play.ID, missing)
	}
	return nil
}

// recoveryPlay builds an OPEN play for an untracked position. The entry
// premium is reconstructed from the position's cost basis; the play expires
// with the contract so the GTD pass eventually forces it out.
func (r *Reconciler) recoveryPlay(pos broker.Position, contracts int) (*models.Play, error) {
	occ, err := models.ParseOCC(pos.OptionSymbol)
	if err != nil {
		return nil, err
	}
	action := models.ActionBuyToOpen
	if pos.Quantity < 0 {
		action = models.ActionSellToOpen
	}

	play := models.NewPlay(uuid.New().String(), occ.Root, occ.Type, occ.Strike,
		occ.Expiration, contracts, action)
	play.Creator = "reconciler"
	play.PlayExpirationDate = occ.Expiration
	play.Status.State = models.StatusOpen
	play.Status.PositionExists = true
	play.Logging.OpenedAt = r.clock.Now().UTC()

	if totalQty := pos.Quantity; totalQty != 0 {
		if totalQty < 0 {
			totalQty = -totalQty
		}
		basis := pos.CostBasis
		if basis < 0 {
			basis = -basis
		}
		premium := basis / (float64(totalQty) * 100)
		play.EntryPoint.Premium = premium
		play.Logging.PremiumAtOpen = premium
	}
	return play, nil
}
