// Package orchestrator drives the trading cycle: cache reset, capital
// refresh, lifecycle maintenance, then per-strategy evaluation in sequential
// or bounded-parallel mode.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/michael_scarn/internal/capital"
	"github.com/eddiefleurent/michael_scarn/internal/clock"
	"github.com/eddiefleurent/michael_scarn/internal/lifecycle"
	"github.com/eddiefleurent/michael_scarn/internal/models"
	"github.com/eddiefleurent/michael_scarn/internal/orders"
	"github.com/eddiefleurent/michael_scarn/internal/store"
	"github.com/eddiefleurent/michael_scarn/internal/strategy"
	"github.com/eddiefleurent/michael_scarn/internal/trailing"
)

// MarketData is the slice of the market-data manager the orchestrator needs.
type MarketData interface {
	StartNewCycle() uint64
	strategy.MarketData
}

// Config selects the execution mode for one cycle.
type Config struct {
	Mode               string // "sequential" (default) or "parallel"
	MaxParallelWorkers int
	DryRun             bool
	CycleInterval      time.Duration
	// MaxCycles stops Run after N executed cycles; 0 runs until canceled.
	MaxCycles int
	// RunWhenClosed executes cycles outside the regular session. Off in
	// production; the run loop skips closed-market ticks.
	RunWhenClosed bool
}

// Deps wires the orchestrator to the rest of the system.
type Deps struct {
	Strategies []strategy.Strategy
	MarketData MarketData
	Capital    *capital.Manager
	Store      store.Interface
	Executor   *orders.Executor
	Lifecycle  *lifecycle.Engine
	Trailing   *trailing.Engine
	Clock      clock.Clock
	Session    clock.Session
	Logger     *log.Logger
	// Limits resolves a playbook name to its per-trade risk limits.
	Limits func(playbook string) capital.RiskLimits
}

// Orchestrator runs trading cycles.
type Orchestrator struct {
	deps   Deps
	config Config
	logger *log.Logger

	cycles int
}

// New creates an orchestrator.
func New(deps Deps, config Config) *Orchestrator {
	if deps.Store == nil {
		panic("orchestrator.New: store must not be nil")
	}
	if deps.MarketData == nil {
		panic("orchestrator.New: market data must not be nil")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = log.New(os.Stderr, "orchestrator: ", log.LstdFlags)
	}
	if deps.Limits == nil {
		deps.Limits = func(string) capital.RiskLimits { return capital.RiskLimits{} }
	}
	if config.Mode == "" {
		config.Mode = "sequential"
	}
	if config.CycleInterval <= 0 {
		config.CycleInterval = 5 * time.Minute
	}
	return &Orchestrator{deps: deps, config: config, logger: deps.Logger}
}

// Cycle runs one full trading cycle.
func (o *Orchestrator) Cycle(ctx context.Context) error {
	cycleID := o.deps.MarketData.StartNewCycle()
	o.logger.Printf("cycle %d starting", cycleID)

	if o.deps.Capital != nil {
		if err := o.deps.Capital.Refresh(ctx); err != nil {
			return fmt.Errorf("cycle %d: %w", cycleID, err)
		}
	}

	// Lifecycle maintenance runs once per cycle, before any strategy: it
	// polls the broker for every pending play regardless of owner.
	if err := o.deps.Lifecycle.ValidatePlays(ctx); err != nil {
		return fmt.Errorf("cycle %d: %w", cycleID, err)
	}
	if err := o.deps.Lifecycle.HandleExpired(ctx); err != nil {
		return fmt.Errorf("cycle %d: %w", cycleID, err)
	}
	if err := o.deps.Lifecycle.ParkOTOChildren(ctx); err != nil {
		return fmt.Errorf("cycle %d: %w", cycleID, err)
	}
	if err := o.deps.Lifecycle.ReconcilePending(ctx); err != nil {
		return fmt.Errorf("cycle %d: %w", cycleID, err)
	}

	for _, s := range o.deps.Strategies {
		s.OnCycleStart(ctx)
	}

	if o.config.Mode == "parallel" {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.config.MaxParallelWorkers)
		for _, s := range o.deps.Strategies {
			s := s
			g.Go(func() error {
				o.executeStrategy(gctx, s)
				return nil
			})
		}
		// executeStrategy never returns an error: strategy failures are
		// recorded, not fatal to the cycle.
		_ = g.Wait()
	} else {
		for _, s := range o.deps.Strategies {
			o.executeStrategy(ctx, s)
		}
	}

	for _, s := range o.deps.Strategies {
		s.OnCycleEnd(ctx)
	}
	o.logger.Printf("cycle %d complete", cycleID)
	return nil
}

// executeStrategy runs one strategy's evaluation body. Panics are contained:
// one strategy blowing up must not abort the cycle for its peers.
func (o *Orchestrator) executeStrategy(ctx context.Context, s strategy.Strategy) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Printf("strategy %s panicked: %v\n%s", s.Name(), r, debug.Stack())
		}
	}()

	if err := o.openNewPlays(ctx, s); err != nil {
		o.logger.Printf("strategy %s: evaluating new plays: %v", s.Name(), err)
	}
	if err := o.closeOpenPlays(ctx, s); err != nil {
		o.logger.Printf("strategy %s: evaluating open plays: %v", s.Name(), err)
	}
}

// playsFor filters a partition down to the plays a strategy owns.
func (o *Orchestrator) playsFor(s strategy.Strategy, status models.PlayStatus) ([]*models.Play, error) {
	plays, err := o.deps.Store.ListByStatus(status)
	if err != nil {
		return nil, err
	}
	mine := plays[:0]
	for _, p := range plays {
		if p.StrategyName == s.Name() {
			mine = append(mine, p)
		}
	}
	return mine, nil
}

func (o *Orchestrator) openNewPlays(ctx context.Context, s strategy.Strategy) error {
	candidates, err := o.playsFor(s, models.StatusNew)
	if err != nil {
		return err
	}
	for _, play := range s.EvaluateNewPlays(ctx, candidates) {
		if !s.ValidatePlay(play) {
			o.logger.Printf("play %s rejected by %s validation", play.ID, s.Name())
			continue
		}
		if o.config.DryRun {
			o.logger.Printf("[dry-run] play %s would open (%s)", play.ID, s.Name())
			continue
		}
		if o.deps.Capital != nil {
			allowed, reason := o.deps.Capital.CheckTrade(play, o.deps.Limits(play.PlaybookName))
			if !allowed {
				o.logger.Printf("play %s blocked by capital gate: %s", play.ID, reason)
				continue
			}
		}
		if err := o.deps.Executor.OpenPosition(ctx, play); err != nil {
			o.logger.Printf("play %s entry failed: %v", play.ID, err)
			continue
		}
		if err := o.deps.Store.Move(play, models.StatusNew, models.StatusPendingOpening); err != nil {
			return fmt.Errorf("persisting entry for play %s: %w", play.ID, err)
		}
	}
	return nil
}

func (o *Orchestrator) closeOpenPlays(ctx context.Context, s strategy.Strategy) error {
	open, err := o.playsFor(s, models.StatusOpen)
	if err != nil {
		return err
	}
	decisions := s.EvaluateOpenPlays(ctx, open)

	closing := make(map[string]bool, len(decisions))
	for _, d := range decisions {
		closing[d.Play.ID] = true
	}
	// Trailing state mutated during evaluation has to survive the cycle even
	// for plays that stay open.
	for _, play := range open {
		if closing[play.ID] {
			continue
		}
		if err := o.deps.Store.Save(models.StatusOpen, play); err != nil {
			return fmt.Errorf("persisting play %s: %w", play.ID, err)
		}
	}

	for _, d := range decisions {
		if o.config.DryRun {
			o.logger.Printf("[dry-run] play %s would close (%s)", d.Play.ID, d.Conditions.ExitReason)
			continue
		}
		if err := o.deps.Executor.ClosePosition(ctx, d.Play, d.Conditions); err != nil {
			o.logger.Printf("play %s exit failed: %v", d.Play.ID, err)
			continue
		}
		if err := o.deps.Store.Move(d.Play, models.StatusOpen, models.StatusPendingClosing); err != nil {
			return fmt.Errorf("persisting exit for play %s: %w", d.Play.ID, err)
		}
	}
	return nil
}

// Run executes cycles at the configured interval until the context is
// canceled or MaxCycles is reached. Ticks outside the regular session are
// skipped. Shutdown is clean: the cycle in flight finishes first.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.config.CycleInterval)
	defer ticker.Stop()

	for {
		if o.config.RunWhenClosed || o.deps.Session.Contains(o.deps.Clock.Now()) {
			if err := o.Cycle(ctx); err != nil {
				o.logger.Printf("cycle error: %v", err)
			}
			o.cycles++
			if o.config.MaxCycles > 0 && o.cycles >= o.config.MaxCycles {
				o.logger.Printf("max_cycles=%d reached, stopping", o.config.MaxCycles)
				return nil
			}
		} else {
			o.logger.Printf("market closed, skipping cycle")
		}

		select {
		case <-ctx.Done():
			o.logger.Printf("shutdown requested, stopping at cycle boundary")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cycles returns how many cycles Run has executed.
func (o *Orchestrator) Cycles() int { return o.cycles }

// RunEODRatchet runs the once-per-day profit-capture ratchet across every
// open play, using the day's closing premium. Scheduled after the session
// close by the process entry point.
func (o *Orchestrator) RunEODRatchet(ctx context.Context) error {
	if o.deps.Trailing == nil {
		return nil
	}
	day := o.deps.Clock.Now().In(o.deps.Session.Location).Format("2006-01-02")

	open, err := o.deps.Store.ListByStatus(models.StatusOpen)
	if err != nil {
		return fmt.Errorf("listing open plays for ratchet: %w", err)
	}
	for _, play := range open {
		q, err := o.deps.MarketData.OptionQuote(ctx, play.OptionContractSymbol)
		if err != nil {
			o.logger.Printf("play %s: no closing quote for ratchet: %v", play.ID, err)
			continue
		}
		premium := q.Mid
		if premium <= 0 {
			premium = q.Last
		}
		if premium <= 0 {
			continue
		}
		o.deps.Trailing.RatchetEOD(play, premium, day)
		if err := o.deps.Store.Save(models.StatusOpen, play); err != nil {
			return fmt.Errorf("persisting ratchet for play %s: %w", play.ID, err)
		}
	}
	return nil
}
