// Package strategy defines the runner contract, the registry strategies
// register into at init time, and the built-in runners: long options,
// cash-secured puts, and gap momentum.
package strategy

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eddiefleurent/michael_scarn/internal/broker"
	"github.com/eddiefleurent/michael_scarn/internal/clock"
	"github.com/eddiefleurent/michael_scarn/internal/marketdata"
	"github.com/eddiefleurent/michael_scarn/internal/models"
	"github.com/eddiefleurent/michael_scarn/internal/trailing"
)

// MarketData is the slice of the market-data manager strategies consume.
type MarketData interface {
	StockPrice(ctx context.Context, symbol string) (float64, error)
	OptionQuote(ctx context.Context, contractSymbol string) (*marketdata.OptionQuote, error)
	PreviousClose(ctx context.Context, symbol string, now time.Time) (float64, error)
}

// Deps carries the shared resources the orchestrator hands to every runner.
type Deps struct {
	MarketData MarketData
	Broker     broker.Broker
	Clock      clock.Clock
	Session    clock.Session
	Trailing   *trailing.Engine
	Logger     *log.Logger
}

// CloseDecision pairs an open play with the conditions that close it.
type CloseDecision struct {
	Play       *models.Play
	Conditions models.CloseConditions
}

// Strategy is the runner contract. Implementations must be safe for
// concurrent use across plays; the orchestrator never calls two methods of
// the same strategy concurrently.
type Strategy interface {
	Name() string
	Priority() int
	Enabled() bool
	DefaultEntryAction() models.Action
	ExitActionForPlay(play *models.Play) (models.Action, error)
	OnCycleStart(ctx context.Context)
	OnCycleEnd(ctx context.Context)
	EvaluateNewPlays(ctx context.Context, plays []*models.Play) []*models.Play
	EvaluateOpenPlays(ctx context.Context, plays []*models.Play) []CloseDecision
	ValidatePlay(play *models.Play) bool
}

// Constructor builds a strategy from its config section. A nil node means
// the section is absent and the strategy should come up disabled.
type Constructor func(deps Deps, section *yaml.Node) (Strategy, error)

var registry = map[string]Constructor{}

// Register adds a constructor under a stable name. Called from init
// functions; duplicate names are a programming error.
func Register(name string, c Constructor) {
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	registry[name] = c
}

// Names returns the registered strategy names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates every registered strategy from its config section and
// drops the disabled ones. The result is sorted by priority, then name.
func Build(deps Deps, sections map[string]*yaml.Node) ([]Strategy, error) {
	out := make([]Strategy, 0, len(registry))
	for _, name := range Names() {
		s, err := registry[name](deps, sections[name])
		if err != nil {
			return nil, fmt.Errorf("building strategy %s: %w", name, err)
		}
		if !s.Enabled() {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() < out[j].Priority()
		}
		return out[i].Name() < out[j].Name()
	})
	return out, nil
}

// decodeSection strictly decodes a strategy's config section into cfg.
// A nil section leaves cfg at its zero value.
func decodeSection(section *yaml.Node, cfg interface{}) error {
	if section == nil {
		return nil
	}
	if err := section.Decode(cfg); err != nil {
		return fmt.Errorf("decoding strategy config: %w", err)
	}
	return nil
}

// premiumFromQuote picks the tradable premium: mid when both sides quote,
// else last.
func premiumFromQuote(q *marketdata.OptionQuote) float64 {
	if q.Mid > 0 {
		return q.Mid
	}
	return q.Last
}

// entryPriceReady reports whether the underlying trades within the play's
// entry buffer. A zero target means enter at any price.
func entryPriceReady(play *models.Play, price float64) bool {
	target := play.EntryPoint.StockPrice
	if target <= 0 {
		return true
	}
	buffer := play.EntryPoint.BufferUSD
	diff := price - target
	if diff < 0 {
		diff = -diff
	}
	return diff <= buffer
}

// takeProfitLevel resolves the play's TP trigger into an absolute premium.
// Returns 0 when no premium-denominated trigger is set.
func takeProfitLevel(play *models.Play) float64 {
	tp := play.TakeProfit
	if tp.Premium > 0 {
		return tp.Premium
	}
	if tp.PremiumPct > 0 && play.EntryPoint.Premium > 0 {
		if play.Action.IsShort() {
			return play.EntryPoint.Premium * (1 - tp.PremiumPct/100)
		}
		return play.EntryPoint.Premium * (1 + tp.PremiumPct/100)
	}
	return 0
}

// stopLossLevel resolves the play's SL trigger into an absolute premium.
func stopLossLevel(play *models.Play) float64 {
	sl := play.StopLoss
	if sl.Premium > 0 {
		return sl.Premium
	}
	if sl.PremiumPct > 0 && play.EntryPoint.Premium > 0 {
		if play.Action.IsShort() {
			return play.EntryPoint.Premium * (1 + sl.PremiumPct/100)
		}
		return play.EntryPoint.Premium * (1 - sl.PremiumPct/100)
	}
	return 0
}
