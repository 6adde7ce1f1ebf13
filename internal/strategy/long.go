package strategy

import (
	"context"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eddiefleurent/michael_scarn/internal/models"
)

func init() {
	Register("long_options", func(deps Deps, section *yaml.Node) (Strategy, error) {
		return newLongOptions(deps, section)
	})
}

// LongOptionsConfig configures the bought calls/puts runner.
type LongOptionsConfig struct {
	Enabled  bool `yaml:"enabled"`
	Priority int  `yaml:"priority"`
}

// LongOptions runs plays that buy calls or puts: enter when the underlying
// trades inside the entry buffer, take profit as premium rises, stop out as
// it falls.
type LongOptions struct {
	deps   Deps
	config LongOptionsConfig
	logger *log.Logger
}

func newLongOptions(deps Deps, section *yaml.Node) (*LongOptions, error) {
	var cfg LongOptionsConfig
	if err := decodeSection(section, &cfg); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "long_options: ", log.LstdFlags)
	}
	return &LongOptions{deps: deps, config: cfg, logger: logger}, nil
}

// Name returns the stable registry id.
func (s *LongOptions) Name() string { return "long_options" }

// Priority orders this runner among its peers; lower runs earlier.
func (s *LongOptions) Priority() int { return s.config.Priority }

// Enabled reports whether the config section turned this runner on.
func (s *LongOptions) Enabled() bool { return s.config.Enabled }

// DefaultEntryAction is buy-to-open for long plays.
func (s *LongOptions) DefaultEntryAction() models.Action { return models.ActionBuyToOpen }

// ExitActionForPlay pairs the closing action with the play's entry.
func (s *LongOptions) ExitActionForPlay(play *models.Play) (models.Action, error) {
	return play.Action.ExitAction()
}

// OnCycleStart is a no-op for this runner.
func (s *LongOptions) OnCycleStart(context.Context) {}

// OnCycleEnd is a no-op for this runner.
func (s *LongOptions) OnCycleEnd(context.Context) {}

// ValidatePlay accepts long plays with a priced contract.
func (s *LongOptions) ValidatePlay(play *models.Play) bool {
	return play.Action.IsLong() && play.Validate() == nil
}

// EvaluateNewPlays returns the subset of NEW plays whose underlying trades
// within the entry buffer.
func (s *LongOptions) EvaluateNewPlays(ctx context.Context, plays []*models.Play) []*models.Play {
	var open []*models.Play
	for _, play := range plays {
		if !play.Action.IsLong() {
			continue
		}
		price, err := s.deps.MarketData.StockPrice(ctx, play.Symbol)
		if err != nil {
			s.logger.Printf("play %s: no stock price: %v", play.ID, err)
			continue
		}
		if !entryPriceReady(play, price) {
			continue
		}
		s.logger.Printf("play %s entry signal: %s at %.2f (target %.2f ± %.2f)",
			play.ID, play.Symbol, price, play.EntryPoint.StockPrice, play.EntryPoint.BufferUSD)
		open = append(open, play)
	}
	return open
}

// EvaluateOpenPlays checks each open play against TP, SL, and the trailing
// engine, and returns the ones to close.
func (s *LongOptions) EvaluateOpenPlays(ctx context.Context, plays []*models.Play) []CloseDecision {
	var out []CloseDecision
	for _, play := range plays {
		if !play.Action.IsLong() {
			continue
		}
		q, err := s.deps.MarketData.OptionQuote(ctx, play.OptionContractSymbol)
		if err != nil {
			s.logger.Printf("play %s: no quote: %v", play.ID, err)
			continue
		}
		premium := premiumFromQuote(q)
		if premium <= 0 {
			continue
		}
		if s.deps.Trailing != nil {
			s.deps.Trailing.Update(play, premium)
		}
		if cc, ok := s.longExit(play, premium, q.Bid); ok {
			out = append(out, CloseDecision{Play: play, Conditions: cc})
		}
	}
	return out
}

// longExit is the shared long-semantics exit check: premium above TP is a
// win, below SL a loss, trailing triggers take precedence over plain TP.
func (s *LongOptions) longExit(play *models.Play, premium, bid float64) (models.CloseConditions, bool) {
	if s.deps.Trailing != nil {
		if hit, reason := s.deps.Trailing.CheckTriggers(play, premium); hit {
			return models.CloseConditions{
				ShouldClose:  true,
				IsProfit:     true,
				ExitReason:   reason,
				LimitPremium: bid,
			}, true
		}
	}
	if tp := takeProfitLevel(play); tp > 0 && premium >= tp {
		return models.CloseConditions{
			ShouldClose:  true,
			IsProfit:     true,
			ExitReason:   "profit_target",
			LimitPremium: bid,
		}, true
	}
	if sl := stopLossLevel(play); sl > 0 && premium <= sl {
		return models.CloseConditions{
			ShouldClose:   true,
			IsPrimaryLoss: true,
			ExitReason:    "stop_loss",
			SLMode:        play.StopLoss.Mode,
			LimitPremium:  bid,
		}, true
	}
	return models.CloseConditions{}, false
}

// Ensure the runner satisfies the contract
var _ Strategy = (*LongOptions)(nil)
