package strategy

import (
	"context"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eddiefleurent/michael_scarn/internal/clock"
	"github.com/eddiefleurent/michael_scarn/internal/models"
)

func init() {
	Register("cash_secured_puts", func(deps Deps, section *yaml.Node) (Strategy, error) {
		return newCashSecuredPuts(deps, section)
	})
}

// CashSecuredPutsConfig configures the short-put runner.
type CashSecuredPutsConfig struct {
	Enabled  bool `yaml:"enabled"`
	Priority int  `yaml:"priority"`
	// StopLossMultiple stops out when the buyback premium reaches this
	// multiple of the credit received. Zero disables the multiple and
	// defers to the play's own stop loss.
	StopLossMultiple float64 `yaml:"stop_loss_multiple"`
	// CloseAtDTE force-closes winners and losers alike at this many days
	// to expiration. Zero disables the rule; 21 is the common setting.
	CloseAtDTE int `yaml:"close_at_dte"`
}

// CashSecuredPuts sells puts against reserved collateral. Profit is taken
// by buying the put back cheaper; losses stop out as the premium inflates.
type CashSecuredPuts struct {
	deps   Deps
	config CashSecuredPutsConfig
	logger *log.Logger
}

func newCashSecuredPuts(deps Deps, section *yaml.Node) (*CashSecuredPuts, error) {
	var cfg CashSecuredPutsConfig
	if err := decodeSection(section, &cfg); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "cash_secured_puts: ", log.LstdFlags)
	}
	return &CashSecuredPuts{deps: deps, config: cfg, logger: logger}, nil
}

// Name returns the stable registry id.
func (s *CashSecuredPuts) Name() string { return "cash_secured_puts" }

// Priority orders this runner among its peers; lower runs earlier.
func (s *CashSecuredPuts) Priority() int { return s.config.Priority }

// Enabled reports whether the config section turned this runner on.
func (s *CashSecuredPuts) Enabled() bool { return s.config.Enabled }

// DefaultEntryAction is sell-to-open for short plays.
func (s *CashSecuredPuts) DefaultEntryAction() models.Action { return models.ActionSellToOpen }

// ExitActionForPlay pairs the closing action with the play's entry.
func (s *CashSecuredPuts) ExitActionForPlay(play *models.Play) (models.Action, error) {
	return play.Action.ExitAction()
}

// OnCycleStart is a no-op for this runner.
func (s *CashSecuredPuts) OnCycleStart(context.Context) {}

// OnCycleEnd is a no-op for this runner.
func (s *CashSecuredPuts) OnCycleEnd(context.Context) {}

// ValidatePlay accepts short put plays with a coherent contract.
func (s *CashSecuredPuts) ValidatePlay(play *models.Play) bool {
	return play.Action.IsShort() && play.TradeType == models.TradeTypePut && play.Validate() == nil
}

// EvaluateNewPlays returns the subset of NEW short-put plays whose
// underlying trades within the entry buffer.
func (s *CashSecuredPuts) EvaluateNewPlays(ctx context.Context, plays []*models.Play) []*models.Play {
	var open []*models.Play
	for _, play := range plays {
		if !play.Action.IsShort() || play.TradeType != models.TradeTypePut {
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
		s.logger.Printf("play %s short-put entry signal: %s at %.2f", play.ID, play.Symbol, price)
		open = append(open, play)
	}
	return open
}

// EvaluateOpenPlays applies short semantics: profit when the premium has
// decayed, stop when it inflates past the credit multiple, and the DTE rule
// regardless of P&L.
func (s *CashSecuredPuts) EvaluateOpenPlays(ctx context.Context, plays []*models.Play) []CloseDecision {
	now := s.deps.Clock.Now()
	var out []CloseDecision
	for _, play := range plays {
		if !play.Action.IsShort() || play.TradeType != models.TradeTypePut {
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

		// DTE close beats P&L: short gamma is the point of the rule
		if s.config.CloseAtDTE > 0 && clock.DTE(now, play.ExpirationDate) <= s.config.CloseAtDTE {
			out = append(out, CloseDecision{Play: play, Conditions: models.CloseConditions{
				ShouldClose:  true,
				IsTimeExit:   true,
				ExitReason:   "dte_close",
				LimitPremium: q.Ask,
			}})
			continue
		}
		if cc, ok := s.shortExit(play, premium, q.Ask); ok {
			out = append(out, CloseDecision{Play: play, Conditions: cc})
		}
	}
	return out
}

// shortExit closes winners when the premium decays to the TP level and
// stops losers when it inflates to the SL level or the credit multiple.
func (s *CashSecuredPuts) shortExit(play *models.Play, premium, ask float64) (models.CloseConditions, bool) {
	if s.deps.Trailing != nil {
		if hit, reason := s.deps.Trailing.CheckTriggers(play, premium); hit {
			return models.CloseConditions{
				ShouldClose:  true,
				IsProfit:     true,
				ExitReason:   reason,
				LimitPremium: ask,
			}, true
		}
	}
	if tp := takeProfitLevel(play); tp > 0 && premium <= tp {
		return models.CloseConditions{
			ShouldClose:  true,
			IsProfit:     true,
			ExitReason:   "profit_target",
			LimitPremium: ask,
		}, true
	}

	slLevel := stopLossLevel(play)
	if s.config.StopLossMultiple > 0 && play.EntryPoint.Premium > 0 {
		multiple := play.EntryPoint.Premium * s.config.StopLossMultiple
		if slLevel == 0 || multiple < slLevel {
			slLevel = multiple
		}
	}
	if slLevel > 0 && premium >= slLevel {
		return models.CloseConditions{
			ShouldClose:   true,
			IsPrimaryLoss: true,
			ExitReason:    "stop_loss",
			SLMode:        play.StopLoss.Mode,
			LimitPremium:  ask,
		}, true
	}
	return models.CloseConditions{}, false
}

// Ensure the runner satisfies the contract
var _ Strategy = (*CashSecuredPuts)(nil)
