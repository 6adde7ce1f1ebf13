package strategy

import (
	"context"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eddiefleurent/michael_scarn/internal/models"
)

func init() {
	Register("gap_momentum", func(deps Deps, section *yaml.Node) (Strategy, error) {
		return newGapMomentum(deps, section)
	})
}

// GapDirection selects whether the playbook trades with or against the gap.
type GapDirection string

const (
	// WithGap buys calls into an up-gap, puts into a down-gap.
	WithGap GapDirection = "with_gap"
	// FadeGap trades the reversion: puts into an up-gap, calls down.
	FadeGap GapDirection = "fade_gap"
)

// GapMomentumConfig configures the gap runner.
type GapMomentumConfig struct {
	Enabled  bool `yaml:"enabled"`
	Priority int  `yaml:"priority"`
	// Gap bounds as a percent of the previous close. Too small is noise,
	// too large tends to be news that keeps running.
	MinGapPct float64      `yaml:"min_gap_pct"`
	MaxGapPct float64      `yaml:"max_gap_pct"`
	Direction GapDirection `yaml:"direction"`
	// ConfirmationMinutes delays entry past the open so the gap can prove
	// itself. Zero enters on the first cycle.
	ConfirmationMinutes int `yaml:"confirmation_minutes"`
	// CloseBeforeEndMinutes flattens same-day positions this many minutes
	// before the session close.
	CloseBeforeEndMinutes int `yaml:"close_before_end_minutes"`
	// MaxHoldDays force-closes positions held longer than this.
	MaxHoldDays int `yaml:"max_hold_days"`
}

// GapMomentum enters long option plays on qualifying opening gaps and
// manages them with long semantics plus time-based exits.
type GapMomentum struct {
	deps   Deps
	config GapMomentumConfig
	logger *log.Logger
	long   *LongOptions // reuses long exit semantics
}

func newGapMomentum(deps Deps, section *yaml.Node) (*GapMomentum, error) {
	var cfg GapMomentumConfig
	if err := decodeSection(section, &cfg); err != nil {
		return nil, err
	}
	if cfg.Direction == "" {
		cfg.Direction = WithGap
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "gap_momentum: ", log.LstdFlags)
	}
	return &GapMomentum{
		deps:   deps,
		config: cfg,
		logger: logger,
		long:   &LongOptions{deps: deps, logger: logger},
	}, nil
}

// Name returns the stable registry id.
func (s *GapMomentum) Name() string { return "gap_momentum" }

// Priority orders this runner among its peers; lower runs earlier.
func (s *GapMomentum) Priority() int { return s.config.Priority }

// Enabled reports whether the config section turned this runner on.
func (s *GapMomentum) Enabled() bool { return s.config.Enabled }

// DefaultEntryAction is buy-to-open; gaps are traded with bought options.
func (s *GapMomentum) DefaultEntryAction() models.Action { return models.ActionBuyToOpen }

// ExitActionForPlay pairs the closing action with the play's entry.
func (s *GapMomentum) ExitActionForPlay(play *models.Play) (models.Action, error) {
	return play.Action.ExitAction()
}

// OnCycleStart is a no-op for this runner.
func (s *GapMomentum) OnCycleStart(context.Context) {}

// OnCycleEnd is a no-op for this runner.
func (s *GapMomentum) OnCycleEnd(context.Context) {}

// ValidatePlay accepts long plays with a coherent contract.
func (s *GapMomentum) ValidatePlay(play *models.Play) bool {
	return play.Action.IsLong() && play.Validate() == nil
}

// gapQualifies checks the gap size band and the direction rule for one
// play's trade type.
func (s *GapMomentum) gapQualifies(play *models.Play, gapPct float64) bool {
	size := gapPct
	if size < 0 {
		size = -size
	}
	if size < s.config.MinGapPct || (s.config.MaxGapPct > 0 && size > s.config.MaxGapPct) {
		return false
	}

	gapUp := gapPct > 0
	wantCall := play.TradeType == models.TradeTypeCall
	switch s.config.Direction {
	case FadeGap:
		return gapUp != wantCall
	default: // with_gap
		return gapUp == wantCall
	}
}

// confirmed reports whether the confirmation wait has elapsed this session.
func (s *GapMomentum) confirmed() bool {
	if s.config.ConfirmationMinutes <= 0 {
		return true
	}
	now := s.deps.Clock.Now()
	open, _ := s.deps.Session.Bounds(now)
	return !now.Before(open.Add(minutes(s.config.ConfirmationMinutes)))
}

// EvaluateNewPlays enters plays whose symbol gapped inside the configured
// band, in the configured direction, after the confirmation wait.
func (s *GapMomentum) EvaluateNewPlays(ctx context.Context, plays []*models.Play) []*models.Play {
	if len(plays) == 0 || !s.confirmed() {
		return nil
	}
	now := s.deps.Clock.Now()

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
		prevClose, err := s.deps.MarketData.PreviousClose(ctx, play.Symbol, now)
		if err != nil || prevClose <= 0 {
			s.logger.Printf("play %s: no previous close: %v", play.ID, err)
			continue
		}
		gapPct := (price - prevClose) / prevClose * 100
		if !s.gapQualifies(play, gapPct) {
			continue
		}
		if !entryPriceReady(play, price) {
			continue
		}
		s.logger.Printf("play %s gap entry: %s gapped %.2f%% (%.2f from close %.2f)",
			play.ID, play.Symbol, gapPct, price, prevClose)
		open = append(open, play)
	}
	return open
}

// EvaluateOpenPlays manages positions with long semantics plus the same-day
// flatten window and the max-hold-days cap.
func (s *GapMomentum) EvaluateOpenPlays(ctx context.Context, plays []*models.Play) []CloseDecision {
	now := s.deps.Clock.Now()
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

		if reason, ok := s.timeExit(play, now); ok {
			out = append(out, CloseDecision{Play: play, Conditions: models.CloseConditions{
				ShouldClose:  true,
				IsTimeExit:   true,
				ExitReason:   reason,
				LimitPremium: q.Bid,
			}})
			continue
		}
		if cc, ok := s.long.longExit(play, premium, q.Bid); ok {
			out = append(out, CloseDecision{Play: play, Conditions: cc})
		}
	}
	return out
}

// timeExit applies the flatten-before-close window and the max-hold cap.
func (s *GapMomentum) timeExit(play *models.Play, now time.Time) (string, bool) {
	if s.config.CloseBeforeEndMinutes > 0 &&
		s.deps.Session.Contains(now) &&
		s.deps.Session.MinutesToClose(now) <= s.config.CloseBeforeEndMinutes {
		return "session_close", true
	}
	if s.config.MaxHoldDays > 0 && !play.Logging.OpenedAt.IsZero() {
		held := int(now.Sub(play.Logging.OpenedAt).Hours() / 24)
		if held >= s.config.MaxHoldDays {
			return "max_hold_days", true
		}
	}
	return "", false
}

// minutes converts a count of minutes into a duration.
func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// Ensure the runner satisfies the contract
var _ Strategy = (*GapMomentum)(nil)
