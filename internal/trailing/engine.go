// Package trailing maintains trailing take-profit levels for open plays:
// a TP1 floor and TP2 ceiling in premium terms, with an activation gate and
// end-of-day profit-capture ratcheting.
package trailing

import (
	"fmt"
	"log"
	"os"

	"github.com/eddiefleurent/michael_scarn/internal/models"
	"github.com/eddiefleurent/michael_scarn/internal/util"
)

// levelTick is the resolution trailing levels are kept at. Finer than the
// penny tick orders trade in, so ratchet math does not lose precision.
const levelTick = 0.001

// Basis selects how a trailing level is computed.
type Basis string

const (
	// BasisProfitCapture anchors the level to the entry premium:
	// level = entry x (1 + capture%). Ratchets at end of day.
	BasisProfitCapture Basis = "profit_capture"
	// BasisDistanceFromCurrent trails the current premium:
	// level = current x (1 - distance%). Moves per the update mode.
	BasisDistanceFromCurrent Basis = "distance_from_current"
)

// Update modes control when distance-basis levels move: cycle trails on
// every evaluation pass, eod defers floor movement to the end-of-day pass.
const (
	UpdateModeEOD   = "eod"
	UpdateModeCycle = "cycle"
)

// RatchetConfig tunes the end-of-day profit-capture ratchet.
type RatchetConfig struct {
	MinRiseSinceLastPct   float64 `yaml:"min_rise_since_last_pct"`
	Factor                float64 `yaml:"ratchet_factor"`
	MinGapBelowCurrentPct float64 `yaml:"min_gap_below_current_pct"`
}

// LevelConfig tunes one trailing level.
type LevelConfig struct {
	Basis             Basis         `yaml:"basis"`
	StartCapturePct   float64       `yaml:"start_capture_pct"`
	DistancePct       float64       `yaml:"distance_pct"`
	StartAtOriginalTP bool          `yaml:"start_at_original_tp"`
	Ratchet           RatchetConfig `yaml:"ratcheting"`
}

// Config is the trailing engine configuration.
type Config struct {
	Enabled                bool        `yaml:"enabled"`
	ActivationThresholdPct float64     `yaml:"activation_threshold_pct"`
	UpdateMode             string      `yaml:"update_mode"` // eod or cycle; empty means cycle
	TP1                    LevelConfig `yaml:"tp1"`
	TP2                    LevelConfig `yaml:"tp2"`
}

// Engine updates trailing state for one play at a time. It never touches
// more than one play per call, so no cross-play ordering exists.
type Engine struct {
	config Config
	logger *log.Logger
}

// NewEngine creates a trailing engine.
func NewEngine(cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "trailing: ", log.LstdFlags)
	}
	return &Engine{config: cfg, logger: logger}
}

// enabled reports whether trailing applies to the play, honoring the
// per-play override.
func (e *Engine) enabled(play *models.Play) bool {
	if !e.config.Enabled {
		return false
	}
	if t := play.TakeProfit.Trailing; t != nil && t.Disabled {
		return false
	}
	return true
}

// activationThreshold resolves the per-play activation override.
func (e *Engine) activationThreshold(play *models.Play) float64 {
	if t := play.TakeProfit.Trailing; t != nil && t.ActivationPct > 0 {
		return t.ActivationPct
	}
	return e.config.ActivationThresholdPct
}

// gainPct is the favorable move since entry, in percent. Long plays profit
// as premium rises; short plays as it falls.
func gainPct(play *models.Play, premium float64) float64 {
	entry := play.EntryPoint.Premium
	if entry <= 0 {
		return 0
	}
	if play.Action.IsShort() {
		return (entry - premium) / entry * 100
	}
	return (premium - entry) / entry * 100
}

// Update runs the per-cycle trailing pass for one OPEN play: watermark
// maintenance, the activation gate, and level maintenance. In eod mode the
// distance floor holds still between closes; RatchetEOD moves it.
func (e *Engine) Update(play *models.Play, premium float64) {
	if !e.enabled(play) || premium <= 0 {
		return
	}
	st := ensureState(play)

	if play.Action.IsShort() {
		if st.LowWaterPremium == 0 || premium < st.LowWaterPremium {
			st.LowWaterPremium = premium
		}
	} else if premium > st.HighWaterPremium {
		st.HighWaterPremium = premium
	}

	if !st.Activated {
		if gainPct(play, premium) < e.activationThreshold(play) {
			return
		}
		st.Activated = true
		st.CapturePct = e.config.TP1.StartCapturePct
		st.LastRatchetPrem = play.EntryPoint.Premium
		e.logger.Printf("play %s trailing activated at premium %.2f", play.ID, premium)
	}

	e.updateTP1(play, st, premium)
	// An unconfigured TP2 maintains no ceiling at all; a zero distance would
	// otherwise pin the ceiling to the current premium and trigger instantly.
	if e.config.TP2.DistancePct > 0 || e.config.TP2.StartAtOriginalTP {
		e.updateTP2(play, st, premium)
	}
}

// updateTP1 maintains the floor. profit_capture levels only move at EOD;
// distance levels trail the current premium every cycle in cycle mode and
// wait for the end-of-day pass in eod mode. Either way the level never
// decreases for a long play (never increases for a short).
func (e *Engine) updateTP1(play *models.Play, st *models.TrailingState, premium float64) {
	cfg := e.config.TP1
	var proposed float64
	switch cfg.Basis {
	case BasisDistanceFromCurrent:
		if e.config.UpdateMode == UpdateModeEOD {
			return
		}
		proposed = distanceLevel(play, cfg, premium)
	case BasisProfitCapture, "":
		proposed = captureLevel(play, st.CapturePct)
	default:
		return
	}
	st.TP1Level = tighten(play, st.TP1Level, proposed)
}

// distanceLevel computes the distance floor for the current premium. Long
// floors round down and short caps round up, so the tick never tightens the
// level past the configured distance.
func distanceLevel(play *models.Play, cfg LevelConfig, premium float64) float64 {
	if play.Action.IsShort() {
		return util.CeilToTick(premium*(1+cfg.DistancePct/100), levelTick)
	}
	return util.FloorToTick(premium*(1-cfg.DistancePct/100), levelTick)
}

// updateTP2 maintains the ceiling: it starts at the original TP when so
// configured, trails current otherwise, and never falls below original TP.
func (e *Engine) updateTP2(play *models.Play, st *models.TrailingState, premium float64) {
	cfg := e.config.TP2
	original := play.TakeProfit.Premium

	if st.TP2Level == 0 {
		if cfg.StartAtOriginalTP && original > 0 {
			st.TP2Level = original
		} else {
			st.TP2Level = util.RoundToTick(premium * (1 + cfg.DistancePct/100), levelTick)
		}
	}

	proposed := util.RoundToTick(premium * (1 + cfg.DistancePct/100), levelTick)
	if proposed > st.TP2Level {
		st.TP2Level = proposed
	}
	if original > 0 && st.TP2Level < original {
		st.TP2Level = original
	}
}

// RatchetEOD runs the once-per-day pass for one play: the profit-capture
// ratchet, or the deferred distance trail in eod mode. day is the trading
// date (YYYY-MM-DD); eodPremium the closing premium.
func (e *Engine) RatchetEOD(play *models.Play, eodPremium float64, day string) {
	if !e.enabled(play) || eodPremium <= 0 {
		return
	}
	st := play.TakeProfit.TrailingState
	if st == nil || !st.Activated {
		return
	}
	if e.config.TP1.Basis == BasisDistanceFromCurrent {
		e.trailDistanceEOD(play, st, eodPremium, day)
		return
	}
	if e.config.TP1.Basis != BasisProfitCapture && e.config.TP1.Basis != "" {
		return
	}
	if st.LastRatchetDay == day {
		return
	}
	st.LastRatchetDay = day

	cfg := e.config.TP1.Ratchet
	last := st.LastRatchetPrem
	if last <= 0 {
		last = play.EntryPoint.Premium
	}
	if last <= 0 {
		return
	}

	risePct := (eodPremium - last) / last * 100
	if play.Action.IsShort() {
		risePct = (last - eodPremium) / last * 100
	}
	if risePct < cfg.MinRiseSinceLastPct {
		return
	}
	// The rise reference moves even when the gap check rejects the level:
	// tomorrow's rise is measured from today's close.
	st.LastRatchetPrem = eodPremium

	proposedPct := e.config.TP1.StartCapturePct + cfg.Factor*risePct
	if st.CapturePct > proposedPct {
		proposedPct = st.CapturePct
	}
	proposedLevel := captureLevel(play, proposedPct)

	if !gapOK(play, proposedLevel, eodPremium, cfg.MinGapBelowCurrentPct) {
		st.History = append(st.History, models.RatchetEvent{
			Date:     day,
			OldLevel: st.TP1Level,
			NewLevel: st.TP1Level,
			Reason:   fmt.Sprintf("rejected: level %.4f inside %.0f%% gap of close %.2f", proposedLevel, cfg.MinGapBelowCurrentPct, eodPremium),
		})
		e.logger.Printf("play %s ratchet rejected: level %.4f too close to %.2f", play.ID, proposedLevel, eodPremium)
		return
	}

	old := st.TP1Level
	st.CapturePct = proposedPct
	st.TP1Level = tighten(play, st.TP1Level, proposedLevel)
	st.History = append(st.History, models.RatchetEvent{
		Date:     day,
		OldLevel: old,
		NewLevel: st.TP1Level,
		Reason:   fmt.Sprintf("capture %.1f%% after %.1f%% rise", proposedPct, risePct),
	})
	e.logger.Printf("play %s ratcheted TP1 %.4f -> %.4f (capture %.1f%%)", play.ID, old, st.TP1Level, proposedPct)
}

// trailDistanceEOD moves a distance-basis floor once per day from the
// closing premium. Cycle mode already trailed during the session, so there
// is nothing left to do here.
func (e *Engine) trailDistanceEOD(play *models.Play, st *models.TrailingState, eodPremium float64, day string) {
	if e.config.UpdateMode != UpdateModeEOD {
		return
	}
	if st.LastRatchetDay == day {
		return
	}
	st.LastRatchetDay = day

	old := st.TP1Level
	st.TP1Level = tighten(play, st.TP1Level, distanceLevel(play, e.config.TP1, eodPremium))
	if st.TP1Level == old {
		return
	}
	st.History = append(st.History, models.RatchetEvent{
		Date:     day,
		OldLevel: old,
		NewLevel: st.TP1Level,
		Reason:   fmt.Sprintf("distance trail %.1f%% from close %.2f", e.config.TP1.DistancePct, eodPremium),
	})
	e.logger.Printf("play %s trailed TP1 %.4f -> %.4f at close %.2f", play.ID, old, st.TP1Level, eodPremium)
}

// CheckTriggers reports whether the current premium has crossed a trailing
// level, and which one.
func (e *Engine) CheckTriggers(play *models.Play, premium float64) (bool, string) {
	if !e.enabled(play) || premium <= 0 {
		return false, ""
	}
	st := play.TakeProfit.TrailingState
	if st == nil || !st.Activated {
		return false, ""
	}

	if play.Action.IsShort() {
		if st.TP1Level > 0 && premium >= st.TP1Level {
			return true, "trailing_tp1"
		}
		return false, ""
	}
	if st.TP1Level > 0 && premium <= st.TP1Level {
		return true, "trailing_tp1"
	}
	if st.TP2Level > 0 && premium >= st.TP2Level {
		return true, "trailing_tp2"
	}
	return false, ""
}

// captureLevel computes the profit-capture level for a play. For a long
// play the level sits above entry; for a short, below.
func captureLevel(play *models.Play, capturePct float64) float64 {
	entry := play.EntryPoint.Premium
	if entry <= 0 {
		return 0
	}
	if play.Action.IsShort() {
		return util.RoundToTick(entry * (1 - capturePct/100), levelTick)
	}
	return util.RoundToTick(entry * (1 + capturePct/100), levelTick)
}

// tighten applies the monotonicity rule: a long play's floor only rises,
// a short play's cap only falls.
func tighten(play *models.Play, current, proposed float64) float64 {
	if proposed <= 0 {
		return current
	}
	if current == 0 {
		return proposed
	}
	if play.Action.IsShort() {
		if proposed < current {
			return proposed
		}
		return current
	}
	if proposed > current {
		return proposed
	}
	return current
}

// gapOK checks the proposed level keeps the configured distance from the
// current premium.
func gapOK(play *models.Play, level, premium, minGapPct float64) bool {
	if minGapPct <= 0 {
		return true
	}
	if play.Action.IsShort() {
		return level >= premium*(1+minGapPct/100)
	}
	return level <= premium*(1-minGapPct/100)
}

// ensureState lazily creates the trailing state block on the play.
func ensureState(play *models.Play) *models.TrailingState {
	if play.TakeProfit.TrailingState == nil {
		play.TakeProfit.TrailingState = &models.TrailingState{}
	}
	return play.TakeProfit.TrailingState
}
