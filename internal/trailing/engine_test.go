package trailing

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/michael_scarn/internal/models"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "test: ", 0)
}

func openLongCall(id string, entryPremium float64) *models.Play {
	exp := time.Now().UTC().AddDate(0, 0, 30)
	p := models.NewPlay(id, "SPY", models.TradeTypeCall, 450, exp, 1, models.ActionBuyToOpen)
	p.EntryPoint.Premium = entryPremium
	p.Status.State = models.StatusOpen
	return p
}

func openShortPut(id string, entryPremium float64) *models.Play {
	exp := time.Now().UTC().AddDate(0, 0, 30)
	p := models.NewPlay(id, "SPY", models.TradeTypePut, 440, exp, 1, models.ActionSellToOpen)
	p.EntryPoint.Premium = entryPremium
	p.Status.State = models.StatusOpen
	return p
}

func profitCaptureConfig() Config {
	return Config{
		Enabled:                true,
		ActivationThresholdPct: 5,
		UpdateMode:             "eod",
		TP1: LevelConfig{
			Basis:           BasisProfitCapture,
			StartCapturePct: 10,
			Ratchet: RatchetConfig{
				MinRiseSinceLastPct:   30,
				Factor:                1.0,
				MinGapBelowCurrentPct: 20,
			},
		},
		TP2: LevelConfig{
			StartAtOriginalTP: true,
			DistancePct:       50,
		},
	}
}

func TestUpdate_ActivationGate(t *testing.T) {
	e := NewEngine(profitCaptureConfig(), testLogger())
	play := openLongCall("p1", 2.00)

	// +4% gain: below the 5% threshold, no levels yet
	e.Update(play, 2.08)
	st := play.TakeProfit.TrailingState
	require.NotNil(t, st)
	assert.False(t, st.Activated)
	assert.Zero(t, st.TP1Level)
	assert.Equal(t, 2.08, st.HighWaterPremium)

	// +10% gain: activates, TP1 = entry x 1.10
	e.Update(play, 2.20)
	assert.True(t, st.Activated)
	assert.InDelta(t, 2.20, st.TP1Level, 1e-9)
}

func TestUpdate_PerPlayOverrides(t *testing.T) {
	e := NewEngine(profitCaptureConfig(), testLogger())

	disabled := openLongCall("off", 2.00)
	disabled.TakeProfit.Trailing = &models.TrailingConfig{Disabled: true}
	e.Update(disabled, 3.00)
	assert.Nil(t, disabled.TakeProfit.TrailingState)

	strict := openLongCall("strict", 2.00)
	strict.TakeProfit.Trailing = &models.TrailingConfig{ActivationPct: 60}
	e.Update(strict, 3.00) // +50%, below the 60% override
	assert.False(t, strict.TakeProfit.TrailingState.Activated)
}

func TestUpdate_HighWaterMonotonic(t *testing.T) {
	e := NewEngine(profitCaptureConfig(), testLogger())
	play := openLongCall("p1", 2.00)

	e.Update(play, 2.50)
	e.Update(play, 2.30) // pullback
	assert.Equal(t, 2.50, play.TakeProfit.TrailingState.HighWaterPremium)
}

func TestUpdate_ShortTrailsLowWater(t *testing.T) {
	e := NewEngine(profitCaptureConfig(), testLogger())
	play := openShortPut("csp", 1.00)

	e.Update(play, 0.80)
	e.Update(play, 0.90) // premium back up
	st := play.TakeProfit.TrailingState
	assert.Equal(t, 0.80, st.LowWaterPremium)
	assert.True(t, st.Activated) // 20% favorable move
	// Short capture floor sits below entry
	assert.InDelta(t, 0.90, st.TP1Level, 1e-9) // entry x (1 - 10%)
}

func TestUpdate_DistanceBasisTrailsEveryCycle(t *testing.T) {
	cfg := profitCaptureConfig()
	cfg.UpdateMode = UpdateModeCycle
	cfg.TP1 = LevelConfig{Basis: BasisDistanceFromCurrent, DistancePct: 20}
	e := NewEngine(cfg, testLogger())
	play := openLongCall("p1", 2.00)

	e.Update(play, 2.50) // level = 2.50 x 0.80 = 2.00
	st := play.TakeProfit.TrailingState
	assert.InDelta(t, 2.00, st.TP1Level, 1e-9)

	e.Update(play, 3.00) // level rises to 2.40
	assert.InDelta(t, 2.40, st.TP1Level, 1e-9)

	e.Update(play, 2.60) // pullback: level must not fall
	assert.InDelta(t, 2.40, st.TP1Level, 1e-9)

	// The end-of-day pass has nothing left to move in cycle mode
	e.RatchetEOD(play, 2.60, "2025-11-03")
	assert.InDelta(t, 2.40, st.TP1Level, 1e-9)
	assert.Empty(t, st.History)
}

func TestUpdate_EODModeDefersDistanceTrailToClose(t *testing.T) {
	cfg := profitCaptureConfig() // update_mode: eod
	cfg.TP1 = LevelConfig{Basis: BasisDistanceFromCurrent, DistancePct: 30}
	e := NewEngine(cfg, testLogger())
	play := openLongCall("p1", 2.00)

	// Intraday run: the floor must not move between closes
	e.Update(play, 2.70)
	e.Update(play, 3.90)
	st := play.TakeProfit.TrailingState
	require.True(t, st.Activated)
	assert.Zero(t, st.TP1Level)

	// Close of day: floor = 3.60 x 0.70
	e.RatchetEOD(play, 3.60, "2025-11-03")
	assert.InDelta(t, 2.52, st.TP1Level, 1e-9)
	require.Len(t, st.History, 1)

	// Same day again: no-op
	e.RatchetEOD(play, 3.90, "2025-11-03")
	assert.InDelta(t, 2.52, st.TP1Level, 1e-9)
	require.Len(t, st.History, 1)

	// A lower close never loosens the floor
	e.RatchetEOD(play, 3.00, "2025-11-04")
	assert.InDelta(t, 2.52, st.TP1Level, 1e-9)
	require.Len(t, st.History, 1)
}

func TestUpdate_TP2StartsAtOriginalTPAndNeverFallsBelow(t *testing.T) {
	e := NewEngine(profitCaptureConfig(), testLogger())
	play := openLongCall("p1", 2.00)
	play.TakeProfit.Premium = 4.00

	e.Update(play, 2.20)
	st := play.TakeProfit.TrailingState
	assert.Equal(t, 4.00, st.TP2Level)

	// Premium runs: ceiling trails up (2.80 x 1.5 = 4.20)
	e.Update(play, 2.80)
	assert.InDelta(t, 4.20, st.TP2Level, 1e-9)

	// Pullback: ceiling holds, never below original TP
	e.Update(play, 2.20)
	assert.InDelta(t, 4.20, st.TP2Level, 1e-9)
	assert.GreaterOrEqual(t, st.TP2Level, play.TakeProfit.Premium)
}

// Walks the documented two-day ratchet sequence: entry $2.00, capture
// start 10%, min rise 30%, factor 1.0, min gap 20%. Both proposals are
// rejected by the gap check and the floor stays at $2.20.
func TestRatchetEOD_GapRejection(t *testing.T) {
	e := NewEngine(profitCaptureConfig(), testLogger())
	play := openLongCall("p1", 2.00)

	e.Update(play, 2.20) // activate at +10%
	st := play.TakeProfit.TrailingState
	require.True(t, st.Activated)
	require.InDelta(t, 2.20, st.TP1Level, 1e-9)

	// Day 1: close 2.60, rise 30% -> proposed capture 40% -> level 2.80.
	// Gap: 2.60 x 0.80 = 2.08 < 2.80 -> reject.
	e.RatchetEOD(play, 2.60, "2025-11-03")
	assert.InDelta(t, 2.20, st.TP1Level, 1e-9)
	assert.Equal(t, 2.60, st.LastRatchetPrem, "rise reference moves even on rejection")
	require.Len(t, st.History, 1)
	assert.Contains(t, st.History[0].Reason, "rejected")

	// Day 2: close 3.50, rise 34.6% -> capture 44.6% -> level 2.892.
	// Gap: 3.50 x 0.80 = 2.80 < 2.892 -> reject again.
	e.RatchetEOD(play, 3.50, "2025-11-04")
	assert.InDelta(t, 2.20, st.TP1Level, 1e-9)
	assert.Equal(t, 3.50, st.LastRatchetPrem)
	require.Len(t, st.History, 2)
	assert.Contains(t, st.History[1].Reason, "rejected")
}

func TestRatchetEOD_AcceptedRatchet(t *testing.T) {
	cfg := profitCaptureConfig()
	cfg.TP1.Ratchet.MinGapBelowCurrentPct = 5
	e := NewEngine(cfg, testLogger())
	play := openLongCall("p1", 2.00)

	e.Update(play, 2.20)
	st := play.TakeProfit.TrailingState

	// Close 4.00: rise 100% -> capture 110% -> level 4.20? Gap rejects
	// (4.00 x 0.95 = 3.80). Use a close high enough that the level fits:
	// close 6.00, rise 200% -> capture 210% -> level 6.20 > 5.70, reject.
	// A modest factor keeps the level under the gap instead.
	e.RatchetEOD(play, 3.00, "2025-11-03") // rise 50% -> capture 60% -> level 3.20 > 2.85, reject
	require.Len(t, st.History, 1)
	assert.InDelta(t, 2.20, st.TP1Level, 1e-9)

	cfg.TP1.Ratchet.Factor = 0.2
	e = NewEngine(cfg, testLogger())
	// Rise from 3.00 to 4.50 = 50% -> capture = 10 + 0.2x50 = 20% -> level
	// 2.40; gap 4.50 x 0.95 = 4.275 >= 2.40 -> accept.
	e.RatchetEOD(play, 4.50, "2025-11-04")
	assert.InDelta(t, 2.40, st.TP1Level, 1e-9)
	assert.InDelta(t, 20, st.CapturePct, 1e-9)
	require.Len(t, st.History, 2)
	assert.Contains(t, st.History[1].Reason, "capture")
}

func TestRatchetEOD_OncePerDay(t *testing.T) {
	cfg := profitCaptureConfig()
	cfg.TP1.Ratchet.MinGapBelowCurrentPct = 0
	e := NewEngine(cfg, testLogger())
	play := openLongCall("p1", 2.00)
	e.Update(play, 2.20)
	st := play.TakeProfit.TrailingState

	e.RatchetEOD(play, 2.60, "2025-11-03")
	levelAfterFirst := st.TP1Level
	historyAfterFirst := len(st.History)

	// Same day again: no-op
	e.RatchetEOD(play, 3.50, "2025-11-03")
	assert.Equal(t, levelAfterFirst, st.TP1Level)
	assert.Equal(t, historyAfterFirst, len(st.History))
}

func TestRatchetEOD_BelowMinRiseIsQuiet(t *testing.T) {
	e := NewEngine(profitCaptureConfig(), testLogger())
	play := openLongCall("p1", 2.00)
	e.Update(play, 2.20)
	st := play.TakeProfit.TrailingState

	// +10% close: under the 30% min rise, nothing recorded
	e.RatchetEOD(play, 2.20, "2025-11-03")
	assert.Empty(t, st.History)
	assert.Equal(t, 2.00, st.LastRatchetPrem, "rise reference holds below min rise")
}

func TestTP1Monotonic_AcrossManyCycles(t *testing.T) {
	cfg := profitCaptureConfig()
	cfg.UpdateMode = UpdateModeCycle
	cfg.TP1 = LevelConfig{Basis: BasisDistanceFromCurrent, DistancePct: 10}
	e := NewEngine(cfg, testLogger())
	play := openLongCall("p1", 2.00)

	premiums := []float64{2.20, 2.80, 2.40, 3.10, 2.90, 3.60, 3.00}
	prev := 0.0
	for _, prem := range premiums {
		e.Update(play, prem)
		level := play.TakeProfit.TrailingState.TP1Level
		assert.GreaterOrEqual(t, level, prev, "TP1 must never decrease")
		prev = level
	}
}

func TestCheckTriggers(t *testing.T) {
	e := NewEngine(profitCaptureConfig(), testLogger())
	play := openLongCall("p1", 2.00)
	play.TakeProfit.Premium = 5.00

	hit, _ := e.CheckTriggers(play, 2.10)
	assert.False(t, hit, "inactive trailing never triggers")

	e.Update(play, 2.60)
	st := play.TakeProfit.TrailingState
	require.True(t, st.Activated)
	require.InDelta(t, 2.20, st.TP1Level, 1e-9)

	hit, reason := e.CheckTriggers(play, 2.10)
	assert.True(t, hit)
	assert.Equal(t, "trailing_tp1", reason)

	hit, reason = e.CheckTriggers(play, 5.50)
	assert.True(t, hit)
	assert.Equal(t, "trailing_tp2", reason)

	hit, _ = e.CheckTriggers(play, 2.50)
	assert.False(t, hit)
}

func TestCheckTriggers_Short(t *testing.T) {
	e := NewEngine(profitCaptureConfig(), testLogger())
	play := openShortPut("csp", 1.00)

	e.Update(play, 0.80)
	st := play.TakeProfit.TrailingState
	require.True(t, st.Activated)
	require.InDelta(t, 0.90, st.TP1Level, 1e-9)

	// Premium back above the cap: buy it back
	hit, reason := e.CheckTriggers(play, 0.95)
	assert.True(t, hit)
	assert.Equal(t, "trailing_tp1", reason)

	hit, _ = e.CheckTriggers(play, 0.70)
	assert.False(t, hit)
}
