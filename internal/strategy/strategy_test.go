package strategy

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/eddiefleurent/michael_scarn/internal/clock"
	"github.com/eddiefleurent/michael_scarn/internal/marketdata"
	"github.com/eddiefleurent/michael_scarn/internal/mock"
	"github.com/eddiefleurent/michael_scarn/internal/models"
	"github.com/eddiefleurent/michael_scarn/internal/trailing"
)

func parseSections(t *testing.T, src string) map[string]*yaml.Node {
	t.Helper()
	raw := make(map[string]yaml.Node)
	require.NoError(t, yaml.Unmarshal([]byte(src), &raw))
	out := make(map[string]*yaml.Node, len(raw))
	for name, node := range raw {
		n := node
		out[name] = &n
	}
	return out
}

func testDeps(provider *mock.Provider, now time.Time) Deps {
	cache := mockManager(provider)
	return Deps{
		MarketData: cache,
		Broker:     mock.NewBroker(),
		Clock:      clock.Fixed{Instant: now},
		Session:    clock.NewYorkSession("09:30", "16:00"),
		Logger:     log.New(os.Stderr, "test: ", 0),
	}
}

// mockManager adapts the mock provider to the MarketData interface without
// the fallback machinery.
type providerAdapter struct {
	p *mock.Provider
}

func mockManager(p *mock.Provider) MarketData {
	return &providerAdapter{p: p}
}

func (a *providerAdapter) StockPrice(ctx context.Context, symbol string) (float64, error) {
	return a.p.StockPrice(ctx, symbol)
}

func (a *providerAdapter) OptionQuote(ctx context.Context, contract string) (*marketdata.OptionQuote, error) {
	quote, err := a.p.OptionQuote(ctx, contract)
	if err != nil {
		return nil, err
	}
	if quote.Bid > 0 && quote.Ask > 0 {
		quote.Mid = (quote.Bid + quote.Ask) / 2
	}
	return quote, nil
}

func (a *providerAdapter) PreviousClose(ctx context.Context, symbol string, now time.Time) (float64, error) {
	bars, err := a.p.HistoricalBars(ctx, symbol, now.AddDate(0, 0, -7), now, "1d")
	if err != nil {
		return 0, err
	}
	if len(bars) < 2 {
		return 0, nil
	}
	return bars[len(bars)-2].Close, nil
}

func TestRegistry_BuildFiltersAndOrders(t *testing.T) {
	sections := parseSections(t, `
long_options:
  enabled: true
  priority: 2
cash_secured_puts:
  enabled: true
  priority: 1
gap_momentum:
  enabled: false
`)
	deps := testDeps(mock.NewProvider("test"), time.Now())

	strategies, err := Build(deps, sections)
	require.NoError(t, err)
	require.Len(t, strategies, 2)
	assert.Equal(t, "cash_secured_puts", strategies[0].Name())
	assert.Equal(t, "long_options", strategies[1].Name())
}

func TestRegistry_MissingSectionMeansDisabled(t *testing.T) {
	deps := testDeps(mock.NewProvider("test"), time.Now())
	strategies, err := Build(deps, nil)
	require.NoError(t, err)
	assert.Empty(t, strategies)
}

func TestRegistry_Names(t *testing.T) {
	assert.Equal(t, []string{"cash_secured_puts", "gap_momentum", "long_options"}, Names())
}

func newLongPlay(id string, target, buffer float64) *models.Play {
	exp := time.Now().UTC().AddDate(0, 0, 30)
	p := models.NewPlay(id, "SPY", models.TradeTypeCall, 590, exp, 1, models.ActionBuyToOpen)
	p.EntryPoint.StockPrice = target
	p.EntryPoint.BufferUSD = buffer
	p.StrategyName = "long_options"
	return p
}

func buildLong(t *testing.T, deps Deps) *LongOptions {
	t.Helper()
	s, err := newLongOptions(deps, parseSections(t, "long_options: {enabled: true}")["long_options"])
	require.NoError(t, err)
	return s
}

func TestLongOptions_EntryBuffer(t *testing.T) {
	provider := mock.NewProvider("test")
	provider.SetPrice("SPY", 450.10)
	s := buildLong(t, testDeps(provider, time.Now()))

	// Target 450.00 with a 5 cent buffer: 450.10 is outside, 450.04 inside
	outside := newLongPlay("outside", 450.00, 0.05)
	picked := s.EvaluateNewPlays(context.Background(), []*models.Play{outside})
	assert.Empty(t, picked)

	provider.SetPrice("SPY", 450.04)
	picked = s.EvaluateNewPlays(context.Background(), []*models.Play{outside})
	require.Len(t, picked, 1)
	assert.Equal(t, "outside", picked[0].ID)
}

func TestLongOptions_NoTargetEntersImmediately(t *testing.T) {
	provider := mock.NewProvider("test")
	provider.SetPrice("SPY", 593.00)
	s := buildLong(t, testDeps(provider, time.Now()))

	play := newLongPlay("any-price", 0, 0)
	picked := s.EvaluateNewPlays(context.Background(), []*models.Play{play})
	assert.Len(t, picked, 1)
}

func TestLongOptions_SkipsShortPlays(t *testing.T) {
	provider := mock.NewProvider("test")
	provider.SetPrice("SPY", 450.00)
	s := buildLong(t, testDeps(provider, time.Now()))

	exp := time.Now().UTC().AddDate(0, 0, 30)
	short := models.NewPlay("short", "SPY", models.TradeTypePut, 440, exp, 1, models.ActionSellToOpen)
	picked := s.EvaluateNewPlays(context.Background(), []*models.Play{short})
	assert.Empty(t, picked)
}

func openedLongPlay(id string, entry, tp, sl float64) *models.Play {
	p := newLongPlay(id, 0, 0)
	p.ID = id
	p.EntryPoint.Premium = entry
	p.TakeProfit.Premium = tp
	p.StopLoss.Premium = sl
	p.Status.State = models.StatusOpen
	return p
}

func TestLongOptions_ExitSemantics(t *testing.T) {
	cases := []struct {
		name       string
		bid, ask   float64
		wantClose  bool
		wantProfit bool
		wantReason string
	}{
		{"between levels holds", 2.40, 2.50, false, false, ""},
		{"premium above TP wins", 3.10, 3.20, true, true, "profit_target"},
		{"premium below SL stops", 0.90, 1.00, true, false, "stop_loss"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			play := openedLongPlay("p1", 2.00, 3.00, 1.00)
			provider := mock.NewProvider("test")
			provider.SetQuote(play.OptionContractSymbol, &marketdata.OptionQuote{Bid: c.bid, Ask: c.ask})
			s := buildLong(t, testDeps(provider, time.Now()))

			decisions := s.EvaluateOpenPlays(context.Background(), []*models.Play{play})
			if !c.wantClose {
				assert.Empty(t, decisions)
				return
			}
			require.Len(t, decisions, 1)
			cc := decisions[0].Conditions
			assert.True(t, cc.ShouldClose)
			assert.Equal(t, c.wantProfit, cc.IsProfit)
			assert.Equal(t, !c.wantProfit, cc.IsPrimaryLoss)
			assert.Equal(t, c.wantReason, cc.ExitReason)
			assert.Equal(t, c.bid, cc.LimitPremium, "long exits price at the bid")
		})
	}
}

func TestLongOptions_PctTriggers(t *testing.T) {
	play := openedLongPlay("p1", 2.00, 0, 0)
	play.TakeProfit.PremiumPct = 50 // TP at 3.00
	play.StopLoss.PremiumPct = 40   // SL at 1.20

	provider := mock.NewProvider("test")
	provider.SetQuote(play.OptionContractSymbol, &marketdata.OptionQuote{Bid: 3.00, Ask: 3.10})
	s := buildLong(t, testDeps(provider, time.Now()))

	decisions := s.EvaluateOpenPlays(context.Background(), []*models.Play{play})
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Conditions.IsProfit)
}

func TestLongOptions_TrailingTriggerTakesPrecedence(t *testing.T) {
	play := openedLongPlay("p1", 2.00, 10.00, 0)
	engine := trailing.NewEngine(trailing.Config{
		Enabled:                true,
		ActivationThresholdPct: 5,
		TP1:                    trailing.LevelConfig{Basis: trailing.BasisDistanceFromCurrent, DistancePct: 10},
	}, nil)

	provider := mock.NewProvider("test")
	deps := testDeps(provider, time.Now())
	deps.Trailing = engine
	s := buildLong(t, deps)

	// Run premium up to 3.00: trailing floor = 2.70
	provider.SetQuote(play.OptionContractSymbol, &marketdata.OptionQuote{Bid: 2.95, Ask: 3.05})
	decisions := s.EvaluateOpenPlays(context.Background(), []*models.Play{play})
	assert.Empty(t, decisions)
	require.NotNil(t, play.TakeProfit.TrailingState)
	assert.InDelta(t, 2.70, play.TakeProfit.TrailingState.TP1Level, 0.01)

	// Pull back through the floor: close as trailing profit
	provider.SetQuote(play.OptionContractSymbol, &marketdata.OptionQuote{Bid: 2.60, Ask: 2.70})
	decisions = s.EvaluateOpenPlays(context.Background(), []*models.Play{play})
	require.Len(t, decisions, 1)
	assert.Equal(t, "trailing_tp1", decisions[0].Conditions.ExitReason)
}

func newShortPutPlay(id string, entry float64, dte int) *models.Play {
	exp := time.Now().UTC().AddDate(0, 0, dte)
	p := models.NewPlay(id, "SPY", models.TradeTypePut, 440, exp, 1, models.ActionSellToOpen)
	p.EntryPoint.Premium = entry
	p.StrategyName = "cash_secured_puts"
	p.Status.State = models.StatusOpen
	return p
}

func buildCSP(t *testing.T, deps Deps, extra string) *CashSecuredPuts {
	t.Helper()
	src := "cash_secured_puts: {enabled: true" + extra + "}"
	s, err := newCashSecuredPuts(deps, parseSections(t, src)["cash_secured_puts"])
	require.NoError(t, err)
	return s
}

func TestCSP_ProfitOnPremiumDecay(t *testing.T) {
	play := newShortPutPlay("csp", 1.00, 45)
	play.TakeProfit.PremiumPct = 50 // buy back at 0.50

	provider := mock.NewProvider("test")
	provider.SetQuote(play.OptionContractSymbol, &marketdata.OptionQuote{Bid: 0.45, Ask: 0.50})
	s := buildCSP(t, testDeps(provider, time.Now()), "")

	decisions := s.EvaluateOpenPlays(context.Background(), []*models.Play{play})
	require.Len(t, decisions, 1)
	cc := decisions[0].Conditions
	assert.True(t, cc.IsProfit)
	assert.Equal(t, 0.50, cc.LimitPremium, "short exits price at the ask")
}

func TestCSP_StopOnCreditMultiple(t *testing.T) {
	play := newShortPutPlay("csp", 1.00, 45)

	provider := mock.NewProvider("test")
	provider.SetQuote(play.OptionContractSymbol, &marketdata.OptionQuote{Bid: 2.95, Ask: 3.05})
	s := buildCSP(t, testDeps(provider, time.Now()), ", stop_loss_multiple: 3")

	decisions := s.EvaluateOpenPlays(context.Background(), []*models.Play{play})
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Conditions.IsPrimaryLoss)
	assert.Equal(t, "stop_loss", decisions[0].Conditions.ExitReason)
}

func TestCSP_DTECloseBeatsPnL(t *testing.T) {
	// 20 DTE with the rule at 21: close regardless of the quiet quote
	play := newShortPutPlay("csp", 1.00, 20)

	provider := mock.NewProvider("test")
	provider.SetQuote(play.OptionContractSymbol, &marketdata.OptionQuote{Bid: 0.95, Ask: 1.05})
	s := buildCSP(t, testDeps(provider, time.Now()), ", close_at_dte: 21")

	decisions := s.EvaluateOpenPlays(context.Background(), []*models.Play{play})
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Conditions.IsTimeExit)
	assert.Equal(t, "dte_close", decisions[0].Conditions.ExitReason)
}

func TestCSP_NoDTERuleHolds(t *testing.T) {
	play := newShortPutPlay("csp", 1.00, 20)
	provider := mock.NewProvider("test")
	provider.SetQuote(play.OptionContractSymbol, &marketdata.OptionQuote{Bid: 0.95, Ask: 1.05})
	s := buildCSP(t, testDeps(provider, time.Now()), "")

	decisions := s.EvaluateOpenPlays(context.Background(), []*models.Play{play})
	assert.Empty(t, decisions)
}

func gapDeps(t *testing.T, price, prevClose float64, now time.Time) (Deps, *mock.Provider) {
	t.Helper()
	provider := mock.NewProvider("test")
	provider.SetPrice("SPY", price)
	provider.SetBars("SPY", []marketdata.Bar{
		{Close: prevClose * 0.99},
		{Close: prevClose},
		{Close: price},
	})
	return testDeps(provider, now), provider
}

func buildGap(t *testing.T, deps Deps, extra string) *GapMomentum {
	t.Helper()
	src := "gap_momentum: {enabled: true, min_gap_pct: 1, max_gap_pct: 5" + extra + "}"
	s, err := newGapMomentum(deps, parseSections(t, src)["gap_momentum"])
	require.NoError(t, err)
	return s
}

func tradingMorning() time.Time {
	// A Tuesday at 10:30 ET
	loc, _ := time.LoadLocation("America/New_York")
	return time.Date(2025, 11, 4, 10, 30, 0, 0, loc)
}

func TestGap_WithGapDirection(t *testing.T) {
	// 2% gap up: calls qualify with the gap, puts do not
	deps, _ := gapDeps(t, 459.00, 450.00, tradingMorning())
	s := buildGap(t, deps, "")

	call := newLongPlay("call", 0, 0)
	exp := time.Now().UTC().AddDate(0, 0, 30)
	put := models.NewPlay("put", "SPY", models.TradeTypePut, 440, exp, 1, models.ActionBuyToOpen)

	picked := s.EvaluateNewPlays(context.Background(), []*models.Play{call, put})
	require.Len(t, picked, 1)
	assert.Equal(t, "call", picked[0].ID)
}

func TestGap_FadeGapDirection(t *testing.T) {
	deps, _ := gapDeps(t, 459.00, 450.00, tradingMorning())
	s := buildGap(t, deps, ", direction: fade_gap")

	call := newLongPlay("call", 0, 0)
	exp := time.Now().UTC().AddDate(0, 0, 30)
	put := models.NewPlay("put", "SPY", models.TradeTypePut, 440, exp, 1, models.ActionBuyToOpen)

	picked := s.EvaluateNewPlays(context.Background(), []*models.Play{call, put})
	require.Len(t, picked, 1)
	assert.Equal(t, "put", picked[0].ID)
}

func TestGap_SizeBounds(t *testing.T) {
	// 0.4% gap: under the 1% floor
	deps, _ := gapDeps(t, 451.80, 450.00, tradingMorning())
	s := buildGap(t, deps, "")
	picked := s.EvaluateNewPlays(context.Background(), []*models.Play{newLongPlay("c", 0, 0)})
	assert.Empty(t, picked)

	// 8% gap: over the 5% cap
	deps, _ = gapDeps(t, 486.00, 450.00, tradingMorning())
	s = buildGap(t, deps, "")
	picked = s.EvaluateNewPlays(context.Background(), []*models.Play{newLongPlay("c", 0, 0)})
	assert.Empty(t, picked)
}

func TestGap_ConfirmationWait(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	early := time.Date(2025, 11, 4, 9, 35, 0, 0, loc)

	deps, _ := gapDeps(t, 459.00, 450.00, early)
	s := buildGap(t, deps, ", confirmation_minutes: 15")
	picked := s.EvaluateNewPlays(context.Background(), []*models.Play{newLongPlay("c", 0, 0)})
	assert.Empty(t, picked, "entry before the confirmation window must wait")

	deps, _ = gapDeps(t, 459.00, 450.00, early.Add(15*time.Minute))
	s = buildGap(t, deps, ", confirmation_minutes: 15")
	picked = s.EvaluateNewPlays(context.Background(), []*models.Play{newLongPlay("c", 0, 0)})
	assert.Len(t, picked, 1)
}

func TestGap_SessionCloseFlatten(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	lateDay := time.Date(2025, 11, 4, 15, 50, 0, 0, loc)

	play := openedLongPlay("gap", 2.00, 10.00, 0.10)
	provider := mock.NewProvider("test")
	provider.SetQuote(play.OptionContractSymbol, &marketdata.OptionQuote{Bid: 2.10, Ask: 2.20})
	deps := testDeps(provider, lateDay)
	s := buildGap(t, deps, ", close_before_end_minutes: 15")

	decisions := s.EvaluateOpenPlays(context.Background(), []*models.Play{play})
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Conditions.IsTimeExit)
	assert.Equal(t, "session_close", decisions[0].Conditions.ExitReason)
}

func TestGap_MaxHoldDays(t *testing.T) {
	play := openedLongPlay("gap", 2.00, 10.00, 0.10)
	play.Logging.OpenedAt = tradingMorning().UTC().AddDate(0, 0, -4)

	provider := mock.NewProvider("test")
	provider.SetQuote(play.OptionContractSymbol, &marketdata.OptionQuote{Bid: 2.10, Ask: 2.20})
	s := buildGap(t, testDeps(provider, tradingMorning()), ", max_hold_days: 3")

	decisions := s.EvaluateOpenPlays(context.Background(), []*models.Play{play})
	require.Len(t, decisions, 1)
	assert.Equal(t, "max_hold_days", decisions[0].Conditions.ExitReason)
}

func TestActionPairing(t *testing.T) {
	deps := testDeps(mock.NewProvider("test"), time.Now())
	long := buildLong(t, deps)
	csp := buildCSP(t, deps, "")

	exp := time.Now().UTC().AddDate(0, 0, 30)
	bto := models.NewPlay("l", "SPY", models.TradeTypeCall, 450, exp, 1, models.ActionBuyToOpen)
	sto := models.NewPlay("s", "SPY", models.TradeTypePut, 440, exp, 1, models.ActionSellToOpen)

	exit, err := long.ExitActionForPlay(bto)
	require.NoError(t, err)
	assert.Equal(t, models.ActionSellToClose, exit)

	exit, err = csp.ExitActionForPlay(sto)
	require.NoError(t, err)
	assert.Equal(t, models.ActionBuyToClose, exit)
}
