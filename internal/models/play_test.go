package models

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func testPlay() *Play {
	exp := time.Date(2025, 12, 11, 0, 0, 0, 0, time.UTC)
	p := NewPlay("play-1", "SPY", TradeTypeCall, 590, exp, 1, ActionBuyToOpen)
	p.StrategyName = "long_call"
	p.PlayExpirationDate = exp
	p.EntryPoint = EntryPoint{StockPrice: 450.00, BufferUSD: 0.05, OrderType: OrderTypeLimitAtBid}
	p.TakeProfit = TakeProfit{PremiumPct: 100, OrderType: OrderTypeLimitAtMid}
	p.StopLoss = StopLoss{PremiumPct: 50, Mode: SLModeStop, OrderType: OrderTypeMarket}
	return p
}

func TestPlay_LifecycleTransitions(t *testing.T) {
	p := testPlay()

	steps := []struct {
		to        PlayStatus
		condition string
	}{
		{StatusPendingOpening, ConditionEntrySubmitted},
		{StatusOpen, ConditionOrderFilled},
		{StatusPendingClosing, ConditionExitSubmitted},
		{StatusClosed, ConditionOrderFilled},
	}

	for _, step := range steps {
		if err := p.TransitionStatus(step.to, step.condition); err != nil {
			t.Fatalf("transition to %s failed: %v", step.to, err)
		}
		if p.Status.State != step.to {
			t.Fatalf("state = %s, want %s", p.Status.State, step.to)
		}
	}

	if p.Status.PositionExists {
		t.Error("position_exists should be false after close")
	}
}

func TestPlay_InvalidTransition(t *testing.T) {
	p := testPlay()

	// NEW cannot jump straight to OPEN
	if err := p.TransitionStatus(StatusOpen, ConditionOrderFilled); err == nil {
		t.Error("NEW -> OPEN should be rejected")
	}
	if p.Status.State != StatusNew {
		t.Errorf("state should remain NEW after rejected transition, got %s", p.Status.State)
	}

	// Wrong condition on a defined edge is rejected too
	if err := p.TransitionStatus(StatusPendingOpening, ConditionOrderFilled); err == nil {
		t.Error("NEW -> PENDING_OPENING with order_filled should be rejected")
	}
}

func TestPlay_EntryFailureRevertsAndCountsRetry(t *testing.T) {
	p := testPlay()
	if err := p.TransitionStatus(StatusPendingOpening, ConditionEntrySubmitted); err != nil {
		t.Fatal(err)
	}
	p.Status.OrderID = "42"
	p.Status.OrderState = "rejected"

	if err := p.TransitionStatus(StatusNew, ConditionOrderFailed); err != nil {
		t.Fatal(err)
	}
	if p.Status.OrderID != "" || p.Status.OrderState != "" {
		t.Error("order id and state should be cleared on revert")
	}
	if p.Status.EntryRetries != 1 {
		t.Errorf("entry retries = %d, want 1", p.Status.EntryRetries)
	}
}

func TestPlay_ExitFailureKeepsPositionLive(t *testing.T) {
	p := testPlay()
	for _, step := range []struct {
		to   PlayStatus
		cond string
	}{
		{StatusPendingOpening, ConditionEntrySubmitted},
		{StatusOpen, ConditionOrderFilled},
		{StatusPendingClosing, ConditionExitSubmitted},
	} {
		if err := p.TransitionStatus(step.to, step.cond); err != nil {
			t.Fatal(err)
		}
	}
	p.Status.ClosingOrderID = "99"

	if err := p.TransitionStatus(StatusOpen, ConditionOrderFailed); err != nil {
		t.Fatal(err)
	}
	if !p.Status.PositionExists {
		t.Error("position should still exist after a failed exit order")
	}
	if p.Status.ClosingOrderID != "" {
		t.Error("dead closing order id should be cleared")
	}
}

func TestPlay_Validate(t *testing.T) {
	p := testPlay()
	if err := p.Validate(); err != nil {
		t.Fatalf("valid play rejected: %v", err)
	}

	// Mismatched expiration inside the OCC symbol (scenario: 251212 vs 2025-12-11)
	bad := testPlay()
	bad.OptionContractSymbol = "SPY251212C00590000"
	if err := bad.Validate(); err == nil {
		t.Error("OCC date mismatch should fail validation")
	}

	bad = testPlay()
	bad.OptionContractSymbol = "SPY251211P00590000"
	if err := bad.Validate(); err == nil {
		t.Error("OCC type mismatch should fail validation")
	}

	bad = testPlay()
	bad.OptionContractSymbol = "SPY251211C00591000"
	if err := bad.Validate(); err == nil {
		t.Error("OCC strike mismatch should fail validation")
	}

	bad = testPlay()
	bad.Action = ActionSellToClose
	if err := bad.Validate(); err == nil {
		t.Error("closing action as opening action should fail validation")
	}

	bad = testPlay()
	bad.Contracts = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero contracts should fail validation")
	}
}

func TestPlay_GTDAndDTE(t *testing.T) {
	p := testPlay()
	now := time.Date(2025, 12, 1, 15, 30, 0, 0, time.UTC)

	if p.IsPastGTD(now) {
		t.Error("play expiring 2025-12-11 should not be past GTD on 2025-12-01")
	}
	if got := p.DTE(now); got != 10 {
		t.Errorf("DTE = %d, want 10", got)
	}

	// GTD day itself is still eligible; the day after is not
	if p.IsPastGTD(time.Date(2025, 12, 11, 10, 0, 0, 0, time.UTC)) {
		t.Error("play should still be eligible on its GTD date")
	}
	if !p.IsPastGTD(time.Date(2025, 12, 12, 0, 0, 0, 0, time.UTC)) {
		t.Error("play should be expired the day after its GTD date")
	}
	if got := p.DTE(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)); got != 0 {
		t.Errorf("DTE past expiration = %d, want 0", got)
	}
}

func TestPlay_EntryNotional(t *testing.T) {
	p := testPlay()
	p.EntryPoint.Premium = 2.00
	if got := p.EntryNotional(); got != 200 {
		t.Errorf("BTO notional = %.2f, want 200.00", got)
	}

	short := testPlay()
	short.Action = ActionSellToOpen
	short.TradeType = TradeTypePut
	short.StrikePrice = 100
	short.Contracts = 2
	if got := short.EntryNotional(); got != 20000 {
		t.Errorf("STO notional = %.2f, want 20000.00 (cash-secured collateral)", got)
	}

	missing := testPlay()
	missing.EntryPoint.Premium = 0
	if got := missing.EntryNotional(); got != 0 {
		t.Errorf("missing premium notional = %.2f, want 0", got)
	}
}

func TestPlay_JSONRoundTrip(t *testing.T) {
	p := testPlay()
	p.EntryPoint.Premium = 2.00
	p.Conditionals = ConditionalPlays{OCOTriggers: []string{"play-2"}}
	p.TakeProfit.TrailingState = &TrailingState{Activated: true, HighWaterPremium: 2.6, TP1Level: 2.2}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var back Play
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !reflect.DeepEqual(*p, back) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, *p)
	}
}

func TestTakeProfit_LegacyMigration(t *testing.T) {
	var tp TakeProfit
	if err := json.Unmarshal([]byte(`{"TP_option_prem": 4.20, "order_type": "limit_at_mid"}`), &tp); err != nil {
		t.Fatal(err)
	}
	if tp.Premium != 4.20 {
		t.Errorf("legacy TP_option_prem not migrated, premium = %.2f", tp.Premium)
	}

	// Canonical field wins over legacy when both are present
	if err := json.Unmarshal([]byte(`{"premium": 3.00, "TP_option_prem": 4.20}`), &tp); err != nil {
		t.Fatal(err)
	}
	if tp.Premium != 3.00 {
		t.Errorf("canonical premium should win, got %.2f", tp.Premium)
	}

	var sl StopLoss
	if err := json.Unmarshal([]byte(`{"SL_option_prem": 1.10, "sl_mode": "CONTINGENCY"}`), &sl); err != nil {
		t.Fatal(err)
	}
	if sl.Premium != 1.10 || sl.Mode != SLModeContingency {
		t.Errorf("legacy SL migration failed: %+v", sl)
	}
}
