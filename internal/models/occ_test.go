package models

import (
	"math"
	"testing"
	"time"
)

func TestFormatOCC(t *testing.T) {
	exp := time.Date(2025, 12, 11, 0, 0, 0, 0, time.UTC)

	got := FormatOCC("SPY", exp, TradeTypeCall, 590)
	if got != "SPY251211C00590000" {
		t.Errorf("FormatOCC = %s, want SPY251211C00590000", got)
	}

	got = FormatOCC("spy", exp, TradeTypePut, 472.5)
	if got != "SPY251211P00472500" {
		t.Errorf("FormatOCC = %s, want SPY251211P00472500", got)
	}
}

func TestParseOCC(t *testing.T) {
	occ, err := ParseOCC("SPY251211C00590000")
	if err != nil {
		t.Fatalf("ParseOCC failed: %v", err)
	}
	if occ.Root != "SPY" {
		t.Errorf("root = %s, want SPY", occ.Root)
	}
	if occ.Type != TradeTypeCall {
		t.Errorf("type = %s, want CALL", occ.Type)
	}
	if occ.Strike != 590 {
		t.Errorf("strike = %.3f, want 590", occ.Strike)
	}
	if occ.Expiration.Format("2006-01-02") != "2025-12-11" {
		t.Errorf("expiration = %s, want 2025-12-11", occ.Expiration.Format("2006-01-02"))
	}
}

func TestParseOCC_Invalid(t *testing.T) {
	cases := []string{
		"",
		"SPY251211C",          // too short
		"SPY251211X00590000",  // bad type letter
		"SPY259911C00590000",  // bad date
		"SPY251211C0059000x",  // bad strike digits
		"sPy251211C00590000",  // lowercase root
	}
	for _, sym := range cases {
		if _, err := ParseOCC(sym); err == nil {
			t.Errorf("ParseOCC(%q) should fail", sym)
		}
	}
}

// Round trip: parse(format(...)) recovers the inputs for a spread of strikes
// and both contract types.
func TestOCC_RoundTrip(t *testing.T) {
	exp := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)
	strikes := []float64{0.5, 5, 99.5, 100, 472.5, 590, 1234.25, 9999.875}

	for _, typ := range []TradeType{TradeTypeCall, TradeTypePut} {
		for _, strike := range strikes {
			sym := FormatOCC("QQQ", exp, typ, strike)
			occ, err := ParseOCC(sym)
			if err != nil {
				t.Fatalf("round trip parse failed for %s: %v", sym, err)
			}
			if occ.Root != "QQQ" || occ.Type != typ {
				t.Errorf("%s: got root=%s type=%s", sym, occ.Root, occ.Type)
			}
			if math.Abs(occ.Strike-strike) > 1e-9 {
				t.Errorf("%s: strike = %v, want %v", sym, occ.Strike, strike)
			}
			if !sameDay(occ.Expiration, exp) {
				t.Errorf("%s: expiration = %v, want %v", sym, occ.Expiration, exp)
			}
		}
	}
}
