package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// TradeType is the option contract type.
type TradeType string

const (
	// TradeTypeCall represents a call option contract.
	TradeTypeCall TradeType = "CALL"
	// TradeTypePut represents a put option contract.
	TradeTypePut TradeType = "PUT"
)

// Valid returns true if the TradeType is CALL or PUT.
func (t TradeType) Valid() bool {
	return t == TradeTypeCall || t == TradeTypePut
}

// occCode returns the single-letter OCC code for the trade type.
func (t TradeType) occCode() string {
	if t == TradeTypePut {
		return "P"
	}
	return "C"
}

// OCCSymbol is the parsed form of an OCC option ticker:
// ROOT + YYMMDD + {C|P} + 8-digit strike (strike * 1000, zero padded).
// Example: SPY251211C00590000 -> SPY 2025-12-11 CALL 590.00.
type OCCSymbol struct {
	Root       string
	Expiration time.Time
	Type       TradeType
	Strike     float64
}

// FormatOCC builds the 21-character-max OCC ticker from its components.
func FormatOCC(root string, expiration time.Time, typ TradeType, strike float64) string {
	strikeMillis := int64(strike*1000 + 0.5)
	return fmt.Sprintf("%s%s%s%08d",
		strings.ToUpper(root), expiration.Format("060102"), typ.occCode(), strikeMillis)
}

// ParseOCC parses an OCC option ticker into its components.
// The root is variable length; the trailing 15 characters are fixed:
// 6 date digits, 1 type letter, 8 strike digits.
func ParseOCC(symbol string) (OCCSymbol, error) {
	const fixedLen = 15
	if len(symbol) <= fixedLen {
		return OCCSymbol{}, fmt.Errorf("option symbol %q too short", symbol)
	}

	root := symbol[:len(symbol)-fixedLen]
	for _, r := range root {
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) {
			return OCCSymbol{}, fmt.Errorf("option symbol %q has invalid root %q", symbol, root)
		}
	}

	tail := symbol[len(symbol)-fixedLen:]
	exp, err := time.Parse("060102", tail[:6])
	if err != nil {
		return OCCSymbol{}, fmt.Errorf("option symbol %q has invalid expiration: %w", symbol, err)
	}

	var typ TradeType
	switch tail[6] {
	case 'C':
		typ = TradeTypeCall
	case 'P':
		typ = TradeTypePut
	default:
		return OCCSymbol{}, fmt.Errorf("option symbol %q has invalid type %q", symbol, tail[6])
	}

	strikeMillis, err := strconv.ParseInt(tail[7:], 10, 64)
	if err != nil {
		return OCCSymbol{}, fmt.Errorf("option symbol %q has invalid strike: %w", symbol, err)
	}

	return OCCSymbol{
		Root:       root,
		Expiration: exp,
		Type:       typ,
		Strike:     float64(strikeMillis) / 1000.0,
	}, nil
}

// sameDay compares two times by calendar date, ignoring time of day and zone.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
