package models

import "testing"

func TestAction_Classification(t *testing.T) {
	cases := []struct {
		action                     Action
		buy, sell, opening, long   bool
	}{
		{ActionBuyToOpen, true, false, true, true},
		{ActionSellToClose, false, true, false, true},
		{ActionSellToOpen, false, true, true, false},
		{ActionBuyToClose, true, false, false, false},
	}

	for _, c := range cases {
		if c.action.IsBuy() != c.buy {
			t.Errorf("%s: IsBuy = %t, want %t", c.action, c.action.IsBuy(), c.buy)
		}
		if c.action.IsSell() != c.sell {
			t.Errorf("%s: IsSell = %t, want %t", c.action, c.action.IsSell(), c.sell)
		}
		if c.action.IsOpening() != c.opening {
			t.Errorf("%s: IsOpening = %t, want %t", c.action, c.action.IsOpening(), c.opening)
		}
		if c.action.IsLong() != c.long {
			t.Errorf("%s: IsLong = %t, want %t", c.action, c.action.IsLong(), c.long)
		}
		if c.action.IsShort() == c.long {
			t.Errorf("%s: IsShort should be the inverse of IsLong", c.action)
		}
	}
}

func TestAction_ExitPairing(t *testing.T) {
	exit, err := ActionBuyToOpen.ExitAction()
	if err != nil || exit != ActionSellToClose {
		t.Errorf("BTO exit = %s, %v; want STC", exit, err)
	}

	exit, err = ActionSellToOpen.ExitAction()
	if err != nil || exit != ActionBuyToClose {
		t.Errorf("STO exit = %s, %v; want BTC", exit, err)
	}

	// Closing actions have no exit of their own
	if _, err := ActionSellToClose.ExitAction(); err == nil {
		t.Error("STC.ExitAction should fail")
	}
	if _, err := ActionBuyToClose.ExitAction(); err == nil {
		t.Error("BTC.ExitAction should fail")
	}

	if _, err := Action("SELL").ExitAction(); err == nil {
		t.Error("unknown action should fail")
	}
}

func TestAction_Valid(t *testing.T) {
	for _, a := range []Action{ActionBuyToOpen, ActionSellToClose, ActionSellToOpen, ActionBuyToClose} {
		if !a.Valid() {
			t.Errorf("%s should be valid", a)
		}
	}
	if Action("bto").Valid() {
		t.Error("lowercase action should not be valid")
	}
}
