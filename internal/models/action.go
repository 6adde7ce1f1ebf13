// Package models provides the play record, its lifecycle state machine, and
// the option-contract symbology shared by every other component.
package models

import "fmt"

// Action is an option order action in broker nomenclature.
type Action string

const (
	// ActionBuyToOpen opens a long position.
	ActionBuyToOpen Action = "BTO"
	// ActionSellToClose closes a long position.
	ActionSellToClose Action = "STC"
	// ActionSellToOpen opens a short position.
	ActionSellToOpen Action = "STO"
	// ActionBuyToClose closes a short position.
	ActionBuyToClose Action = "BTC"
)

// Valid returns true if the Action is one of the defined constants.
func (a Action) Valid() bool {
	switch a {
	case ActionBuyToOpen, ActionSellToClose, ActionSellToOpen, ActionBuyToClose:
		return true
	default:
		return false
	}
}

// IsBuy returns true for actions that buy contracts.
func (a Action) IsBuy() bool {
	return a == ActionBuyToOpen || a == ActionBuyToClose
}

// IsSell returns true for actions that sell contracts.
func (a Action) IsSell() bool {
	return a == ActionSellToOpen || a == ActionSellToClose
}

// IsOpening returns true for actions that establish a position.
func (a Action) IsOpening() bool {
	return a == ActionBuyToOpen || a == ActionSellToOpen
}

// IsClosing returns true for actions that unwind a position.
func (a Action) IsClosing() bool {
	return a == ActionSellToClose || a == ActionBuyToClose
}

// IsLong reports whether the action belongs to a long position (bought to open).
func (a Action) IsLong() bool {
	return a == ActionBuyToOpen || a == ActionSellToClose
}

// IsShort reports whether the action belongs to a short position (sold to open).
func (a Action) IsShort() bool {
	return a == ActionSellToOpen || a == ActionBuyToClose
}

// ExitAction returns the closing action paired with an opening action:
// BTO pairs with STC, STO pairs with BTC. Asking for the exit of an action
// that is already a closing action is a validation error.
func (a Action) ExitAction() (Action, error) {
	switch a {
	case ActionBuyToOpen:
		return ActionSellToClose, nil
	case ActionSellToOpen:
		return ActionBuyToClose, nil
	case ActionSellToClose, ActionBuyToClose:
		return "", fmt.Errorf("action %s is already a closing action", a)
	default:
		return "", fmt.Errorf("unknown action %q", a)
	}
}
