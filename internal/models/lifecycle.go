package models

import "fmt"

// PlayStatus represents the lifecycle state of a play. The store keeps one
// partition per status; transitions between partitions are owned by the
// lifecycle engine.
type PlayStatus string

const (
	// StatusNew is a play waiting for an entry signal.
	StatusNew PlayStatus = "new"
	// StatusPendingOpening has an entry order working at the broker.
	StatusPendingOpening PlayStatus = "pending_opening"
	// StatusOpen holds a live brokerage position.
	StatusOpen PlayStatus = "open"
	// StatusPendingClosing has an exit order working at the broker.
	StatusPendingClosing PlayStatus = "pending_closing"
	// StatusClosed is terminal: the position was closed.
	StatusClosed PlayStatus = "closed"
	// StatusExpired is terminal: the play lapsed before opening or was
	// canceled by an OCO peer.
	StatusExpired PlayStatus = "expired"
	// StatusTemp parks OTO children until their parent fills.
	StatusTemp PlayStatus = "temp"
	// StatusInvalid is terminal: the play failed validation and requires
	// operator attention.
	StatusInvalid PlayStatus = "invalid"
)

// AllStatuses lists every lifecycle partition the store must maintain.
var AllStatuses = []PlayStatus{
	StatusNew, StatusPendingOpening, StatusOpen, StatusPendingClosing,
	StatusClosed, StatusExpired, StatusTemp, StatusInvalid,
}

// Valid returns true if the status is one of the defined constants.
func (s PlayStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal returns true for states a play never leaves.
func (s PlayStatus) Terminal() bool {
	return s == StatusClosed || s == StatusExpired || s == StatusInvalid
}

// Transition conditions. Each maps to exactly the triggers in the lifecycle
// table; the engine supplies them when it moves a play.
const (
	ConditionEntrySubmitted   = "entry_submitted"
	ConditionExitSubmitted    = "exit_submitted"
	ConditionOrderFilled      = "order_filled"
	ConditionOrderFailed      = "order_failed"
	ConditionPlayExpired      = "play_expired"
	ConditionForceClose       = "force_close"
	ConditionOCOCanceled      = "oco_canceled"
	ConditionParentFilled     = "parent_filled"
	ConditionAwaitParent      = "await_parent"
	ConditionOperatorCancel   = "operator_cancel"
	ConditionValidationFailed = "validation_failed"
)

// StatusTransition defines one legal edge of the lifecycle state machine.
type StatusTransition struct {
	From        PlayStatus
	To          PlayStatus
	Condition   string
	Description string
}

// ValidTransitions is the normative transition table. Anything not listed
// here is rejected by Play.TransitionStatus.
var ValidTransitions = []StatusTransition{
	// Entry path
	{StatusNew, StatusPendingOpening, ConditionEntrySubmitted, "Entry order submitted to broker"},
	{StatusPendingOpening, StatusOpen, ConditionOrderFilled, "Entry order filled"},
	{StatusPendingOpening, StatusNew, ConditionOrderFailed, "Entry order rejected, canceled, or expired"},

	// Exit path
	{StatusOpen, StatusPendingClosing, ConditionExitSubmitted, "Exit order submitted to broker"},
	{StatusOpen, StatusPendingClosing, ConditionForceClose, "Play past its GTD date, market exit forced"},
	{StatusPendingClosing, StatusClosed, ConditionOrderFilled, "Exit order filled"},
	{StatusPendingClosing, StatusOpen, ConditionOrderFailed, "Exit order rejected, position still live"},

	// GTD expiration before opening
	{StatusNew, StatusExpired, ConditionPlayExpired, "Play expiration date passed before entry"},
	{StatusTemp, StatusExpired, ConditionPlayExpired, "OTO child expired before parent filled"},

	// Conditional (OCO/OTO) handling
	{StatusNew, StatusTemp, ConditionAwaitParent, "OTO child parked until parent fills"},
	{StatusTemp, StatusNew, ConditionParentFilled, "OTO parent filled, child activated"},
	{StatusNew, StatusExpired, ConditionOCOCanceled, "OCO peer triggered, play canceled"},
	{StatusPendingOpening, StatusExpired, ConditionOCOCanceled, "OCO peer triggered, working order canceled"},

	// Operator intervention
	{StatusNew, StatusExpired, ConditionOperatorCancel, "Operator canceled the play"},
	{StatusTemp, StatusExpired, ConditionOperatorCancel, "Operator canceled the OTO child"},
	{StatusPendingOpening, StatusExpired, ConditionOperatorCancel, "Operator canceled the working entry"},
	{StatusOpen, StatusPendingClosing, ConditionOperatorCancel, "Operator requested close"},

	// Validation failure from any non-terminal state
	{StatusNew, StatusInvalid, ConditionValidationFailed, "Play failed validation"},
	{StatusTemp, StatusInvalid, ConditionValidationFailed, "Play failed validation"},
	{StatusPendingOpening, StatusInvalid, ConditionValidationFailed, "Play failed validation"},
	{StatusOpen, StatusInvalid, ConditionValidationFailed, "Play failed validation"},
	{StatusPendingClosing, StatusInvalid, ConditionValidationFailed, "Play failed validation"},
}

// CanTransition checks the transition table for a matching edge.
func CanTransition(from, to PlayStatus, condition string) error {
	for _, tr := range ValidTransitions {
		if tr.From == from && tr.To == to && tr.Condition == condition {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s with condition %q", from, to, condition)
}
