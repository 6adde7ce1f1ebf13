// Package broker defines the abstract brokerage contract the trading core
// depends on. Concrete vendor clients implement Broker; the core only sees
// this interface plus the circuit-breaker wrapper.
package broker

import (
	"context"
	"strings"
	"time"

	"github.com/eddiefleurent/michael_scarn/internal/models"
)

// OrderStatus is a broker-reported order state. The set mirrors what US
// equity-option brokerages emit; the lifecycle engine only distinguishes
// FILLED from the failure terminals.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPendingNew      OrderStatus = "pending_new"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// Terminal reports whether the order will never change state again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// Failed reports whether the order terminated without filling.
func (s OrderStatus) Failed() bool {
	switch s {
	case OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// NormalizeStatus folds vendor spellings ("cancelled", upper case) into the
// canonical constants.
func NormalizeStatus(raw string) OrderStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "cancelled" {
		s = "canceled"
	}
	return OrderStatus(s)
}

// Duration is the order time-in-force.
type Duration string

const (
	// DurationDay expires the order at the end of the trading day. Equity
	// options always trade DAY in this system.
	DurationDay Duration = "day"
	// DurationGTC keeps the order working until canceled.
	DurationGTC Duration = "gtc"
)

// Order is an order intent handed to the broker.
type Order struct {
	OptionSymbol string        // OCC ticker
	Action       models.Action // BTO / STC / STO / BTC
	Type         string        // "market" or "limit"
	Quantity     int
	LimitPrice   float64 // required when Type is "limit"
	Duration     Duration
	Tag          string // client order tag for idempotent resubmission
}

// OrderResult is the broker's view of a placed order.
type OrderResult struct {
	ID           string
	Status       OrderStatus
	FilledPrice  float64 // average fill price per contract, premium terms
	ExecQuantity int
	SubmittedAt  time.Time
}

// Account is the broker account snapshot source.
type Account struct {
	BuyingPower        float64
	OptionsBuyingPower float64 // preferred when non-zero
	Equity             float64
	PortfolioValue     float64
}

// Position is an open brokerage position in one option contract.
type Position struct {
	OptionSymbol string
	Quantity     int // negative for short
	CostBasis    float64
}

// OptionContract is one listed contract returned by contract discovery.
type OptionContract struct {
	Symbol     string // OCC ticker
	Underlying string
	Strike     float64
	Expiration time.Time
	Type       models.TradeType
	Active     bool
}

// Broker is the abstract brokerage contract. Implementations must be safe
// for concurrent use; wrap with a mutex if the underlying SDK is not.
type Broker interface {
	GetAccount(ctx context.Context) (*Account, error)
	SubmitOrder(ctx context.Context, order Order) (*OrderResult, error)
	GetOrderByID(ctx context.Context, orderID string) (*OrderResult, error)
	CancelOrderByID(ctx context.Context, orderID string) error
	ClosePosition(ctx context.Context, optionSymbol string, quantity int) (*OrderResult, error)
	GetOpenPosition(ctx context.Context, optionSymbol string) (*Position, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetOptionContracts(ctx context.Context, symbol string) ([]OptionContract, error)
}
