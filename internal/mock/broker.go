// Package mock provides scriptable in-memory fakes of the brokerage and
// market-data contracts for tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/michael_scarn/internal/broker"
)

// Broker is an in-memory brokerage. Submitted orders are assigned
// sequential ids and start in the configured initial status; tests advance
// them with SetOrderStatus.
type Broker struct {
	mu sync.Mutex

	Account       broker.Account
	InitialStatus broker.OrderStatus

	nextID    int
	orders    map[string]*broker.OrderResult
	submitted []broker.Order
	canceled  []string
	positions map[string]*broker.Position

	SubmitErr  error
	AccountErr error
	CancelErr  error
	GetErr     error
}

// NewBroker creates a mock broker with a funded account.
func NewBroker() *Broker {
	return &Broker{
		Account: broker.Account{
			BuyingPower:    100000,
			Equity:         100000,
			PortfolioValue: 100000,
		},
		InitialStatus: broker.OrderStatusPendingNew,
		orders:        make(map[string]*broker.OrderResult),
		positions:     make(map[string]*broker.Position),
	}
}

// GetAccount returns the scripted account.
func (b *Broker) GetAccount(context.Context) (*broker.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.AccountErr != nil {
		return nil, b.AccountErr
	}
	acct := b.Account
	return &acct, nil
}

// SubmitOrder records the order and returns a working OrderResult.
func (b *Broker) SubmitOrder(_ context.Context, order broker.Order) (*broker.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SubmitErr != nil {
		return nil, b.SubmitErr
	}
	b.nextID++
	id := fmt.Sprintf("order-%d", b.nextID)
	res := &broker.OrderResult{
		ID:          id,
		Status:      b.InitialStatus,
		SubmittedAt: time.Now().UTC(),
	}
	b.orders[id] = res
	b.submitted = append(b.submitted, order)
	return cloneResult(res), nil
}

// GetOrderByID returns the current state of a submitted order.
func (b *Broker) GetOrderByID(_ context.Context, orderID string) (*broker.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.GetErr != nil {
		return nil, b.GetErr
	}
	res, ok := b.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	return cloneResult(res), nil
}

// CancelOrderByID marks the order canceled.
func (b *Broker) CancelOrderByID(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CancelErr != nil {
		return b.CancelErr
	}
	res, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	res.Status = broker.OrderStatusCanceled
	b.canceled = append(b.canceled, orderID)
	return nil
}

// ClosePosition submits a market close for the symbol.
func (b *Broker) ClosePosition(ctx context.Context, optionSymbol string, quantity int) (*broker.OrderResult, error) {
	return b.SubmitOrder(ctx, broker.Order{
		OptionSymbol: optionSymbol,
		Type:         "market",
		Quantity:     quantity,
		Duration:     broker.DurationDay,
	})
}

// GetOpenPosition returns the scripted position, if any.
func (b *Broker) GetOpenPosition(_ context.Context, optionSymbol string) (*broker.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[optionSymbol]
	if !ok {
		return nil, nil
	}
	p := *pos
	return &p, nil
}

// GetPositions lists every scripted position.
func (b *Broker) GetPositions(context.Context) ([]broker.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	positions := make([]broker.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		positions = append(positions, *pos)
	}
	return positions, nil
}

// GetOptionContracts is unused by most tests and returns nothing.
func (b *Broker) GetOptionContracts(context.Context, string) ([]broker.OptionContract, error) {
	return nil, nil
}

// SetOrderStatus scripts the broker-reported state of an order.
func (b *Broker) SetOrderStatus(orderID string, status broker.OrderStatus, filledPrice float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if res, ok := b.orders[orderID]; ok {
		res.Status = status
		res.FilledPrice = filledPrice
	}
}

// SetPosition scripts an open brokerage position.
func (b *Broker) SetPosition(optionSymbol string, quantity int, costBasis float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[optionSymbol] = &broker.Position{
		OptionSymbol: optionSymbol,
		Quantity:     quantity,
		CostBasis:    costBasis,
	}
}

// SubmittedOrders returns every order handed to SubmitOrder, in order.
func (b *Broker) SubmittedOrders() []broker.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.Order, len(b.submitted))
	copy(out, b.submitted)
	return out
}

// CanceledOrders returns the ids passed to CancelOrderByID.
func (b *Broker) CanceledOrders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.canceled))
	copy(out, b.canceled)
	return out
}

// LastOrderID returns the id of the most recently submitted order.
func (b *Broker) LastOrderID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("order-%d", b.nextID)
}

func cloneResult(res *broker.OrderResult) *broker.OrderResult {
	cp := *res
	return &cp
}

// Ensure Broker implements the contract
var _ broker.Broker = (*Broker)(nil)
