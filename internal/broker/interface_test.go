package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want OrderStatus
	}{
		{"FILLED", OrderStatusFilled},
		{"cancelled", OrderStatusCanceled},
		{"Canceled", OrderStatusCanceled},
		{" rejected ", OrderStatusRejected},
		{"partially_filled", OrderStatusPartiallyFilled},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeStatus(c.raw), "raw=%q", c.raw)
	}
}

func TestOrderStatus_TerminalAndFailed(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}
	for _, s := range []OrderStatus{OrderStatusNew, OrderStatusPendingNew, OrderStatusAccepted, OrderStatusPartiallyFilled} {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
		assert.False(t, s.Failed(), "%s should not be failed", s)
	}
	assert.False(t, OrderStatusFilled.Failed())
	assert.True(t, OrderStatusRejected.Failed())
	assert.True(t, OrderStatusExpired.Failed())
}

// failingBroker errors on every call.
type failingBroker struct{}

func (failingBroker) GetAccount(context.Context) (*Account, error) {
	return nil, errors.New("connection refused")
}
func (failingBroker) SubmitOrder(context.Context, Order) (*OrderResult, error) {
	return nil, errors.New("connection refused")
}
func (failingBroker) GetOrderByID(context.Context, string) (*OrderResult, error) {
	return nil, errors.New("connection refused")
}
func (failingBroker) CancelOrderByID(context.Context, string) error {
	return errors.New("connection refused")
}
func (failingBroker) ClosePosition(context.Context, string, int) (*OrderResult, error) {
	return nil, errors.New("connection refused")
}
func (failingBroker) GetOpenPosition(context.Context, string) (*Position, error) {
	return nil, errors.New("connection refused")
}
func (failingBroker) GetPositions(context.Context) ([]Position, error) {
	return nil, errors.New("connection refused")
}
func (failingBroker) GetOptionContracts(context.Context, string) ([]OptionContract, error) {
	return nil, errors.New("connection refused")
}

func TestCircuitBreaker_TripsAfterRepeatedFailures(t *testing.T) {
	cb := NewCircuitBreakerBrokerWithSettings(failingBroker{}, CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := cb.GetAccount(ctx)
		require.Error(t, err)
	}

	// Breaker should now be open and reject without invoking the broker
	_, err := cb.GetAccount(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}
