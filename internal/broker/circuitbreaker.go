package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality so
// a misbehaving brokerage API fails fast instead of stalling every cycle.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// GetAccount wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetAccount(ctx context.Context) (*Account, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Account, error) {
		return b.GetAccount(ctx)
	})
}

// SubmitOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) SubmitOrder(ctx context.Context, order Order) (*OrderResult, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResult, error) {
		return b.SubmitOrder(ctx, order)
	})
}

// GetOrderByID wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOrderByID(ctx context.Context, orderID string) (*OrderResult, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResult, error) {
		return b.GetOrderByID(ctx, orderID)
	})
}

// CancelOrderByID wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) CancelOrderByID(ctx context.Context, orderID string) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.CancelOrderByID(ctx, orderID)
	})
	return err
}

// ClosePosition wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) ClosePosition(ctx context.Context, optionSymbol string, quantity int) (*OrderResult, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResult, error) {
		return b.ClosePosition(ctx, optionSymbol, quantity)
	})
}

// GetOpenPosition wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOpenPosition(ctx context.Context, optionSymbol string) (*Position, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Position, error) {
		return b.GetOpenPosition(ctx, optionSymbol)
	})
}

// GetPositions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]Position, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Position, error) {
		return b.GetPositions(ctx)
	})
}

// GetOptionContracts wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOptionContracts(ctx context.Context, symbol string) ([]OptionContract, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]OptionContract, error) {
		return b.GetOptionContracts(ctx, symbol)
	})
}
