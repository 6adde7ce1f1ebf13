package orders

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/eddiefleurent/michael_scarn/internal/broker"
)

// RetryConfig tunes the close-order retry client.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultRetryConfig is the default retry configuration.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// RetryClient resubmits exit orders on transient broker failures with
// jittered exponential backoff. Only close orders get this treatment:
// getting out of a position matters more than getting in.
type RetryClient struct {
	broker broker.Broker
	logger *log.Logger
	config RetryConfig
}

// NewRetryClient creates a retry client over the broker.
func NewRetryClient(b broker.Broker, logger *log.Logger, config ...RetryConfig) *RetryClient {
	cfg := DefaultRetryConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	return &RetryClient{broker: b, logger: logger, config: cfg}
}

// SubmitCloseWithRetry submits the exit order, retrying transient failures.
func (c *RetryClient) SubmitCloseWithRetry(ctx context.Context, order broker.Order) (*broker.OrderResult, error) {
	closeCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-closeCtx.Done():
			return nil, fmt.Errorf("close submission timed out after %v: %w", c.config.Timeout, closeCtx.Err())
		default:
		}

		c.logger.Printf("close attempt %d/%d for %s", attempt+1, c.config.MaxRetries+1, order.OptionSymbol)

		res, err := c.broker.SubmitOrder(closeCtx, order)
		if err == nil {
			c.logger.Printf("close order placed on attempt %d: %s", attempt+1, res.ID)
			return res, nil
		}

		lastErr = err
		c.logger.Printf("close attempt %d failed: %v", attempt+1, err)

		if !isTransientError(err) || attempt == c.config.MaxRetries {
			break
		}
		select {
		case <-time.After(backoff):
			backoff = c.nextBackoff(backoff)
		case <-closeCtx.Done():
			return nil, fmt.Errorf("close submission timed out during backoff: %w", closeCtx.Err())
		}
	}

	return nil, fmt.Errorf("failed to submit close after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *RetryClient) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.Printf("failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"network",
		"dns",
		"tcp",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
