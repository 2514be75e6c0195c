// Package resilience wraps database gateway calls with bounded retry and a
// shared circuit breaker, so a wedged Postgres doesn't spin every driver's
// retry loop in lockstep.
package resilience

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Common errors.
var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig returns sensible defaults for database gateway calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		Multiplier:      2.0,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  10 * time.Second,
	}
}

// Operation represents a gateway call that can be retried.
type Operation func() error

// Retry executes operation with exponential backoff, stopping early on
// non-retryable errors (e.g. CAS contention surfaced as a plain bool, not an
// error, never reaches here).
func Retry(ctx context.Context, cfg RetryConfig, op Operation) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.Multiplier = cfg.Multiplier
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = cfg.MaxElapsedTime

	bWithRetries := backoff.WithMaxRetries(b, cfg.MaxRetries)
	bWithContext := backoff.WithContext(bWithRetries, ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err != nil {
			if !IsRetryable(err) {
				log.Debug().Int("attempt", attempt).Err(err).Msg("non-retryable db error, stopping")
				return backoff.Permanent(err)
			}
			log.Debug().Int("attempt", attempt).Err(err).Msg("retryable db error, will retry")
		}
		return err
	}, bWithContext)
}

// IsRetryable determines whether a database gateway error is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code[:2] {
		case "08": // connection_exception
			return true
		case "40": // transaction_rollback (serialization failure, deadlock)
			return true
		case "53": // insufficient_resources
			return true
		case "57": // operator_intervention (admin shutdown, crash)
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Unknown error shape (e.g. pool exhaustion, EOF mid-query): retry.
	return true
}
