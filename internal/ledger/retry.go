package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/trustmesh/gateway/internal/core/domain"
)

// RetryConfig defines retry behavior for validator requests.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides sensible defaults: a small attempt
// ceiling so a dead validator fails a single request, not the process.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     4,
	InitialDelay:    250 * time.Millisecond,
	MaxDelay:        5 * time.Second,
	BackoffMultiple: 2.0,
}

// Permanent reports whether an error must never be retried: anything
// the validator decided about the batch itself, as opposed to failing
// to answer at all.
func Permanent(err error) bool {
	return errors.Is(err, domain.ErrDuplicateBatch) ||
		errors.Is(err, domain.ErrRejectedByValidator) ||
		errors.Is(err, domain.ErrMalformedPayload) ||
		errors.Is(err, domain.ErrInvalidSignature) ||
		errors.Is(err, domain.ErrUnauthorizedAddress)
}

// WithRetry runs fn with bounded exponential backoff. Permanent errors
// abort immediately; exhausting the attempt budget surfaces
// ErrTransportUnavailable wrapping the last failure.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if Permanent(err) {
			return err
		}
		lastErr = err

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt, cfg)):
		}
	}

	return fmt.Errorf("%d attempts exhausted: %v: %w",
		cfg.MaxAttempts, lastErr, domain.ErrTransportUnavailable)
}

func backoff(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiple, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
