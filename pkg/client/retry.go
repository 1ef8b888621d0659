package client

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy is the fixed-delay retry table for transient failures.
// Delays[i] is the wait after attempt i+1 fails; the number of attempts is len(Delays)+1.
type RetryPolicy struct {
	Delays []time.Duration
}

// DefaultRetryPolicy returns the default schedule: 3 attempts, waiting 5s then 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Delays: []time.Duration{5 * time.Second, 10 * time.Second},
	}
}

// MaxAttempts returns the total number of attempts including the first.
func (p RetryPolicy) MaxAttempts() int {
	return len(p.Delays) + 1
}

// Delay returns the wait after the given failed attempt (1-based).
// Returns 0 when no further attempt follows.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || attempt > len(p.Delays) {
		return 0
	}
	return p.Delays[attempt-1]
}

// waitBackoff sleeps for the policy delay after a failed attempt,
// returning early if the context is cancelled.
func waitBackoff(ctx context.Context, logger zerolog.Logger, policy RetryPolicy, class ErrorClass, attempt int) error {
	delay := policy.Delay(attempt)

	retriesTotal.WithLabelValues(string(class)).Inc()
	retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

	logger.Warn().
		Str("error_class", string(class)).
		Int("attempt", attempt).
		Dur("backoff", delay).
		Msg("Retrying request after backoff")

	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		logger.Warn().
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Msg("Context cancelled during retry backoff")
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}
