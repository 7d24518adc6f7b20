// Package resilience retries the Renderer Gateway's page fetches with
// exponential backoff, since a competitor's site going briefly unreachable
// or rate-limiting a single request is routine, not a reason to fail a
// whole capture.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/ramfiaogusto/watchtower/pkg/metrics"
)

// RetryPolicy configures exponential backoff around a single renderer fetch.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// Jitter adds up to 10% random delay to avoid every worker retrying a
	// struggling renderer endpoint at the exact same moment.
	Jitter bool

	// ErrorChecker decides which errors are worth another attempt. A nil
	// checker retries every error.
	ErrorChecker RetryableErrorChecker

	Logger *slog.Logger

	// Metrics records attempt/backoff/outcome counts, keyed by OperationName.
	Metrics *metrics.RetryMetrics

	OperationName string
}

// RetryableErrorChecker decides whether a failed attempt should be retried.
type RetryableErrorChecker interface {
	IsRetryable(err error) bool
}

// DefaultRetryPolicy is a conservative policy for an outbound HTTP call:
// three retries, 200ms-2s exponential backoff, 10% jitter.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// WithRetryFunc runs operation, retrying on failure per policy, until it
// succeeds, a non-retryable error is hit, retries are exhausted, or ctx is
// cancelled during a backoff wait.
func WithRetryFunc[T any](ctx context.Context, policy *RetryPolicy, operation func() (T, error)) (T, error) {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opName := policy.OperationName
	if opName == "" {
		opName = "unknown"
	}

	startTime := time.Now()
	var lastResult T
	var lastErr error
	delay := policy.BaseDelay
	attempts := 0

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		attempts++
		attemptStart := time.Now()

		result, err := operation()
		attemptDuration := time.Since(attemptStart).Seconds()

		if err == nil {
			if attempt > 0 {
				logger.Info("fetch succeeded after retry", "attempt", attempt+1)
			}
			if policy.Metrics != nil {
				policy.Metrics.RecordAttempt(opName, "success", classifyError(lastErr), attemptDuration)
				policy.Metrics.RecordFinalAttempt(opName, "success", attempts)
			}
			return result, nil
		}

		lastResult, lastErr = result, err
		errorType := classifyError(err)

		if !shouldRetry(err, policy.ErrorChecker) {
			logger.Debug("non-retryable error, stopping", "error", err, "attempt", attempt+1)
			if policy.Metrics != nil {
				policy.Metrics.RecordAttempt(opName, "failure", errorType, attemptDuration)
				policy.Metrics.RecordFinalAttempt(opName, "failure", attempts)
			}
			return lastResult, lastErr
		}

		if policy.Metrics != nil {
			policy.Metrics.RecordAttempt(opName, "failure", errorType, attemptDuration)
		}

		if attempt >= policy.MaxRetries {
			logger.Error("fetch failed after all retries", "max_retries", policy.MaxRetries, "error", lastErr)
			if policy.Metrics != nil {
				policy.Metrics.RecordFinalAttempt(opName, "failure", attempts)
			}
			break
		}

		logger.Warn("fetch failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
		if policy.Metrics != nil {
			policy.Metrics.RecordBackoff(opName, delay.Seconds())
		}

		if !waitWithContext(ctx, delay) {
			logger.Debug("context cancelled during retry backoff", "attempt", attempt+1)
			if policy.Metrics != nil {
				policy.Metrics.RecordAttempt(opName, "cancelled", classifyError(ctx.Err()), time.Since(startTime).Seconds())
				policy.Metrics.RecordFinalAttempt(opName, "cancelled", attempts)
			}
			var zero T
			return zero, ctx.Err()
		}

		delay = calculateNextDelay(delay, policy)
	}

	return lastResult, fmt.Errorf("fetch failed after %d attempts: %w", policy.MaxRetries+1, lastErr)
}

func shouldRetry(err error, checker RetryableErrorChecker) bool {
	if err == nil {
		return false
	}
	if checker != nil {
		return checker.IsRetryable(err)
	}
	return true
}

func waitWithContext(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func calculateNextDelay(currentDelay time.Duration, policy *RetryPolicy) time.Duration {
	next := time.Duration(float64(currentDelay) * policy.Multiplier)
	if next > policy.MaxDelay {
		next = policy.MaxDelay
	}
	if policy.Jitter {
		next += time.Duration(float64(next) * 0.1 * rand.Float64())
	}
	return next
}
