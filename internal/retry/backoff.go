// Package retry provides a context-aware exponential backoff retryer used by
// the tool adapters for transient network failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy defines a retry policy.
type Policy struct {
	MaxRetries   int           // maximum retries after the first attempt (0 = no retry)
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // upper bound on any single delay
	Multiplier   float64       // exponential growth factor
	Jitter       bool          // add random jitter to avoid thundering herds
	OnRetry      func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns a policy suitable for most HTTP API calls.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer executes a function, retrying failures according to its policy.
type Retryer interface {
	Do(ctx context.Context, fn func() error) error
}

type backoffRetryer struct {
	policy *Policy
	logger *zap.Logger
}

// New creates an exponential backoff retryer. A nil policy selects
// DefaultPolicy; a nil logger selects zap.NewNop.
func New(policy *Policy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 1 * time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}

	return &backoffRetryer{policy: policy, logger: logger}
}

// Do runs fn until it succeeds, returns a permanent error, or the retry
// budget is exhausted. The backoff wait is a suspension point: ctx
// cancellation aborts the wait immediately.
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return nil
		}

		if !isTransient(lastErr) {
			r.logger.Debug("error is not retryable", zap.Error(lastErr))
			return lastErr
		}
	}

	r.logger.Warn("retry budget exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return fmt.Errorf("failed after %d retries: %w", r.policy.MaxRetries, lastErr)
}

// calculateDelay computes the delay for the given retry attempt using
// exponential backoff with optional jitter (±25%).
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))

	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}

	return time.Duration(delay)
}

// TransientError marks an error as retryable. Errors not wrapped by
// WrapTransient are treated as permanent and returned immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// WrapTransient wraps an error as transient.
func WrapTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransientError checks whether err was wrapped by WrapTransient.
func IsTransientError(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func isTransient(err error) bool {
	return IsTransientError(err)
}
