package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// DefaultTimeout is the default per-action adapter call timeout.
const DefaultTimeout = 30 * time.Minute

// DefaultRetryMax is the default maximum number of retries for transient
// errors.
const DefaultRetryMax = 3

// RetryPolicy defines retry behavior for transient provider API errors.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns a sensible default retry policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: DefaultRetryMax,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// retryWithBackoff executes fn with exponential backoff and jitter, retrying
// only while shouldRetry accepts the error.
func retryWithBackoff(ctx context.Context, policy *RetryPolicy, fn func() error, shouldRetry func(error) bool) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt < policy.MaxRetries {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(backoffDelay(attempt, policy.BaseDelay, policy.MaxDelay)):
			}
		}
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", policy.MaxRetries, lastErr)
}

// backoffDelay returns exponential backoff with full jitter.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	return time.Duration(rand.Float64() * backoff)
}

// isTransientError checks for common cloud API throttling and network
// failures worth retrying.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	patterns := []string{
		"throttl",
		"rate exceed",
		"too many requests",
		"request limit",
		"service unavailable",
		"internal server error",
		"connection reset",
		"connection refused",
		"tls handshake",
		"i/o timeout",
		"temporary failure",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
