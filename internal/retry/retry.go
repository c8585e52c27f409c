package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sallandpioneers/forgeflow/internal/config"
)

// ErrorType classifies errors for retry decisions
type ErrorType int

const (
	// Retryable indicates the error is transient and should be retried
	Retryable ErrorType = iota
	// RateLimited indicates rate limiting - use longer backoff
	RateLimited
	// Permanent indicates the error should not be retried
	Permanent
)

// Classifier is a function that classifies an error
type Classifier func(error) ErrorType

// Options configures retry behavior
type Options struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	RateLimitRetry time.Duration
	Classifier     Classifier
}

// TransportOptions returns retry options for remote API calls: a small
// fixed cap with the transport classifier (spec'd call-site policy)
func TransportOptions(cfg config.RetryConfig) Options {
	return Options{
		MaxAttempts:    cfg.Transport,
		BackoffBase:    cfg.BackoffBase,
		RateLimitRetry: cfg.RateLimitRetry,
		Classifier:     ClassifyTransport,
	}
}

// maxBackoff caps the maximum backoff duration to prevent overflow
const maxBackoff = 5 * time.Minute

// calculateBackoff computes the delay for a given attempt using exponential backoff with jitter
// Formula: delay = base * 2^attempt + jitter(0-25%), capped at maxBackoff
func calculateBackoff(base time.Duration, attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt))

	// Cap before converting: base * 2^attempt exceeds int64 for large
	// attempt numbers, and a wrapped duration is garbage, not a delay
	delay := maxBackoff
	if scaled := float64(base) * multiplier; scaled < float64(maxBackoff) {
		delay = time.Duration(scaled)
	}

	// Add jitter: 0-25% of the delay
	jitter := time.Duration(rand.Float64() * 0.25 * float64(delay))
	return delay + jitter
}

// Do executes a function with retry logic.
// The function is retried based on error classification until success,
// context cancellation, a permanent error, or the attempt cap.
func Do(ctx context.Context, opts Options, fn func() error) error {
	_, err := DoWithResult(ctx, opts, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes a function that returns a value with retry logic
func DoWithResult[T any](ctx context.Context, opts Options, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}

		errType := Permanent
		if opts.Classifier != nil {
			errType = opts.Classifier(lastErr)
		}

		switch errType {
		case Permanent:
			return result, lastErr
		case RateLimited:
			if err := sleep(ctx, opts.RateLimitRetry); err != nil {
				return result, err
			}
		case Retryable:
			// Skip the delay after the final attempt
			if attempt < attempts-1 {
				if err := sleep(ctx, calculateBackoff(opts.BackoffBase, attempt)); err != nil {
					return result, err
				}
			}
		}
	}

	return result, lastErr
}

// sleep waits for the given duration or until context is cancelled
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
