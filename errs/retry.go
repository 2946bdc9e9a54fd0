package errs

import (
	"context"
	"math/rand"
	"time"
)

// BackoffPolicy configures exponential backoff with jitter for retryable
// operations (ModelTransient/ToolTransient kinds). Mirrors the shape of
// goa-ai's engine.RetryPolicy (MaxAttempts/InitialInterval/
// BackoffCoefficient) but lives here, next to the Kind taxonomy it pairs
// with, rather than behind a workflow-engine abstraction this repository
// does not need (see DESIGN.md on the dropped temporal dependency).
type BackoffPolicy struct {
	// MaxAttempts caps total attempts including the first. Zero means a
	// single attempt (no retry).
	MaxAttempts int
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration
	// MaxInterval caps the computed delay regardless of BackoffCoefficient.
	MaxInterval time.Duration
	// BackoffCoefficient multiplies the delay after each attempt. Values < 1
	// are treated as 1 (constant backoff).
	BackoffCoefficient float64
	// Jitter is the fraction (0..1) of the computed delay randomized away,
	// to avoid thundering-herd retries across concurrent tool calls.
	Jitter float64
}

// DefaultBackoffPolicy is used when a tool or model config does not specify
// its own policy.
var DefaultBackoffPolicy = BackoffPolicy{
	MaxAttempts:        3,
	InitialInterval:    200 * time.Millisecond,
	MaxInterval:        10 * time.Second,
	BackoffCoefficient: 2.0,
	Jitter:             0.2,
}

// Delay computes the backoff delay before the given attempt (1-based: attempt
// 1 is the delay before the first retry, i.e. after the initial failure).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	coeff := p.BackoffCoefficient
	if coeff < 1 {
		coeff = 1
	}
	d := float64(p.InitialInterval)
	for i := 1; i < attempt; i++ {
		d *= coeff
	}
	if p.MaxInterval > 0 && d > float64(p.MaxInterval) {
		d = float64(p.MaxInterval)
	}
	if p.Jitter > 0 {
		delta := d * p.Jitter
		d = d - delta + rand.Float64()*2*delta
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Retry runs fn up to policy.MaxAttempts times, retrying only while
// shouldRetry(err) is true and ctx is not done. It returns the last error
// when attempts are exhausted.
func Retry(ctx context.Context, policy BackoffPolicy, shouldRetry func(error) bool, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts || !shouldRetry(lastErr) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.Delay(attempt)):
		}
	}
	return lastErr
}

// IsRetryable reports whether err's Kind defaults to retryable
// (ModelTransient, ToolTransient), or whether the error explicitly set
// Retryable.
func IsRetryable(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if e.Retryable {
		return true
	}
	return e.Kind == ModelTransient || e.Kind == ToolTransient
}
