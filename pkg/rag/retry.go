// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryPolicy configures retry behavior for calls to external services.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first (default: 3).
	MaxAttempts int

	// BaseDelay is the delay before the second attempt (default: 1s).
	BaseDelay time.Duration

	// Multiplier grows the delay after each failed attempt (default: 2).
	Multiplier float64

	// MaxDelay caps a single delay (default: 30s).
	MaxDelay time.Duration

	// JitterFactor adds randomness to delays (0.0-1.0).
	JitterFactor float64

	// Retryable decides whether err is worth another attempt.
	// Defaults to DefaultRetryable.
	Retryable func(err error) bool
}

// DefaultRetryPolicy returns the policy used for embedding batches.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		Multiplier:   2,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.1,
		Retryable:    DefaultRetryable,
	}
}

// retryablePatterns catch transient failures from clients that return
// plain errors instead of ExternalServiceError.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"rate limit",
	"too many requests",
	"temporarily unavailable",
	"status 429",
	"status 500",
	"status 502",
	"status 503",
	"status 504",
}

// DefaultRetryable retries ExternalServiceErrors marked retryable and plain
// errors whose message matches a known transient pattern. Context errors
// and validation errors are never retried.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		return false
	}

	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return ext.Retryable
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.JitterFactor < 0 || p.JitterFactor > 1 {
		p.JitterFactor = 0
	}
	if p.Retryable == nil {
		p.Retryable = DefaultRetryable
	}
	return p
}

// Retryer runs operations under a RetryPolicy.
type Retryer struct {
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryer creates a new retryer with the given policy.
func NewRetryer(policy RetryPolicy) *Retryer {
	return &Retryer{policy: policy.withDefaults(), sleep: sleepCtx}
}

// Policy returns the effective policy after defaults.
func (r *Retryer) Policy() RetryPolicy {
	return r.policy
}

// Do executes fn until it succeeds, fails with a non-retryable error, or
// the policy's attempts are exhausted.
func (r *Retryer) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, r, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithResult executes an operation that returns a value.
func DoWithResult[T any](ctx context.Context, r *Retryer, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		if !r.policy.Retryable(err) {
			slog.Debug("Non-retryable error", "operation", operation, "error", err)
			return zero, err
		}

		if attempt+1 >= r.policy.MaxAttempts {
			slog.Warn("Max retries exceeded",
				"operation", operation,
				"attempts", attempt+1,
				"error", err)
			return zero, &RetryError{Operation: operation, Attempts: attempt + 1, LastError: err}
		}

		delay := r.delay(attempt)
		if hint := retryAfter(err); hint > delay {
			delay = min(hint, r.policy.MaxDelay)
		}
		slog.Debug("Retrying operation",
			"operation", operation,
			"attempt", attempt+1,
			"max_attempts", r.policy.MaxAttempts,
			"delay", delay,
			"error", err)

		if err := r.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%s: no attempts made", operation)
}

// delay computes BaseDelay * Multiplier^attempt with jitter, clamped to MaxDelay.
func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.policy.BaseDelay) * math.Pow(r.policy.Multiplier, float64(attempt))

	if r.policy.JitterFactor > 0 {
		jitter := rand.Float64() * d * r.policy.JitterFactor
		if rand.Float64() < 0.5 {
			d -= jitter
		} else {
			d += jitter
		}
	}

	if d > float64(r.policy.MaxDelay) {
		return r.policy.MaxDelay
	}
	return time.Duration(d)
}

// retryAfter returns the back-off hint carried by err, if any.
func retryAfter(err error) time.Duration {
	var hinted interface{ RetryAfter() time.Duration }
	if errors.As(err, &hinted) {
		return hinted.RetryAfter()
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryError is returned when every attempt failed with a retryable error.
// It unwraps to the last error.
type RetryError struct {
	Operation string
	Attempts  int
	LastError error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.LastError)
}

func (e *RetryError) Unwrap() error {
	return e.LastError
}

// IsRetryExhausted checks if an error is a retry exhaustion error.
func IsRetryExhausted(err error) bool {
	var retryErr *RetryError
	return errors.As(err, &retryErr)
}
