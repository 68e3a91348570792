// Package retry provides a bounded retry executor with exponential backoff
// for calls to unreliable upstream APIs.
// This is part of the platform layer and contains no business logic.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Policy controls attempt count and backoff shape.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the fraction of the delay randomized in both directions,
	// e.g. 0.2 spreads each delay across ±20%.
	Jitter float64
}

// DefaultPolicy matches the upstream API contract: three attempts with
// exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   4 * time.Second,
		MaxDelay:    60 * time.Second,
		Jitter:      0.2,
	}
}

// TransientError marks a failure worth retrying (timeouts, 5xx, 429).
// RetryAfter, when positive, overrides the computed backoff delay.
type TransientError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix (other 4xx,
// malformed responses). Do fails fast on these.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// TransientAfter wraps err as retryable with a server-provided delay hint.
func TransientAfter(err error, after time.Duration) error {
	return &TransientError{Err: err, RetryAfter: after}
}

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// ClassifyHTTP wraps err according to an HTTP response status.
// retryAfter is the raw Retry-After header value, honored on 429.
func ClassifyHTTP(status int, retryAfter string, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		if secs, parseErr := strconv.Atoi(retryAfter); parseErr == nil && secs > 0 {
			return TransientAfter(err, time.Duration(secs)*time.Second)
		}
		return Transient(err)
	case status >= 500:
		return Transient(err)
	case status >= 400:
		return Permanent(err)
	default:
		return Transient(err)
	}
}

// ExhaustedError reports that all attempts failed. Last holds the final
// attempt's error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do runs op until it succeeds, fails permanently, the context ends, or
// attempts run out. Unclassified errors are treated as transient; call sites
// wrap with Permanent where retrying is known to be useless.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := backoff(policy, attempt)
		var transient *TransientError
		if errors.As(err, &transient) && transient.RetryAfter > 0 {
			delay = transient.RetryAfter
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, &ExhaustedError{Attempts: policy.MaxAttempts, Last: lastErr}
}

func backoff(policy Policy, attempt int) time.Duration {
	delay := policy.BaseDelay << (attempt - 1)
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if policy.Jitter > 0 {
		spread := float64(delay) * policy.Jitter
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
