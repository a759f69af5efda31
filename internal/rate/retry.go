package rate

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// PermanentError marks a failure that must not be retried (auth failures,
// non-429 4xx, model-not-supported, context-limit-exceeded).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or a wrapped cause) is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// RetryPolicy holds the backoff parameters: base 0.5s, doubling, cap 20s,
// ±25% jitter, up to 5 attempts.
type RetryPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
	Jitter     float64
}

// DefaultRetryPolicy returns the spec's fixed retry parameters.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   20 * time.Second,
		MaxRetries: 5,
		Jitter:     0.25,
	}
}

// Attempt is the signature of a single retryable operation. It should
// return a *PermanentError for failures that must not be retried, and may
// return a RetryAfter-carrying error via WithRetryAfter for HTTP 429.
type Attempt func(ctx context.Context, attemptNum int) error

// retryAfterError carries a server-specified wait duration for HTTP 429.
type retryAfterError struct {
	err        error
	retryAfter time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

// WithRetryAfter wraps err with a Retry-After duration extracted from an
// HTTP 429 response.
func WithRetryAfter(err error, d time.Duration) error {
	return &retryAfterError{err: err, retryAfter: d}
}

// ParseRetryAfter parses the Retry-After header value (seconds, or an
// HTTP-date) into a duration, returning ok=false if absent/unparseable.
func ParseRetryAfter(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d, true
		}
	}
	return 0, false
}

// Do runs fn with retry per policy. Permanent errors (wrapped with
// Permanent) abort immediately. Transient errors are retried with
// exponential backoff, honoring a Retry-After hint if present.
func Do(ctx context.Context, policy RetryPolicy, fn Attempt) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		lastErr = err

		var delay time.Duration
		var rae *retryAfterError
		if errors.As(err, &rae) {
			delay = rae.retryAfter
		} else {
			delay = backoffDelay(policy, attempt)
		}

		if attempt == policy.MaxRetries-1 {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	d := time.Duration(float64(policy.BaseDelay) * math.Pow(2, float64(attempt)))
	if d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	jitter := float64(d) * policy.Jitter * (2*rand.Float64() - 1)
	return d + time.Duration(jitter)
}

// ClassifyHTTPStatus maps an HTTP status code to permanent-vs-transient:
// >=500 and 429 are transient, 401/403/other-4xx are permanent, 2xx/3xx are
// not errors at all (caller shouldn't call this).
func ClassifyHTTPStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return errors.New("rate limited")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Permanent(errors.New("permanent auth failure"))
	case status >= 500:
		return errors.New("server error")
	case status >= 400:
		return Permanent(errors.New("permanent client error"))
	default:
		return nil
	}
}
