// Package retry wraps skynet uploads in caller-side retries. The skynet
// client never retries on its own.
package retry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ochronus/goskynet/skynet"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 200 * time.Millisecond
	MaxRetryAfter      = time.Minute
)

// Policy controls retry behavior.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// If zero or negative, DefaultMaxAttempts is used.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; it doubles on every
	// further attempt. If zero, DefaultBaseDelay is used.
	BaseDelay time.Duration

	// ShouldRetry reports whether err is worth another attempt.
	// If nil, Retryable is used.
	ShouldRetry func(error) bool

	// Sleep waits for d or until ctx is done. Tests override it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Retryable reports whether a failed upload may succeed on another attempt:
// transport failures and 408, 429 or 5xx responses. Invalid input, parse
// errors, closed clients and cancellation are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, skynet.ErrClientClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *skynet.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= 500:
			return true
		}
		return false
	}

	var transportErr *skynet.TransportError
	return errors.As(err, &transportErr)
}

// RetryAfterDelay parses an HTTP Retry-After header value and returns the advised
// delay. If parsing fails or the header is empty, fallback is returned.
func RetryAfterDelay(header string, fallback time.Duration) time.Duration {
	if header == "" {
		return fallback
	}

	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}

	if ts, err := http.ParseTime(header); err == nil {
		now := time.Now()
		if ts.After(now) {
			return ts.Sub(now)
		}
		return 0
	}

	return fallback
}

// Delay returns how long to wait after the failed attempt (0-based) that
// returned err. A portal Retry-After wins over the exponential backoff, capped
// at MaxRetryAfter.
func (p Policy) Delay(attempt int, err error) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	delay := base * time.Duration(1<<attempt)

	var apiErr *skynet.APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter != "" {
		delay = RetryAfterDelay(apiErr.RetryAfter, delay)
		if delay > MaxRetryAfter {
			delay = MaxRetryAfter
		}
	}
	return delay
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. It returns the number of attempts made and the
// last error. Cancelling ctx stops the loop with ctx.Err().
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = Retryable
	}

	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		err := op(ctx, attempt)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err

		if attempt == maxAttempts-1 || !shouldRetry(err) {
			return attempt + 1, lastErr
		}

		if err := sleep(ctx, p.Delay(attempt, err)); err != nil {
			return attempt + 1, err
		}
	}

	return maxAttempts, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
