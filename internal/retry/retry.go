// Package retry provides the bounded backoff policy shared by every remote
// sink call. Transient failures (429, 5xx, transport errors) are retried a
// fixed number of times honoring Retry-After; anything else fails fast.
package retry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// Policy is a bounded exponential backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default matches the sinks' shared budget: three attempts, sub-second base.
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 600 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// Permanent wraps an error that must not be retried.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// After wraps an error with a server-mandated wait before the next attempt.
type After struct {
	Err  error
	Wait time.Duration
}

func (a *After) Error() string { return a.Err.Error() }
func (a *After) Unwrap() error { return a.Err }

// Do invokes fn until it succeeds, returns a Permanent error, or the attempt
// budget runs out. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}

		var perm *Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		if i == attempts-1 {
			break
		}

		delay := p.BaseDelay << uint(i)
		var after *After
		if errors.As(err, &after) && after.Wait > 0 {
			delay = after.Wait
		}
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	var after *After
	if errors.As(err, &after) {
		return after.Err
	}
	return err
}

// RetryableStatus reports whether an HTTP status is worth another attempt.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// RetryAfter parses a Retry-After header (seconds form), falling back when
// absent or unparseable.
func RetryAfter(h http.Header, fallback time.Duration) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
