// Package retry provides the exponential-backoff-with-jitter policy shared
// by every network-facing component (Message Source paging, Checkpoint
// Store gateway calls, MU Cranker dispatch).
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/aonet/cu/cuerr"
)

// ErrInvalidPolicy is returned by Policy.Validate for a malformed policy.
var ErrInvalidPolicy = errors.New("retry: invalid policy")

// Policy configures exponential backoff with jitter.
type Policy struct {
	// MaxAttempts is the maximum number of attempts including the first.
	// A value of 1 disables retries.
	MaxAttempts int
	// BaseDelay is the base delay; the nth retry waits roughly
	// min(BaseDelay*2^n, MaxDelay) plus jitter in [0, BaseDelay).
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
}

// Default is a reasonable policy for SU/gateway/CU HTTP calls.
var Default = Policy{MaxAttempts: 4, BaseDelay: 250 * time.Millisecond, MaxDelay: 10 * time.Second}

// Validate reports whether p is well formed.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return ErrInvalidPolicy
	}
	if p.MaxDelay > 0 && p.BaseDelay > 0 && p.MaxDelay < p.BaseDelay {
		return ErrInvalidPolicy
	}
	return nil
}

// delay returns the wait before attempt n (0-based: n=0 is the delay before
// the first retry, i.e. after attempt 1 failed).
func (p Policy) delay(n int, rng *rand.Rand) time.Duration {
	exp := p.BaseDelay * (1 << n)
	if p.MaxDelay > 0 && exp > p.MaxDelay {
		exp = p.MaxDelay
	}
	if p.BaseDelay <= 0 {
		return exp
	}
	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(p.BaseDelay)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(p.BaseDelay))) // #nosec G404 -- jitter timing, not security
	}
	return exp + jitter
}

// Do runs fn, retrying while it returns a cuerr.ErrTransient-classified
// error, up to p.MaxAttempts. It stops immediately on any non-transient
// error, and on context cancellation.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if err := p.Validate(); err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			d := p.delay(attempt-1, nil)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if cuerr.KindOf(lastErr) != cuerr.KindTransient {
			return lastErr
		}
	}
	return lastErr
}
