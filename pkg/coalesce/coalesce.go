// Package coalesce implements the request coalescer: at-most-one concurrent
// factory invocation per key, with up to N waiters sharing the result. It
// wraps golang.org/x/sync/singleflight.Group, which already gives the
// mutual-exclusion-by-key semantics, and adds the timeout/cancellation
// contract DoChan doesn't provide natively.
package coalesce

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Factory produces the bytes and metadata for a key, or an error. A nil
// value with a nil error is handed back to the caller as a successful
// result (ok is true); the caller decides what a nil value means.
type Factory[T any] func() (T, error)

// Coalescer serializes factory invocations per key.
type Coalescer[T any] struct {
	group singleflight.Group
}

// New constructs a Coalescer.
func New[T any]() *Coalescer[T] {
	return &Coalescer[T]{}
}

// TryExecuteAsync runs factory for key if no invocation is already in
// flight, or awaits the in-flight invocation's result. The wait is bounded
// by both timeout and ctx: whichever fires first yields (false, zero
// value, nil) for this caller only, without affecting the in-flight run or
// other waiters. A timeout of 0 means unbounded (ctx alone governs). If the
// factory itself returns an error, that error is surfaced here (ok is
// false) so callers can distinguish a factory failure from a timeout or
// cancellation.
func (c *Coalescer[T]) TryExecuteAsync(ctx context.Context, key string, timeout time.Duration, factory Factory[T]) (bool, T, error) {
	var zero T

	ch := c.group.DoChan(key, func() (any, error) {
		return factory()
	})

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return false, zero, res.Err
		}
		v, ok := res.Val.(T)
		if !ok {
			return false, zero, nil
		}
		return true, v, nil
	case <-timeoutC:
		return false, zero, nil
	case <-ctx.Done():
		return false, zero, nil
	}
}

// Forget removes key's entry so the next call starts a fresh invocation
// rather than joining a stale in-flight one. Used by callers that know the
// cached factory result is no longer valid.
func (c *Coalescer[T]) Forget(key string) {
	c.group.Forget(key)
}
