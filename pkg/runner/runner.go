// Package runner implements a deduplicated background task executor: at
// most one factory invocation runs at a time, callers arriving while a run
// is in flight share its result, and a result younger than a configured
// window is returned without invoking the factory at all.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned to any caller arriving after StopAsync.
var ErrStopped = errors.New("runner: stopped")

// Factory produces a result of type T, observing ctx for task-scoped
// cancellation (distinct from any individual caller's timeout).
type Factory[T any] func(ctx context.Context) (T, error)

// run tracks one in-flight factory invocation and its waiters.
type run[T any] struct {
	done   chan struct{}
	result T
	err    error
}

// Runner deduplicates concurrent invocations of a single factory, per §4.H:
// caller-scoped cancellation never cancels the underlying run; only the
// runner's own taskTimeout or StopAsync does.
type Runner[T any] struct {
	factory     Factory[T]
	taskTimeout time.Duration
	reuseWithin time.Duration

	mu        sync.Mutex
	active    *run[T]
	lastAt    time.Time
	lastValue T
	haveLast  bool
	stopped   bool

	parentCtx    context.Context
	parentCancel context.CancelFunc
	wg           sync.WaitGroup
}

// New constructs a Runner. taskTimeout bounds how long any single run may
// execute (0 disables the bound); reuseWithin is how long a completed
// result is served without re-invoking factory (0 disables reuse).
func New[T any](factory Factory[T], taskTimeout, reuseWithin time.Duration) *Runner[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner[T]{
		factory:      factory,
		taskTimeout:  taskTimeout,
		reuseWithin:  reuseWithin,
		parentCtx:    ctx,
		parentCancel: cancel,
	}
}

// RunAsync returns a cached result if one younger than reuseWithin exists;
// otherwise it joins (or starts) the single in-flight run and awaits it,
// subject to ctx. Caller cancellation/timeout only affects the caller; the
// underlying run keeps going for other waiters.
func (r *Runner[T]) RunAsync(ctx context.Context) (T, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		var zero T
		return zero, ErrStopped
	}

	if r.haveLast && r.reuseWithin > 0 && time.Since(r.lastAt) < r.reuseWithin {
		v := r.lastValue
		r.mu.Unlock()
		return v, nil
	}

	rn := r.active
	if rn == nil {
		rn = &run[T]{done: make(chan struct{})}
		r.active = rn
		r.wg.Add(1)
		go r.execute(rn)
	}
	r.mu.Unlock()

	select {
	case <-rn.done:
		return rn.result, rn.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// execute runs factory to completion against the runner's own (taskTimeout
// bounded) context, publishes the result to all current and future waiters
// of rn, caches it for the reuse window, and clears the active slot.
func (r *Runner[T]) execute(rn *run[T]) {
	defer r.wg.Done()

	taskCtx := r.parentCtx
	var cancel context.CancelFunc
	if r.taskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(r.parentCtx, r.taskTimeout)
		defer cancel()
	}

	rn.result, rn.err = r.factory(taskCtx)
	close(rn.done)

	r.mu.Lock()
	if r.active == rn {
		r.active = nil
	}
	if rn.err == nil {
		r.lastValue = rn.result
		r.lastAt = time.Now()
		r.haveLast = true
	}
	r.mu.Unlock()
}

// FireAndForget starts a run (or lets an existing one continue) without
// waiting for its result; the background goroutine that awaits the result
// gives up after timeout (0 means it waits for the run to finish).
func (r *Runner[T]) FireAndForget(timeout time.Duration) {
	go func() {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		_, _ = r.RunAsync(ctx)
	}()
}

// StopAsync cancels any in-flight work, rejects new callers with
// ErrStopped, and waits for the in-flight goroutine to exit (subject to
// ctx).
func (r *Runner[T]) StopAsync(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.parentCancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
