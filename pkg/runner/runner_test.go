package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAsync_DedupsConcurrentCallers(t *testing.T) {
	var invocations atomic.Int32
	r := New(func(ctx context.Context) (int, error) {
		invocations.Add(1)
		time.Sleep(50 * time.Millisecond)
		return 42, nil
	}, 0, 0)

	results := make(chan int, 10)
	for i := 0; i < 10; i++ {
		go func() {
			v, err := r.RunAsync(context.Background())
			require.NoError(t, err)
			results <- v
		}()
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, 42, <-results)
	}
	assert.Equal(t, int32(1), invocations.Load())
}

func TestRunAsync_ReuseWindowSkipsFactory(t *testing.T) {
	var invocations atomic.Int32
	r := New(func(ctx context.Context) (int, error) {
		invocations.Add(1)
		return int(invocations.Load()), nil
	}, 0, 100*time.Millisecond)

	v1, err := r.RunAsync(context.Background())
	require.NoError(t, err)
	v2, err := r.RunAsync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), invocations.Load())
}

func TestRunAsync_FactoryErrorPropagatesToWaiters(t *testing.T) {
	wantErr := errors.New("boom")
	r := New(func(ctx context.Context) (int, error) {
		return 0, wantErr
	}, 0, 0)

	_, err := r.RunAsync(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestRunAsync_CallerCancellationDoesNotCancelRun(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})
	r := New(func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done() // only the runner's own shutdown should reach here
		select {
		case <-time.After(30 * time.Millisecond):
		default:
		}
		close(finished)
		return 7, nil
	}, 0, 0)

	callerCtx, cancel := context.WithCancel(context.Background())
	go func() {
		_, _ = r.RunAsync(callerCtx)
	}()

	<-started
	cancel() // cancel only the first caller

	select {
	case <-finished:
		t.Fatal("run should not have finished: caller cancellation must not cancel the task")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, r.StopAsync(context.Background()))
}

func TestStopAsync_RejectsNewCallers(t *testing.T) {
	r := New(func(ctx context.Context) (int, error) {
		return 1, nil
	}, 0, 0)
	require.NoError(t, r.StopAsync(context.Background()))

	_, err := r.RunAsync(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}
