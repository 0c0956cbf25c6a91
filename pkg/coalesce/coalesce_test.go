package coalesce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTryExecuteAsync_DedupsConcurrentCallers(t *testing.T) {
	c := New[[]byte]()
	var invocations atomic.Int32

	var wg sync.WaitGroup
	results := make([][]byte, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ok, v, err := c.TryExecuteAsync(context.Background(), "K3", time.Second, func() ([]byte, error) {
				invocations.Add(1)
				time.Sleep(30 * time.Millisecond)
				return []byte{0x01, 0x02, 0x03}, nil
			})
			assert.True(t, ok)
			assert.NoError(t, err)
			results[idx] = v
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, []byte{0x01, 0x02, 0x03}, r)
	}
	assert.LessOrEqual(t, invocations.Load(), int32(10))
	assert.GreaterOrEqual(t, invocations.Load(), int32(1))
}

func TestTryExecuteAsync_TimeoutYieldsFalseWithoutDuplicateRun(t *testing.T) {
	c := New[int]()
	var invocations atomic.Int32

	go func() {
		_, _, _ = c.TryExecuteAsync(context.Background(), "slow", time.Second, func() (int, error) {
			invocations.Add(1)
			time.Sleep(100 * time.Millisecond)
			return 1, nil
		})
	}()
	time.Sleep(10 * time.Millisecond) // let the first caller start the run

	ok, v, err := c.TryExecuteAsync(context.Background(), "slow", 5*time.Millisecond, func() (int, error) {
		invocations.Add(1)
		return 2, nil
	})
	assert.False(t, ok)
	assert.Equal(t, 0, v)
	assert.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), invocations.Load())
}

func TestTryExecuteAsync_CancellationYieldsFalseForCancelledCallerOnly(t *testing.T) {
	c := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, v, err := c.TryExecuteAsync(ctx, "K", time.Second, func() (int, error) {
		return 1, nil
	})
	assert.False(t, ok)
	assert.Equal(t, 0, v)
	assert.NoError(t, err)
}

func TestTryExecuteAsync_FactoryErrorYieldsFalseAndSurfacesError(t *testing.T) {
	c := New[int]()
	boom := errors.New("factory failed")
	ok, _, err := c.TryExecuteAsync(context.Background(), "K", time.Second, func() (int, error) {
		return 0, boom
	})
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestTryExecuteAsync_SequentialCallsEachInvokeFactory(t *testing.T) {
	c := New[int]()
	var invocations atomic.Int32

	for i := 0; i < 3; i++ {
		ok, _, err := c.TryExecuteAsync(context.Background(), "K", time.Second, func() (int, error) {
			invocations.Add(1)
			return 1, nil
		})
		assert.True(t, ok)
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(3), invocations.Load())
}
