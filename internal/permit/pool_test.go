package permit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsNonPositiveCapacity(t *testing.T) {
	_, err := New(0)
	require.Error(t, err)

	_, err = New(-3)
	require.Error(t, err)
}

func TestPool_NeverExceedsCapacity(t *testing.T) {
	pool, err := New(3)
	require.NoError(t, err)

	var current, maxSeen atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Do(context.Background(), func(context.Context) error {
				n := current.Add(1)
				for {
					m := maxSeen.Load()
					if n <= m || maxSeen.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int64(3))
	stats := pool.Stats()
	assert.Equal(t, int64(20), stats.Acquired)
	assert.Equal(t, stats.Acquired, stats.Released)
	assert.Equal(t, int64(0), stats.InUse)
	assert.LessOrEqual(t, stats.Peak, int64(3))
}

func TestPool_DoReleasesOnErrorAndPanic(t *testing.T) {
	pool, err := New(1)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = pool.Do(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, pool.InUse())

	assert.Panics(t, func() {
		_ = pool.Do(context.Background(), func(context.Context) error { panic("task blew up") })
	})
	assert.Equal(t, 0, pool.InUse())

	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Acquired)
	assert.Equal(t, int64(2), stats.Released)
}

func TestPool_AcquireHonorsContext(t *testing.T) {
	pool, err := New(1)
	require.NoError(t, err)
	require.NoError(t, pool.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = pool.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, pool.InUse())

	pool.Release()
	assert.Equal(t, 0, pool.InUse())
}

func TestPool_FIFOHandOff(t *testing.T) {
	pool, err := New(1)
	require.NoError(t, err)
	require.NoError(t, pool.Acquire(context.Background()))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, pool.Acquire(context.Background()))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			pool.Release()
		}(i)
		// Let each waiter enqueue before the next one.
		time.Sleep(10 * time.Millisecond)
	}

	pool.Release()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestPool_ReleaseWithoutAcquirePanics(t *testing.T) {
	pool, err := New(2)
	require.NoError(t, err)
	assert.Panics(t, func() { pool.Release() })
}
