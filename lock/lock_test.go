package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle/lock"
)

func newRedisLock(t *testing.T) (*lock.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.NewRedis(client, "test:"), mr
}

func lockers(t *testing.T) map[string]lock.Locker {
	r, _ := newRedisLock(t)
	return map[string]lock.Locker{
		"memory": lock.NewMemory(),
		"redis":  r,
	}
}

func TestTryAcquireExclusive(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			release, ok, err := l.TryAcquire(ctx, "k", time.Minute)
			require.NoError(t, err)
			require.True(t, ok)

			_, ok, err = l.TryAcquire(ctx, "k", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "second holder must be refused")

			_, ok, err = l.TryAcquire(ctx, "other", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "distinct keys are independent")

			release()
			release()

			release2, ok, err := l.TryAcquire(ctx, "k", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
			release2()
		})
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			release, err := l.Acquire(ctx, "k", time.Minute)
			require.NoError(t, err)

			go func() {
				time.Sleep(100 * time.Millisecond)
				release()
			}()

			ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			release2, err := l.Acquire(ctx2, "k", time.Minute)
			require.NoError(t, err)
			release2()
		})
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	l := lock.NewMemory()
	_, ok, err := l.TryAcquire(context.Background(), "k", 0)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryContention(t *testing.T) {
	l := lock.NewMemory()
	var (
		wg      sync.WaitGroup
		winners atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := l.TryAcquire(context.Background(), "sweep", time.Minute)
			if err == nil && ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), winners.Load())
}

func TestRedisExpiredHolderCannotRelease(t *testing.T) {
	l, mr := newRedisLock(t)
	ctx := context.Background()

	stale, ok, err := l.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	fresh, ok, err := l.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	stale()
	assert.True(t, mr.Exists("test:k"), "stale release must not delete the new holder's key")

	fresh()
	assert.False(t, mr.Exists("test:k"))
}

func TestRedisRequiresTTL(t *testing.T) {
	l, _ := newRedisLock(t)
	_, _, err := l.TryAcquire(context.Background(), "k", 0)
	assert.Error(t, err)
}
