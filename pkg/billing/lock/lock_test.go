package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"subscription-billing-be/pkg/billing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T, ttl, maxWait time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisLocker(rdb, ttl, maxWait), mr
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	key := SubscriptionKey(uuid.New(), uuid.New())

	t.Run("second acquire gives up while held", func(t *testing.T) {
		l, _ := newRedisLocker(t, time.Minute, 100*time.Millisecond)
		unlock, err := l.Acquire(ctx, key)
		require.NoError(t, err)
		defer unlock()

		_, err = l.Acquire(ctx, key)
		assert.ErrorIs(t, err, billing.ErrLockNotAcquired)
	})

	t.Run("release frees the key", func(t *testing.T) {
		l, mr := newRedisLocker(t, time.Minute, 100*time.Millisecond)
		unlock, err := l.Acquire(ctx, key)
		require.NoError(t, err)
		unlock()
		unlock()
		assert.False(t, mr.Exists(key))

		unlock, err = l.Acquire(ctx, key)
		require.NoError(t, err)
		unlock()
	})

	t.Run("release keeps a lock taken over after expiry", func(t *testing.T) {
		l, mr := newRedisLocker(t, time.Second, 100*time.Millisecond)
		unlock, err := l.Acquire(ctx, key)
		require.NoError(t, err)

		mr.FastForward(2 * time.Second)
		require.NoError(t, mr.Set(key, "someone-else"))

		unlock()
		got, err := mr.Get(key)
		require.NoError(t, err)
		assert.Equal(t, "someone-else", got)
	})

	t.Run("held key is renewed until release", func(t *testing.T) {
		l, mr := newRedisLocker(t, 300*time.Millisecond, 100*time.Millisecond)
		unlock, err := l.Acquire(ctx, key)
		require.NoError(t, err)

		mr.SetTTL(key, 50*time.Millisecond)
		assert.Eventually(t, func() bool { return mr.TTL(key) == 300*time.Millisecond }, time.Second, 20*time.Millisecond)

		unlock()
		assert.False(t, mr.Exists(key))
	})

	t.Run("renewal stops once the key is taken over", func(t *testing.T) {
		l, mr := newRedisLocker(t, 300*time.Millisecond, 100*time.Millisecond)
		unlock, err := l.Acquire(ctx, key)
		require.NoError(t, err)
		defer unlock()

		require.NoError(t, mr.Set(key, "someone-else"))
		time.Sleep(250 * time.Millisecond)
		assert.Zero(t, mr.TTL(key))
	})

	t.Run("cancelled context stops waiting", func(t *testing.T) {
		l, _ := newRedisLocker(t, time.Minute, time.Minute)
		unlock, err := l.Acquire(ctx, key)
		require.NoError(t, err)
		defer unlock()

		cctx, cancel := context.WithTimeout(ctx, 80*time.Millisecond)
		defer cancel()
		_, err = l.Acquire(cctx, key)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestLocalLockerSerializes(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()
	key := UserKey(uuid.New())

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Acquire(ctx, key)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxInside)
	assert.Empty(t, l.entries)
}

func TestLocalLockerContext(t *testing.T) {
	l := NewLocalLocker()
	key := "k"
	unlock, err := l.Acquire(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, key)
	assert.ErrorIs(t, err, context.Canceled)

	unlock()
	assert.Empty(t, l.entries)
}
