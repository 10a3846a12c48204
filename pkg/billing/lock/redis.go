package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"subscription-billing-be/pkg/billing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// release deletes the key only while it still holds our token, so an expired
// lock taken over by another holder is left alone.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extend pushes the expiry out only while the key still holds our token.
var extend = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type RedisLocker struct {
	rdb        redis.UniversalClient
	ttl        time.Duration
	retryDelay time.Duration
	maxWait    time.Duration
	// refresh is how often a held key gets its ttl renewed.
	refresh time.Duration
}

// NewRedisLocker holds keys for ttl, renewing them every ttl/3 while held, and
// retries for at most maxWait.
func NewRedisLocker(rdb redis.UniversalClient, ttl, maxWait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, retryDelay: 50 * time.Millisecond, maxWait: maxWait, refresh: ttl / 3}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Unlock, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.maxWait)

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return l.unlocker(key, token), nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock %s: %w", key, billing.ErrLockNotAcquired)
		}

		timer := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) unlocker(key, token string) Unlock {
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.watchdog(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			// An error leaves the key to expire after ttl.
			_ = release.Run(ctx, l.rdb, []string{key}, token).Err()
		})
	}
}

// watchdog keeps the key alive until stop closes. It gives up once the key no
// longer holds token, since the lock then belongs to someone else.
func (l *RedisLocker) watchdog(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), l.refresh)
		n, err := extend.Run(ctx, l.rdb, []string{key}, token, l.ttl.Milliseconds()).Int64()
		cancel()
		if err == nil && n == 0 {
			return
		}
		// A transient error is retried on the next tick; the key still has
		// the rest of its ttl.
	}
}
