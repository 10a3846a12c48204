// Package lock serializes state changes of one subscription across requests,
// the renewal sweep and webhook deliveries.
package lock

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func()

type Locker interface {
	// Acquire blocks until key is held, ctx is done or the locker gives up.
	Acquire(ctx context.Context, key string) (Unlock, error)
}

func SubscriptionKey(userId, planId uuid.UUID) string {
	return fmt.Sprintf("lock:subscription:%s:%s", userId, planId)
}

// UserKey guards operations spanning every plan of a subscriber, such as
// instrument rotation.
func UserKey(userId uuid.UUID) string {
	return fmt.Sprintf("lock:user:%s", userId)
}
