package lock

import (
	"context"
	"errors"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker guards critical sections per key. WithLock waits a bounded time for
// the key and returns ErrNotAcquired when someone else keeps holding it.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
