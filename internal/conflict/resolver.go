package conflict

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/lock"
)

var ErrContention = errors.New("resource is busy")

// Resolver retries work that lost a lock race. Whoever takes the lock first
// wins the slot; the others come back after a backoff and find it taken or
// free. After Attempts tries the caller gets ErrContention instead of waiting
// any longer.
type Resolver struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func NewResolver(attempts int, backoff, maxBackoff time.Duration) Resolver {
	if attempts < 1 {
		attempts = 1
	}
	if maxBackoff < backoff {
		maxBackoff = backoff
	}
	return Resolver{Attempts: attempts, Backoff: backoff, MaxBackoff: maxBackoff}
}

// Do runs fn until it succeeds or fails with anything other than
// lock.ErrNotAcquired.
func (r Resolver) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if !errors.Is(err, lock.ErrNotAcquired) {
			return err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delay(attempt)):
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrContention, attempts, err)
}

// delay doubles the base backoff per attempt, caps it and adds up to 50%
// jitter so racing callers spread out.
func (r Resolver) delay(attempt int) time.Duration {
	if r.Backoff <= 0 {
		return 0
	}
	d := r.Backoff << (attempt - 1)
	if d <= 0 || (r.MaxBackoff > 0 && d > r.MaxBackoff) {
		d = r.MaxBackoff
	}
	return d + time.Duration(rand.Int64N(int64(d)/2+1))
}
