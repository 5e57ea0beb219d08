package lock

import (
	"context"
	"sync"
	"time"
)

type slot struct {
	ch   chan struct{}
	refs int
}

// MemoryLocker serializes callers per key inside one process.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
	wait  time.Duration
}

// NewMemoryLocker creates a locker whose acquisitions give up after wait.
// A zero wait makes every acquisition a single try.
func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{
		slots: make(map[string]*slot),
		wait:  wait,
	}
}

func (l *MemoryLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	s := l.checkout(key)
	defer l.checkin(key, s)

	if err := l.acquire(ctx, s); err != nil {
		return err
	}
	defer func() { <-s.ch }()

	return fn(ctx)
}

func (l *MemoryLocker) acquire(ctx context.Context, s *slot) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	default:
	}
	if l.wait <= 0 {
		return ErrNotAcquired
	}

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrNotAcquired
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *MemoryLocker) checkout(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *MemoryLocker) checkin(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
