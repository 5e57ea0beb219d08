package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_RunsFn(t *testing.T) {
	l := NewMemoryLocker(0)
	called := false

	err := l.WithLock(context.Background(), "doctor:a", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestMemoryLocker_PropagatesFnError(t *testing.T) {
	l := NewMemoryLocker(0)
	boom := errors.New("boom")

	err := l.WithLock(context.Background(), "doctor:a", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	// the key is released even when fn fails
	err = l.WithLock(context.Background(), "doctor:a", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestMemoryLocker_ContentionTimesOut(t *testing.T) {
	l := NewMemoryLocker(20 * time.Millisecond)
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = l.WithLock(context.Background(), "doctor:a", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	start := time.Now()
	err := l.WithLock(context.Background(), "doctor:a", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	err = l.WithLock(context.Background(), "doctor:b", func(ctx context.Context) error { return nil })
	assert.NoError(t, err, "other keys are not blocked")
}

func TestMemoryLocker_WaitsForRelease(t *testing.T) {
	l := NewMemoryLocker(time.Second)
	held := make(chan struct{})

	go func() {
		_ = l.WithLock(context.Background(), "room:1", func(ctx context.Context) error {
			close(held)
			time.Sleep(10 * time.Millisecond)
			return nil
		})
	}()
	<-held

	err := l.WithLock(context.Background(), "room:1", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestMemoryLocker_ContextCancelled(t *testing.T) {
	l := NewMemoryLocker(time.Minute)
	held := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go func() {
		_ = l.WithLock(context.Background(), "k", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.WithLock(ctx, "k", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	l := NewMemoryLocker(5 * time.Second)
	var wg sync.WaitGroup
	inside := 0
	maxInside := 0
	var mu sync.Mutex

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.WithLock(context.Background(), "k", func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Empty(t, l.slots, "idle keys are dropped")
}
