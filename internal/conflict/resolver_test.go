package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/lock"
)

func TestResolver_SucceedsAfterContention(t *testing.T) {
	r := NewResolver(3, time.Millisecond, 5*time.Millisecond)
	calls := 0

	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return lock.ErrNotAcquired
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestResolver_GivesUp(t *testing.T) {
	r := NewResolver(4, time.Millisecond, 2*time.Millisecond)
	calls := 0

	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return lock.ErrNotAcquired
	})

	assert.ErrorIs(t, err, ErrContention)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
	assert.Equal(t, 4, calls)
}

func TestResolver_DoesNotRetryOtherErrors(t *testing.T) {
	r := NewResolver(5, time.Millisecond, time.Millisecond)
	boom := errors.New("boom")
	calls := 0

	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrContention)
	assert.Equal(t, 1, calls)
}

func TestResolver_StopsOnContextCancel(t *testing.T) {
	r := NewResolver(100, 50*time.Millisecond, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return lock.ErrNotAcquired
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestResolver_DelayIsCapped(t *testing.T) {
	r := NewResolver(10, 10*time.Millisecond, 40*time.Millisecond)

	for attempt := 1; attempt <= 10; attempt++ {
		d := r.delay(attempt)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 60*time.Millisecond)
	}
}
