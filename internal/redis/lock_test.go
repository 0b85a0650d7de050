package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (Locker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisSlotLocker(client, 5*time.Second), mr
}

func TestWithSlotLockRunsCriticalSection(t *testing.T) {
	locker, _ := newTestLocker(t)

	ran := false
	err := locker.WithSlotLock(context.Background(), "doc-1:100:200", func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
}

func TestWithSlotLockContention(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	inner := locker.WithSlotLock(ctx, "doc-1:100:200", func(ctx context.Context) error {
		// Same slot identity while the lock is held.
		err := locker.WithSlotLock(ctx, "doc-1:100:200", func(ctx context.Context) error {
			t.Fatal("second holder must not run")
			return nil
		})
		assert.ErrorIs(t, err, ErrLockNotAcquired)

		// A different slot is unaffected.
		return locker.WithSlotLock(ctx, "doc-2:100:200", func(ctx context.Context) error {
			return nil
		})
	})
	require.NoError(t, inner)
}

func TestWithSlotLockReleasedAfterReturn(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	err := locker.WithSlotLock(ctx, "doc-1:100:200", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	assert.False(t, mr.Exists("lock:slot:doc-1:100:200"), "lock key must be deleted on return")

	// Reacquire works immediately.
	err = locker.WithSlotLock(ctx, "doc-1:100:200", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestWithSlotLockReleasedOnError(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	wantErr := assert.AnError
	err := locker.WithSlotLock(ctx, "doc-1:100:200", func(ctx context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.False(t, mr.Exists("lock:slot:doc-1:100:200"))
}

func TestWithSlotLockExpiresByTTL(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	// Simulate a crashed holder: the key exists but its TTL elapses.
	err := locker.WithSlotLock(ctx, "doc-1:100:200", func(ctx context.Context) error {
		mr.FastForward(6 * time.Second)
		return nil
	})
	require.NoError(t, err)

	err = locker.WithSlotLock(ctx, "doc-1:100:200", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err, "lock must be reacquirable after TTL expiry")
}
