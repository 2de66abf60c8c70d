package redis

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) *Locker {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST not set")
	}
	port := 6379
	if p, err := strconv.Atoi(os.Getenv("REDIS_PORT")); err == nil {
		port = p
	}

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	client, err := NewClient(context.Background(), Config{Host: host, Port: port}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewLocker(client, "fern-test:"+uuid.New().String()+":", 5*time.Second, 50*time.Millisecond)
}

func TestLocker_AcquireIsExclusive(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "email:a@b.c", time.Second)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "email:a@b.c", time.Second)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)

	again, err := locker.Acquire(ctx, "email:a@b.c", time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocker_LockKeysReleasesOnFailure(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	blocker, err := locker.Acquire(ctx, "phone:123", time.Second)
	require.NoError(t, err)

	_, err = locker.LockKeys(ctx, []string{"phone:123", "email:a@b.c"})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// email:a@b.c sorts first and must have been released again
	reacquired, err := locker.Acquire(ctx, "email:a@b.c", time.Second)
	require.NoError(t, err)
	require.NoError(t, reacquired.Release(ctx))
	require.NoError(t, blocker.Release(ctx))

	unlock, err := locker.LockKeys(ctx, []string{"phone:123", "email:a@b.c", "phone:123"})
	require.NoError(t, err)
	unlock(ctx)
}

func TestLocker_LockKeysReleasesAfterContextTimeout(t *testing.T) {
	locker := newTestLocker(t)
	locker.wait = 5 * time.Second
	ctx := context.Background()

	blocker, err := locker.Acquire(ctx, "phone:123", 5*time.Second)
	require.NoError(t, err)
	defer blocker.Release(ctx)

	// email:a@b.c is taken first, then the wait on phone:123 outlives the deadline
	timeoutCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = locker.LockKeys(timeoutCtx, []string{"phone:123", "email:a@b.c"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	reacquired, err := locker.Acquire(ctx, "email:a@b.c", time.Second)
	require.NoError(t, err)
	require.NoError(t, reacquired.Release(ctx))
}
