package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewManager(client)
}

func TestAcquireThenSecondAcquireFails(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, l)

	second, err := m.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	require.Nil(t, second, "a held lock must not be acquirable a second time")
}

func TestReleaseAllowsReacquire(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, "job-2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, l)
	require.NoError(t, l.Release(ctx))

	second, err := m.Acquire(ctx, "job-2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, second)
}

func TestWithLockSkipsWhenAlreadyHeld(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	held, err := m.Acquire(ctx, "job-3", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, held)

	ran := false
	err = m.WithLock(ctx, "job-3", time.Minute, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, ran, "WithLock must not invoke fn when the lock is already held elsewhere")
}
