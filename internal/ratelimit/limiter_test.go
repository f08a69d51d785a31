package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client)
}

func TestAllowExactlyNRequests(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := l.Allow(ctx, "tenant-a", 3)
		require.NoError(t, err)
		require.Truef(t, allowed, "request %d of 3 should be admitted", i+1)
	}

	allowed, err := l.Allow(ctx, "tenant-a", 3)
	require.NoError(t, err)
	require.False(t, allowed, "the 4th request within the window must be denied")
}

func TestAllowSeparatesTenants(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := l.Allow(ctx, "tenant-a", 2)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, err := l.Allow(ctx, "tenant-b", 2)
	require.NoError(t, err)
	require.True(t, allowed, "a different tenant's bucket must be independent")
}

func TestAllowFailsOpenWithoutRedis(t *testing.T) {
	l := New(nil)
	allowed, err := l.Allow(context.Background(), "tenant-a", 1)
	require.NoError(t, err)
	require.True(t, allowed)
}
