package events

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/budgetguard/budgetguard/internal/models"
)

func TestPublishWritesToStream(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	pub := NewPublisher(client, zap.NewNop())
	ctx := context.Background()

	pub.Publish(ctx, models.UsageEvent{
		ID:       "evt-1",
		Tenant:   "acme",
		TenantID: 1,
		Route:    "/v1/chat/completions",
		Model:    "gpt-4o",
		USD:      1.23,
		Status:   models.StatusSuccess,
	})

	res, err := client.XRange(ctx, StreamName, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, "acme", res[0].Values["tenant"])
	require.Equal(t, "1.23", res[0].Values["usd"])
}

func TestPublishWithoutClientDoesNotPanic(t *testing.T) {
	pub := NewPublisher(nil, zap.NewNop())
	require.NotPanics(t, func() {
		pub.Publish(context.Background(), models.UsageEvent{Tenant: "acme"})
	})
}
