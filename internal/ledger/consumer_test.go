package ledger

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/budgetguard/budgetguard/internal/models"
)

func newTestConsumer(t *testing.T) (*Consumer, *gorm.DB, *redis.Client) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Tenant{}, &models.UsageLedger{}, &models.RequestTag{}))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(db, client, zap.NewNop()), db, client
}

func sampleMessage(id string) redis.XMessage {
	return redis.XMessage{
		ID: id,
		Values: map[string]interface{}{
			"ts":        "1700000000000",
			"tenant":    "acme",
			"route":     "/v1/chat/completions",
			"model":     "gpt-4o",
			"usd":       "0.25",
			"promptTok": "100",
			"compTok":   "50",
			"status":    "success",
			"sessionId": "",
			"tags":      "[]",
		},
	}
}

func TestApplyInsertsOneLedgerRowPerEvent(t *testing.T) {
	c, db, _ := newTestConsumer(t)
	require.NoError(t, c.apply(context.Background(), sampleMessage("1700000000000-0")))

	var rows []models.UsageLedger
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, 0.25, rows[0].UsdCost)
}

func TestApplyIsIdempotentOnReplayedEventID(t *testing.T) {
	c, db, _ := newTestConsumer(t)
	ctx := context.Background()
	msg := sampleMessage("1700000000000-0")

	require.NoError(t, c.apply(ctx, msg))
	require.NoError(t, c.apply(ctx, msg))

	var rows []models.UsageLedger
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1, "replaying the same stream id must not create a second ledger row")
}

func TestApplyRejectsMalformedUsd(t *testing.T) {
	c, _, _ := newTestConsumer(t)
	msg := sampleMessage("1700000000001-0")
	msg.Values["usd"] = "not-a-number"
	require.Error(t, c.apply(context.Background(), msg))
}

func TestApplyRejectsMissingTenant(t *testing.T) {
	c, _, _ := newTestConsumer(t)
	msg := sampleMessage("1700000000002-0")
	delete(msg.Values, "tenant")
	require.Error(t, c.apply(context.Background(), msg))
}

func TestApplyBumpsTenantUsageAggregateEvenWithoutTags(t *testing.T) {
	c, _, client := newTestConsumer(t)
	require.NoError(t, c.apply(context.Background(), sampleMessage("1700000000003-0")))

	// sampleMessage's ts (1700000000000ms) is 2023-11-14T22:13:20Z.
	val, err := client.Get(context.Background(), "tenant_usage_agg:acme:daily:2023-11-14").Result()
	require.NoError(t, err)
	require.Equal(t, "0.25", val)
}
