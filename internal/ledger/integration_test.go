//go:build integration

package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/budgetguard/budgetguard/internal/models"
	"github.com/budgetguard/budgetguard/internal/testutil"
)

// TestApplyIdempotencyAgainstRealPostgres exercises the ledger consumer's
// replay-safety against Postgres's own unique-index enforcement, which
// sqlite's in-process driver honors too loosely to stand in for under
// concurrent writers.
func TestApplyIdempotencyAgainstRealPostgres(t *testing.T) {
	db, dbCleanup := testutil.NewTestDB(t)
	defer dbCleanup()
	client, redisCleanup := testutil.NewTestRedis(t)
	defer redisCleanup()

	c := New(db, client, zap.NewNop())
	ctx := context.Background()
	msg := sampleMessage("1700000000000-0")

	require.NoError(t, c.apply(ctx, msg))
	require.NoError(t, c.apply(ctx, msg))

	var rows []models.UsageLedger
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1, "replaying the same stream id against real Postgres must not create a second row")

	// sampleMessage's ts (1700000000000ms) falls on 2023-11-14 UTC, so the
	// aggregate lives in that day's bucket rather than today's.
	usage, err := client.Get(ctx, "tenant_usage_agg:acme:daily:2023-11-14").Result()
	require.NoError(t, err)
	require.Equal(t, "0.25", usage)
}
