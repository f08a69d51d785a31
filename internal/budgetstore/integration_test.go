//go:build integration

package budgetstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/budgetguard/budgetguard/internal/models"
	"github.com/budgetguard/budgetguard/internal/testutil"
)

// TestReadBudgetAgainstRealPostgresAndRedis exercises the two-tier store
// against a real Postgres (not sqlite) and real Redis, the way sqlite's
// in-process unit tests cannot: a genuine network round trip per cache
// miss, and Postgres's own unique-index/transaction semantics backing
// the budget row lookup.
func TestReadBudgetAgainstRealPostgresAndRedis(t *testing.T) {
	db, dbCleanup := testutil.NewTestDB(t)
	defer dbCleanup()
	client, redisCleanup := testutil.NewTestRedis(t)
	defer redisCleanup()

	store := New(db, client, zap.NewNop())
	ctx := context.Background()

	tenant := models.Tenant{Name: "acme", IsActive: true}
	require.NoError(t, db.Create(&tenant).Error)
	require.NoError(t, db.Create(&models.Budget{TenantID: tenant.ID, Period: models.PeriodDaily, AmountUSD: 50}).Error)

	window, err := store.ReadBudget(ctx, tenant.Name, tenant.ID, models.PeriodDaily, BudgetWindow{})
	require.NoError(t, err)
	require.Equal(t, 50.0, window.AmountUSD)

	// Second read must be served from the real Redis cache without a
	// second Postgres round trip: deleting the row and re-reading
	// proves the cache, not the database, answered.
	require.NoError(t, db.Exec("DELETE FROM budgets WHERE tenant_id = ?", tenant.ID).Error)
	cached, err := store.ReadBudget(ctx, tenant.Name, tenant.ID, models.PeriodDaily, BudgetWindow{})
	require.NoError(t, err)
	require.Equal(t, 50.0, cached.AmountUSD)
}

func TestReadTagSetAgainstRealPostgresAndRedis(t *testing.T) {
	db, dbCleanup := testutil.NewTestDB(t)
	defer dbCleanup()
	client, redisCleanup := testutil.NewTestRedis(t)
	defer redisCleanup()

	store := New(db, client, zap.NewNop())
	ctx := context.Background()

	tenant := models.Tenant{Name: "acme", IsActive: true}
	require.NoError(t, db.Create(&tenant).Error)
	require.NoError(t, db.Create(&models.Tag{TenantID: tenant.ID, Name: "eng", Path: "eng", IsActive: true}).Error)

	entries, err := store.ReadTagSet(ctx, tenant.ID, []string{"eng"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "eng", entries[0].Name)
}
