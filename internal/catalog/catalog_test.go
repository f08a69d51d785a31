package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/budgetguard/budgetguard/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ModelPricing{}))
	return db
}

func strPtr(s string) *string { return &s }

func TestLookupKnownModel(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.ModelPricing{
		ModelName:   "gpt-4o",
		Provider:    strPtr("openai"),
		InputPrice:  2.5,
		OutputPrice: 10,
	}).Error)

	cat := New(db)
	entry, err := cat.Lookup(context.Background(), "gpt-4o")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, "openai", *entry.Provider)
	require.Equal(t, 2.5, entry.InputPrice)
}

func TestLookupUnknownModelReturnsNil(t *testing.T) {
	cat := New(newTestDB(t))
	entry, err := cat.Lookup(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestLookupUnroutableModelHasNilProvider(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.ModelPricing{
		ModelName:   "deprecated-model",
		Provider:    nil,
		InputPrice:  1,
		OutputPrice: 2,
	}).Error)

	cat := New(db)
	entry, err := cat.Lookup(context.Background(), "deprecated-model")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Nil(t, entry.Provider)
}

func TestLookupServesFromCacheOnSecondCall(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.ModelPricing{
		ModelName: "gpt-4", Provider: strPtr("openai"), InputPrice: 30, OutputPrice: 60,
	}).Error)

	cat := New(db)
	ctx := context.Background()
	first, err := cat.Lookup(ctx, "gpt-4")
	require.NoError(t, err)

	require.NoError(t, db.Exec("DELETE FROM model_pricing WHERE model_name = ?", "gpt-4").Error)

	second, err := cat.Lookup(ctx, "gpt-4")
	require.NoError(t, err)
	require.Equal(t, first, second, "a cached entry must survive a row deletion until TTL expiry")
}
