package cost

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/budgetguard/budgetguard/internal/catalog"
	"github.com/budgetguard/budgetguard/internal/models"
)

func strPtr(s string) *string { return &s }

func newTestCatalog(t *testing.T, rows ...models.ModelPricing) *catalog.Catalog {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ModelPricing{}))
	for _, r := range rows {
		require.NoError(t, db.Create(&r).Error)
	}
	return catalog.New(db)
}

func TestEstimateActualUsageWins(t *testing.T) {
	cat := newTestCatalog(t, models.ModelPricing{ModelName: "gpt-4o", Provider: strPtr("openai"), InputPrice: 2.5, OutputPrice: 10})
	e := New(cat)

	result, err := e.Estimate(context.Background(), Request{
		Model:       "gpt-4o",
		Messages:    []Message{{Role: "user", Content: "this content must be ignored"}},
		ActualUsage: &ActualUsage{PromptTokens: 100, TotalTokens: 150},
	})
	require.NoError(t, err)
	require.Equal(t, 100, result.PromptTokens)
	require.Equal(t, 50, result.CompletionTokens)
	require.InDelta(t, (100*2.5+50*10)/1_000_000, result.USD, 1e-9)
}

func TestEstimateZeroMessagesZeroCost(t *testing.T) {
	cat := newTestCatalog(t, models.ModelPricing{ModelName: "gpt-4o", Provider: strPtr("openai"), InputPrice: 2.5, OutputPrice: 10})
	e := New(cat)

	result, err := e.Estimate(context.Background(), Request{Model: "gpt-4o"})
	require.NoError(t, err)
	require.Equal(t, 0, result.PromptTokens)
	require.Equal(t, 0, result.CompletionTokens)
	require.Zero(t, result.USD)
}

func TestEstimateGeminiTierLowWhenAtOrBelowThreshold(t *testing.T) {
	cat := newTestCatalog(t,
		models.ModelPricing{ModelName: "gemini-2.5-pro-low", Provider: strPtr("google"), InputPrice: 1.25, OutputPrice: 10},
		models.ModelPricing{ModelName: "gemini-2.5-pro-high", Provider: strPtr("google"), InputPrice: 2.5, OutputPrice: 15},
	)
	e := New(cat)

	result, err := e.Estimate(context.Background(), Request{
		Model:       "gemini-2.5-pro",
		ActualUsage: &ActualUsage{PromptTokens: 100, TotalTokens: 200_000},
	})
	require.NoError(t, err)
	require.InDelta(t, (100*1.25+199_900*10)/1_000_000, result.USD, 1e-6)
}

func TestEstimateGeminiTierHighAboveThreshold(t *testing.T) {
	cat := newTestCatalog(t,
		models.ModelPricing{ModelName: "gemini-2.5-pro-low", Provider: strPtr("google"), InputPrice: 1.25, OutputPrice: 10},
		models.ModelPricing{ModelName: "gemini-2.5-pro-high", Provider: strPtr("google"), InputPrice: 2.5, OutputPrice: 15},
	)
	e := New(cat)

	result, err := e.Estimate(context.Background(), Request{
		Model:       "gemini-2.5-pro",
		ActualUsage: &ActualUsage{PromptTokens: 100, TotalTokens: 200_001},
	})
	require.NoError(t, err)
	require.InDelta(t, (100*2.5+200_000*15)/1_000_000, result.USD, 1e-6)
}

func TestEffectiveModelTiersOnEstimatedTotalWhenNoActualUsage(t *testing.T) {
	e := &Estimator{}
	// A pre-call estimate (no ActualUsage) must tier off the
	// BPE-estimated total, not silently default to the low tier.
	require.Equal(t, geminiLowModel, e.effectiveModel(geminiTieredModel, 200_000))
	require.Equal(t, geminiHighModel, e.effectiveModel(geminiTieredModel, 200_001))
	require.Equal(t, "gpt-4o", e.effectiveModel("gpt-4o", 500_000))
}

func TestEstimatePreCallGeminiHighTierUsesHighPricing(t *testing.T) {
	cat := newTestCatalog(t,
		models.ModelPricing{ModelName: "gemini-2.5-pro-low", Provider: strPtr("google"), InputPrice: 1.25, OutputPrice: 10},
		models.ModelPricing{ModelName: "gemini-2.5-pro-high", Provider: strPtr("google"), InputPrice: 2.5, OutputPrice: 15},
	)
	e := New(cat)

	// A large pre-call prompt (no ActualUsage yet) must reprice at the
	// "-high" tier rather than defaulting to "-low".
	content := strings.Repeat("token ", geminiTierThreshold+1000)
	result, err := e.Estimate(context.Background(), Request{
		Model:    "gemini-2.5-pro",
		Messages: []Message{{Role: "user", Content: content}},
	})
	require.NoError(t, err)
	require.Greater(t, result.PromptTokens, geminiTierThreshold)
	require.InDelta(t, (float64(result.PromptTokens)*2.5+float64(result.CompletionTokens)*15)/1_000_000, result.USD, 1e-6)
}

func TestEstimateUnknownModelFallsBackToDefaultPricing(t *testing.T) {
	e := New(newTestCatalog(t))
	result, err := e.Estimate(context.Background(), Request{
		Model:       "unknown-model",
		ActualUsage: &ActualUsage{PromptTokens: 10, TotalTokens: 20},
	})
	require.NoError(t, err)
	require.InDelta(t, (10*fallbackInputPrice+10*fallbackOutputPrice)/1_000_000, result.USD, 1e-9)
}
