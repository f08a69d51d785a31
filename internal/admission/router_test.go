package admission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/budgetguard/budgetguard/internal/providers"
)

type healthAdapter struct{ healthy bool }

func (h *healthAdapter) Name() string { return "health-fake" }
func (h *healthAdapter) ChatCompletion(ctx context.Context, req providers.ChatRequest) (*providers.Result, error) {
	return &providers.Result{Status: http.StatusOK}, nil
}
func (h *healthAdapter) Responses(ctx context.Context, req providers.ChatRequest) (*providers.Result, error) {
	return h.ChatCompletion(ctx, req)
}
func (h *healthAdapter) HealthCheck(ctx context.Context) providers.HealthStatus {
	return providers.HealthStatus{Healthy: h.healthy}
}

func TestServeHealthAggregatesProviderStatus(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	p.Providers.Register("health-fake", &healthAdapter{healthy: true})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	p.ServeHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status    string                    `json:"status"`
		Providers map[string]providerStatus `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
	require.True(t, body.Providers["health-fake"].Healthy)
	require.True(t, body.Providers["fake"].Healthy)
}
