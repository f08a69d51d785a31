package admission

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/budgetguard/budgetguard/internal/metrics"
)

// NewRouter assembles the public HTTP surface (spec §6): the two
// chat-shaped proxy routes share one admission pipeline, plus an
// unauthenticated health probe. Grounded on the teacher's
// internal/router/router.go middleware chain (RequestID, RealIP,
// Recoverer, structured timeout, permissive CORS for a proxy).
func NewRouter(p *Pipeline) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(90 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", p.ServeHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", p.ServeChatCompletions("/v1/chat/completions"))
		r.Post("/responses", p.ServeChatCompletions("/v1/responses"))
	})

	return r
}

// ServeHealth reports liveness plus, per provider adapter, the result of
// its own lightweight HealthCheck (spec §4.7, SPEC_FULL.md §12: "extended
// to report per-provider health"). The endpoint itself always answers 200
// — it is a liveness probe, not a readiness gate on upstream availability.
func (p *Pipeline) ServeHealth(w http.ResponseWriter, r *http.Request) {
	providerHealth := make(map[string]providerStatus)
	if p.Providers != nil {
		for name, adapter := range p.Providers.All() {
			status := adapter.HealthCheck(r.Context())
			providerHealth[name] = providerStatus{
				Healthy:         status.Healthy,
				ResponseTimeMs:  status.ResponseTime.Milliseconds(),
				Error:           status.Error,
				LastCheckedUnix: status.LastChecked.Unix(),
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"providers": providerHealth,
	})
}

type providerStatus struct {
	Healthy         bool   `json:"healthy"`
	ResponseTimeMs  int64  `json:"response_time_ms"`
	Error           string `json:"error,omitempty"`
	LastCheckedUnix int64  `json:"last_checked"`
}
