// Package admission implements the Admission & Dispatch orchestrator
// (C6, spec §4.6): the request-path glue across every other component.
// Grounded on the teacher's internal/router/router.go (middleware chain,
// route layout) and internal/middleware/auth.go (context-key pattern,
// error envelope).
package admission

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/budgetguard/budgetguard/internal/apierr"
	"github.com/budgetguard/budgetguard/internal/budgetstore"
	"github.com/budgetguard/budgetguard/internal/catalog"
	"github.com/budgetguard/budgetguard/internal/cost"
	"github.com/budgetguard/budgetguard/internal/credential"
	"github.com/budgetguard/budgetguard/internal/events"
	"github.com/budgetguard/budgetguard/internal/ledger"
	"github.com/budgetguard/budgetguard/internal/metrics"
	"github.com/budgetguard/budgetguard/internal/models"
	"github.com/budgetguard/budgetguard/internal/policy"
	"github.com/budgetguard/budgetguard/internal/providers"
	"github.com/budgetguard/budgetguard/internal/ratelimit"
)

// Pipeline wires every component the admission state machine (spec
// §4.6) touches.
type Pipeline struct {
	DB          *gorm.DB
	Logger      *zap.Logger
	Credential  *credential.Resolver
	Catalog     *catalog.Catalog
	BudgetStore *budgetstore.Store
	RateLimiter *ratelimit.Limiter
	Policy      *policy.Evaluator
	Cost        *cost.Estimator
	Providers   *providers.Registry
	Publisher   *events.Publisher

	// UsageTracker supplies the tenant's current-period running USD
	// usage for policy admission (spec §4.6 step 4). Nil is valid (no
	// Redis configured) and reads back as zero usage.
	UsageTracker *ledger.Tracker

	DefaultRateLimit int
	UpstreamTimeout  time.Duration

	// DefaultTenant is the service tenant (spec §6 DEFAULT_TENANT) whose
	// keys are trusted to override the key-derived tenant via the
	// X-Tenant-Id header (spec §6: "overrides key-derived tenant if
	// allowed"). Empty disables the override entirely.
	DefaultTenant string
}

// state carries one request's progress through the pipeline: it feeds
// the policy input and the event published on success or on a terminal
// failure (spec §4.6's state-machine summary).
type state struct {
	tenant    models.Tenant
	identity  credential.Identity
	model     string
	provider  *catalog.Entry
	route     string
	tags      []budgetstore.TagSetEntry
	sessionID string
	startedAt time.Time
}

// ServeChatCompletions implements POST /v1/chat/completions and
// POST /v1/responses (spec §6): both routes share the same admission
// pipeline, differing in the route label recorded for accounting and
// policy input and in the adapter capability dispatched to (Responses for
// /v1/responses, ChatCompletion otherwise).
func (p *Pipeline) ServeChatCompletions(route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.handle(route, w, r)
	}
}

func (p *Pipeline) handle(route string, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := &state{route: route, startedAt: time.Now(), sessionID: r.Header.Get("X-Session-Id")}

	bodyBytes, err := readBody(r)
	if err != nil {
		p.terminate(ctx, st, apierr.Validation("failed to read request body"), w)
		return
	}

	var chatReq providers.ChatRequest
	if err := json.Unmarshal(bodyBytes, &chatReq); err != nil {
		p.terminate(ctx, st, apierr.Validation("malformed request body"), w)
		return
	}
	st.model = chatReq.Model

	// --- Auth ---
	apiKey := extractAPIKey(r)
	if apiKey == "" {
		p.terminate(ctx, st, apierr.Auth("missing API key"), w)
		return
	}
	identity, err := p.Credential.Authenticate(ctx, apiKey)
	if err != nil || identity == nil {
		p.terminate(ctx, st, apierr.Auth("invalid API key"), w)
		return
	}
	st.identity = *identity

	var tenant models.Tenant
	if err := p.DB.WithContext(ctx).First(&tenant, identity.TenantID).Error; err != nil {
		p.terminate(ctx, st, apierr.Auth("unknown tenant"), w)
		return
	}

	// X-Tenant-Id override: only a key belonging to the configured
	// service/default tenant may act on another tenant's behalf (spec
	// §6). Any other caller's header is ignored rather than honored.
	if override := r.Header.Get("X-Tenant-Id"); override != "" && p.DefaultTenant != "" && tenant.Name == p.DefaultTenant {
		var overridden models.Tenant
		if err := p.DB.WithContext(ctx).Where("name = ?", override).First(&overridden).Error; err != nil {
			p.terminate(ctx, st, apierr.Routing(http.StatusNotFound, "unknown X-Tenant-Id"), w)
			return
		}
		tenant = overridden
	}
	st.tenant = tenant

	// --- Route ---
	if chatReq.Model == "" {
		p.terminate(ctx, st, apierr.Routing(http.StatusNotFound, "missing model"), w)
		return
	}
	entry, err := p.Catalog.Lookup(ctx, chatReq.Model)
	if err != nil {
		p.terminate(ctx, st, apierr.Internal("catalog lookup failed"), w)
		return
	}
	if entry == nil || entry.Provider == nil {
		p.terminate(ctx, st, apierr.Routing(http.StatusNotFound, "unknown or unroutable model"), w)
		return
	}
	st.provider = entry

	adapter, err := p.Providers.Get(*entry.Provider)
	if err != nil {
		p.terminate(ctx, st, apierr.Routing(http.StatusServiceUnavailable, "provider not configured"), w)
		return
	}

	// --- Limit ---
	limit := p.DefaultRateLimit
	if tenant.RateLimitPerMin != nil {
		limit = *tenant.RateLimitPerMin
	} else if resolved, err := p.BudgetStore.ReadRateLimit(ctx, tenant.Name, tenant.ID, p.DefaultRateLimit); err == nil {
		limit = resolved
	}
	allowed, err := p.RateLimiter.Allow(ctx, tenant.Name, limit)
	if err != nil {
		p.Logger.Warn("admission: rate limiter error, fail-open", zap.Error(err))
	} else if !allowed {
		p.terminate(ctx, st, apierr.RateLimited("rate limit exceeded"), w)
		return
	}

	// --- Tags ---
	tagNames := parseTags(r.Header.Get("X-Tags"))
	tags, err := p.BudgetStore.ReadTagSet(ctx, tenant.ID, tagNames)
	if err != nil {
		p.terminate(ctx, st, apierr.Validation(err.Error()), w)
		return
	}
	st.tags = tags

	// --- Policy (Admitted) ---
	if p.Policy != nil {
		input, err := p.buildPolicyInput(ctx, st)
		if err != nil {
			p.terminate(ctx, st, apierr.Validation(err.Error()), w)
			return
		}
		admit, err := p.Policy.Evaluate(ctx, input)
		if err != nil {
			if _, ok := err.(*policy.ValidationError); ok {
				p.terminate(ctx, st, apierr.Validation(err.Error()), w)
				return
			}
			p.terminate(ctx, st, apierr.Internal("policy evaluation failed"), w)
			return
		}
		if !admit {
			p.terminate(ctx, st, apierr.PolicyDenied("request denied by policy"), w)
			return
		}
	}

	// --- Dispatch ---
	dispatchCtx := ctx
	var cancel context.CancelFunc
	if p.UpstreamTimeout > 0 {
		dispatchCtx, cancel = context.WithTimeout(ctx, p.UpstreamTimeout)
		defer cancel()
	}

	dispatch := adapter.ChatCompletion
	if route == "/v1/responses" {
		dispatch = adapter.Responses
	}

	dispatchStart := time.Now()
	result, err := dispatch(dispatchCtx, chatReq)
	metrics.UpstreamRequestDuration.WithLabelValues(*entry.Provider, chatReq.Model).Observe(time.Since(dispatchStart).Seconds())
	if err != nil {
		p.terminate(ctx, st, apierr.Upstream(http.StatusBadGateway, nil), w)
		return
	}

	// --- Accounted (Finalize) ---
	var actual *cost.ActualUsage
	if result.Usage != nil {
		actual = &cost.ActualUsage{PromptTokens: result.Usage.PromptTokens, TotalTokens: result.Usage.TotalTokens}
	}
	estimate, err := p.Cost.Estimate(ctx, cost.Request{
		Model:       chatReq.Model,
		Messages:    toEstimatorMessages(chatReq.Messages),
		ActualUsage: actual,
	})
	if err != nil {
		p.Logger.Warn("admission: cost estimation failed", zap.Error(err))
	}

	status := models.StatusSuccess
	if result.Status >= 300 {
		status = models.StatusError
	}

	// Response goes to the client regardless of publish outcome (spec §4.6 step 7).
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.Status)
	w.Write(result.Body)

	p.publish(ctx, st, status, estimate)
}

func (p *Pipeline) terminate(ctx context.Context, st *state, e *apierr.Error, w http.ResponseWriter) {
	apierr.WriteJSON(w, e)
	metrics.AdmissionDenialsTotal.WithLabelValues(string(e.Kind)).Inc()

	status := models.StatusDenied
	if e.Kind == "upstream_error" {
		status = models.StatusError
	}
	p.publish(ctx, st, status, cost.Result{})
}

func (p *Pipeline) publish(ctx context.Context, st *state, status models.UsageStatus, estimate cost.Result) {
	if p.Publisher == nil {
		return
	}

	tagRefs := make([]models.TagRef, 0, len(st.tags))
	for _, t := range st.tags {
		tagRefs = append(tagRefs, models.TagRef{ID: t.ID, Name: t.Name, Weight: t.Weight})
	}

	if estimate.USD > 0 {
		metrics.UsageUSDTotal.WithLabelValues(st.tenant.Name).Add(estimate.USD)
	}

	ev := models.UsageEvent{
		ID:        generateEventID(),
		TS:        time.Now().UnixMilli(),
		Tenant:    st.tenant.Name,
		TenantID:  st.tenant.ID,
		Route:     st.route,
		Model:     st.model,
		USD:       estimate.USD,
		PromptTok: estimate.PromptTokens,
		CompTok:   estimate.CompletionTokens,
		Status:    status,
		SessionID: st.sessionID,
		Tags:      tagRefs,
	}
	// Publish is fire-and-forget from the pipeline's perspective; a
	// failure is logged by the publisher itself (spec §4.6 step 7).
	go p.Publisher.Publish(context.WithoutCancel(ctx), ev)
}

func (p *Pipeline) buildPolicyInput(ctx context.Context, st *state) (policy.Input, error) {
	budgets := make([]map[string]interface{}, 0)

	// currentUsage is the tenant's current-period running USD spend
	// (spec §4.6 step 4), read back from the daily tenant-usage
	// aggregate the ledger consumer maintains. Daily is the narrower,
	// faster-resetting enforcement window; monthly caps are still
	// carried in budgets[] for the policy to compare against
	// separately. A tracker error (e.g. Redis outage) degrades to zero
	// usage rather than failing admission outright.
	var currentUsage float64
	if p.UsageTracker != nil {
		usage, err := p.UsageTracker.ReadUsage(ctx, st.tenant.Name, models.PeriodDaily)
		if err != nil {
			p.Logger.Warn("admission: failed to read current-period usage", zap.Error(err))
		} else {
			currentUsage = usage
		}
	}

	for _, period := range []models.BudgetPeriod{models.PeriodDaily, models.PeriodMonthly} {
		window, err := p.BudgetStore.ReadBudget(ctx, st.tenant.Name, st.tenant.ID, period, budgetstore.BudgetWindow{})
		if err != nil {
			continue
		}
		budgets = append(budgets, map[string]interface{}{
			"period":    string(period),
			"amountUsd": window.AmountUSD,
		})
	}

	tagBudgets := make([]map[string]interface{}, 0)
	for _, t := range st.tags {
		entries, err := p.BudgetStore.ReadTagBudgets(ctx, t.ID)
		if err != nil {
			continue
		}
		for _, tb := range entries {
			tagBudgets = append(tagBudgets, map[string]interface{}{
				"tagId":     t.ID,
				"period":    string(tb.Period),
				"amountUsd": tb.AmountUSD,
				"weight":    tb.Weight,
			})
		}
	}

	return policy.Input{
		"tenant":     st.tenant.Name,
		"route":      st.route,
		"usage":      currentUsage,
		"budget":     budgets,
		"budgets":    budgets,
		"tagBudgets": tagBudgets,
		"time":       time.Now().UTC().Hour(),
	}, nil
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func extractAPIKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return auth[7:]
	}
	return ""
}

func parseTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func toEstimatorMessages(msgs []providers.Message) []cost.Message {
	out := make([]cost.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, cost.Message{Role: m.Role, Content: m.Content, Name: m.Name})
	}
	return out
}

func generateEventID() string {
	return uuid.NewString()
}
