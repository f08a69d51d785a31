// Package events publishes UsageEvents to the append-only bg_events
// stream (spec §4.6 step 7, §6), grounded on the teacher's
// internal/services/redis.EventPublisher (XAdd pattern).
package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/budgetguard/budgetguard/internal/models"
)

const StreamName = "bg_events"
const streamMaxLen = 100_000

type Publisher struct {
	client *redis.Client
	logger *zap.Logger
}

func NewPublisher(client *redis.Client, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// Publish writes one UsageEvent to the stream. A publish failure is
// logged but never returned to the admission pipeline's caller (spec
// §4.6: "The HTTP response is returned to the client regardless of
// publish outcome").
func (p *Publisher) Publish(ctx context.Context, ev models.UsageEvent) {
	if p.client == nil {
		p.logger.Warn("events: no redis client configured, dropping event")
		return
	}

	tagsJSON, err := json.Marshal(ev.Tags)
	if err != nil {
		p.logger.Error("events: failed to marshal tags", zap.Error(err))
		tagsJSON = []byte("[]")
	}

	_, err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"ts":        ev.TS,
			"tenant":    ev.Tenant,
			"tenantId":  ev.TenantID,
			"route":     ev.Route,
			"model":     ev.Model,
			"usd":       decimal.NewFromFloat(ev.USD).String(),
			"promptTok": ev.PromptTok,
			"compTok":   ev.CompTok,
			"status":    string(ev.Status),
			"sessionId": ev.SessionID,
			"tags":      string(tagsJSON),
		},
	}).Result()
	if err != nil {
		p.logger.Error("events: publish failed", zap.Error(err), zap.String("tenant", ev.Tenant))
	}
}
