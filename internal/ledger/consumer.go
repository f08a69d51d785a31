// Package ledger implements the Ledger Consumer (C8, spec §4.8): a
// single independent worker draining the usage-event stream into the
// durable UsageLedger, one event at a time, advancing lastId strictly
// sequentially. Grounded on the teacher's internal/services/redis/events.go
// (stream field-map shape) and cmd/worker/main.go (standalone-worker
// bootstrap and shutdown idiom).
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/budgetguard/budgetguard/internal/events"
	"github.com/budgetguard/budgetguard/internal/models"
)

const blockTimeout = 5 * time.Second

// Consumer drains events.StreamName with blocking XREAD calls and turns
// each entry into a UsageLedger row, RequestTag rows, and tag-usage
// aggregate updates.
type Consumer struct {
	db     *gorm.DB
	client *redis.Client
	logger *zap.Logger
	tracker *Tracker

	lastID string
}

func New(db *gorm.DB, client *redis.Client, logger *zap.Logger) *Consumer {
	return &Consumer{
		db:      db,
		client:  client,
		logger:  logger,
		tracker: NewTracker(client, logger),
		lastID:  "0",
	}
}

// Run blocks, draining events until ctx is cancelled. A malformed event
// is logged and skipped so one bad record never stalls the stream (spec
// §7: "moves on past a malformed event, logging it, to preserve
// progress").
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := c.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{events.StreamName, c.lastID},
			Count:   1,
			Block:   blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("ledger: xread failed, retrying", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				if err := c.apply(ctx, msg); err != nil {
					c.logger.Error("ledger: failed to apply event, skipping", zap.Error(err), zap.String("id", msg.ID))
				}
				c.lastID = msg.ID
			}
		}
	}
}

func (c *Consumer) apply(ctx context.Context, msg redis.XMessage) error {
	ev, err := decodeEvent(msg)
	if err != nil {
		return err
	}

	var tenant models.Tenant
	if err := c.db.WithContext(ctx).Where(models.Tenant{Name: ev.tenant}).
		Attrs(models.Tenant{IsActive: true}).
		FirstOrCreate(&tenant).Error; err != nil {
		return err
	}

	row := models.UsageLedger{
		EventID:   msg.ID,
		TenantID:  tenant.ID,
		Tenant:    ev.tenant,
		Route:     ev.route,
		Model:     ev.model,
		UsdCost:   ev.usd,
		PromptTok: ev.promptTok,
		CompTok:   ev.compTok,
		Status:    ev.status,
	}
	if ev.sessionID != "" {
		row.SessionID = &ev.sessionID
	}

	// EventID carries a uniqueIndex: replaying msg.ID finds the existing
	// row instead of inserting (spec §8 scenario 6). Tag-usage aggregates
	// must only advance on the row's first insertion.
	tx := c.db.WithContext(ctx).Where(models.UsageLedger{EventID: msg.ID}).
		Attrs(row).FirstOrCreate(&row)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil
	}

	c.tracker.RecordTenant(ctx, ev.tenant, row.ID, ev.usd, ev.ts)

	for _, tag := range ev.tags {
		if err := c.db.WithContext(ctx).Create(&models.RequestTag{
			UsageLedgerID: row.ID,
			TagID:         tag.ID,
			Weight:        tag.Weight,
			AssignedBy:    "header",
		}).Error; err != nil {
			c.logger.Warn("ledger: failed to insert request tag", zap.Error(err))
			continue
		}
		c.tracker.Record(ctx, ev.tenant, row.ID, tag, ev.usd, ev.ts)
	}

	return nil
}

type decodedEvent struct {
	ts        int64
	tenant    string
	route     string
	model     string
	usd       float64
	promptTok int
	compTok   int
	status    models.UsageStatus
	sessionID string
	tags      []models.TagRef
}

func decodeEvent(msg redis.XMessage) (*decodedEvent, error) {
	get := func(k string) string {
		if v, ok := msg.Values[k]; ok {
			return asString(v)
		}
		return ""
	}

	ts, _ := strconv.ParseInt(get("ts"), 10, 64)
	usd, err := strconv.ParseFloat(get("usd"), 64)
	if err != nil {
		return nil, errors.New("ledger: malformed usd field")
	}
	promptTok, _ := strconv.Atoi(get("promptTok"))
	compTok, _ := strconv.Atoi(get("compTok"))

	var tags []models.TagRef
	if raw := get("tags"); raw != "" && raw != "[]" {
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			return nil, errors.New("ledger: malformed tags field")
		}
	}

	tenant := get("tenant")
	if tenant == "" {
		return nil, errors.New("ledger: missing tenant field")
	}

	return &decodedEvent{
		ts:        ts,
		tenant:    tenant,
		route:     get("route"),
		model:     get("model"),
		usd:       usd,
		promptTok: promptTok,
		compTok:   compTok,
		status:    models.UsageStatus(get("status")),
		sessionID: get("sessionId"),
		tags:      tags,
	}, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
