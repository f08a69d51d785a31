package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/budgetguard/budgetguard/internal/models"
)

const (
	dailyPeriodTTL   = 48 * time.Hour
	monthlyPeriodTTL = 32 * 24 * time.Hour
)

// Tracker maintains per-tenant x tag x period running USD sums (spec
// §4.8). Redis failures are logged and swallowed: the UsageLedger row
// inserted by the Consumer remains the source of truth, and aggregates
// can always be rebuilt from it.
type Tracker struct {
	client *redis.Client
	logger *zap.Logger
}

func NewTracker(client *redis.Client, logger *zap.Logger) *Tracker {
	return &Tracker{client: client, logger: logger}
}

// Record applies one tagged event's weighted usage to both the daily and
// monthly aggregates, guarded by an idempotency marker per (ledgerID,
// tagID) so a stream replay never double-counts.
func (t *Tracker) Record(ctx context.Context, tenant string, ledgerID int64, tag models.TagRef, usd float64, tsMillis int64) {
	if t.client == nil {
		return
	}

	markerKey := fmt.Sprintf("tag_usage_event:%d:%d", ledgerID, tag.ID)
	ok, err := t.client.SetNX(ctx, markerKey, 1, monthlyPeriodTTL).Result()
	if err != nil {
		t.logger.Warn("ledger: tag-usage idempotency check failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	at := time.UnixMilli(tsMillis).UTC()
	weighted := usd * weightOrDefault(tag.Weight)

	t.bump(ctx, tenant, tag.ID, models.PeriodDaily, at.Format("2006-01-02"), weighted, dailyPeriodTTL)
	t.bump(ctx, tenant, tag.ID, models.PeriodMonthly, at.Format("2006-01"), weighted, monthlyPeriodTTL)
}

func (t *Tracker) bump(ctx context.Context, tenant string, tagID int64, period models.BudgetPeriod, bucket string, weighted float64, ttl time.Duration) {
	key := fmt.Sprintf("tag_usage_agg:%s:%d:%s:%s", tenant, tagID, period, bucket)
	t.incr(ctx, key, weighted, ttl)
}

// RecordTenant applies one event's USD cost to the tenant-wide daily and
// monthly running-usage aggregates, independent of any tags attached to
// the event. This is the counter the admission pipeline reads back to
// compose a policy input's current-period usage figure (spec §4.6 step
// 4), mirroring the tag-usage tracker's idempotent-increment shape but
// keyed by tenant alone rather than tenant x tag.
func (t *Tracker) RecordTenant(ctx context.Context, tenant string, ledgerID int64, usd float64, tsMillis int64) {
	if t.client == nil {
		return
	}

	markerKey := fmt.Sprintf("tenant_usage_event:%d", ledgerID)
	ok, err := t.client.SetNX(ctx, markerKey, 1, monthlyPeriodTTL).Result()
	if err != nil {
		t.logger.Warn("ledger: tenant-usage idempotency check failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	at := time.UnixMilli(tsMillis).UTC()
	t.incr(ctx, tenantUsageKey(tenant, models.PeriodDaily, at.Format("2006-01-02")), usd, dailyPeriodTTL)
	t.incr(ctx, tenantUsageKey(tenant, models.PeriodMonthly, at.Format("2006-01")), usd, monthlyPeriodTTL)
}

// ReadUsage returns the tenant's current-period running USD sum, or 0 if
// the aggregate has never been incremented (a fresh period) or no Redis
// client is configured. Callers compare this against a budget amount; a
// missing key means "no usage yet", not an error. Any other Redis error
// is returned to the caller.
func (t *Tracker) ReadUsage(ctx context.Context, tenant string, period models.BudgetPeriod) (float64, error) {
	if t.client == nil {
		return 0, nil
	}

	var bucket string
	switch period {
	case models.PeriodMonthly:
		bucket = time.Now().UTC().Format("2006-01")
	default:
		bucket = time.Now().UTC().Format("2006-01-02")
	}

	v, err := t.client.Get(ctx, tenantUsageKey(tenant, period, bucket)).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	usage, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, nil
	}
	return usage, nil
}

func tenantUsageKey(tenant string, period models.BudgetPeriod, bucket string) string {
	return fmt.Sprintf("tenant_usage_agg:%s:%s:%s", tenant, period, bucket)
}

func (t *Tracker) incr(ctx context.Context, key string, delta float64, ttl time.Duration) {
	if _, err := t.client.IncrByFloat(ctx, key, delta).Result(); err != nil {
		t.logger.Warn("ledger: usage increment failed", zap.Error(err), zap.String("key", key))
		return
	}

	remaining, err := t.client.TTL(ctx, key).Result()
	if err == nil && remaining < 0 {
		t.client.Expire(ctx, key, ttl)
	}
}

func weightOrDefault(w float64) float64 {
	if w == 0 {
		return 1.0
	}
	return w
}
