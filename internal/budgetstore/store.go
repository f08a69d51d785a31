// Package budgetstore implements the Budget & Limit Store (C3, spec
// §4.3): two-tier (Redis / relational) reads for tenant budgets,
// rate-limit caps, tag budgets, and tag sets. Grounded on the teacher's
// internal/services/budget.OptimizedBudgetService (two-tier cache shape,
// cache-stampede-safe DB fallback via a lock/singleflight) and
// internal/services/redis.BudgetCache (JSON value shape, TTL handling).
package budgetstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/budgetguard/budgetguard/internal/lock"
	"github.com/budgetguard/budgetguard/internal/models"
)

const (
	dailyTTL   = 300 * time.Second
	monthlyTTL = 1800 * time.Second
	otherTTL   = 3600 * time.Second
	tagListTTL = 300 * time.Second
)

// BudgetWindow is the readBudget() result of spec §4.3.
type BudgetWindow struct {
	AmountUSD float64   `json:"amount"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// TagBudgetEntry is one element of readTagBudgets().
type TagBudgetEntry struct {
	Period          models.BudgetPeriod    `json:"period"`
	AmountUSD       float64                `json:"amountUsd"`
	Weight          float64                `json:"weight"`
	InheritanceMode models.InheritanceMode `json:"inheritanceMode"`
}

// TagSetEntry is one element of readTagSet().
type TagSetEntry struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// ErrTagsNotFound is returned (wrapping the offending names) when
// readTagSet is asked to resolve a name with no active Tag row.
type ErrTagsNotFound struct {
	Missing []string
}

func (e *ErrTagsNotFound) Error() string {
	return fmt.Sprintf("Tags not found for this tenant: %s", strings.Join(e.Missing, ", "))
}

// Store is the two-tier budget/limit/tag store. Redis is an optional
// capability: every method functions correctly with client == nil,
// falling through straight to the relational store (spec §9).
type Store struct {
	db     *gorm.DB
	client *redis.Client
	logger *zap.Logger

	// sf collapses concurrent same-process cache-population calls for
	// the same key. locks extends that guard across replicas: only one
	// process at a time runs the DB-read-then-cache-set for a given
	// key, the rest fall back to a direct (uncached) DB read rather
	// than stampeding the relational store together.
	sf    singleflight.Group
	locks *lock.Manager

	lockTTL time.Duration
}

const defaultLockTTL = 10 * time.Second

func New(db *gorm.DB, client *redis.Client, logger *zap.Logger) *Store {
	s := &Store{db: db, client: client, logger: logger, lockTTL: defaultLockTTL}
	if client != nil {
		s.locks = lock.NewManager(client)
	}
	return s
}

// ReadBudget resolves the spend cap for tenantName/tenantID over period.
// Resolution order (spec §4.3): stored row -> BUDGET_<PERIOD>_<TENANT> ->
// BUDGET_<PERIOD>_USD -> def (caller-supplied default).
func (s *Store) ReadBudget(ctx context.Context, tenantName string, tenantID int64, period models.BudgetPeriod, def BudgetWindow) (BudgetWindow, error) {
	key := fmt.Sprintf("budget:%s:%s", tenantName, period)
	ttl := ttlForPeriod(period)

	if w, ok := s.getCached(ctx, key); ok {
		return w, nil
	}

	w, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.populateBudget(ctx, key, ttl, tenantName, tenantID, period, def)
	})
	if err != nil {
		return BudgetWindow{}, err
	}
	return w.(BudgetWindow), nil
}

// populateBudget reads tenantName/tenantID's budget and caches it, guarded
// by a distributed lock on key when Redis is configured: only one replica
// at a time runs the DB read and cache-set for a given key. A replica that
// loses the lock race checks the cache once (the winner may have just
// finished) before falling back to its own direct, uncached DB read — a
// stampede-safe degrade rather than a blocked wait.
func (s *Store) populateBudget(ctx context.Context, key string, ttl time.Duration, tenantName string, tenantID int64, period models.BudgetPeriod, def BudgetWindow) (BudgetWindow, error) {
	if s.locks == nil {
		return s.readAndCacheBudget(ctx, key, ttl, tenantName, tenantID, period, def)
	}

	var window BudgetWindow
	var dbErr error
	ran := false
	if err := s.locks.WithLock(ctx, key, s.lockTTL, func() error {
		ran = true
		window, dbErr = s.readAndCacheBudget(ctx, key, ttl, tenantName, tenantID, period, def)
		return dbErr
	}); err != nil {
		return BudgetWindow{}, err
	}
	if ran {
		return window, dbErr
	}

	if w, ok := s.getCached(ctx, key); ok {
		return w, nil
	}
	return s.readBudgetFromDB(ctx, tenantName, tenantID, period, def)
}

func (s *Store) readAndCacheBudget(ctx context.Context, key string, ttl time.Duration, tenantName string, tenantID int64, period models.BudgetPeriod, def BudgetWindow) (BudgetWindow, error) {
	window, err := s.readBudgetFromDB(ctx, tenantName, tenantID, period, def)
	if err != nil {
		return BudgetWindow{}, err
	}
	s.setCached(ctx, key, window, ttl)
	return window, nil
}

func (s *Store) readBudgetFromDB(ctx context.Context, tenantName string, tenantID int64, period models.BudgetPeriod, def BudgetWindow) (BudgetWindow, error) {
	var row models.Budget
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND period = ?", tenantID, period).
		Order("created_at desc").
		First(&row).Error
	if err == nil {
		return windowFromRow(row, period)
	}
	if err != gorm.ErrRecordNotFound {
		return BudgetWindow{}, err
	}

	// No stored row: fall back to environment variables.
	if v, ok := envFloat(fmt.Sprintf("BUDGET_%s_%s", strings.ToUpper(string(period)), strings.ToUpper(tenantName))); ok {
		return envWindow(period, v), nil
	}
	if v, ok := envFloat(fmt.Sprintf("BUDGET_%s_USD", strings.ToUpper(string(period)))); ok {
		return envWindow(period, v), nil
	}
	return def, nil
}

func windowFromRow(row models.Budget, period models.BudgetPeriod) (BudgetWindow, error) {
	switch period {
	case models.PeriodDaily:
		start, end := dailyWindow()
		return BudgetWindow{AmountUSD: row.AmountUSD, StartDate: start, EndDate: end}, nil
	case models.PeriodMonthly:
		start, end := monthlyWindow()
		return BudgetWindow{AmountUSD: row.AmountUSD, StartDate: start, EndDate: end}, nil
	default:
		if row.StartDate == nil || row.EndDate == nil {
			return BudgetWindow{}, fmt.Errorf("custom budget missing start/end date")
		}
		return BudgetWindow{AmountUSD: row.AmountUSD, StartDate: *row.StartDate, EndDate: *row.EndDate}, nil
	}
}

func envWindow(period models.BudgetPeriod, amount float64) BudgetWindow {
	var start, end time.Time
	switch period {
	case models.PeriodDaily:
		start, end = dailyWindow()
	case models.PeriodMonthly:
		start, end = monthlyWindow()
	default:
		start, end = dailyWindow()
	}
	return BudgetWindow{AmountUSD: amount, StartDate: start, EndDate: end}
}

func dailyWindow() (time.Time, time.Time) {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

func monthlyWindow() (time.Time, time.Time) {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func envFloat(name string) (float64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ReadRateLimit returns the tenant's requests-per-minute cap.
func (s *Store) ReadRateLimit(ctx context.Context, tenantName string, tenantID int64, def int) (int, error) {
	key := fmt.Sprintf("ratelimit:%s", tenantName)

	if s.client != nil {
		if v, err := s.client.Get(ctx, key).Result(); err == nil {
			if n, convErr := strconv.Atoi(v); convErr == nil {
				return n, nil
			}
		}
	}

	var tenant models.Tenant
	limit := def
	if err := s.db.WithContext(ctx).First(&tenant, tenantID).Error; err == nil {
		if tenant.RateLimitPerMin != nil {
			limit = *tenant.RateLimitPerMin
		}
	}

	if s.client != nil {
		if err := s.client.Set(ctx, key, limit, otherTTL).Err(); err != nil {
			s.logger.Warn("budgetstore: redis set failed", zap.Error(err))
		}
	}
	return limit, nil
}

// ReadTagBudgets returns the active TagBudgets for tagID.
func (s *Store) ReadTagBudgets(ctx context.Context, tagID int64) ([]TagBudgetEntry, error) {
	key := fmt.Sprintf("tag_session_budget:%d", tagID)

	if entries, ok := s.getCachedTagBudgets(ctx, key); ok {
		return entries, nil
	}

	var rows []models.TagBudget
	if err := s.db.WithContext(ctx).Where("tag_id = ? AND is_active = ?", tagID, true).Find(&rows).Error; err != nil {
		return nil, err
	}

	entries := make([]TagBudgetEntry, 0, len(rows))
	for _, r := range rows {
		weight := r.Weight
		if weight == 0 {
			weight = 1.0
		}
		entries = append(entries, TagBudgetEntry{
			Period:          r.Period,
			AmountUSD:       r.AmountUSD,
			Weight:          weight,
			InheritanceMode: r.InheritanceMode,
		})
	}

	if s.client != nil {
		if raw, err := json.Marshal(entries); err == nil {
			s.client.Set(ctx, key, raw, otherTTL)
		}
	}
	return entries, nil
}

func (s *Store) getCachedTagBudgets(ctx context.Context, key string) ([]TagBudgetEntry, bool) {
	if s.client == nil {
		return nil, false
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var entries []TagBudgetEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

// ReadTagSet resolves tagNames against the tenant's active tag roster,
// returning a []TagSetEntry sorted by name or *ErrTagsNotFound if
// any name is unresolved. Empty input returns []TagSetEntry{} without
// touching cache or store (spec §8).
func (s *Store) ReadTagSet(ctx context.Context, tenantID int64, tagNames []string) ([]TagSetEntry, error) {
	if len(tagNames) == 0 {
		return []TagSetEntry{}, nil
	}

	sorted := append([]string(nil), tagNames...)
	sort.Strings(sorted)
	setKey := fmt.Sprintf("tagset:%d:%s", tenantID, strings.Join(sorted, ","))

	if entries, ok := s.getCachedTagSet(ctx, setKey); ok {
		return entries, nil
	}

	roster, err := s.tenantTagRoster(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]TagSetEntry, len(roster))
	for _, t := range roster {
		byName[t.Name] = t
	}

	var missing []string
	result := make([]TagSetEntry, 0, len(tagNames))
	for _, name := range sorted {
		entry, ok := byName[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		result = append(result, entry)
	}
	if len(missing) > 0 {
		return nil, &ErrTagsNotFound{Missing: missing}
	}

	if s.client != nil {
		if raw, err := json.Marshal(result); err == nil {
			s.client.Set(ctx, setKey, raw, otherTTL)
		}
	}
	return result, nil
}

func (s *Store) getCachedTagSet(ctx context.Context, key string) ([]TagSetEntry, bool) {
	if s.client == nil {
		return nil, false
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var entries []TagSetEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

// tenantTagRoster reads a tenant's active tag roster, cache-populating
// under the same distributed-lock guard as populateBudget: one replica
// runs the DB query and Redis set for a given tenant's roster key at a
// time, the rest fall back to a direct DB read instead of piling onto
// the relational store together.
func (s *Store) tenantTagRoster(ctx context.Context, tenantID int64) ([]TagSetEntry, error) {
	key := fmt.Sprintf("tags:tenant:%d", tenantID)

	if entries, ok := s.getCachedTagRoster(ctx, key); ok {
		return entries, nil
	}

	if s.locks == nil {
		return s.readAndCacheTagRoster(ctx, key, tenantID)
	}

	var entries []TagSetEntry
	var dbErr error
	ran := false
	if err := s.locks.WithLock(ctx, key, s.lockTTL, func() error {
		ran = true
		entries, dbErr = s.readAndCacheTagRoster(ctx, key, tenantID)
		return dbErr
	}); err != nil {
		return nil, err
	}
	if ran {
		return entries, dbErr
	}

	if cached, ok := s.getCachedTagRoster(ctx, key); ok {
		return cached, nil
	}
	return s.readTagRosterFromDB(ctx, tenantID)
}

func (s *Store) getCachedTagRoster(ctx context.Context, key string) ([]TagSetEntry, bool) {
	if s.client == nil {
		return nil, false
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var entries []TagSetEntry
	if json.Unmarshal(raw, &entries) != nil {
		return nil, false
	}
	return entries, true
}

func (s *Store) readTagRosterFromDB(ctx context.Context, tenantID int64) ([]TagSetEntry, error) {
	var rows []models.Tag
	if err := s.db.WithContext(ctx).Where("tenant_id = ? AND is_active = ?", tenantID, true).Find(&rows).Error; err != nil {
		return nil, err
	}

	entries := make([]TagSetEntry, 0, len(rows))
	for _, t := range rows {
		entries = append(entries, TagSetEntry{ID: t.ID, Name: t.Name, Weight: 1.0})
	}
	return entries, nil
}

func (s *Store) readAndCacheTagRoster(ctx context.Context, key string, tenantID int64) ([]TagSetEntry, error) {
	entries, err := s.readTagRosterFromDB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if s.client != nil {
		if raw, err := json.Marshal(entries); err == nil {
			s.client.Set(ctx, key, raw, tagListTTL)
		}
	}
	return entries, nil
}

func (s *Store) getCached(ctx context.Context, key string) (BudgetWindow, bool) {
	if s.client == nil {
		return BudgetWindow{}, false
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return BudgetWindow{}, false
	}
	var w BudgetWindow
	if err := json.Unmarshal(raw, &w); err != nil {
		return BudgetWindow{}, false
	}
	return w, true
}

func (s *Store) setCached(ctx context.Context, key string, w BudgetWindow, ttl time.Duration) {
	if s.client == nil {
		return
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		s.logger.Warn("budgetstore: redis set failed", zap.Error(err))
	}
}

func ttlForPeriod(period models.BudgetPeriod) time.Duration {
	switch period {
	case models.PeriodDaily:
		return dailyTTL
	case models.PeriodMonthly:
		return monthlyTTL
	default:
		return otherTTL
	}
}

// InvalidateBudget drops the cached budget:<tenant>:<period> key after a
// write (spec §4.3: "Write operations explicitly invalidate the
// affected keys").
func (s *Store) InvalidateBudget(ctx context.Context, tenantName string, period models.BudgetPeriod) {
	if s.client == nil {
		return
	}
	s.client.Del(ctx, fmt.Sprintf("budget:%s:%s", tenantName, period))
}

// InvalidateTagRoster drops a tenant's cached tag roster; every tag-set
// derived from it is left to expire naturally (tag-set keys are not
// individually tracked; their otherTTL of one hour bounds staleness).
func (s *Store) InvalidateTagRoster(ctx context.Context, tenantID int64) {
	if s.client == nil {
		return
	}
	s.client.Del(ctx, fmt.Sprintf("tags:tenant:%d", tenantID))
}
