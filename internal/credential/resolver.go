// Package credential implements the Credential Resolver (C1, spec §4.1):
// constant-time API-key authentication with a process-local positive
// cache, grounded on the teacher's internal/core/auth.CachedAuthService
// (cache shape) and internal/services/key.Service (candidate lookup).
package credential

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/budgetguard/budgetguard/internal/models"
)

const cacheTTL = 5 * time.Minute
const lastUsedThrottle = 60 * time.Second

// Identity is what authenticate() returns on success.
type Identity struct {
	ApiKeyID int64
	TenantID int64
}

type cacheEntry struct {
	identity          Identity
	expiresAt         time.Time
	isActive          bool
	lastUsedUpdatedAt time.Time
}

// Resolver is the process-local, bcrypt-backed credential cache. The
// cache is an optimization only: a miss falls through to the database,
// so a Resolver always needs a non-nil *gorm.DB; only cache hits are
// served without touching it.
type Resolver struct {
	db     *gorm.DB
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*cacheEntry

	stopCh chan struct{}
}

func New(db *gorm.DB, logger *zap.Logger) *Resolver {
	r := &Resolver{
		db:     db,
		logger: logger,
		cache:  make(map[string]*cacheEntry),
		stopCh: make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

func (r *Resolver) Close() {
	close(r.stopCh)
}

// Authenticate resolves a plaintext secret to an Identity, or nil if no
// active key matches. Keys shorter than 8 characters are rejected
// without consulting storage or cache (spec §8).
func (r *Resolver) Authenticate(ctx context.Context, secret string) (*Identity, error) {
	if len(secret) < 8 {
		return nil, nil
	}

	if entry, ok := r.lookupCacheEntry(secret); ok {
		r.maybeTouchLastUsedCached(ctx, entry)
		id := entry.identity
		return &id, nil
	}

	prefix := secret[:8]

	var candidates []models.ApiKey
	if err := r.db.WithContext(ctx).
		Where("key_prefix = ? AND is_active = ?", prefix, true).
		Find(&candidates).Error; err != nil {
		// Database unavailability: fail-closed.
		r.logger.Warn("credential resolver: database unavailable", zap.Error(err))
		return nil, nil
	}

	for i := range candidates {
		cand := &candidates[i]
		if !models.VerifySecret(cand.KeyHash, secret) {
			continue
		}

		identity := Identity{ApiKeyID: cand.ID, TenantID: cand.TenantID}
		baseline := r.maybeTouchLastUsed(ctx, cand)
		r.storeCache(secret, identity, true, baseline)
		return &identity, nil
	}

	return nil, nil
}

func (r *Resolver) lookupCacheEntry(secret string) (*cacheEntry, bool) {
	r.mu.RLock()
	entry, ok := r.cache[secret]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) || !entry.isActive {
		return nil, false
	}
	return entry, true
}

func (r *Resolver) storeCache(secret string, id Identity, active bool, lastUsedUpdatedAt time.Time) {
	r.mu.Lock()
	r.cache[secret] = &cacheEntry{
		identity:          id,
		expiresAt:         time.Now().Add(cacheTTL),
		isActive:          active,
		lastUsedUpdatedAt: lastUsedUpdatedAt,
	}
	r.mu.Unlock()
}

// maybeTouchLastUsed updates LastUsedAt at most once per 60s per key,
// asynchronously, never blocking the request (spec §4.1), and returns
// the baseline time the throttle window is measured from (either the
// row's existing LastUsedAt, or now if it just fired the update) so the
// cache entry can keep enforcing the same throttle on later cache hits.
func (r *Resolver) maybeTouchLastUsed(ctx context.Context, key *models.ApiKey) time.Time {
	now := time.Now()
	if key.LastUsedAt != nil && now.Sub(*key.LastUsedAt) < lastUsedThrottle {
		return *key.LastUsedAt
	}

	go func(id int64) {
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.db.WithContext(bgCtx).
			Model(&models.ApiKey{}).
			Where("id = ?", id).
			Update("last_used_at", now).Error; err != nil {
			r.logger.Warn("credential resolver: last_used_at update failed", zap.Error(err))
		}
	}(key.ID)
	return now
}

// maybeTouchLastUsedCached applies the same 60s throttle as
// maybeTouchLastUsed to cache-hit authentications, which never see the
// ApiKey row and so must track the throttle baseline on the cache entry
// itself (spec §4.1: "never blocking the request").
func (r *Resolver) maybeTouchLastUsedCached(ctx context.Context, entry *cacheEntry) {
	now := time.Now()
	r.mu.Lock()
	if !entry.lastUsedUpdatedAt.IsZero() && now.Sub(entry.lastUsedUpdatedAt) < lastUsedThrottle {
		r.mu.Unlock()
		return
	}
	entry.lastUsedUpdatedAt = now
	apiKeyID := entry.identity.ApiKeyID
	r.mu.Unlock()

	go func(id int64) {
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.db.WithContext(bgCtx).
			Model(&models.ApiKey{}).
			Where("id = ?", id).
			Update("last_used_at", now).Error; err != nil {
			r.logger.Warn("credential resolver: last_used_at update failed", zap.Error(err))
		}
	}(apiKeyID)
}

// Invalidate drops a cached secret's positive result.
func (r *Resolver) Invalidate(secret string) {
	r.mu.Lock()
	delete(r.cache, secret)
	r.mu.Unlock()
}

// Deactivate flips isActive=false on every cached entry for keyID so a
// key revocation is observed immediately even by callers still holding a
// cached plaintext-keyed hit.
func (r *Resolver) Deactivate(keyID int64) {
	r.mu.Lock()
	for _, entry := range r.cache {
		if entry.identity.ApiKeyID == keyID {
			entry.isActive = false
		}
	}
	r.mu.Unlock()
}

func (r *Resolver) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Resolver) sweep() {
	now := time.Now()
	r.mu.Lock()
	for k, v := range r.cache {
		if now.After(v.expiresAt) {
			delete(r.cache, k)
		}
	}
	r.mu.Unlock()
}
