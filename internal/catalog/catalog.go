// Package catalog implements the Catalog (C2, spec §4.2): read-through
// model name -> provider + unit price lookup, grounded on the teacher's
// internal/core/config.ModelPricingManager override-precedence idea,
// simplified to the single relational source spec §4.2 describes.
package catalog

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/budgetguard/budgetguard/internal/models"
)

// Entry is the lookup() result of spec §4.2. Provider == nil means the
// model exists but has no adapter and is unroutable.
type Entry struct {
	Provider         *string
	InputPrice       float64
	CachedInputPrice float64
	OutputPrice      float64
}

const localCacheTTL = 60 * time.Second

// Catalog is read-mostly; a short process-local cache is permitted (spec
// §5) but reads always fall through to the relational store on miss.
type Catalog struct {
	db *gorm.DB

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	entry     Entry
	expiresAt time.Time
}

func New(db *gorm.DB) *Catalog {
	return &Catalog{db: db, cache: make(map[string]cacheEntry)}
}

// Lookup returns the catalog entry for modelName, or nil if the model is
// not in the catalog at all.
func (c *Catalog) Lookup(ctx context.Context, modelName string) (*Entry, error) {
	if e, ok := c.lookupCache(modelName); ok {
		return e, nil
	}

	var row models.ModelPricing
	err := c.db.WithContext(ctx).Where("model_name = ?", modelName).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}

	entry := &Entry{
		Provider:         row.Provider,
		InputPrice:       row.InputPrice,
		CachedInputPrice: row.CachedInputPrice,
		OutputPrice:      row.OutputPrice,
	}
	c.storeCache(modelName, entry)
	return entry, nil
}

func (c *Catalog) lookupCache(modelName string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.cache[modelName]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	entry := e.entry
	return &entry, true
}

func (c *Catalog) storeCache(modelName string, e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[modelName] = cacheEntry{entry: *e, expiresAt: time.Now().Add(localCacheTTL)}
}
