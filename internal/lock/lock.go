// Package lock implements Redis-backed distributed locking, grounded on
// the teacher's internal/services/data/redis.LockManager: SETNX to
// acquire, a Lua script gating release on value ownership.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

type Manager struct {
	client *redis.Client
}

func NewManager(client *redis.Client) *Manager {
	return &Manager{client: client}
}

type Lock struct {
	client *redis.Client
	key    string
	value  string
}

// Acquire attempts to take the named lock for ttl, returning nil if it
// is already held.
func (m *Manager) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	value, err := generateValue()
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("lock:%s", name)
	ok, err := m.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Lock{client: m.client, key: key, value: value}, nil
}

// WithLock runs fn while holding the named lock, skipping fn entirely if
// the lock is already held elsewhere (returns nil, not an error — the
// caller treats a busy lock as "someone else is handling this").
func (m *Manager) WithLock(ctx context.Context, name string, ttl time.Duration, fn func() error) error {
	l, err := m.Acquire(ctx, name, ttl)
	if err != nil {
		return err
	}
	if l == nil {
		return nil
	}
	defer l.Release(ctx)
	return fn()
}

func (l *Lock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

func generateValue() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
