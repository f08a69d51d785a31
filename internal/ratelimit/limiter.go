// Package ratelimit implements the per-tenant fixed-window limiter used
// at the Limit state of the admission pipeline (spec §4.6 step 3, §6),
// grounded on the teacher's internal/services/ratelimit.FixedWindowLimiter.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter struct {
	client *redis.Client
}

func New(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow increments the current minute bucket for tenant and reports
// whether the Nth request (limit-th) is still admitted. Exactly N
// requests in one minute: the Nth is admitted, the (N+1)th is denied
// (spec §8).
func (l *Limiter) Allow(ctx context.Context, tenant string, limit int) (bool, error) {
	if l.client == nil {
		// Redis outage: rate limiting is not a correctness component per
		// spec §5/§9 ("caches are optional capabilities"); fail open.
		return true, nil
	}

	key := l.windowKey(tenant)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return true, nil
	}
	if count == 1 {
		l.client.Expire(ctx, key, 2*time.Minute)
	}

	if int(count) > limit {
		l.client.Decr(ctx, key)
		return false, nil
	}
	return true, nil
}

func (l *Limiter) windowKey(tenant string) string {
	bucket := time.Now().UTC().Unix() / 60
	return fmt.Sprintf("ratelimit:%s:%d", tenant, bucket)
}
