// internal/sponsor/ratelimit.go
package sponsor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSponsorRateLimited means the daily cap for a scope is exhausted.
var ErrSponsorRateLimited = errors.New("sponsor daily rate limit exceeded")

// RateLimiter enforces the per-day sponsored-transaction cap. The counter
// is advanced with a single INCR so concurrent requests cannot race a
// check-then-increment window.
type RateLimiter struct {
	redis *redis.Client
	cap   int64
	now   func() time.Time
}

func NewRateLimiter(rdb *redis.Client, dailyCap int64) *RateLimiter {
	return &RateLimiter{redis: rdb, cap: dailyCap, now: time.Now}
}

func (r *RateLimiter) key(scope string) string {
	return fmt.Sprintf("sponsor:rl:%s:%s", scope, r.now().UTC().Format("2006-01-02"))
}

// Consume takes one slot for the scope's current UTC day. The key expires
// on its own; EXPIRE NX keeps the window anchored to the first request.
func (r *RateLimiter) Consume(ctx context.Context, scope string) error {
	key := r.key(scope)

	n, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rate limit incr: %w", err)
	}
	if err := r.redis.ExpireNX(ctx, key, 48*time.Hour).Err(); err != nil {
		return fmt.Errorf("rate limit expire: %w", err)
	}
	if r.cap > 0 && n > r.cap {
		return ErrSponsorRateLimited
	}
	return nil
}

// Used reports the slots consumed today for a scope.
func (r *RateLimiter) Used(ctx context.Context, scope string) (int64, error) {
	n, err := r.redis.Get(ctx, r.key(scope)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
