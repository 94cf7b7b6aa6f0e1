// internal/membership/statecache/cache.go
package statecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"member-portal/internal/chain"
	"member-portal/internal/common/logger"
	"member-portal/internal/common/metrics"
	"member-portal/internal/models"
)

// SnapshotBuilder is the rebuild hook; satisfied by snapshot.Builder.
type SnapshotBuilder interface {
	Build(ctx context.Context, addresses []string) (*models.MembershipStateSnapshot, error)
}

// Cache is the Redis-backed membership snapshot cache. Concurrent requests
// for the same address set share one rebuild via singleflight; entries are
// kept under the stale TTL so a chain outage can be bridged with stale data.
type Cache struct {
	redis    *redis.Client
	builder  SnapshotBuilder
	chainID  int64
	freshTTL time.Duration
	staleTTL time.Duration
	group    singleflight.Group
	logger   logger.Logger
	now      func() time.Time
}

func New(rdb *redis.Client, builder SnapshotBuilder, chainID int64, freshTTL, staleTTL time.Duration, log logger.Logger) *Cache {
	return &Cache{
		redis:    rdb,
		builder:  builder,
		chainID:  chainID,
		freshTTL: freshTTL,
		staleTTL: staleTTL,
		logger:   log.WithFields(map[string]interface{}{"component": "state-cache"}),
		now:      time.Now,
	}
}

// Key builds the cache key for an address set. Addresses are sorted so the
// key is independent of request order; the builder still receives them in
// request order for its tie-break rule.
func (c *Cache) Key(addresses []string) string {
	sorted := make([]string, len(addresses))
	copy(sorted, addresses)
	sort.Strings(sorted)
	return fmt.Sprintf("membership:snapshot:%d:%s", c.chainID, strings.Join(sorted, ","))
}

// Get returns the snapshot for the address set, rebuilding when the cached
// entry is missing or older than the fresh TTL. forceRefresh skips the read
// but still coalesces with any rebuild already in flight for the same key.
func (c *Cache) Get(ctx context.Context, addresses []string, forceRefresh bool) (*models.MembershipStateSnapshot, error) {
	key := c.Key(addresses)

	if !forceRefresh {
		if snap := c.readFresh(ctx, key); snap != nil {
			metrics.SnapshotCacheHits.WithLabelValues("hit").Inc()
			return snap, nil
		}
		metrics.SnapshotCacheHits.WithLabelValues("miss").Inc()
	} else {
		metrics.SnapshotCacheHits.WithLabelValues("bypass").Inc()
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.rebuild(ctx, key, addresses)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.MembershipStateSnapshot), nil
}

// readFresh returns the cached snapshot only when it is within the fresh
// TTL; older entries remain in Redis for the stale-serve path.
func (c *Cache) readFresh(ctx context.Context, key string) *models.MembershipStateSnapshot {
	snap := c.read(ctx, key)
	if snap == nil {
		return nil
	}
	age := c.now().Unix() - snap.ComputedAt
	if age > int64(c.freshTTL.Seconds()) {
		return nil
	}
	return snap
}

func (c *Cache) read(ctx context.Context, key string) *models.MembershipStateSnapshot {
	raw, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("snapshot cache read failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		return nil
	}
	var snap models.MembershipStateSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		c.logger.Warn("snapshot cache entry unparseable, discarding", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return nil
	}
	return &snap
}

func (c *Cache) rebuild(ctx context.Context, key string, addresses []string) (*models.MembershipStateSnapshot, error) {
	snap, err := c.builder.Build(ctx, addresses)
	if err != nil {
		if errors.Is(err, chain.ErrChainUnavailable) {
			// Bridge the outage with whatever is still parseable in Redis.
			if stale := c.read(ctx, key); stale != nil {
				c.logger.Warn("chain unavailable, serving stale snapshot", map[string]interface{}{
					"key":       key,
					"ageSecond": c.now().Unix() - stale.ComputedAt,
				})
				metrics.SnapshotCacheHits.WithLabelValues("stale").Inc()
				stale.Stale = true
				return stale, nil
			}
		}
		return nil, err
	}

	c.store(ctx, key, snap)
	return snap, nil
}

// store writes under the stale TTL; freshness is judged from ComputedAt so
// the same entry serves both the fresh window and the stale-serve window.
func (c *Cache) store(ctx context.Context, key string, snap *models.MembershipStateSnapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		c.logger.Error("snapshot marshal failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := c.redis.Set(ctx, key, raw, c.staleTTL).Err(); err != nil {
		c.logger.Warn("snapshot cache write failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}
