// internal/roster/roster.go
package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"member-portal/internal/chain"
	"member-portal/internal/common/logger"
)

// Holder is one key holder on a lock as known to the indexer.
type Holder struct {
	Owner      string `json:"owner"`
	TokenID    string `json:"tokenId"`
	Expiration int64  `json:"expiration"`
}

// Cache serves per-lock holder rosters for the admin check-in screen and
// mail-outs. Rosters come from the subgraph and are cached in Redis under a
// TTL; the cache is best-effort and a subgraph outage surfaces as
// ErrSubgraphUnavailable only when no cached roster exists.
type Cache struct {
	subgraph chain.SubgraphClient
	redis    *redis.Client
	ttl      time.Duration
	maxSize  int
	logger   logger.Logger
}

func NewCache(subgraph chain.SubgraphClient, rdb *redis.Client, ttl time.Duration, log logger.Logger) *Cache {
	return &Cache{
		subgraph: subgraph,
		redis:    rdb,
		ttl:      ttl,
		maxSize:  1000,
		logger:   log.WithFields(map[string]interface{}{"component": "roster"}),
	}
}

func rosterKey(lock string) string {
	return fmt.Sprintf("ROSTER#%s", strings.ToLower(lock))
}

// Holders returns the roster for a lock, refreshing from the subgraph when
// the cached entry expired.
func (c *Cache) Holders(ctx context.Context, lock string) ([]Holder, error) {
	key := rosterKey(lock)

	if raw, err := c.redis.Get(ctx, key).Result(); err == nil {
		var holders []Holder
		if err := json.Unmarshal([]byte(raw), &holders); err == nil {
			return holders, nil
		}
		c.logger.Warn("corrupt roster entry, refreshing", map[string]interface{}{"lock": lock})
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("roster cache read failed", map[string]interface{}{"error": err.Error()})
	}

	return c.refresh(ctx, lock)
}

// Refresh forces a subgraph fetch, replacing the cached roster.
func (c *Cache) Refresh(ctx context.Context, lock string) ([]Holder, error) {
	return c.refresh(ctx, lock)
}

func (c *Cache) refresh(ctx context.Context, lock string) ([]Holder, error) {
	keys, err := c.subgraph.KeyHolders(ctx, strings.ToLower(lock), c.maxSize)
	if err != nil {
		return nil, err
	}

	holders := make([]Holder, 0, len(keys))
	for _, k := range keys {
		holders = append(holders, Holder{Owner: k.Owner, TokenID: k.TokenID, Expiration: k.Expiration})
	}

	raw, err := json.Marshal(holders)
	if err != nil {
		return holders, nil
	}
	if err := c.redis.Set(ctx, rosterKey(lock), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("roster cache write failed", map[string]interface{}{
			"lock":  lock,
			"error": err.Error(),
		})
	}
	return holders, nil
}

func parseExpiration(raw string) (int64, error) {
	var exp int64
	_, err := fmt.Sscanf(raw, "%d", &exp)
	return exp, err
}
