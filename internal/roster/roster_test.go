// internal/roster/roster_test.go
package roster

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"member-portal/internal/chain"
	"member-portal/internal/common/logger"
)

const rosterLock = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

type fakeSubgraph struct {
	calls int
	keys  []chain.SubgraphKey
	err   error
}

func (f *fakeSubgraph) KeysByOwners(context.Context, []string, []string) ([]chain.SubgraphKey, error) {
	return nil, nil
}

func (f *fakeSubgraph) KeyHolders(context.Context, string, int) ([]chain.SubgraphKey, error) {
	f.calls++
	return f.keys, f.err
}

func newTestCache(t *testing.T, sub *fakeSubgraph) (*Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCache(sub, rdb, time.Minute, logger.NewTestLogger(t)), mr
}

func TestHolders_FetchesAndCaches(t *testing.T) {
	sub := &fakeSubgraph{keys: []chain.SubgraphKey{
		{Lock: rosterLock, Owner: "0x1111111111111111111111111111111111111111", TokenID: "1", Expiration: 1700003600},
		{Lock: rosterLock, Owner: "0x2222222222222222222222222222222222222222", TokenID: "2", Expiration: 1700007200},
	}}
	cache, _ := newTestCache(t, sub)

	holders, err := cache.Holders(context.Background(), rosterLock)
	require.NoError(t, err)
	require.Len(t, holders, 2)
	assert.Equal(t, int64(1700003600), holders[0].Expiration)

	// Second read is served from Redis.
	_, err = cache.Holders(context.Background(), rosterLock)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.calls)
}

func TestHolders_RefetchesAfterTTL(t *testing.T) {
	sub := &fakeSubgraph{}
	cache, mr := newTestCache(t, sub)

	_, err := cache.Holders(context.Background(), rosterLock)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	_, err = cache.Holders(context.Background(), rosterLock)
	require.NoError(t, err)
	assert.Equal(t, 2, sub.calls)
}

func TestHolders_OutageWithoutCacheFails(t *testing.T) {
	sub := &fakeSubgraph{err: chain.ErrSubgraphUnavailable}
	cache, _ := newTestCache(t, sub)

	_, err := cache.Holders(context.Background(), rosterLock)
	assert.ErrorIs(t, err, chain.ErrSubgraphUnavailable)
}

func TestRefresh_BypassesCache(t *testing.T) {
	sub := &fakeSubgraph{}
	cache, _ := newTestCache(t, sub)

	_, err := cache.Holders(context.Background(), rosterLock)
	require.NoError(t, err)
	_, err = cache.Refresh(context.Background(), rosterLock)
	require.NoError(t, err)
	assert.Equal(t, 2, sub.calls)
}
