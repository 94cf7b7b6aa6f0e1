// internal/membership/statecache/cache_test.go
package statecache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"member-portal/internal/chain"
	"member-portal/internal/common/logger"
	"member-portal/internal/models"
)

type countingBuilder struct {
	mu     sync.Mutex
	calls  int32
	delay  time.Duration
	err    error
	result func() *models.MembershipStateSnapshot
}

func (b *countingBuilder) Build(_ context.Context, _ []string) (*models.MembershipStateSnapshot, error) {
	atomic.AddInt32(&b.calls, 1)
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return b.result(), nil
}

func activeSnapshot(computedAt int64) *models.MembershipStateSnapshot {
	return &models.MembershipStateSnapshot{
		Summary:    models.MembershipSummary{Status: models.StatusActive},
		Allowances: map[string]models.AllowanceState{},
		TokenIDs:   map[string][]string{},
		ComputedAt: computedAt,
	}
}

func newTestCache(t *testing.T, builder SnapshotBuilder) (*Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := New(rdb, builder, 8453, 90*time.Second, 15*time.Minute, logger.NewTestLogger(t))
	return c, mr
}

func TestGet_CachesAcrossCalls(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	builder := &countingBuilder{result: func() *models.MembershipStateSnapshot {
		return activeSnapshot(now.Unix())
	}}
	c, _ := newTestCache(t, builder)
	c.now = func() time.Time { return now }

	addrs := []string{"0xaaa", "0xbbb"}
	first, err := c.Get(context.Background(), addrs, false)
	require.NoError(t, err)
	second, err := c.Get(context.Background(), addrs, false)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&builder.calls))
	assert.Equal(t, first.ComputedAt, second.ComputedAt)
}

func TestGet_KeyIgnoresAddressOrder(t *testing.T) {
	c, _ := newTestCache(t, &countingBuilder{})
	assert.Equal(t, c.Key([]string{"0xbbb", "0xaaa"}), c.Key([]string{"0xaaa", "0xbbb"}))
}

func TestGet_ForceRefreshBypassesRead(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	builder := &countingBuilder{result: func() *models.MembershipStateSnapshot {
		return activeSnapshot(now.Unix())
	}}
	c, _ := newTestCache(t, builder)
	c.now = func() time.Time { return now }

	addrs := []string{"0xaaa"}
	_, err := c.Get(context.Background(), addrs, false)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), addrs, true)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&builder.calls))
}

func TestGet_ConcurrentRequestsShareOneRebuild(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	builder := &countingBuilder{
		delay: 50 * time.Millisecond,
		result: func() *models.MembershipStateSnapshot {
			return activeSnapshot(now.Unix())
		},
	}
	c, _ := newTestCache(t, builder)
	c.now = func() time.Time { return now }

	addrs := []string{"0xaaa"}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// forceRefresh on every caller: the in-flight rebuild is still shared.
			_, err := c.Get(context.Background(), addrs, true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&builder.calls))
}

func TestGet_ExpiredEntryTriggersRebuild(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	builder := &countingBuilder{result: func() *models.MembershipStateSnapshot {
		return activeSnapshot(now.Unix())
	}}
	c, mr := newTestCache(t, builder)
	c.now = func() time.Time { return now }

	// Seed an entry two minutes past the 90s fresh window.
	old := activeSnapshot(now.Unix() - 210)
	raw, err := json.Marshal(old)
	require.NoError(t, err)
	require.NoError(t, mr.Set(c.Key([]string{"0xaaa"}), string(raw)))

	snap, err := c.Get(context.Background(), []string{"0xaaa"}, false)
	require.NoError(t, err)
	assert.Equal(t, now.Unix(), snap.ComputedAt)
	assert.Equal(t, int32(1), atomic.LoadInt32(&builder.calls))
}

func TestGet_ServesStaleOnChainOutage(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	builder := &countingBuilder{err: chain.ErrChainUnavailable}
	c, mr := newTestCache(t, builder)
	c.now = func() time.Time { return now }

	old := activeSnapshot(now.Unix() - 300)
	raw, err := json.Marshal(old)
	require.NoError(t, err)
	require.NoError(t, mr.Set(c.Key([]string{"0xaaa"}), string(raw)))

	snap, err := c.Get(context.Background(), []string{"0xaaa"}, false)
	require.NoError(t, err)
	assert.True(t, snap.Stale)
	assert.Equal(t, models.StatusActive, snap.Summary.Status)
}

func TestGet_OutageWithoutStaleEntryFails(t *testing.T) {
	builder := &countingBuilder{err: chain.ErrChainUnavailable}
	c, _ := newTestCache(t, builder)

	_, err := c.Get(context.Background(), []string{"0xaaa"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrChainUnavailable)
}

func TestGet_CorruptEntryRebuilt(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	builder := &countingBuilder{result: func() *models.MembershipStateSnapshot {
		return activeSnapshot(now.Unix())
	}}
	c, mr := newTestCache(t, builder)
	c.now = func() time.Time { return now }

	require.NoError(t, mr.Set(c.Key([]string{"0xaaa"}), "{not json"))

	snap, err := c.Get(context.Background(), []string{"0xaaa"}, false)
	require.NoError(t, err)
	assert.Equal(t, now.Unix(), snap.ComputedAt)
}
