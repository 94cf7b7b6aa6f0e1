// internal/sponsor/lease_test.go
package sponsor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"member-portal/internal/common/logger"
	"member-portal/internal/models"
)

const sponsorAddr = "0x9999999999999999999999999999999999999999"

func newTestLeaseStore(t *testing.T) (*LeaseStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLeaseStore(rdb, time.Minute, logger.NewTestLogger(t)), mr
}

func TestAcquire_ExactlyOneWinnerUnderConcurrency(t *testing.T) {
	store, _ := newTestLeaseStore(t)

	var wins, busy int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := store.Acquire(context.Background(), 8453, sponsorAddr)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
				_ = lease
			case err == ErrSponsorBusy:
				atomic.AddInt32(&busy, 1)
			default:
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(9), busy)
}

func TestAcquire_BusyWhileHeldFreeAfterRelease(t *testing.T) {
	store, _ := newTestLeaseStore(t)
	ctx := context.Background()

	lease, err := store.Acquire(ctx, 8453, sponsorAddr)
	require.NoError(t, err)

	_, err = store.Acquire(ctx, 8453, sponsorAddr)
	assert.ErrorIs(t, err, ErrSponsorBusy)

	require.NoError(t, store.Release(ctx, lease))
	assert.Equal(t, models.LeaseReleased, lease.State)

	_, err = store.Acquire(ctx, 8453, sponsorAddr)
	assert.NoError(t, err)
}

func TestRelease_IgnoresForeignLease(t *testing.T) {
	store, mr := newTestLeaseStore(t)
	ctx := context.Background()

	lease, err := store.Acquire(ctx, 8453, sponsorAddr)
	require.NoError(t, err)

	// A stale holder with a different lease id must not free the current one.
	stale := &models.NonceLease{
		ChainID:        8453,
		SponsorAddress: sponsorAddr,
		LeaseID:        "someone-elses-lease",
		State:          models.LeaseHeld,
	}
	err = store.Release(ctx, stale)
	assert.ErrorIs(t, err, ErrLeaseLost)
	assert.True(t, mr.Exists(leaseKey(8453, sponsorAddr)))

	require.NoError(t, store.Release(ctx, lease))
}

func TestAcquire_AfterTTLExpiry(t *testing.T) {
	store, mr := newTestLeaseStore(t)
	ctx := context.Background()

	_, err := store.Acquire(ctx, 8453, sponsorAddr)
	require.NoError(t, err)

	// Crashed holder: the TTL frees the sponsor.
	mr.FastForward(2 * time.Minute)

	_, err = store.Acquire(ctx, 8453, sponsorAddr)
	assert.NoError(t, err)
}

func TestRecordBroadcast_AdvancesNextNonce(t *testing.T) {
	store, _ := newTestLeaseStore(t)
	ctx := context.Background()

	lease, err := store.Acquire(ctx, 8453, sponsorAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), lease.NextNonce)

	require.NoError(t, store.RecordBroadcast(ctx, lease, 41))
	assert.Equal(t, models.LeaseBroadcast, lease.State)
	require.NoError(t, store.Release(ctx, lease))

	next, err := store.Acquire(ctx, 8453, sponsorAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), next.NextNonce)
}

func TestAcquire_CorruptNonceRecordResets(t *testing.T) {
	store, mr := newTestLeaseStore(t)
	require.NoError(t, mr.Set(nonceKey(8453, sponsorAddr), "garbage"))

	lease, err := store.Acquire(context.Background(), 8453, sponsorAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), lease.NextNonce)
}
