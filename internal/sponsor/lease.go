// internal/sponsor/lease.go
package sponsor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"member-portal/internal/common/logger"
	"member-portal/internal/common/metrics"
	"member-portal/internal/models"
)

// ErrSponsorBusy means another sponsored transaction holds the lease.
// Callers fail fast and report retryable contention; they never queue.
var ErrSponsorBusy = errors.New("sponsor lease held")

// ErrLeaseLost means the lease expired or was taken over before release.
var ErrLeaseLost = errors.New("sponsor lease lost")

// releaseScript deletes the lease only when it is still ours. A plain DEL
// could release a successor's lease after a TTL-expiry takeover.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaseStore serializes sponsor transaction submission per
// (chainId, sponsorAddress). The lease TTL guards against a crashed holder
// wedging the sponsor forever.
type LeaseStore struct {
	redis  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewLeaseStore(rdb *redis.Client, ttl time.Duration, log logger.Logger) *LeaseStore {
	return &LeaseStore{
		redis:  rdb,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "nonce-lease"}),
	}
}

func leaseKey(chainID int64, sponsor string) string {
	return fmt.Sprintf("sponsor:lease:%d:%s", chainID, sponsor)
}

func nonceKey(chainID int64, sponsor string) string {
	return fmt.Sprintf("sponsor:nonce:%d:%s", chainID, sponsor)
}

// Acquire takes the lease or fails fast with ErrSponsorBusy. On success the
// returned lease carries the persisted nextNonce for this sponsor.
func (s *LeaseStore) Acquire(ctx context.Context, chainID int64, sponsor string) (*models.NonceLease, error) {
	leaseID := uuid.NewString()

	ok, err := s.redis.SetNX(ctx, leaseKey(chainID, sponsor), leaseID, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		metrics.SponsorLeaseContention.Inc()
		return nil, ErrSponsorBusy
	}

	nextNonce, err := s.loadNextNonce(ctx, chainID, sponsor)
	if err != nil {
		// Never hold a lease we cannot use.
		s.release(ctx, chainID, sponsor, leaseID)
		return nil, err
	}

	return &models.NonceLease{
		ChainID:        chainID,
		SponsorAddress: sponsor,
		LeaseID:        leaseID,
		NextNonce:      nextNonce,
		AcquiredAt:     time.Now(),
		State:          models.LeaseHeld,
	}, nil
}

func (s *LeaseStore) loadNextNonce(ctx context.Context, chainID int64, sponsor string) (uint64, error) {
	raw, err := s.redis.Get(ctx, nonceKey(chainID, sponsor)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load next nonce: %w", err)
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.logger.Warn("corrupt nonce record, resetting to chain-derived nonce", map[string]interface{}{
			"sponsor": sponsor,
			"value":   raw,
		})
		return 0, nil
	}
	return n, nil
}

// RecordBroadcast persists the nonce consumed by a broadcast so the next
// holder starts past it even while the transaction is still pending.
func (s *LeaseStore) RecordBroadcast(ctx context.Context, lease *models.NonceLease, usedNonce uint64) error {
	lease.State = models.LeaseBroadcast
	err := s.redis.Set(ctx, nonceKey(lease.ChainID, lease.SponsorAddress), strconv.FormatUint(usedNonce+1, 10), 0).Err()
	if err != nil {
		return fmt.Errorf("record broadcast nonce: %w", err)
	}
	return nil
}

// Release frees the lease. Safe to call on every exit path; releasing a
// lease that already expired is reported but not fatal.
func (s *LeaseStore) Release(ctx context.Context, lease *models.NonceLease) error {
	if lease == nil {
		return nil
	}
	if lease.State == models.LeaseHeld {
		lease.State = models.LeaseReleased
	}
	return s.release(ctx, lease.ChainID, lease.SponsorAddress, lease.LeaseID)
}

func (s *LeaseStore) release(ctx context.Context, chainID int64, sponsor, leaseID string) error {
	n, err := releaseScript.Run(ctx, s.redis, []string{leaseKey(chainID, sponsor)}, leaseID).Int()
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if n == 0 {
		s.logger.Warn("lease already expired at release", map[string]interface{}{
			"sponsor": sponsor,
			"chainId": chainID,
		})
		return ErrLeaseLost
	}
	return nil
}
