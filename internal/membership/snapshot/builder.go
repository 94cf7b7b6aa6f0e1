// internal/membership/snapshot/builder.go
package snapshot

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"member-portal/internal/chain"
	"member-portal/internal/common/logger"
	"member-portal/internal/common/metrics"
	"member-portal/internal/models"
	"member-portal/internal/tiers"
)

// Builder produces MembershipStateSnapshots from chain and subgraph state.
// Deterministic for fixed chain state; partial sub-query failures degrade
// the affected tier to unknown instead of failing the snapshot.
type Builder struct {
	reader   chain.Reader
	subgraph chain.SubgraphClient
	registry *tiers.Registry
	chainID  int64
	logger   logger.Logger
	now      func() time.Time
}

func NewBuilder(reader chain.Reader, subgraph chain.SubgraphClient, registry *tiers.Registry, chainID int64, log logger.Logger) *Builder {
	return &Builder{
		reader:   reader,
		subgraph: subgraph,
		registry: registry,
		chainID:  chainID,
		logger:   log.WithFields(map[string]interface{}{"component": "snapshot-builder"}),
		now:      time.Now,
	}
}

// tierRead is one (tier, address) chain observation.
type tierRead struct {
	owner   string
	valid   bool
	expiry  int64
	tokenID string
}

// Build computes a snapshot for the given address set. Addresses must be
// lower-cased and deduplicated by the caller; order matters for tie-breaks.
func (b *Builder) Build(ctx context.Context, addresses []string) (*models.MembershipStateSnapshot, error) {
	started := b.now()

	snap := &models.MembershipStateSnapshot{
		Allowances: make(map[string]models.AllowanceState),
		TokenIDs:   make(map[string][]string),
		ComputedAt: started.Unix(),
	}

	// Token-id discovery goes through the subgraph in one round trip when
	// it is available; reads below fall back to RPC enumeration otherwise.
	indexed := b.indexedTokens(ctx, addresses)

	totalFailures := 0
	var lastErr error

	for _, tier := range b.registry.All() {
		summary, failed := b.buildTier(ctx, tier, addresses, indexed)
		if failed != nil {
			totalFailures++
			lastErr = failed
		}
		if len(summary.TokenIDs) > 0 {
			snap.TokenIDs[tier.LowerAddress()] = summary.TokenIDs
		}
		if tier.Renewable && (summary.Status == models.StatusActive || summary.Status == models.StatusExpired) {
			if st, ok := b.allowanceFor(ctx, tier, summary, addresses); ok {
				snap.Allowances[tier.LowerAddress()] = st
			}
		}
		snap.Summary.Tiers = append(snap.Summary.Tiers, summary)
	}

	// Every tier failing on provider-level errors means the chain itself is
	// down; surface that so the cache layer can decide to serve stale data.
	if totalFailures == len(b.registry.All()) && totalFailures > 0 {
		metrics.SnapshotBuilds.WithLabelValues("chain_unavailable").Inc()
		return nil, errors.Join(chain.ErrChainUnavailable, lastErr)
	}

	b.aggregate(&snap.Summary)

	metrics.SnapshotBuilds.WithLabelValues("ok").Inc()
	metrics.SnapshotBuildDuration.Observe(b.now().Sub(started).Seconds())
	return snap, nil
}

// indexedTokens returns subgraph-known keys grouped by lower lock address,
// or nil when the subgraph is unavailable.
func (b *Builder) indexedTokens(ctx context.Context, addresses []string) map[string][]chain.SubgraphKey {
	if b.subgraph == nil {
		return nil
	}
	locks := make([]string, 0, len(b.registry.All()))
	for _, t := range b.registry.All() {
		locks = append(locks, t.LowerAddress())
	}
	keys, err := b.subgraph.KeysByOwners(ctx, addresses, locks)
	if err != nil {
		b.logger.Warn("subgraph unavailable, falling back to RPC token enumeration", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	grouped := make(map[string][]chain.SubgraphKey)
	for _, k := range keys {
		grouped[k.Lock] = append(grouped[k.Lock], k)
	}
	return grouped
}

// buildTier reads one tier's state across all addresses and picks a winner.
// The winner is the address with the latest non-expired expiry; if every
// key is expired, the latest overall. Ties go to the earlier input address.
func (b *Builder) buildTier(ctx context.Context, tier models.Tier, addresses []string, indexed map[string][]chain.SubgraphKey) (models.TierMembershipSummary, error) {
	summary := models.TierMembershipSummary{Tier: tier, Status: models.StatusNone}
	now := b.now().Unix()

	reads := make([]tierRead, 0, len(addresses))
	failures := 0
	var lastErr error

	for _, addr := range addresses {
		read, err := b.readOne(ctx, tier, addr, indexed)
		if err != nil {
			failures++
			lastErr = err
			continue
		}
		if read != nil {
			reads = append(reads, *read)
		}
	}

	if failures == len(addresses) && failures > 0 {
		// Failure isolation: this tier is unknown, the snapshot proceeds.
		b.logger.Warn("tier reads failed for all addresses", map[string]interface{}{
			"tier":  tier.ID,
			"error": lastErr.Error(),
		})
		summary.Status = models.StatusUnknown
		return summary, lastErr
	}

	if len(reads) == 0 {
		return summary, nil
	}

	winner := pickWinner(reads, now)

	summary.OwnedBy = winner.owner
	if winner.tokenID != "" {
		summary.TokenIDs = []string{winner.tokenID}
	}
	if winner.expiry > 0 {
		exp := winner.expiry
		summary.Expiry = &exp
	}
	switch {
	case tier.NeverExpires && winner.valid:
		summary.Status = models.StatusActive
		summary.Expiry = nil
	case winner.valid && (winner.expiry == 0 || winner.expiry > now):
		summary.Status = models.StatusActive
	case winner.expiry > 0:
		summary.Status = models.StatusExpired
	}

	return summary, nil
}

// pickWinner is deterministic: stable sort by expiry descending keeps input
// order for equal expiries, then non-expired reads are preferred.
func pickWinner(reads []tierRead, now int64) tierRead {
	sorted := make([]tierRead, len(reads))
	copy(sorted, reads)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].expiry > sorted[j].expiry
	})
	for _, r := range sorted {
		if r.valid && (r.expiry == 0 || r.expiry > now) {
			return r
		}
	}
	return sorted[0]
}

func (b *Builder) readOne(ctx context.Context, tier models.Tier, addr string, indexed map[string][]chain.SubgraphKey) (*tierRead, error) {
	valid, err := b.reader.HasValidKey(ctx, tier.Address, addr)
	if err != nil {
		return nil, err
	}

	expiry, err := b.reader.KeyExpirationFor(ctx, tier.Address, addr)
	if err != nil {
		return nil, err
	}
	if expiry == chain.NeverExpires {
		expiry = 0
	}

	tokenID := ""
	if keys, ok := indexed[tier.LowerAddress()]; ok {
		for _, k := range keys {
			if k.Owner == addr {
				tokenID = k.TokenID
				break
			}
		}
	}
	if tokenID == "" && (valid || expiry > 0) {
		id, err := b.reader.TokenOfOwner(ctx, tier.Address, addr)
		if err == nil {
			tokenID = id
		} else if !errors.Is(err, chain.ErrNoKey) {
			b.logger.Debug("token id lookup failed", map[string]interface{}{
				"tier":  tier.ID,
				"owner": addr,
				"error": err.Error(),
			})
		}
	}

	if !valid && expiry == 0 && tokenID == "" {
		return nil, nil // no key at all for this address
	}

	return &tierRead{owner: addr, valid: valid, expiry: expiry, tokenID: tokenID}, nil
}

// allowanceFor reads the renewal allowance granted by the winning owner.
func (b *Builder) allowanceFor(ctx context.Context, tier models.Tier, summary models.TierMembershipSummary, addresses []string) (models.AllowanceState, bool) {
	owner := summary.OwnedBy
	if owner == "" {
		if len(addresses) == 0 {
			return models.AllowanceState{}, false
		}
		owner = addresses[0]
	}

	price, err := b.reader.KeyPrice(ctx, tier.Address)
	if err != nil {
		b.logger.Debug("key price read failed", map[string]interface{}{"tier": tier.ID, "error": err.Error()})
		return models.AllowanceState{}, false
	}

	token, err := b.reader.TokenAddress(ctx, tier.Address)
	if err != nil {
		return models.AllowanceState{}, false
	}

	amount, err := b.reader.Erc20Allowance(ctx, token, owner, tier.Address)
	if err != nil {
		return models.AllowanceState{}, false
	}

	return models.AllowanceState{
		Amount:      amount.String(),
		KeyPrice:    price.String(),
		IsUnlimited: isUnlimitedAllowance(amount.String()),
		Owner:       owner,
	}, true
}

// isUnlimitedAllowance treats anything at or above half of max uint256 as
// an unlimited approval. Wallets use a handful of different "infinite"
// encodings; an exact-match check misses most of them.
func isUnlimitedAllowance(amount string) bool {
	// max uint256 has 78 decimal digits; half of it still has 77.
	return len(amount) >= 77
}

// NormalizeAddresses lower-cases, deduplicates and returns input order.
func NormalizeAddresses(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		lower := strings.ToLower(strings.TrimSpace(a))
		if lower == "" {
			continue
		}
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, lower)
	}
	return out
}

// aggregate derives the overall status and expiry. Status is active iff any
// tier is active. Expiry is the furthest-future expiry among active tiers,
// with a nil expiry (never-expiring key) treated as furthest of all; when
// nothing is active, the latest expired expiry is reported instead.
func (b *Builder) aggregate(summary *models.MembershipSummary) {
	summary.Status = models.StatusNone

	activeNeverExpires := false
	var activeBest, expiredBest *int64

	for i := range summary.Tiers {
		ts := &summary.Tiers[i]
		switch ts.Status {
		case models.StatusActive:
			if summary.HighestActiveTier == nil {
				t := ts.Tier
				summary.HighestActiveTier = &t
			}
			summary.Status = models.StatusActive
			if ts.Tier.NeverExpires || ts.Expiry == nil {
				activeNeverExpires = true
			} else if activeBest == nil || *ts.Expiry > *activeBest {
				activeBest = ts.Expiry
			}
		case models.StatusExpired:
			if summary.Status != models.StatusActive {
				summary.Status = models.StatusExpired
			}
			if ts.Expiry != nil && (expiredBest == nil || *ts.Expiry > *expiredBest) {
				expiredBest = ts.Expiry
			}
		case models.StatusUnknown:
			if summary.Status == models.StatusNone {
				summary.Status = models.StatusUnknown
			}
		}
	}

	switch {
	case summary.Status == models.StatusActive && activeNeverExpires:
		summary.Expiry = nil
	case summary.Status == models.StatusActive:
		summary.Expiry = copyExpiry(activeBest)
	case summary.Status == models.StatusExpired:
		summary.Expiry = copyExpiry(expiredBest)
	default:
		summary.Expiry = nil
	}
}

func copyExpiry(e *int64) *int64 {
	if e == nil {
		return nil
	}
	v := *e
	return &v
}
