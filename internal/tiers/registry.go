// internal/tiers/registry.go
package tiers

import (
	"strings"

	"member-portal/internal/models"
)

// Registry resolves lock classification and tier priority once, at startup.
// Tier priority is the configured order: index 0 is the highest tier.
type Registry struct {
	tiers      []models.Tier
	byAddress  map[string]int
	eventLocks map[string]struct{}
}

// NewRegistry builds the authoritative lock classifier from configuration.
func NewRegistry(tiers []models.Tier, eventLocks []string) *Registry {
	r := &Registry{
		tiers:      tiers,
		byAddress:  make(map[string]int, len(tiers)),
		eventLocks: make(map[string]struct{}, len(eventLocks)),
	}
	for i, t := range tiers {
		r.byAddress[t.LowerAddress()] = i
	}
	for _, l := range eventLocks {
		r.eventLocks[strings.ToLower(l)] = struct{}{}
	}
	return r
}

// All returns the configured tiers in priority order.
func (r *Registry) All() []models.Tier {
	return r.tiers
}

// Classify reports what kind of lock an address is. Membership tiers win
// if an address were ever configured as both (configuration validation
// should prevent that, but the tie must be deterministic).
func (r *Registry) Classify(addr string) models.LockKind {
	lower := strings.ToLower(addr)
	if _, ok := r.byAddress[lower]; ok {
		return models.LockKindMembershipTier
	}
	if _, ok := r.eventLocks[lower]; ok {
		return models.LockKindEvent
	}
	return models.LockKindUnknown
}

// TierFor returns the tier configured at addr, or nil.
func (r *Registry) TierFor(addr string) *models.Tier {
	if i, ok := r.byAddress[strings.ToLower(addr)]; ok {
		t := r.tiers[i]
		return &t
	}
	return nil
}

// Priority returns the configured rank of a tier address (lower is
// higher-priority) and whether the address is a tier at all.
func (r *Registry) Priority(addr string) (int, bool) {
	i, ok := r.byAddress[strings.ToLower(addr)]
	return i, ok
}

// FreeTier returns the gas-sponsored tier used for sponsored member
// claims, or nil when none is configured.
func (r *Registry) FreeTier() *models.Tier {
	for _, t := range r.tiers {
		if t.GasSponsored {
			tt := t
			return &tt
		}
	}
	return nil
}
