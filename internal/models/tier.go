// internal/models/tier.go
package models

import "strings"

// Tier is one configured membership lock. Loaded once at startup, never
// mutated afterwards.
type Tier struct {
	ID              string `json:"id" mapstructure:"id"`
	Address         string `json:"address" mapstructure:"address"`
	ChecksumAddress string `json:"checksumAddress" mapstructure:"checksum_address"`
	Label           string `json:"label" mapstructure:"label"`
	Renewable       bool   `json:"renewable" mapstructure:"renewable"`
	NeverExpires    bool   `json:"neverExpires" mapstructure:"never_expires"`
	GasSponsored    bool   `json:"gasSponsored" mapstructure:"gas_sponsored"`
}

// LowerAddress returns the canonical lower-cased lock address used as a map key.
func (t Tier) LowerAddress() string {
	return strings.ToLower(t.Address)
}

// LockKind classifies a lock address. Membership tiers and event locks are
// disjoint namespaces; mixing them up would let event keys pass for
// memberships (and sponsored free claims against event locks), so the
// classification is resolved once against configuration, never re-derived
// at call sites.
type LockKind int

const (
	LockKindUnknown LockKind = iota
	LockKindMembershipTier
	LockKindEvent
)

func (k LockKind) String() string {
	switch k {
	case LockKindMembershipTier:
		return "membership-tier"
	case LockKindEvent:
		return "event"
	default:
		return "unknown"
	}
}
