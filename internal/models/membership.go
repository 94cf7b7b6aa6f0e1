// internal/models/membership.go
package models

import "time"

// MembershipStatus is the per-tier and aggregate membership state.
type MembershipStatus string

const (
	StatusActive  MembershipStatus = "active"
	StatusExpired MembershipStatus = "expired"
	StatusNone    MembershipStatus = "none"
	// StatusUnknown marks a tier whose chain reads failed this pass. It is
	// never persisted as a last good status.
	StatusUnknown MembershipStatus = "unknown"
)

// TierMetadata is the subset of lock metadata the UI renders.
type TierMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
}

// TierMembershipSummary is the derived state of one user against one tier.
// Recomputed on every snapshot build, never persisted beyond cache TTL.
type TierMembershipSummary struct {
	Tier     Tier             `json:"tier"`
	Status   MembershipStatus `json:"status"`
	Expiry   *int64           `json:"expiry"` // epoch seconds, nil when unknown/none
	OwnedBy  string           `json:"ownedBy,omitempty"`
	TokenIDs []string         `json:"tokenIds,omitempty"`
	Metadata *TierMetadata    `json:"metadata,omitempty"`
}

// Valid reports whether the summary represents a currently usable key.
func (s TierMembershipSummary) Valid(now time.Time) bool {
	if s.Status != StatusActive {
		return false
	}
	if s.Expiry == nil {
		return true
	}
	return *s.Expiry > now.Unix()
}

// MembershipSummary aggregates the per-tier summaries for one user.
// Invariant: Status is active iff at least one tier is active, and Expiry
// is the furthest-future expiry among active tiers (configured tier order
// breaks ties).
type MembershipSummary struct {
	Status            MembershipStatus        `json:"status"`
	Expiry            *int64                  `json:"expiry"`
	Tiers             []TierMembershipSummary `json:"tiers"`
	HighestActiveTier *Tier                   `json:"highestActiveTier,omitempty"`
}

// TierByAddress finds the summary for a lock address (lower-cased compare).
func (m *MembershipSummary) TierByAddress(lowerAddr string) *TierMembershipSummary {
	for i := range m.Tiers {
		if m.Tiers[i].Tier.LowerAddress() == lowerAddr {
			return &m.Tiers[i]
		}
	}
	return nil
}

// AllowanceState is the raw ERC-20 approval a wallet granted to a tier's
// lock, paired with the price used to translate it into renewal months.
// Amounts stay as decimal strings end to end; they routinely exceed int64.
type AllowanceState struct {
	Amount      string `json:"amount"`
	KeyPrice    string `json:"keyPrice"`
	IsUnlimited bool   `json:"isUnlimited"`
	Owner       string `json:"owner,omitempty"`
}

// MembershipStateSnapshot is the wire payload produced by the snapshot
// builder. The server owns it; clients treat it as immutable input for a
// single reconciliation pass.
type MembershipStateSnapshot struct {
	Summary    MembershipSummary         `json:"summary"`
	Allowances map[string]AllowanceState `json:"allowances"` // keyed by lower-cased tier address
	TokenIDs   map[string][]string       `json:"tokenIds"`   // keyed by lower-cased tier address
	ComputedAt int64                     `json:"computedAt"` // epoch seconds
	Stale      bool                      `json:"stale,omitempty"`
}
