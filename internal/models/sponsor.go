// internal/models/sponsor.go
package models

import "time"

// NonceLeaseState tracks a lease through its lifecycle.
type NonceLeaseState string

const (
	LeaseHeld      NonceLeaseState = "held"
	LeaseBroadcast NonceLeaseState = "broadcast"
	LeaseReleased  NonceLeaseState = "released"
	LeaseError     NonceLeaseState = "error"
)

// NonceLease is the mutual-exclusion record for sponsor transaction
// submission. At most one lease may be held per (chainId, sponsorAddress).
type NonceLease struct {
	ChainID        int64           `json:"chainId"`
	SponsorAddress string          `json:"sponsorAddress"`
	LeaseID        string          `json:"leaseId"`
	NextNonce      uint64          `json:"nextNonce"`
	AcquiredAt     time.Time       `json:"acquiredAt"`
	State          NonceLeaseState `json:"state"`
}

// SponsoredOutcome is the terminal state of one sponsored action.
type SponsoredOutcome string

const (
	OutcomeSubmitted   SponsoredOutcome = "submitted"
	OutcomeAlreadyDone SponsoredOutcome = "already-done"
	OutcomeFailed      SponsoredOutcome = "failed"
)

// SponsoredResult is returned by the sponsor engine for every action.
type SponsoredResult struct {
	Outcome SponsoredOutcome `json:"outcome"`
	TxHash  string           `json:"txHash,omitempty"`
	Nonce   uint64           `json:"nonce,omitempty"`
}

// AuditEntry is one forensic record of a sponsored action attempt. Written
// on every transition outcome, success or failure.
type AuditEntry struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	Actor       string    `json:"actor"`
	Recipient   string    `json:"recipient"`
	LockAddress string    `json:"lockAddress"`
	ChainID     int64     `json:"chainId"`
	IP          string    `json:"ip"`
	UserAgent   string    `json:"userAgent"`
	Outcome     string    `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	TxHash      string    `json:"txHash,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
