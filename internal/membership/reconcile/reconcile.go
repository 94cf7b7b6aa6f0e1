// internal/membership/reconcile/reconcile.go
package reconcile

import (
	"time"

	"member-portal/internal/models"
)

// ClientState is the reconciled membership view for one user session. It is
// an explicit value passed through the engine, never a process-wide
// singleton; concurrent sessions must not share it.
type ClientState struct {
	Status         models.MembershipStatus
	Expiry         *int64
	Summary        *models.MembershipSummary
	LastGoodStatus models.MembershipStatus

	// downgradeStreak counts consecutive refreshes where an incoming
	// downgrade of a locally-valid tier was suppressed. Once it reaches the
	// engine bound the incoming state is adopted, so a legitimate
	// revocation surfaces within a few refresh cycles.
	downgradeStreak int
	// noneStreak counts consecutive refreshes where a none status was held
	// back in favor of lastGoodStatus.
	noneStreak int
}

// Engine applies the reconciliation rules. It is stateless; all per-user
// state lives in ClientState / Session.
type Engine struct {
	maxDowngradeSuppressions int
}

const defaultMaxDowngradeSuppressions = 2

func NewEngine(maxDowngradeSuppressions int) *Engine {
	if maxDowngradeSuppressions <= 0 {
		maxDowngradeSuppressions = defaultMaxDowngradeSuppressions
	}
	return &Engine{maxDowngradeSuppressions: maxDowngradeSuppressions}
}

// Advance merges an incoming summary into the previous state. Pure: the
// next state depends only on (prev, incoming, now).
func (e *Engine) Advance(prev ClientState, incoming *models.MembershipSummary, now time.Time) ClientState {
	next := ClientState{LastGoodStatus: prev.LastGoodStatus}

	// Key expiry is monotonic on chain, so an already-valid tier flipping
	// to inactive in a single refresh is usually a stale read from one of
	// several independent RPC calls, not a real revocation. Hold the
	// previous state, bounded so real revocations still land.
	downgrade := isDowngrade(prev, incoming, now)
	if downgrade && prev.downgradeStreak < e.maxDowngradeSuppressions {
		next = prev
		next.downgradeStreak = prev.downgradeStreak + 1
		next.Status = models.StatusActive
		next.LastGoodStatus = models.StatusActive
		return next
	}

	next.Summary = incoming
	if downgrade {
		// Suppression bound exhausted: believe the chain outright, without
		// resurrecting the status through the stale previous expiry.
		next.Expiry = preferExpiry(incoming.Expiry, nil, now)
	} else {
		next.Expiry = preferExpiry(incoming.Expiry, prev.Expiry, now)
	}

	status := statusFromExpiry(next.Expiry, now)
	if status == "" {
		status = incoming.Status
	}

	// A single none can be a transient read failure; absorb one pass so the
	// user is not flashed to a signed-out/buy screen, then believe it.
	if status == models.StatusNone && goodStatus(prev.LastGoodStatus) && prev.noneStreak < 1 {
		next.Status = prev.LastGoodStatus
		next.noneStreak = prev.noneStreak + 1
		return next
	}

	next.Status = status
	if goodStatus(status) {
		next.LastGoodStatus = status
	}
	return next
}

// AdvanceFailed absorbs a refresh that errored entirely. The previous view
// stands, with lastGoodStatus shadowing any transient unknown.
func (e *Engine) AdvanceFailed(prev ClientState) ClientState {
	next := prev
	if goodStatus(prev.LastGoodStatus) {
		next.Status = prev.LastGoodStatus
	}
	return next
}

// isDowngrade reports whether the incoming summary drops a tier that is
// still valid in the previous state.
func isDowngrade(prev ClientState, incoming *models.MembershipSummary, now time.Time) bool {
	if prev.Summary == nil || prev.Summary.HighestActiveTier == nil {
		return false
	}

	addr := prev.Summary.HighestActiveTier.LowerAddress()
	prevTier := prev.Summary.TierByAddress(addr)
	if prevTier == nil || !prevTier.Valid(now) {
		return false
	}

	incomingTier := incoming.TierByAddress(addr)
	return incomingTier == nil || incomingTier.Status != models.StatusActive
}

// preferExpiry adopts the incoming expiry when it is a positive, defined
// number; else the previous one, but only while it is still in the future.
func preferExpiry(incoming, previous *int64, now time.Time) *int64 {
	if incoming != nil && *incoming > 0 {
		v := *incoming
		return &v
	}
	if previous != nil && *previous > now.Unix() {
		v := *previous
		return &v
	}
	return nil
}

func statusFromExpiry(expiry *int64, now time.Time) models.MembershipStatus {
	if expiry == nil {
		return ""
	}
	if *expiry > now.Unix() {
		return models.StatusActive
	}
	return models.StatusExpired
}

// goodStatus reports whether a status is worth retaining as last-good.
func goodStatus(s models.MembershipStatus) bool {
	return s == models.StatusActive || s == models.StatusExpired
}
