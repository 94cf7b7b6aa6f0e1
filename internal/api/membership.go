// internal/api/membership.go
package api

import (
	"context"
	"net"
	"net/http"

	serrors "member-portal/internal/common/errors"
	"member-portal/internal/common/validation"
	"member-portal/internal/membership/snapshot"
	"member-portal/internal/models"
	"member-portal/internal/sponsor"
)

// handleMembershipState returns the reconcilable snapshot for an address
// set. Addresses are normalized here so the cache key and the builder's
// tie-break both see the canonical form.
func (s *Server) handleMembershipState(w http.ResponseWriter, r *http.Request) {
	doc, err := s.decodeBody(r, validation.MembershipStateSchema)
	if err != nil {
		s.writeError(w, err)
		return
	}

	rawAddrs, _ := doc["addresses"].([]interface{})
	addresses := make([]string, 0, len(rawAddrs))
	for _, a := range rawAddrs {
		if str, ok := a.(string); ok {
			addresses = append(addresses, str)
		}
	}
	addresses = snapshot.NormalizeAddresses(addresses)
	if len(addresses) == 0 {
		s.writeError(w, serrors.NewBadRequestError("at least one address is required"))
		return
	}

	snap, err := s.state.Get(r.Context(), addresses, boolField(doc, "forceRefresh"))
	if err != nil {
		s.writeError(w, serrors.NewChainUnavailableError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleClaimMember grants the sponsored free tier to a linked wallet. The
// body may omit lockAddress; the engine defaults to the configured tier.
func (s *Server) handleClaimMember(w http.ResponseWriter, r *http.Request) {
	s.sponsoredAction(w, r, nil, "claimed", s.sponsor.ClaimMember)
}

func (s *Server) handleCancelMember(w http.ResponseWriter, r *http.Request) {
	s.sponsoredAction(w, r, nil, "already-canceled", s.sponsor.CancelMember)
}

type sponsoredFunc func(ctx context.Context, req sponsor.Request) (*models.SponsoredResult, error)

// sponsoredAction is the shared plumbing for every sponsor-engine route:
// decode, attach forensic fields, translate the outcome. alreadyStatus is
// the wire status reported for an already-done outcome.
func (s *Server) sponsoredAction(w http.ResponseWriter, r *http.Request, schema map[string]interface{}, alreadyStatus string, action sponsoredFunc) {
	doc, err := s.decodeBody(r, schema)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sess := sessionFrom(r)
	recipient := stringField(doc, "recipient")
	if recipient == "" && sess != nil {
		recipient = sess.PrimaryWallet()
	}

	req := sponsor.Request{
		Session:     sess,
		LockAddress: stringField(doc, "lockAddress"),
		Recipient:   recipient,
		TokenID:     stringField(doc, "tokenId"),
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
	}

	result, err := action(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := "submitted"
	if result.Outcome == models.OutcomeAlreadyDone {
		status = alreadyStatus
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"status": status,
		"txHash": result.TxHash,
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
