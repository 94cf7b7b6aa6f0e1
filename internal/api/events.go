// internal/api/events.go
package api

import (
	"fmt"
	"net/http"

	serrors "member-portal/internal/common/errors"
	"member-portal/internal/common/validation"
	"member-portal/internal/models"
)

func (s *Server) handleRSVP(w http.ResponseWriter, r *http.Request) {
	s.sponsoredAction(w, r, validation.RSVPSchema, "already-registered", s.sponsor.RSVP)
}

func (s *Server) handleCancelRSVP(w http.ResponseWriter, r *http.Request) {
	s.sponsoredAction(w, r, validation.CancelRSVPSchema, "already-canceled", s.sponsor.CancelRSVP)
}

// handleCheckinQR returns the caller's check-in QR as PNG bytes. The caller
// must own the key and it must still be valid; the service reports
// RSVP_NOT_ACTIVE otherwise.
func (s *Server) handleCheckinQR(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	lock := r.URL.Query().Get("lockAddress")
	if lock == "" {
		s.writeError(w, serrors.NewBadRequestError("lockAddress is required"))
		return
	}
	if err := s.requireEventLock(lock); err != nil {
		s.writeError(w, err)
		return
	}
	owner := s.ownerForLock(sess, r.URL.Query().Get("owner"))
	if owner == "" {
		s.writeError(w, serrors.NewNoWalletError())
		return
	}

	_, png, err := s.checkins.IssueForOwner(r.Context(), lock, owner, r.URL.Query().Get("tokenId"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// handleCheckinQREmail sends the same QR as an attachment to the verified
// account email.
func (s *Server) handleCheckinQREmail(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if !sess.EmailVerified {
		s.writeError(w, serrors.NewEmailNotVerifiedError())
		return
	}
	if s.mailer == nil {
		s.writeError(w, serrors.NewSponsorNotConfiguredError("email delivery"))
		return
	}

	doc, err := s.decodeBody(r, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	lock := stringField(doc, "lockAddress")
	if lock == "" {
		s.writeError(w, serrors.NewBadRequestError("lockAddress is required"))
		return
	}
	if err := s.requireEventLock(lock); err != nil {
		s.writeError(w, err)
		return
	}
	owner := s.ownerForLock(sess, stringField(doc, "owner"))
	if owner == "" {
		s.writeError(w, serrors.NewNoWalletError())
		return
	}

	_, png, err := s.checkins.IssueForOwner(r.Context(), lock, owner, stringField(doc, "tokenId"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	subject := "Your event check-in QR code"
	body := fmt.Sprintf("Attached is your check-in QR code for event %s. Present it at the door.", lock)
	if err := s.mailer.SendEmailWithAttachment(r.Context(), s.fromEmail, sess.Email, subject, body, "checkin-qr.png", "image/png", png); err != nil {
		s.writeError(w, serrors.NewInternalError(err))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "sentTo": sess.Email})
}

// ownerForLock resolves which linked wallet the QR is for. An explicit
// owner must be linked to the session; otherwise the primary wallet is
// used.
func (s *Server) ownerForLock(sess *models.Session, explicit string) string {
	if explicit != "" {
		if sess.HasWallet(explicit) {
			return explicit
		}
		return ""
	}
	return sess.PrimaryWallet()
}
