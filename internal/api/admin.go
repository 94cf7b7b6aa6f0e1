// internal/api/admin.go
package api

import (
	"net/http"

	serrors "member-portal/internal/common/errors"
	"member-portal/internal/common/validation"
)

// handleListCheckins returns recorded check-ins for a lock alongside its
// holder roster, so the door screen shows who is expected and who arrived.
func (s *Server) handleListCheckins(w http.ResponseWriter, r *http.Request) {
	lock := r.URL.Query().Get("lockAddress")
	if lock == "" {
		s.writeError(w, serrors.NewBadRequestError("lockAddress is required"))
		return
	}
	if err := s.requireEventLock(lock); err != nil {
		s.writeError(w, err)
		return
	}

	records, err := s.checkins.List(r.Context(), lock)
	if err != nil {
		s.writeError(w, err)
		return
	}

	payload := map[string]interface{}{"checkins": records}
	if s.roster != nil {
		holders, err := s.roster.Holders(r.Context(), lock)
		if err != nil {
			// Roster is best-effort decoration; the check-in list stands.
			s.logger.Warn("roster unavailable for admin screen", map[string]interface{}{
				"lock":  lock,
				"error": err.Error(),
			})
		} else {
			payload["roster"] = holders
		}
	}
	s.writeJSON(w, http.StatusOK, payload)
}

// handleRecordCheckin records a QR-scanned or manual check-in. The body
// carries either qrToken or an explicit {lockAddress, tokenId} pair.
func (s *Server) handleRecordCheckin(w http.ResponseWriter, r *http.Request) {
	doc, err := s.decodeBody(r, validation.CheckinSchema)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sess := sessionFrom(r)
	qrToken := stringField(doc, "qrToken")
	lock := stringField(doc, "lockAddress")
	tokenID := stringField(doc, "tokenId")

	switch {
	case qrToken != "":
		rec, err := s.checkins.CheckInWithToken(r.Context(), qrToken, sess.UserID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "checkin": rec})
	case lock != "" && tokenID != "":
		if err := s.requireEventLock(lock); err != nil {
			s.writeError(w, err)
			return
		}
		rec, err := s.checkins.CheckInManual(r.Context(), lock, tokenID, sess.UserID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "checkin": rec})
	default:
		s.writeError(w, serrors.NewBadRequestError("either qrToken or lockAddress+tokenId is required"))
	}
}
