// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"member-portal/internal/common/auth"
	serrors "member-portal/internal/common/errors"
	"member-portal/internal/common/logger"
	"member-portal/internal/common/validation"
	"member-portal/internal/models"
	"member-portal/internal/roster"
	"member-portal/internal/sponsor"
	"member-portal/internal/tiers"
)

// StateProvider serves membership snapshots (the state cache in production).
type StateProvider interface {
	Get(ctx context.Context, addresses []string, forceRefresh bool) (*models.MembershipStateSnapshot, error)
}

// SponsorEngine is the sponsored-action surface consumed by the routes.
type SponsorEngine interface {
	RSVP(ctx context.Context, req sponsor.Request) (*models.SponsoredResult, error)
	CancelRSVP(ctx context.Context, req sponsor.Request) (*models.SponsoredResult, error)
	ClaimMember(ctx context.Context, req sponsor.Request) (*models.SponsoredResult, error)
	CancelMember(ctx context.Context, req sponsor.Request) (*models.SponsoredResult, error)
}

// CheckinService issues QR tokens and records check-ins.
type CheckinService interface {
	IssueForOwner(ctx context.Context, lock, owner, tokenID string) (string, []byte, error)
	CheckInWithToken(ctx context.Context, qrToken, checkedInBy string) (*models.CheckinRecord, error)
	CheckInManual(ctx context.Context, lock, tokenID, checkedInBy string) (*models.CheckinRecord, error)
	List(ctx context.Context, lock string) ([]models.CheckinRecord, error)
}

// RosterProvider serves per-lock holder rosters for the admin screen.
type RosterProvider interface {
	Holders(ctx context.Context, lock string) ([]roster.Holder, error)
}

// Mailer sends the QR attachment email (SES in production).
type Mailer interface {
	SendEmailWithAttachment(ctx context.Context, from, to, subject, body, filename, contentType string, attachment []byte) error
}

// HealthChecker reports one dependency's liveness.
type HealthChecker func(ctx context.Context) error

type Server struct {
	router    *mux.Router
	state     StateProvider
	sponsor   SponsorEngine
	checkins  CheckinService
	roster    RosterProvider
	mailer    Mailer
	verifier  auth.SessionVerifier
	registry  *tiers.Registry
	fromEmail string
	health    map[string]HealthChecker
	logger    logger.Logger
}

type ServerParams struct {
	State     StateProvider
	Sponsor   SponsorEngine
	Checkins  CheckinService
	Roster    RosterProvider
	Mailer    Mailer
	Verifier  auth.SessionVerifier
	Registry  *tiers.Registry
	FromEmail string
	Health    map[string]HealthChecker
	Logger    logger.Logger
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		state:     p.State,
		sponsor:   p.Sponsor,
		checkins:  p.Checkins,
		roster:    p.Roster,
		mailer:    p.Mailer,
		verifier:  p.Verifier,
		registry:  p.Registry,
		fromEmail: p.FromEmail,
		health:    p.Health,
		logger:    p.Logger.WithFields(map[string]interface{}{"component": "api"}),
	}
	s.routes()
	return s
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(s.noStoreMiddleware)

	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.sessionMiddleware)

	api.HandleFunc("/membership/state", s.handleMembershipState).Methods(http.MethodPost)
	api.HandleFunc("/membership/claim-member", s.handleClaimMember).Methods(http.MethodPost)
	api.HandleFunc("/membership/cancel-member", s.handleCancelMember).Methods(http.MethodPost)

	api.HandleFunc("/events/rsvp", s.handleRSVP).Methods(http.MethodPost)
	api.HandleFunc("/events/cancel-rsvp", s.handleCancelRSVP).Methods(http.MethodPost)
	api.HandleFunc("/events/checkin-qr", s.handleCheckinQR).Methods(http.MethodGet)
	api.HandleFunc("/events/checkin-qr/email", s.handleCheckinQREmail).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.adminMiddleware)
	admin.HandleFunc("/events/checkins", s.handleListCheckins).Methods(http.MethodGet)
	admin.HandleFunc("/events/checkins", s.handleRecordCheckin).Methods(http.MethodPost)
}

// ==========================
// MIDDLEWARE
// ==========================

// noStoreMiddleware: membership state is per-user and time-sensitive; no
// shared cache may hold a response.
func (s *Server) noStoreMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

type contextKey string

const sessionKey contextKey = "session"

func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			s.writeError(w, serrors.NewUnauthorizedError("missing bearer token"))
			return
		}
		session, err := s.verifier.Verify(token)
		if err != nil {
			s.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, session)))
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sess := sessionFrom(r); sess == nil || !sess.IsAdmin {
			s.writeError(w, serrors.NewForbiddenError("admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sessionFrom(r *http.Request) *models.Session {
	sess, _ := r.Context().Value(sessionKey).(*models.Session)
	return sess
}

// ==========================
// RESPONSES
// ==========================

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encode failed", map[string]interface{}{"error": err.Error()})
	}
}

type errorBody struct {
	Error    string                 `json:"error"`
	Code     serrors.ErrorCode      `json:"code"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	std := serrors.AsStandard(err)
	if std == nil {
		std = serrors.NewInternalError(err)
	}
	status := std.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, errorBody{Error: std.Message, Code: std.Code, Metadata: std.Metadata})
}

// decodeBody decodes and schema-validates a JSON request body.
func (s *Server) decodeBody(r *http.Request, schema map[string]interface{}) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		return nil, serrors.NewBadRequestError("invalid JSON body")
	}
	if schema != nil {
		if err := validation.Validate(doc, schema); err != nil {
			return nil, serrors.NewBadRequestError(err.Error())
		}
	}
	return doc, nil
}

// handleHealthz pings each dependency with the request context.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.health))
	for name, check := range s.health {
		if err := check(r.Context()); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	s.writeJSON(w, status, map[string]interface{}{"checks": checks})
}

// requireEventLock rejects lock addresses that are not configured event
// locks. Check-in surfaces never operate on membership tiers or arbitrary
// contracts.
func (s *Server) requireEventLock(lock string) error {
	if s.registry.Classify(lock) != models.LockKindEvent {
		return serrors.NewEventLockNotAllowedError(lock)
	}
	return nil
}

func stringField(doc map[string]interface{}, key string) string {
	v, _ := doc[key].(string)
	return v
}

func boolField(doc map[string]interface{}, key string) bool {
	v, _ := doc[key].(bool)
	return v
}
