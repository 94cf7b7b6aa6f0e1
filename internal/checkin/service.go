// internal/checkin/service.go
package checkin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"member-portal/internal/chain"
	serrors "member-portal/internal/common/errors"
	"member-portal/internal/common/logger"
	"member-portal/internal/common/metrics"
	"member-portal/internal/models"
)

// Service issues QR tokens for key owners and records event check-ins. The
// token is a capability for the scan, not proof of validity: every check-in
// re-validates the key on chain at scan time.
type Service struct {
	issuer *TokenIssuer
	reader chain.Reader
	redis  *redis.Client
	logger logger.Logger
	now    func() time.Time
}

func NewService(issuer *TokenIssuer, reader chain.Reader, rdb *redis.Client, log logger.Logger) *Service {
	return &Service{
		issuer: issuer,
		reader: reader,
		redis:  rdb,
		logger: log.WithFields(map[string]interface{}{"component": "checkin"}),
		now:    time.Now,
	}
}

func checkinKey(lock string) string {
	return fmt.Sprintf("CHECKIN#%s", strings.ToLower(lock))
}

// IssueForOwner mints a token plus QR PNG for the owner's key on a lock.
// The owner must hold a currently valid key; an invalidated key reports
// RSVP_NOT_ACTIVE rather than handing out a scannable token.
func (s *Service) IssueForOwner(ctx context.Context, lock, owner, tokenID string) (string, []byte, error) {
	if tokenID == "" {
		id, err := s.reader.TokenOfOwner(ctx, lock, owner)
		if err != nil {
			return "", nil, serrors.NewRsvpNotActiveError(lock)
		}
		tokenID = id
	}

	valid, err := s.reader.IsValidKeyToken(ctx, lock, tokenID)
	if err != nil {
		return "", nil, serrors.NewChainUnavailableError(err)
	}
	if !valid {
		return "", nil, serrors.NewRsvpNotActiveError(lock)
	}

	token, err := s.issuer.Generate(lock, tokenID, owner)
	if err != nil {
		return "", nil, serrors.NewInternalError(err)
	}
	png, err := s.issuer.QRCode(token)
	if err != nil {
		return "", nil, serrors.NewInternalError(err)
	}
	return token, png, nil
}

// CheckInWithToken verifies a scanned QR token, re-validates the key on
// chain, and records the check-in.
func (s *Service) CheckInWithToken(ctx context.Context, qrToken, checkedInBy string) (*models.CheckinRecord, error) {
	claims, err := s.issuer.Verify(qrToken)
	if err != nil {
		return nil, serrors.NewForbiddenError(err.Error())
	}
	return s.record(ctx, claims.LockAddress, claims.TokenID, claims.OwnerAddress, checkedInBy, "qr")
}

// CheckInManual records a check-in from an explicit (lock, tokenId) pair
// typed in by an admin at the door.
func (s *Service) CheckInManual(ctx context.Context, lock, tokenID, checkedInBy string) (*models.CheckinRecord, error) {
	if tokenID == "" {
		return nil, serrors.NewBadRequestError("tokenId is required for manual check-in")
	}
	owner, err := s.reader.OwnerOfToken(ctx, lock, tokenID)
	if err != nil {
		return nil, serrors.NewBadRequestError(fmt.Sprintf("token %s not found on lock", tokenID))
	}
	return s.record(ctx, lock, tokenID, strings.ToLower(owner), checkedInBy, "manual")
}

func (s *Service) record(ctx context.Context, lock, tokenID, owner, checkedInBy, method string) (*models.CheckinRecord, error) {
	valid, err := s.reader.IsValidKeyToken(ctx, lock, tokenID)
	if err != nil {
		return nil, serrors.NewChainUnavailableError(err)
	}
	if !valid {
		return nil, serrors.NewRsvpNotActiveError(lock)
	}

	rec := &models.CheckinRecord{
		LockAddress:  strings.ToLower(lock),
		TokenID:      tokenID,
		OwnerAddress: owner,
		CheckedInBy:  checkedInBy,
		Method:       method,
		CheckedInAt:  s.now().UTC(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, serrors.NewInternalError(err)
	}
	if err := s.redis.HSet(ctx, checkinKey(lock), tokenID, raw).Err(); err != nil {
		return nil, serrors.NewInternalError(err)
	}

	metrics.Checkins.WithLabelValues(method).Inc()
	s.logger.Info("check-in recorded", map[string]interface{}{
		"lock":    rec.LockAddress,
		"tokenId": tokenID,
		"method":  method,
	})
	return rec, nil
}

// List returns all recorded check-ins for a lock.
func (s *Service) List(ctx context.Context, lock string) ([]models.CheckinRecord, error) {
	raw, err := s.redis.HGetAll(ctx, checkinKey(lock)).Result()
	if err != nil {
		return nil, serrors.NewInternalError(err)
	}

	records := make([]models.CheckinRecord, 0, len(raw))
	for tokenID, v := range raw {
		var rec models.CheckinRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			s.logger.Warn("corrupt check-in record skipped", map[string]interface{}{
				"lock":    lock,
				"tokenId": tokenID,
			})
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
