// internal/checkin/qr.go
package checkin

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"member-portal/internal/models"
)

// ErrTokenExpired means the token's issuance timestamp is past the maximum
// age. Distinct from a bad signature so callers can tell a user to refresh
// their QR instead of treating it as tampering.
var ErrTokenExpired = errors.New("check-in token expired")

// ErrBadSignature means the token failed HMAC verification.
var ErrBadSignature = errors.New("check-in token signature invalid")

// allowedClockSkew tolerates scanner devices slightly ahead of the server.
const allowedClockSkew = 30 * time.Second

// TokenIssuer mints and verifies the stateless check-in capability tokens.
// A token binds (lock, tokenId, owner, issuedAt) under HMAC-SHA256; nothing
// is stored server-side.
type TokenIssuer struct {
	secret   []byte
	maxAge   time.Duration
	qrPixels int
	now      func() time.Time
}

func NewTokenIssuer(secret string, maxAge time.Duration, qrPixels int) *TokenIssuer {
	if qrPixels <= 0 {
		qrPixels = 512
	}
	return &TokenIssuer{
		secret:   []byte(secret),
		maxAge:   maxAge,
		qrPixels: qrPixels,
		now:      time.Now,
	}
}

// Generate mints a token for the given key. Format:
// base64url(claims JSON) "." base64url(HMAC-SHA256(payload)).
func (i *TokenIssuer) Generate(lock, tokenID, owner string) (string, error) {
	claims := models.CheckinClaims{
		LockAddress:  strings.ToLower(lock),
		TokenID:      tokenID,
		OwnerAddress: strings.ToLower(owner),
		IssuedAt:     i.now().Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + i.sign(encoded), nil
}

// QRCode renders a token as a PNG.
func (i *TokenIssuer) QRCode(token string) ([]byte, error) {
	png, err := qrcode.Encode(token, qrcode.Medium, i.qrPixels)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// Verify checks signature first, then age. Any mutation of the token fails
// as ErrBadSignature; an authentic but old token fails as ErrTokenExpired.
func (i *TokenIssuer) Verify(token string) (*models.CheckinClaims, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrBadSignature
	}
	if !hmac.Equal([]byte(i.sign(encoded)), []byte(sig)) {
		return nil, ErrBadSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrBadSignature
	}
	var claims models.CheckinClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrBadSignature
	}

	issued := time.Unix(claims.IssuedAt, 0)
	now := i.now()
	if issued.After(now.Add(allowedClockSkew)) {
		return nil, ErrBadSignature
	}
	if now.Sub(issued) > i.maxAge {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

func (i *TokenIssuer) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
