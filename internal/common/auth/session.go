// internal/common/auth/session.go
package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"member-portal/internal/common/errors"
	"member-portal/internal/models"
)

// SessionVerifier turns a bearer token minted by the web frontend's session
// layer into a portal Session. The session layer itself is external; this
// is the narrow trust boundary the portal consumes it through.
type SessionVerifier interface {
	Verify(token string) (*models.Session, error)
}

type sessionClaims struct {
	Email         string   `json:"email"`
	EmailVerified bool     `json:"emailVerified"`
	Wallets       []string `json:"wallets"`
	IsAdmin       bool     `json:"isAdmin"`
	jwt.RegisteredClaims
}

type hmacVerifier struct {
	secret []byte
}

// NewHMACVerifier builds a SessionVerifier over an HS256 shared secret.
func NewHMACVerifier(secret string) SessionVerifier {
	return &hmacVerifier{secret: []byte(secret)}
}

func (v *hmacVerifier) Verify(token string) (*models.Session, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errors.NewUnauthorizedError("invalid session token")
	}
	if claims.Subject == "" {
		return nil, errors.NewUnauthorizedError("session token missing subject")
	}

	wallets := make([]string, 0, len(claims.Wallets))
	for _, w := range claims.Wallets {
		wallets = append(wallets, strings.ToLower(w))
	}

	return &models.Session{
		UserID:        claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Wallets:       wallets,
		IsAdmin:       claims.IsAdmin,
	}, nil
}
