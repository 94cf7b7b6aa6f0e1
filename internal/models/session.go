// internal/models/session.go
package models

// Session is the identity the portal trusts for a request. It is produced
// by the external session layer (signed token) and consumed read-only here.
type Session struct {
	UserID        string   `json:"userId"`
	Email         string   `json:"email"`
	EmailVerified bool     `json:"emailVerified"`
	Wallets       []string `json:"wallets"` // lower-cased linked wallet addresses
	IsAdmin       bool     `json:"isAdmin"`
}

// HasWallet reports whether addr (lower-cased) is linked to this session.
func (s *Session) HasWallet(addr string) bool {
	for _, w := range s.Wallets {
		if w == addr {
			return true
		}
	}
	return false
}

// PrimaryWallet returns the first linked wallet, or "" when none is linked.
func (s *Session) PrimaryWallet() string {
	if len(s.Wallets) == 0 {
		return ""
	}
	return s.Wallets[0]
}
