// internal/models/checkin.go
package models

import "time"

// CheckinClaims is the decoded content of a signed check-in QR token.
// The token is a stateless capability: it proves who the QR was issued to,
// not that the key is still valid at scan time.
type CheckinClaims struct {
	LockAddress  string `json:"lock"`
	TokenID      string `json:"token"`
	OwnerAddress string `json:"owner"`
	IssuedAt     int64  `json:"iat"`
}

// CheckinRecord is a persisted event check-in (manual or QR-scanned).
type CheckinRecord struct {
	LockAddress  string    `json:"lockAddress"`
	TokenID      string    `json:"tokenId"`
	OwnerAddress string    `json:"ownerAddress"`
	CheckedInBy  string    `json:"checkedInBy"`
	Method       string    `json:"method"` // "qr" or "manual"
	CheckedInAt  time.Time `json:"checkedInAt"`
}
