// Package errors provides standardized error handling for the member portal.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized machine-readable error codes.
type ErrorCode string

const (
	// Validation errors — never retried automatically.
	ErrCodeInvalidAddress      ErrorCode = "INVALID_ADDRESS"
	ErrCodeMissingTokenID      ErrorCode = "MISSING_TOKEN_ID"
	ErrCodeNoWallet            ErrorCode = "NO_WALLET"
	ErrCodeRecipientNotLinked  ErrorCode = "RECIPIENT_NOT_LINKED"
	ErrCodeEventLockNotAllowed ErrorCode = "EVENT_LOCK_NOT_ALLOWED"
	ErrCodeEventNotFree        ErrorCode = "EVENT_NOT_FREE"
	ErrCodeBadRequest          ErrorCode = "BAD_REQUEST"

	// Authorization errors — actionable detail included.
	ErrCodeEmailNotVerified  ErrorCode = "EMAIL_NOT_VERIFIED"
	ErrCodeNotKeyOwner       ErrorCode = "NOT_KEY_OWNER"
	ErrCodeRsvpNotActive     ErrorCode = "RSVP_NOT_ACTIVE"
	ErrCodeSponsorNotManager ErrorCode = "SPONSOR_NOT_MANAGER"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden         ErrorCode = "FORBIDDEN"

	// Concurrency contention errors — retryable with backoff.
	ErrCodeSponsorBusy      ErrorCode = "SPONSOR_BUSY"
	ErrCodeSponsorRateLimit ErrorCode = "SPONSOR_RATE_LIMIT"

	// Transient infrastructure errors.
	ErrCodeChainUnavailable    ErrorCode = "CHAIN_UNAVAILABLE"
	ErrCodeSubgraphUnavailable ErrorCode = "SUBGRAPH_UNAVAILABLE"

	// Fatal configuration errors — fail the operation, never the process.
	ErrCodeSponsorNotConfigured ErrorCode = "SPONSOR_NOT_CONFIGURED"
	ErrCodeTierPriceUnavailable ErrorCode = "TIER_PRICE_UNAVAILABLE"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"-"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// AsStandard extracts a *StandardError from an error chain, or nil.
func AsStandard(err error) *StandardError {
	var se *StandardError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// ==========================
// 2. Error Constructors
// ==========================

// NewInvalidAddressError creates a non-retryable validation error.
func NewInvalidAddressError(addr string) *StandardError {
	return &StandardError{
		Code:       ErrCodeInvalidAddress,
		Message:    "Invalid wallet or lock address",
		Details:    addr,
		Retryable:  false,
		HTTPStatus: http.StatusBadRequest,
		Timestamp:  time.Now().UTC(),
	}
}

// NewBadRequestError creates a non-retryable request parsing error.
func NewBadRequestError(details string) *StandardError {
	return &StandardError{
		Code:       ErrCodeBadRequest,
		Message:    "Request body failed validation",
		Details:    details,
		Retryable:  false,
		HTTPStatus: http.StatusBadRequest,
		Timestamp:  time.Now().UTC(),
	}
}

// NewNoWalletError signals that the session has no linked wallet.
func NewNoWalletError() *StandardError {
	return &StandardError{
		Code:       ErrCodeNoWallet,
		Message:    "No wallet linked to this account",
		Retryable:  false,
		HTTPStatus: http.StatusBadRequest,
		Timestamp:  time.Now().UTC(),
	}
}

// NewRecipientNotLinkedError signals the target wallet is not the caller's.
func NewRecipientNotLinkedError(recipient string) *StandardError {
	return &StandardError{
		Code:       ErrCodeRecipientNotLinked,
		Message:    "Recipient wallet is not linked to this account",
		Details:    recipient,
		Retryable:  false,
		HTTPStatus: http.StatusForbidden,
		Timestamp:  time.Now().UTC(),
	}
}

// NewEventLockNotAllowedError rejects a lock outside the event allow-list.
func NewEventLockNotAllowedError(lock string) *StandardError {
	return &StandardError{
		Code:       ErrCodeEventLockNotAllowed,
		Message:    "Lock is not an allow-listed event lock",
		Details:    lock,
		Retryable:  false,
		HTTPStatus: http.StatusBadRequest,
		Timestamp:  time.Now().UTC(),
	}
}

// NewEventNotFreeError tells the caller to fall back to wallet-paid checkout.
func NewEventNotFreeError(lock string) *StandardError {
	return &StandardError{
		Code:       ErrCodeEventNotFree,
		Message:    "Event requires payment; use wallet checkout",
		Details:    lock,
		Retryable:  false,
		HTTPStatus: http.StatusBadRequest,
		Timestamp:  time.Now().UTC(),
	}
}

// NewEmailNotVerifiedError blocks sponsored actions for unverified accounts.
func NewEmailNotVerifiedError() *StandardError {
	return &StandardError{
		Code:       ErrCodeEmailNotVerified,
		Message:    "A verified email address is required for this action",
		Retryable:  false,
		HTTPStatus: http.StatusForbidden,
		Timestamp:  time.Now().UTC(),
	}
}

// NewNotKeyOwnerError signals the caller does not own the claimed key.
func NewNotKeyOwnerError(lock, tokenID string) *StandardError {
	return &StandardError{
		Code:       ErrCodeNotKeyOwner,
		Message:    "Caller does not own this key",
		Details:    fmt.Sprintf("lock: %s, tokenId: %s", lock, tokenID),
		Retryable:  false,
		HTTPStatus: http.StatusForbidden,
		Timestamp:  time.Now().UTC(),
	}
}

// NewRsvpNotActiveError signals the key has since been invalidated.
func NewRsvpNotActiveError(lock string) *StandardError {
	return &StandardError{
		Code:       ErrCodeRsvpNotActive,
		Message:    "RSVP key is no longer valid",
		Details:    lock,
		Retryable:  false,
		HTTPStatus: http.StatusForbidden,
		Timestamp:  time.Now().UTC(),
	}
}

// NewSponsorNotManagerError carries the sponsor address so an operator can
// grant it lock-manager rights.
func NewSponsorNotManagerError(sponsorAddress, lock string) *StandardError {
	return &StandardError{
		Code:       ErrCodeSponsorNotManager,
		Message:    "Sponsor wallet is not a manager of this lock",
		Details:    fmt.Sprintf("lock: %s", lock),
		Retryable:  false,
		HTTPStatus: http.StatusInternalServerError,
		Metadata:   map[string]interface{}{"sponsorAddress": sponsorAddress},
		Timestamp:  time.Now().UTC(),
	}
}

// NewUnauthorizedError creates an authentication failure.
func NewUnauthorizedError(details string) *StandardError {
	return &StandardError{
		Code:       ErrCodeUnauthorized,
		Message:    "Authentication required",
		Details:    details,
		Retryable:  false,
		HTTPStatus: http.StatusUnauthorized,
		Timestamp:  time.Now().UTC(),
	}
}

// NewForbiddenError creates an authorization failure.
func NewForbiddenError(details string) *StandardError {
	return &StandardError{
		Code:       ErrCodeForbidden,
		Message:    "Not allowed",
		Details:    details,
		Retryable:  false,
		HTTPStatus: http.StatusForbidden,
		Timestamp:  time.Now().UTC(),
	}
}

// NewSponsorBusyError is the fail-fast rejection while a nonce lease is held.
func NewSponsorBusyError() *StandardError {
	return &StandardError{
		Code:       ErrCodeSponsorBusy,
		Message:    "Another sponsored transaction is in flight; retry shortly",
		Retryable:  true,
		HTTPStatus: http.StatusTooManyRequests,
		Timestamp:  time.Now().UTC(),
	}
}

// NewSponsorRateLimitError signals the daily sponsored-transaction cap.
func NewSponsorRateLimitError(scope string) *StandardError {
	return &StandardError{
		Code:       ErrCodeSponsorRateLimit,
		Message:    "Daily sponsored transaction limit reached",
		Details:    scope,
		Retryable:  true,
		HTTPStatus: http.StatusTooManyRequests,
		Timestamp:  time.Now().UTC(),
	}
}

// NewChainUnavailableError wraps a total provider outage.
func NewChainUnavailableError(err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &StandardError{
		Code:       ErrCodeChainUnavailable,
		Message:    "Chain RPC is unavailable",
		Details:    details,
		Retryable:  true,
		HTTPStatus: http.StatusServiceUnavailable,
		Timestamp:  time.Now().UTC(),
	}
}

// NewSponsorNotConfiguredError identifies missing sponsor configuration.
func NewSponsorNotConfiguredError(missing string) *StandardError {
	return &StandardError{
		Code:       ErrCodeSponsorNotConfigured,
		Message:    "Sponsored transactions are not configured",
		Details:    missing,
		Retryable:  false,
		HTTPStatus: http.StatusInternalServerError,
		Timestamp:  time.Now().UTC(),
	}
}

// NewTierPriceUnavailableError rejects auto-renew math on a zero price.
func NewTierPriceUnavailableError(tier string) *StandardError {
	return &StandardError{
		Code:       ErrCodeTierPriceUnavailable,
		Message:    "Tier price unavailable",
		Details:    tier,
		Retryable:  false,
		HTTPStatus: http.StatusBadGateway,
		Timestamp:  time.Now().UTC(),
	}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &StandardError{
		Code:       ErrCodeInternal,
		Message:    "Internal error",
		Details:    details,
		Retryable:  false,
		HTTPStatus: http.StatusInternalServerError,
		Timestamp:  time.Now().UTC(),
	}
}
