package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Abuse-control errors. Quota failures are deliberately distinct from
	// credential failures so clients can render a retry-later message.
	// ErrInvalidCredentials covers both "no such account" and "wrong password".
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimitExceeded  = errors.New("too many attempts, please try again later")
	ErrTooManyAttempts    = errors.New("too many verification attempts")
	ErrIPBlocked          = errors.New("access denied")
	ErrMaliciousInput     = errors.New("request rejected")

	// Account state errors
	ErrAccountDisabled  = errors.New("account is disabled")
	ErrAccountSuspended = errors.New("account is suspended")
)
