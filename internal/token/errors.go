package token

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialUnavailable means no credential has been seeded yet.
	// Brokerage calls fail until the admin flow completes an OAuth exchange.
	ErrCredentialUnavailable = errors.New("credential unavailable: account not seeded")

	// ErrRefreshTokenExpired means the refresh token itself has lapsed.
	// Terminal until a human re-runs the interactive OAuth flow.
	ErrRefreshTokenExpired = errors.New("refresh token expired: interactive re-auth required")
)

// TransientError marks an OAuth exchange failure worth retrying, such as a
// network error or a 5xx from the token endpoint. Anything else (invalid or
// rotated refresh token) is permanent and surfaces immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient oauth exchange error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable exchange failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
