package service

import (
	"errors"
	"fmt"
	"time"
)

// Authentication outcomes.  They are ordinary error values so callers
// branch on them with errors.Is; anything else returned by this package is
// a storage or infrastructure fault.
var (
	// ErrInvalidCredentials hides whether the identifier or the password was
	// wrong, to avoid account enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("rate limited")
	// ErrInvalidToken covers unknown ids, secret mismatches and replays of
	// already rotated tokens.
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrInvalidSession  = errors.New("invalid session")
	ErrCSRFMismatch    = errors.New("csrf token mismatch")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidInput    = errors.New("invalid input")
	ErrConflict        = errors.New("conflict")
)

// RateLimitedError carries the wait before the next attempt is admitted.
type RateLimitedError struct {
	RetryAfter time.Duration
	Seconds    int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.Seconds)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// IsAuthFailure reports whether err is one of the authentication outcomes
// above rather than a fault.
func IsAuthFailure(err error) bool {
	for _, target := range []error{
		ErrInvalidCredentials, ErrRateLimited, ErrInvalidToken, ErrTokenExpired,
		ErrInvalidSession, ErrCSRFMismatch, ErrForbidden, ErrUnauthenticated,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
