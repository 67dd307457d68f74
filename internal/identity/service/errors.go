package service

import (
	"errors"

	"care-platform/backend/internal/policy/engine"
)

// Sentinel errors for the authenticator; the HTTP layer maps them to status codes.
var (
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrAccountLocked          = errors.New("account temporarily locked")
	ErrMFARequired            = errors.New("mfa enrollment required")
	ErrPasswordChangeRequired = errors.New("password change required")
	ErrChallengeExpired       = errors.New("invalid code")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidInput           = errors.New("invalid input")
	ErrRoleNotSelfRegistrable = errors.New("role cannot be self-registered")
)

// CheckScope returns nil when scope is one of allowed. A restricted scope maps to the error naming what the
// account must do first.
func CheckScope(scope string, allowed ...engine.Scope) error {
	if scope == "" {
		scope = string(engine.ScopeFull)
	}
	for _, s := range allowed {
		if string(s) == scope {
			return nil
		}
	}
	switch engine.Scope(scope) {
	case engine.ScopePasswordChange:
		return ErrPasswordChangeRequired
	case engine.ScopeMFAEnrollment:
		return ErrMFARequired
	}
	return ErrMFARequired
}
