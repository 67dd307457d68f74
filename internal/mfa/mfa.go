// Package mfa implements TOTP enrollment and verification plus single-use backup codes.
package mfa

import "errors"

var (
	// ErrInvalidMFACode is returned when a TOTP code is wrong, outside the window or replayed.
	ErrInvalidMFACode = errors.New("invalid code")
	// ErrInvalidBackupCode is returned when a backup code is unknown or already used.
	ErrInvalidBackupCode = errors.New("invalid code")
	// ErrMFAAlreadyEnabled is returned by BeginSetup and VerifySetup for enrolled accounts.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFANotEnabled is returned when verifying against an account without MFA.
	ErrMFANotEnabled = errors.New("mfa not enabled")
	// ErrSetupNotStarted is returned by VerifySetup when no pending secret exists.
	ErrSetupNotStarted = errors.New("mfa setup not started")
)
