package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when no account matches.
var ErrNotFound = errors.New("account not found")

// ErrEmailTaken is returned by Create when the email is already registered.
var ErrEmailTaken = errors.New("email already registered")

// Role is the platform role of an account.
type Role string

const (
	RolePatient           Role = "patient"
	RoleProvider          Role = "provider"
	RoleAdmin             Role = "admin"
	RolePracticeManager   Role = "practice_manager"
	RoleBilling           Role = "billing"
	RoleIntakeCoordinator Role = "intake_coordinator"
	RoleITSupport         Role = "it_support"
	RoleMarketing         Role = "marketing"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleProvider, RoleAdmin, RolePracticeManager, RoleBilling,
		RoleIntakeCoordinator, RoleITSupport, RoleMarketing:
		return true
	}
	return false
}

// MFAState is the enrollment state derived from the MFA fields.
type MFAState string

const (
	MFAStateUnenrolled          MFAState = "unenrolled"
	MFAStatePendingVerification MFAState = "pending_verification"
	MFAStateEnrolled            MFAState = "enrolled"
)

// Account is the identity and security state of a platform user.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	IsSuperadmin bool

	MFAEnabled    bool
	MFASecret     string // sealed; never serialized to clients
	MFARequired   bool
	MFARequiredAt *time.Time
	MFALastStep   *int64 // last accepted TOTP step

	FailedLoginAttempts int
	AccountLocked       bool
	LockExpiresAt       *time.Time // nil while locked means permanent
	LastFailedLogin     *time.Time

	ChangePasswordRequired bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Validate validates the account for persistence. Returns an error describing the first validation failure.
func (a *Account) Validate() error {
	if a.ID == "" {
		return errors.New("id is required")
	}
	if a.Email == "" {
		return errors.New("email is required")
	}
	if a.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if !a.Role.Valid() {
		return errors.New("invalid role")
	}
	if a.MFAEnabled && a.MFASecret == "" {
		return errors.New("mfa enabled without secret")
	}
	return nil
}

// LockedAt reports whether the account is locked at now. An expired lock reports false.
func (a *Account) LockedAt(now time.Time) bool {
	if !a.AccountLocked {
		return false
	}
	return a.LockExpiresAt == nil || now.Before(*a.LockExpiresAt)
}

// LockExpired reports whether the account carries a timed lock whose expiry has passed.
func (a *Account) LockExpired(now time.Time) bool {
	return a.AccountLocked && a.LockExpiresAt != nil && !now.Before(*a.LockExpiresAt)
}

// MFAState returns the enrollment state.
func (a *Account) MFAState() MFAState {
	switch {
	case a.MFAEnabled:
		return MFAStateEnrolled
	case a.MFASecret != "":
		return MFAStatePendingVerification
	default:
		return MFAStateUnenrolled
	}
}

// IsPrivileged reports whether the account administers the platform.
func (a *Account) IsPrivileged() bool {
	return a.IsSuperadmin || a.Role == RoleAdmin
}

// LockoutState is the result of an atomic failed-attempt increment.
type LockoutState struct {
	FailedAttempts int
	Locked         bool
	LockExpiresAt  *time.Time

	// LockedNow is true when this increment transitioned the account into the locked state.
	LockedNow bool
}
