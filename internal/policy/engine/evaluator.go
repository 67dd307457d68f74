package engine

import (
	"context"
	"time"

	"care-platform/backend/internal/account/domain"
)

// Scope limits what a session token may do.
type Scope string

const (
	ScopeFull           Scope = "full"
	ScopePasswordChange Scope = "password_change"
	ScopeMFAEnrollment  Scope = "mfa_enrollment"
)

// Action names an admin console operation.
type Action string

const (
	ActionListLocked        Action = "list_locked"
	ActionUnlock            Action = "unlock"
	ActionResetAttempts     Action = "reset_attempts"
	ActionResetMFA          Action = "reset_mfa"
	ActionSetMFARequirement Action = "set_mfa_requirement"
	ActionViewEvents        Action = "view_events"
	ActionViewKeys          Action = "view_keys"
	ActionRotateKeys        Action = "rotate_keys"
	ActionSweepKeys         Action = "sweep_keys"
)

// Evaluator decides session scopes and admin console authorization.
type Evaluator interface {
	// SessionScope returns the scope a new session for a should carry at now.
	SessionScope(ctx context.Context, a *domain.Account, now time.Time) Scope
	// Allow reports whether actor may perform action on target. target is nil for actions without one.
	// Errors deny.
	Allow(ctx context.Context, actor, target *domain.Account, action Action) bool
}

// DefaultSessionScope is the built-in scope rule, used when policy evaluation fails.
func DefaultSessionScope(a *domain.Account, now time.Time, grace time.Duration) Scope {
	switch {
	case a.ChangePasswordRequired:
		return ScopePasswordChange
	case a.MFARequired && !a.MFAEnabled && graceExpired(a, now, grace):
		return ScopeMFAEnrollment
	default:
		return ScopeFull
	}
}

func graceExpired(a *domain.Account, now time.Time, grace time.Duration) bool {
	if a.MFARequiredAt == nil {
		return true
	}
	return !now.Before(a.MFARequiredAt.Add(grace))
}
