package repository

import (
	"context"
	"time"

	"care-platform/backend/internal/account/domain"
)

// Repository defines persistence for accounts.
// Getters return (nil, nil) when no row matches; mutations return domain.ErrNotFound.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	Create(ctx context.Context, a *domain.Account) error
	ListLocked(ctx context.Context, now time.Time) ([]*domain.Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, changeRequired bool, at time.Time) error

	// IncrementFailedAttempts adds one failed attempt and locks the account until lockUntil when the
	// new count reaches threshold. The read, increment and compare are a single atomic unit.
	IncrementFailedAttempts(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (*domain.LockoutState, error)
	ResetFailedAttempts(ctx context.Context, id string, at time.Time) error
	// ClearExpiredLock unlocks the account only if its timed lock expired at or before now.
	// Returns true for the caller whose update cleared the lock.
	ClearExpiredLock(ctx context.Context, id string, now time.Time) (bool, error)
	Unlock(ctx context.Context, id string, at time.Time) error

	SetMFASecret(ctx context.Context, id, sealedSecret string, at time.Time) error
	// EnableMFA enables MFA only while sealedSecret is still the stored secret.
	EnableMFA(ctx context.Context, id, sealedSecret string, at time.Time) error
	DisableMFA(ctx context.Context, id string, at time.Time) error
	SetMFARequired(ctx context.Context, id string, required bool, at time.Time) error
	// AdvanceMFAStep records step as the last accepted TOTP step if it is newer than the stored one.
	// Returns false when the step was already used (replay).
	AdvanceMFAStep(ctx context.Context, id string, step int64) (bool, error)
}
