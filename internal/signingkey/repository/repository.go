package repository

import (
	"context"
	"time"

	"care-platform/backend/internal/signingkey/domain"
)

// Repository persists signing keys in sealed form. Implementations never see plaintext secrets.
type Repository interface {
	// List returns every key, retired ones included, oldest first.
	List(ctx context.Context) ([]*domain.Key, error)
	// Create stores a new active key. Returns domain.ErrActiveKeyExists if one is already active.
	Create(ctx context.Context, k *domain.Key) error
	// Rotate demotes the current active key to grace (expiring at graceExpiresAt) and stores next as active,
	// atomically. Returns the demoted key id ("" if there was none).
	Rotate(ctx context.Context, next *domain.Key, graceExpiresAt time.Time) (string, error)
	// RetireExpired retires every grace key whose expiry is at or before now and returns their ids.
	RetireExpired(ctx context.Context, now time.Time) ([]string, error)
}
