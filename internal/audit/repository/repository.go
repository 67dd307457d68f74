package repository

import (
	"context"

	"care-platform/backend/internal/audit/domain"
)

// Repository defines persistence for audit events. Events are append-only: there is no update or delete.
type Repository interface {
	Create(ctx context.Context, e *domain.Event) error
	List(ctx context.Context, f domain.Filter) ([]*domain.Event, error)
}
