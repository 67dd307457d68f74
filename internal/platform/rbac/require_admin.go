package rbac

import (
	"context"
	"errors"
	"fmt"

	"care-platform/backend/internal/account/domain"
	"care-platform/backend/internal/policy/engine"
	"care-platform/backend/internal/server/middleware"
)

// ErrUnauthorized is returned when the caller may not perform an admin console action.
var ErrUnauthorized = errors.New("not authorized for this operation")

// AccountGetter loads the calling account. Used by RequireAdmin to resolve role and superadmin flag.
type AccountGetter interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
}

// RequireAdmin ensures the caller is authenticated and that the access policy allows action on target.
// target is nil for actions without one. Returns the caller's account on success and ErrUnauthorized when
// the caller is anonymous, unknown, or denied.
func RequireAdmin(ctx context.Context, accounts AccountGetter, policy engine.Evaluator, action engine.Action, target *domain.Account) (*domain.Account, error) {
	id, ok := middleware.GetIdentity(ctx)
	if !ok {
		return nil, ErrUnauthorized
	}
	actor, err := accounts.GetByID(ctx, id.AccountID)
	if err != nil {
		return nil, fmt.Errorf("rbac: resolve caller: %w", err)
	}
	if actor == nil {
		return nil, ErrUnauthorized
	}
	if !policy.Allow(ctx, actor, target, action) {
		return actor, ErrUnauthorized
	}
	return actor, nil
}
