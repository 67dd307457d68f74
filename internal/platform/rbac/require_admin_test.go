package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"care-platform/backend/internal/account/domain"
	"care-platform/backend/internal/policy/engine"
	"care-platform/backend/internal/server/middleware"
)

// mockAccountGetter implements AccountGetter for tests.
type mockAccountGetter struct {
	accounts map[string]*domain.Account
	err      error
}

func (m *mockAccountGetter) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.accounts[id], nil
}

// stubPolicy allows only the listed (actor, action) pairs.
type stubPolicy struct {
	allow map[string]bool
}

func (p stubPolicy) SessionScope(ctx context.Context, a *domain.Account, now time.Time) engine.Scope {
	return engine.ScopeFull
}

func (p stubPolicy) Allow(ctx context.Context, actor, target *domain.Account, action engine.Action) bool {
	return p.allow[actor.ID+":"+string(action)]
}

func callerCtx(id string) context.Context {
	return middleware.WithIdentity(context.Background(), middleware.Identity{AccountID: id, Scope: "full"})
}

func TestRequireAdmin_Allowed(t *testing.T) {
	getter := &mockAccountGetter{accounts: map[string]*domain.Account{
		"admin-1": {ID: "admin-1", Role: domain.RoleAdmin},
	}}
	policy := stubPolicy{allow: map[string]bool{"admin-1:rotate_keys": true}}

	actor, err := RequireAdmin(callerCtx("admin-1"), getter, policy, engine.ActionRotateKeys, nil)
	if err != nil {
		t.Fatalf("RequireAdmin: %v", err)
	}
	if actor.ID != "admin-1" {
		t.Errorf("actor = %q, want %q", actor.ID, "admin-1")
	}
}

func TestRequireAdmin_Denied(t *testing.T) {
	getter := &mockAccountGetter{accounts: map[string]*domain.Account{
		"patient-1": {ID: "patient-1", Role: domain.RolePatient},
	}}
	actor, err := RequireAdmin(callerCtx("patient-1"), getter, stubPolicy{}, engine.ActionUnlock, &domain.Account{ID: "x"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if actor == nil || actor.ID != "patient-1" {
		t.Errorf("denied caller should still be returned for auditing, got %v", actor)
	}
}

func TestRequireAdmin_NoIdentity(t *testing.T) {
	getter := &mockAccountGetter{}
	if _, err := RequireAdmin(context.Background(), getter, stubPolicy{}, engine.ActionListLocked, nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestRequireAdmin_UnknownCaller(t *testing.T) {
	getter := &mockAccountGetter{accounts: map[string]*domain.Account{}}
	if _, err := RequireAdmin(callerCtx("ghost"), getter, stubPolicy{}, engine.ActionListLocked, nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestRequireAdmin_LookupError(t *testing.T) {
	getter := &mockAccountGetter{err: errors.New("db down")}
	_, err := RequireAdmin(callerCtx("admin-1"), getter, stubPolicy{}, engine.ActionListLocked, nil)
	if err == nil || errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want lookup error", err)
	}
}
