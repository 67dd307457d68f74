package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"care-platform/backend/internal/account/domain"
)

// MemoryRepository is an in-process account store for development (no DATABASE_URL) and tests.
// A single mutex serializes every mutation, which gives the same atomicity as the SQL statements.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Account
	byEmail map[string]string
}

// NewMemoryRepository returns an empty in-memory account store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*domain.Account),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return cloneAccount(a), nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	return cloneAccount(r.byID[id]), nil
}

func (r *MemoryRepository) Create(ctx context.Context, a *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := strings.ToLower(a.Email)
	if _, ok := r.byEmail[email]; ok {
		return domain.ErrEmailTaken
	}
	c := cloneAccount(a)
	c.Email = email
	r.byID[c.ID] = c
	r.byEmail[email] = c.ID
	return nil
}

func (r *MemoryRepository) ListLocked(ctx context.Context, now time.Time) ([]*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Account
	for _, a := range r.byID {
		if a.LockedAt(now) {
			out = append(out, cloneAccount(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].LastFailedLogin, out[j].LastFailedLogin
		if li == nil || lj == nil {
			return lj == nil && li != nil
		}
		return li.After(*lj)
	})
	return out, nil
}

func (r *MemoryRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changeRequired bool, at time.Time) error {
	return r.mutate(id, func(a *domain.Account) {
		a.PasswordHash = passwordHash
		a.ChangePasswordRequired = changeRequired
		a.UpdatedAt = at
	})
}

func (r *MemoryRepository) IncrementFailedAttempts(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (*domain.LockoutState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	wasLocked := a.AccountLocked
	a.FailedLoginAttempts++
	t := now
	a.LastFailedLogin = &t
	a.UpdatedAt = now
	if !wasLocked && a.FailedLoginAttempts >= threshold {
		u := lockUntil
		a.AccountLocked = true
		a.LockExpiresAt = &u
	}
	st := &domain.LockoutState{
		FailedAttempts: a.FailedLoginAttempts,
		Locked:         a.AccountLocked,
		LockedNow:      a.AccountLocked && !wasLocked,
	}
	if a.LockExpiresAt != nil {
		v := *a.LockExpiresAt
		st.LockExpiresAt = &v
	}
	return st, nil
}

func (r *MemoryRepository) ResetFailedAttempts(ctx context.Context, id string, at time.Time) error {
	return r.mutate(id, func(a *domain.Account) {
		a.FailedLoginAttempts = 0
		a.UpdatedAt = at
	})
}

func (r *MemoryRepository) ClearExpiredLock(ctx context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok || !a.LockExpired(now) {
		return false, nil
	}
	a.AccountLocked = false
	a.LockExpiresAt = nil
	a.FailedLoginAttempts = 0
	a.UpdatedAt = now
	return true, nil
}

func (r *MemoryRepository) Unlock(ctx context.Context, id string, at time.Time) error {
	return r.mutate(id, func(a *domain.Account) {
		a.AccountLocked = false
		a.LockExpiresAt = nil
		a.FailedLoginAttempts = 0
		a.UpdatedAt = at
	})
}

func (r *MemoryRepository) SetMFASecret(ctx context.Context, id, sealedSecret string, at time.Time) error {
	return r.mutate(id, func(a *domain.Account) {
		a.MFASecret = sealedSecret
		a.MFAEnabled = false
		a.MFALastStep = nil
		a.UpdatedAt = at
	})
}

func (r *MemoryRepository) EnableMFA(ctx context.Context, id, sealedSecret string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok || a.MFASecret == "" || a.MFASecret != sealedSecret {
		return domain.ErrNotFound
	}
	a.MFAEnabled = true
	a.UpdatedAt = at
	return nil
}

func (r *MemoryRepository) DisableMFA(ctx context.Context, id string, at time.Time) error {
	return r.mutate(id, func(a *domain.Account) {
		a.MFAEnabled = false
		a.MFASecret = ""
		a.MFALastStep = nil
		a.UpdatedAt = at
	})
}

func (r *MemoryRepository) SetMFARequired(ctx context.Context, id string, required bool, at time.Time) error {
	return r.mutate(id, func(a *domain.Account) {
		a.MFARequired = required
		switch {
		case !required:
			a.MFARequiredAt = nil
		case a.MFARequiredAt == nil:
			t := at
			a.MFARequiredAt = &t
		}
		a.UpdatedAt = at
	})
}

func (r *MemoryRepository) AdvanceMFAStep(ctx context.Context, id string, step int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if a.MFALastStep != nil && *a.MFALastStep >= step {
		return false, nil
	}
	s := step
	a.MFALastStep = &s
	return true, nil
}

func (r *MemoryRepository) mutate(id string, fn func(a *domain.Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(a)
	return nil
}

func cloneAccount(a *domain.Account) *domain.Account {
	c := *a
	c.MFARequiredAt = cloneTime(a.MFARequiredAt)
	c.LockExpiresAt = cloneTime(a.LockExpiresAt)
	c.LastFailedLogin = cloneTime(a.LastFailedLogin)
	if a.MFALastStep != nil {
		v := *a.MFALastStep
		c.MFALastStep = &v
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
