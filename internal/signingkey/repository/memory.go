package repository

import (
	"context"
	"sync"
	"time"

	"care-platform/backend/internal/signingkey/domain"
)

// MemoryRepository keeps signing keys in process. Used without DATABASE_URL and in tests.
type MemoryRepository struct {
	mu   sync.Mutex
	keys []*domain.Key
}

// NewMemoryRepository returns an empty in-memory key store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) List(ctx context.Context) ([]*domain.Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Key, len(r.keys))
	for i, k := range r.keys {
		out[i] = clone(k)
	}
	return out, nil
}

func (r *MemoryRepository) Create(ctx context.Context, k *domain.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeLocked() != nil {
		return domain.ErrActiveKeyExists
	}
	c := clone(k)
	c.Status = domain.StatusActive
	c.Secret = nil
	r.keys = append(r.keys, c)
	return nil
}

func (r *MemoryRepository) Rotate(ctx context.Context, next *domain.Key, graceExpiresAt time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var demoted string
	if cur := r.activeLocked(); cur != nil {
		exp := graceExpiresAt
		cur.Status = domain.StatusGrace
		cur.GraceExpiresAt = &exp
		demoted = cur.ID
	}
	c := clone(next)
	c.Status = domain.StatusActive
	c.Secret = nil
	r.keys = append(r.keys, c)
	return demoted, nil
}

func (r *MemoryRepository) RetireExpired(ctx context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, k := range r.keys {
		if k.Status == domain.StatusGrace && k.GraceExpiresAt != nil && !k.GraceExpiresAt.After(now) {
			k.Retire(now)
			ids = append(ids, k.ID)
		}
	}
	return ids, nil
}

func (r *MemoryRepository) activeLocked() *domain.Key {
	for _, k := range r.keys {
		if k.Status == domain.StatusActive {
			return k
		}
	}
	return nil
}

func clone(k *domain.Key) *domain.Key {
	c := *k
	if k.GraceExpiresAt != nil {
		t := *k.GraceExpiresAt
		c.GraceExpiresAt = &t
	}
	if k.RetiredAt != nil {
		t := *k.RetiredAt
		c.RetiredAt = &t
	}
	if k.Secret != nil {
		c.Secret = append([]byte(nil), k.Secret...)
	}
	return &c
}
