package repository

import (
	"context"
	"sort"
	"sync"

	"care-platform/backend/internal/audit/domain"
)

// MemoryRepository keeps audit events in process. Used without DATABASE_URL and in tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	events []*domain.Event
}

// NewMemoryRepository returns an empty in-memory audit store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(ctx context.Context, e *domain.Event) error {
	c := *e
	r.mu.Lock()
	r.events = append(r.events, &c)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, f domain.Filter) ([]*domain.Event, error) {
	r.mu.RLock()
	var matched []*domain.Event
	for _, e := range r.events {
		if matches(e, f) {
			c := *e
			matched = append(matched, &c)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	limit, offset := pageBounds(f)
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Events returns every stored event in insertion order.
func (r *MemoryRepository) Events() []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Event, len(r.events))
	for i, e := range r.events {
		out[i] = *e
	}
	return out
}

func matches(e *domain.Event, f domain.Filter) bool {
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.EventType != "" && e.Type != f.EventType {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID && e.TargetUserID != f.UserID {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}
