package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"care-platform/backend/internal/mfa/domain"
)

// MemoryRepository keeps backup codes in process. Used without DATABASE_URL and in tests.
type MemoryRepository struct {
	mu    sync.Mutex
	codes map[string][]*domain.BackupCode
}

// NewMemoryRepository returns an empty in-memory backup code store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{codes: make(map[string][]*domain.BackupCode)}
}

func (r *MemoryRepository) Replace(ctx context.Context, accountID string, hashes []string, at time.Time) error {
	set := make([]*domain.BackupCode, 0, len(hashes))
	for _, h := range hashes {
		set = append(set, &domain.BackupCode{ID: uuid.NewString(), AccountID: accountID, CodeHash: h, CreatedAt: at})
	}
	r.mu.Lock()
	r.codes[accountID] = set
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Consume(ctx context.Context, accountID, codeHash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.codes[accountID] {
		if c.UsedAt == nil && c.CodeHash == codeHash {
			t := at
			c.UsedAt = &t
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) CountRemaining(ctx context.Context, accountID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.codes[accountID] {
		if c.UsedAt == nil {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) DeleteAll(ctx context.Context, accountID string) error {
	r.mu.Lock()
	delete(r.codes, accountID)
	r.mu.Unlock()
	return nil
}
