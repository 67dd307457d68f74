package repository

import (
	"context"
	"time"
)

// BackupCodeRepository persists hashed MFA backup codes.
type BackupCodeRepository interface {
	// Replace discards every code of the account and stores hashes as a fresh unused set.
	Replace(ctx context.Context, accountID string, hashes []string, at time.Time) error
	// Consume marks the unused code with codeHash as used. Returns false when no unused code matches.
	Consume(ctx context.Context, accountID, codeHash string, at time.Time) (bool, error)
	// CountRemaining returns the number of unused codes.
	CountRemaining(ctx context.Context, accountID string) (int, error)
	DeleteAll(ctx context.Context, accountID string) error
}
