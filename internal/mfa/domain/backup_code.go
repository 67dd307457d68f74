package domain

import "time"

// BackupCode is one single-use recovery code. Only its hash is stored.
type BackupCode struct {
	ID        string
	AccountID string
	CodeHash  string
	CreatedAt time.Time
	UsedAt    *time.Time
}
