package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a backup code repository backed by the mfa_backup_codes table.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Replace(ctx context.Context, accountID string, hashes []string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE account_id = $1`, accountID); err != nil {
		return err
	}
	for _, h := range hashes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO mfa_backup_codes (id, account_id, code_hash, created_at)
			VALUES ($1, $2, $3, $4)`, uuid.NewString(), accountID, h, at); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PostgresRepository) Consume(ctx context.Context, accountID, codeHash string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE mfa_backup_codes SET used_at = $3
		WHERE id = (
			SELECT id FROM mfa_backup_codes
			WHERE account_id = $1 AND code_hash = $2 AND used_at IS NULL
			LIMIT 1 FOR UPDATE SKIP LOCKED
		) AND used_at IS NULL`, accountID, codeHash, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepository) CountRemaining(ctx context.Context, accountID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM mfa_backup_codes
		WHERE account_id = $1 AND used_at IS NULL`, accountID).Scan(&n)
	return n, err
}

func (r *PostgresRepository) DeleteAll(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE account_id = $1`, accountID)
	return err
}
