package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"care-platform/backend/internal/signingkey/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a signing key repository backed by the signing_keys table.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) List(ctx context.Context) ([]*domain.Key, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, sealed_secret, status, created_at, grace_expires_at, retired_at
		FROM signing_keys ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Key
	for rows.Next() {
		var (
			k       domain.Key
			status  string
			grace   sql.NullTime
			retired sql.NullTime
		)
		if err := rows.Scan(&k.ID, &k.SealedSecret, &status, &k.CreatedAt, &grace, &retired); err != nil {
			return nil, err
		}
		k.Status = domain.Status(status)
		k.GraceExpiresAt = timePtr(grace)
		k.RetiredAt = timePtr(retired)
		out = append(out, &k)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Create(ctx context.Context, k *domain.Key) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO signing_keys (id, sealed_secret, status, created_at)
		VALUES ($1, $2, 'active', $3)`, k.ID, k.SealedSecret, k.CreatedAt)
	return mapUniqueViolation(err)
}

func (r *PostgresRepository) Rotate(ctx context.Context, next *domain.Key, graceExpiresAt time.Time) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var demoted string
	err = tx.QueryRowContext(ctx, `UPDATE signing_keys SET status = 'grace', grace_expires_at = $1
		WHERE status = 'active' RETURNING id`, graceExpiresAt).Scan(&demoted)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO signing_keys (id, sealed_secret, status, created_at)
		VALUES ($1, $2, 'active', $3)`, next.ID, next.SealedSecret, next.CreatedAt); err != nil {
		return "", mapUniqueViolation(err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return demoted, nil
}

func (r *PostgresRepository) RetireExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `UPDATE signing_keys
		SET status = 'retired', retired_at = $1, sealed_secret = '', grace_expires_at = NULL
		WHERE status = 'grace' AND grace_expires_at <= $1
		RETURNING id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrActiveKeyExists
	}
	return err
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
