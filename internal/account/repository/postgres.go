package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"care-platform/backend/internal/account/domain"
)

const accountColumns = `id, email, password_hash, role, is_superadmin,
	mfa_enabled, mfa_secret, mfa_required, mfa_required_at, mfa_last_step,
	failed_login_attempts, account_locked, lock_expires_at, last_failed_login,
	change_password_required, created_at, updated_at`

// PostgresRepository stores accounts in the accounts table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an account repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the account for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanOne(row)
}

// GetByEmail returns the account with the given email (case-insensitive), or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, strings.ToLower(email))
	return scanOne(row)
}

// Create inserts the account. The account must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO accounts (
		id, email, password_hash, role, is_superadmin, mfa_required, mfa_required_at,
		change_password_required, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, strings.ToLower(a.Email), a.PasswordHash, string(a.Role), a.IsSuperadmin,
		a.MFARequired, nullTime(a.MFARequiredAt), a.ChangePasswordRequired, a.CreatedAt, a.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrEmailTaken
	}
	return err
}

// ListLocked returns accounts whose lock is in force at now, most recent failure first.
func (r *PostgresRepository) ListLocked(ctx context.Context, now time.Time) ([]*domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE account_locked AND (lock_expires_at IS NULL OR lock_expires_at > $1)
		ORDER BY last_failed_login DESC NULLS LAST`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdatePassword replaces the password hash and the change-required flag.
func (r *PostgresRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changeRequired bool, at time.Time) error {
	return r.execOne(ctx, `UPDATE accounts SET password_hash = $2, change_password_required = $3, updated_at = $4 WHERE id = $1`,
		id, passwordHash, changeRequired, at)
}

// IncrementFailedAttempts runs the increment, threshold compare and lock as one statement.
// The CTE row lock serializes concurrent failures on the same account.
func (r *PostgresRepository) IncrementFailedAttempts(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (*domain.LockoutState, error) {
	row := r.db.QueryRowContext(ctx, `WITH prev AS (
			SELECT account_locked FROM accounts WHERE id = $1 FOR UPDATE
		)
		UPDATE accounts a SET
			failed_login_attempts = a.failed_login_attempts + 1,
			last_failed_login = $2,
			account_locked = a.account_locked OR a.failed_login_attempts + 1 >= $3,
			lock_expires_at = CASE
				WHEN NOT a.account_locked AND a.failed_login_attempts + 1 >= $3 THEN $4
				ELSE a.lock_expires_at END,
			updated_at = $2
		FROM prev
		WHERE a.id = $1
		RETURNING a.failed_login_attempts, a.account_locked, a.lock_expires_at, prev.account_locked`,
		id, now, threshold, lockUntil)
	var (
		st        domain.LockoutState
		expires   sql.NullTime
		wasLocked bool
	)
	if err := row.Scan(&st.FailedAttempts, &st.Locked, &expires, &wasLocked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	st.LockExpiresAt = timePtr(expires)
	st.LockedNow = st.Locked && !wasLocked
	return &st, nil
}

// ResetFailedAttempts zeroes the counter without touching the lock.
func (r *PostgresRepository) ResetFailedAttempts(ctx context.Context, id string, at time.Time) error {
	return r.execOne(ctx, `UPDATE accounts SET failed_login_attempts = 0, updated_at = $2 WHERE id = $1`, id, at)
}

// ClearExpiredLock clears a timed lock that has expired. Only one concurrent caller observes true.
func (r *PostgresRepository) ClearExpiredLock(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET
			account_locked = FALSE, lock_expires_at = NULL, failed_login_attempts = 0, updated_at = $2
		WHERE id = $1 AND account_locked AND lock_expires_at IS NOT NULL AND lock_expires_at <= $2`, id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Unlock clears the lock and the counter regardless of expiry.
func (r *PostgresRepository) Unlock(ctx context.Context, id string, at time.Time) error {
	return r.execOne(ctx, `UPDATE accounts SET
			account_locked = FALSE, lock_expires_at = NULL, failed_login_attempts = 0, updated_at = $2
		WHERE id = $1`, id, at)
}

// SetMFASecret stores a pending secret, leaving MFA disabled and resetting the replay step.
func (r *PostgresRepository) SetMFASecret(ctx context.Context, id, sealedSecret string, at time.Time) error {
	return r.execOne(ctx, `UPDATE accounts SET
			mfa_secret = $2, mfa_enabled = FALSE, mfa_last_step = NULL, updated_at = $3
		WHERE id = $1`, id, sealedSecret, at)
}

// EnableMFA marks MFA enabled. It only succeeds while the verified secret is the stored one.
func (r *PostgresRepository) EnableMFA(ctx context.Context, id, sealedSecret string, at time.Time) error {
	return r.execOne(ctx, `UPDATE accounts SET mfa_enabled = TRUE, updated_at = $2
		WHERE id = $1 AND mfa_secret = $3`, id, at, sealedSecret)
}

// DisableMFA clears the secret and the replay step and disables MFA.
func (r *PostgresRepository) DisableMFA(ctx context.Context, id string, at time.Time) error {
	return r.execOne(ctx, `UPDATE accounts SET
			mfa_enabled = FALSE, mfa_secret = NULL, mfa_last_step = NULL, updated_at = $2
		WHERE id = $1`, id, at)
}

// SetMFARequired sets the policy flag. mfa_required_at keeps the first time the flag was set.
func (r *PostgresRepository) SetMFARequired(ctx context.Context, id string, required bool, at time.Time) error {
	return r.execOne(ctx, `UPDATE accounts SET
			mfa_required = $2,
			mfa_required_at = CASE WHEN $2 THEN COALESCE(mfa_required_at, $3) ELSE NULL END,
			updated_at = $3
		WHERE id = $1`, id, required, at)
}

// AdvanceMFAStep moves mfa_last_step forward to step. Returns false if step is not newer.
func (r *PostgresRepository) AdvanceMFAStep(ctx context.Context, id string, step int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET mfa_last_step = $2
		WHERE id = $1 AND (mfa_last_step IS NULL OR mfa_last_step < $2)`, id, step)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*domain.Account, error) {
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func scanAccount(s scanner) (*domain.Account, error) {
	var (
		a           domain.Account
		role        string
		secret      sql.NullString
		requiredAt  sql.NullTime
		lockExpires sql.NullTime
		lastFail    sql.NullTime
		lastStep    sql.NullInt64
	)
	err := s.Scan(&a.ID, &a.Email, &a.PasswordHash, &role, &a.IsSuperadmin,
		&a.MFAEnabled, &secret, &a.MFARequired, &requiredAt, &lastStep,
		&a.FailedLoginAttempts, &a.AccountLocked, &lockExpires, &lastFail,
		&a.ChangePasswordRequired, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Role = domain.Role(role)
	a.MFASecret = secret.String
	a.MFARequiredAt = timePtr(requiredAt)
	a.LockExpiresAt = timePtr(lockExpires)
	a.LastFailedLogin = timePtr(lastFail)
	if lastStep.Valid {
		v := lastStep.Int64
		a.MFALastStep = &v
	}
	return &a, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
