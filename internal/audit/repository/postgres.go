package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"care-platform/backend/internal/audit/domain"
)

// DefaultListLimit and MaxListLimit bound List page sizes.
const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit event repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the event. The event must have ID and Timestamp set.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Event) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO security_events (
		id, event_type, severity, outcome, user_id, target_user_id, message, ip_address, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, string(e.Type), string(e.Severity), string(e.Outcome),
		nullString(e.UserID), nullString(e.TargetUserID), e.Message, e.IPAddress, e.Timestamp)
	return err
}

// List returns events matching f, newest first.
func (r *PostgresRepository) List(ctx context.Context, f domain.Filter) ([]*domain.Event, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if f.EventType != "" {
		add("event_type = $%d", string(f.EventType))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		n := len(args)
		where = append(where, fmt.Sprintf("(user_id = $%d OR target_user_id = $%d)", n, n))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	q := `SELECT id, event_type, severity, outcome, user_id, target_user_id, message, ip_address, created_at
		FROM security_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit, offset := pageBounds(f)
	args = append(args, limit, offset)
	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Event
	for rows.Next() {
		var (
			e              domain.Event
			typ, sev, outc string
			uid, target    sql.NullString
		)
		if err := rows.Scan(&e.ID, &typ, &sev, &outc, &uid, &target, &e.Message, &e.IPAddress, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(typ)
		e.Severity = domain.Severity(sev)
		e.Outcome = domain.Outcome(outc)
		e.UserID = uid.String
		e.TargetUserID = target.String
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

func pageBounds(f domain.Filter) (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset = f.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
