// Package migrate applies the embedded schema migrations with golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"care-platform/backend/internal/db"
)

// ErrNoChange is returned by migrate when the schema is already at the target version. Run swallows it.
var ErrNoChange = migrate.ErrNoChange

// Result reports the schema version after a run.
type Result struct {
	Version uint
	Dirty   bool
	Changed bool
}

func open(dsn string) (*migrate.Migrate, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set; create a .env or export DATABASE_URL")
	}
	src, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}

// Run migrates the schema at dsn all the way up or all the way down.
func Run(dsn, direction string, log *zap.Logger) (Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if direction != "up" && direction != "down" {
		return Result{}, fmt.Errorf("direction must be up or down, got %q", direction)
	}
	m, err := open(dsn)
	if err != nil {
		return Result{}, err
	}
	defer func() { _, _ = m.Close() }()

	if direction == "up" {
		err = m.Up()
	} else {
		err = m.Down()
	}
	res := Result{Changed: true}
	if errors.Is(err, migrate.ErrNoChange) {
		res.Changed = false
	} else if err != nil {
		return Result{}, err
	}

	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
	case err != nil:
		return Result{}, fmt.Errorf("migrate version: %w", err)
	default:
		res.Version, res.Dirty = v, dirty
	}
	log.Info("migrate: done",
		zap.String("direction", direction),
		zap.Bool("changed", res.Changed),
		zap.Uint("version", res.Version),
		zap.Bool("dirty", res.Dirty))
	return res, nil
}
