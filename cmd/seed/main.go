// seed creates the initial superadmin account. Idempotent: an existing account with the same email is left alone.
// Set SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD; the account must change its password on first login.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"care-platform/backend/internal/account/domain"
	accountrepo "care-platform/backend/internal/account/repository"
	"care-platform/backend/internal/config"
	"care-platform/backend/internal/db"
	"care-platform/backend/internal/logging"
	"care-platform/backend/internal/security"
)

const minSeedPasswordLength = 12

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	email := strings.ToLower(strings.TrimSpace(os.Getenv("SEED_ADMIN_EMAIL")))
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if email == "" || len(password) < minSeedPasswordLength {
		log.Fatal("seed: SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD (at least 12 characters) are required")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("seed: DATABASE_URL is not set")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("seed: open database", zap.Error(err))
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	accounts := accountrepo.NewPostgresRepository(conn)
	existing, err := accounts.GetByEmail(ctx, email)
	if err != nil {
		log.Fatal("seed: lookup", zap.Error(err))
	}
	if existing != nil {
		log.Info("seed: admin already exists, skipping", zap.String("account_id", existing.ID))
		return
	}

	hash, err := security.NewHasher(cfg.BcryptCost).Hash([]byte(password))
	if err != nil {
		log.Fatal("seed: hash password", zap.Error(err))
	}
	now := time.Now().UTC()
	a := &domain.Account{
		ID:                     uuid.New().String(),
		Email:                  email,
		PasswordHash:           hash,
		Role:                   domain.RoleAdmin,
		IsSuperadmin:           true,
		MFARequired:            true,
		MFARequiredAt:          &now,
		ChangePasswordRequired: true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := a.Validate(); err != nil {
		log.Fatal("seed: invalid account", zap.Error(err))
	}
	if err := accounts.Create(ctx, a); err != nil {
		log.Fatal("seed: create admin", zap.Error(err))
	}
	log.Info("seed: created superadmin", zap.String("account_id", a.ID), zap.String("email", email))
}
