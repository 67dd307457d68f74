// migrate applies the embedded schema migrations: go run ./cmd/migrate -direction up.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"care-platform/backend/internal/config"
	"care-platform/backend/internal/db/migrate"
	"care-platform/backend/internal/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

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

	if _, err := migrate.Run(cfg.DatabaseURL, *direction, log); err != nil {
		log.Error("migrate failed", zap.String("direction", *direction), zap.Error(err))
		os.Exit(1)
	}
}
