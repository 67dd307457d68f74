package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"

	accountrepo "care-platform/backend/internal/account/repository"
	adminhandler "care-platform/backend/internal/admin/handler"
	"care-platform/backend/internal/audit"
	auditrepo "care-platform/backend/internal/audit/repository"
	"care-platform/backend/internal/config"
	"care-platform/backend/internal/db"
	healthhandler "care-platform/backend/internal/health/handler"
	identityhandler "care-platform/backend/internal/identity/handler"
	"care-platform/backend/internal/identity/service"
	"care-platform/backend/internal/lockout"
	"care-platform/backend/internal/logging"
	"care-platform/backend/internal/mfa"
	mfahandler "care-platform/backend/internal/mfa/handler"
	mfarepo "care-platform/backend/internal/mfa/repository"
	"care-platform/backend/internal/policy/engine"
	"care-platform/backend/internal/security"
	"care-platform/backend/internal/server"
	"care-platform/backend/internal/server/middleware"
	"care-platform/backend/internal/signingkey"
	keyrepo "care-platform/backend/internal/signingkey/repository"
	"care-platform/backend/internal/telemetry"
	"care-platform/backend/internal/telemetry/metrics"
	telemetryotel "care-platform/backend/internal/telemetry/otel"
	"care-platform/backend/internal/telemetry/producer"
)

const (
	serviceName     = "care-auth"
	healthInterval  = 10 * time.Second
	shutdownTimeout = 15 * time.Second
)

type stores struct {
	accounts accountrepo.Repository
	codes    mfarepo.BackupCodeRepository
	keys     keyrepo.Repository
	events   auditrepo.Repository
	conn     *sql.DB
}

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

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: serviceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			log.Warn("otel shutdown", zap.Error(err))
		}
	}()

	box, err := secretBox(cfg, log)
	if err != nil {
		return err
	}

	st, err := openStores(cfg, log)
	if err != nil {
		return err
	}
	if st.conn != nil {
		defer st.conn.Close()
	}

	emitters := []telemetry.EventEmitter{providers.SecurityEvents}
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kp, err := producer.NewKafkaProducer(brokers, cfg.SecurityEventsTopic)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		defer kp.Close()
		emitters = append(emitters, kp)
		log.Info("security events published to kafka", zap.String("topic", cfg.SecurityEventsTopic))
	}
	if cfg.AuditLogFile != "" {
		fe := logging.NewFileEmitter(logging.DefaultFileConfig(cfg.AuditLogFile))
		defer fe.Close()
		emitters = append(emitters, fe)
	}
	rec := audit.NewLogger(st.events, middleware.ClientIPFromContext, log, emitters...)

	policySrc, err := engine.LoadPolicy(cfg.AccessPolicyFile)
	if err != nil {
		return err
	}
	policy, err := engine.NewOPAEvaluator(ctx, policySrc, cfg.MFAEnrollmentGrace(), log)
	if err != nil {
		return fmt.Errorf("access policy: %w", err)
	}

	keys := signingkey.NewManager(st.keys, box, rec, cfg.JWTIssuer, cfg.JWTAudience, signingkey.WithLogger(log))
	if err := keys.Bootstrap(ctx); err != nil {
		return fmt.Errorf("signing keys: %w", err)
	}

	locks := lockout.New(st.accounts, rec,
		lockout.WithThreshold(cfg.LockoutThreshold),
		lockout.WithLockDuration(cfg.LockoutDuration()),
		lockout.WithLogger(log))
	verifier := mfa.NewVerifier(st.accounts, st.codes, box, nil, log)
	enrollment := mfa.NewEnrollment(st.accounts, st.codes, verifier, box, rec, mfa.EnrollmentConfig{
		Issuer:          cfg.MFAIssuer,
		BackupCodeCount: cfg.BackupCodeCount,
	}, log)
	auth := service.NewAuthenticator(st.accounts, security.NewHasher(cfg.BcryptCost), locks, verifier, keys, policy, rec,
		service.Config{
			SessionTTL:    cfg.SessionTTL(),
			RememberMeTTL: cfg.RememberMeTTL(),
			ChallengeTTL:  cfg.MFAChallengeTTL(),
		}, service.WithLogger(log))

	var pinger healthhandler.Pinger
	if st.conn != nil {
		pinger = st.conn
	}
	checker := healthhandler.NewChecker(pinger, policy, log)

	handler := server.NewHTTPHandler(server.HTTPConfig{
		AllowedOrigins:     cfg.AllowedOrigins(),
		SecureCookie:       cfg.CookieSecure,
		TrustProxy:         cfg.TrustProxy,
		LoginRatePerMinute: cfg.LoginRatePerMinute,
	}, server.Deps{
		Identity: identityhandler.NewHandler(auth, cfg.CookieSecure, log),
		MFA:      mfahandler.NewHandler(enrollment, verifier, auth, cfg.CookieSecure, log),
		Admin: adminhandler.NewHandler(adminhandler.Deps{
			Accounts:   st.accounts,
			Policy:     policy,
			Lockout:    locks,
			Enrollment: enrollment,
			Keys:       keys,
			Events:     rec,
			Audit:      rec,
		}, log),
		Health: checker,
		Tokens: keys,
		Audit:  rec,
	}, log)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	hs := health.NewServer()
	grpcSrv := server.NewGRPCServer(hs, log)

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()
	go func() {
		log.Info("grpc health server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go checker.Sync(ctx, hs, healthInterval)
	go maintainKeys(ctx, keys, cfg.KeySweepInterval(), log)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server failed", zap.Error(err))
		stop()
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	log.Info("stopped")
	return nil
}

// secretBox builds the at-rest cipher. Outside production a missing key is replaced by a random one, which makes
// sealed secrets unreadable after a restart.
func secretBox(cfg *config.Config, log *zap.Logger) (*security.SecretBox, error) {
	key, err := cfg.DataKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		log.Warn("DATA_ENCRYPTION_KEY not set; using an ephemeral key")
		if key, err = security.GenerateDataKey(); err != nil {
			return nil, err
		}
	}
	return security.NewSecretBox(key)
}

func openStores(cfg *config.Config, log *zap.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set; using in-memory stores")
		return &stores{
			accounts: accountrepo.NewMemoryRepository(),
			codes:    mfarepo.NewMemoryRepository(),
			keys:     keyrepo.NewMemoryRepository(),
			events:   auditrepo.NewMemoryRepository(),
		}, nil
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	return &stores{
		accounts: accountrepo.NewPostgresRepository(conn),
		codes:    mfarepo.NewPostgresRepository(conn),
		keys:     keyrepo.NewPostgresRepository(conn),
		events:   auditrepo.NewPostgresRepository(conn),
		conn:     conn,
	}, nil
}

// maintainKeys retires expired grace keys and reloads the ring so rotations on other replicas are picked up.
func maintainKeys(ctx context.Context, keys *signingkey.Manager, interval time.Duration, log *zap.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := keys.Sweep(ctx); err != nil {
				log.Warn("signing key sweep failed", zap.Error(err))
			}
			if err := keys.Reload(ctx); err != nil {
				log.Warn("signing key reload failed", zap.Error(err))
			}
		}
	}
}
