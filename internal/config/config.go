// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"care-platform/backend/internal/security"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health endpoint (e.g. :9090).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty selects in-memory stores, which production refuses.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// JWTIssuer is the iss claim of session tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim of session tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// SessionTTLRaw is the session lifetime (e.g. "8h").
	SessionTTLRaw string `mapstructure:"SESSION_TTL"`
	// RememberMeTTLRaw is the session lifetime when the user asked to be remembered.
	RememberMeTTLRaw string `mapstructure:"REMEMBER_ME_TTL"`
	// MFAChallengeTTLRaw bounds the time between the password step and the MFA step.
	MFAChallengeTTLRaw string `mapstructure:"MFA_CHALLENGE_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// LockoutThreshold is the number of consecutive failures that locks an account.
	LockoutThreshold int `mapstructure:"LOCKOUT_THRESHOLD"`
	// LockoutDurationRaw is how long a lock lasts (e.g. "30m").
	LockoutDurationRaw string `mapstructure:"LOCKOUT_DURATION"`

	// MFAIssuer is shown in authenticator apps.
	MFAIssuer string `mapstructure:"MFA_ISSUER"`
	// MFAEnrollmentGraceRaw is how long a newly required account may keep a full session before enrolling.
	MFAEnrollmentGraceRaw string `mapstructure:"MFA_ENROLLMENT_GRACE"`
	// BackupCodeCount is the number of backup codes issued on enrollment.
	BackupCodeCount int `mapstructure:"BACKUP_CODE_COUNT"`
	// DataEncryptionKey is the base64 32-byte key sealing TOTP secrets and signing keys at rest.
	DataEncryptionKey string `mapstructure:"DATA_ENCRYPTION_KEY"`
	// KeySweepIntervalRaw is how often expired grace keys are retired and the ring reloaded.
	KeySweepIntervalRaw string `mapstructure:"KEY_SWEEP_INTERVAL"`

	// CookieSecure sets the Secure attribute on session and CSRF cookies.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`
	// CORSAllowedOrigins is a comma-separated origin list.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy bool `mapstructure:"TRUST_PROXY"`
	// LoginRatePerMinute caps credential requests per client IP.
	LoginRatePerMinute int `mapstructure:"LOGIN_RATE_PER_MINUTE"`
	// AccessPolicyFile optionally replaces the built-in Rego policy.
	AccessPolicyFile string `mapstructure:"ACCESS_POLICY_FILE"`

	// OTLPEndpoint is the OTLP gRPC collector (e.g. "localhost:4317"). Empty disables OTel export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Telemetry (optional). When Kafka brokers are set, security events are also published to Kafka.
	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SecurityEventsTopic is the Kafka topic for security events.
	SecurityEventsTopic string `mapstructure:"SECURITY_EVENTS_TOPIC"`

	// Worker-only: Loki URL for the worker to push events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// LogLevel is the zap level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// AuditLogFile, when set, mirrors security events to a rotated JSON-lines file.
	AuditLogFile string `mapstructure:"AUDIT_LOG_FILE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("JWT_ISSUER", "care-platform")
	v.SetDefault("JWT_AUDIENCE", "care-platform-api")
	v.SetDefault("SESSION_TTL", "8h")
	v.SetDefault("REMEMBER_ME_TTL", "720h") // 30d
	v.SetDefault("MFA_CHALLENGE_TTL", "5m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_DURATION", "30m")
	v.SetDefault("MFA_ISSUER", "Care Platform")
	v.SetDefault("MFA_ENROLLMENT_GRACE", "72h")
	v.SetDefault("BACKUP_CODE_COUNT", 10)
	v.SetDefault("DATA_ENCRYPTION_KEY", "")
	v.SetDefault("KEY_SWEEP_INTERVAL", "1h")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("TRUST_PROXY", false)
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 10)
	v.SetDefault("ACCESS_POLICY_FILE", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SECURITY_EVENTS_TOPIC", "care-security-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "care-security-events-worker")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUDIT_LOG_FILE", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.LockoutThreshold < 1 {
		return nil, errors.New("config: LOCKOUT_THRESHOLD must be at least 1")
	}
	if cfg.BackupCodeCount < 1 || cfg.BackupCodeCount > 20 {
		return nil, errors.New("config: BACKUP_CODE_COUNT must be between 1 and 20")
	}
	if cfg.DataEncryptionKey != "" {
		if _, err := cfg.DataKey(); err != nil {
			return nil, err
		}
	}

	if cfg.IsProduction() {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL is required when APP_ENV=production")
		}
		if cfg.DataEncryptionKey == "" {
			return nil, errors.New("config: DATA_ENCRYPTION_KEY is required when APP_ENV=production")
		}
		if !cfg.CookieSecure {
			return nil, errors.New("config: COOKIE_SECURE must be true when APP_ENV=production")
		}
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// DataKey decodes DataEncryptionKey. Returns nil, nil when unset.
func (c *Config) DataKey() ([]byte, error) {
	if c.DataEncryptionKey == "" {
		return nil, nil
	}
	key, err := security.ParseDataKey(strings.TrimSpace(c.DataEncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("config: DATA_ENCRYPTION_KEY: %w", err)
	}
	return key, nil
}

func parseDuration(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// SessionTTL parses SessionTTLRaw. Returns 8h if unset or invalid.
func (c *Config) SessionTTL() time.Duration { return parseDuration(c.SessionTTLRaw, 8*time.Hour) }

// RememberMeTTL parses RememberMeTTLRaw. Returns 720h if unset or invalid.
func (c *Config) RememberMeTTL() time.Duration {
	return parseDuration(c.RememberMeTTLRaw, 720*time.Hour)
}

// MFAChallengeTTL parses MFAChallengeTTLRaw. Returns 5m if unset or invalid.
func (c *Config) MFAChallengeTTL() time.Duration {
	return parseDuration(c.MFAChallengeTTLRaw, 5*time.Minute)
}

// LockoutDuration parses LockoutDurationRaw. Returns 30m if unset or invalid.
func (c *Config) LockoutDuration() time.Duration {
	return parseDuration(c.LockoutDurationRaw, 30*time.Minute)
}

// MFAEnrollmentGrace parses MFAEnrollmentGraceRaw. Returns 72h if unset or invalid.
func (c *Config) MFAEnrollmentGrace() time.Duration {
	return parseDuration(c.MFAEnrollmentGraceRaw, 72*time.Hour)
}

// KeySweepInterval parses KeySweepIntervalRaw. Returns 1h if unset or invalid.
func (c *Config) KeySweepInterval() time.Duration {
	return parseDuration(c.KeySweepIntervalRaw, time.Hour)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the Kafka emitter is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// AllowedOrigins returns the CORS origins.
func (c *Config) AllowedOrigins() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSAllowedOrigins)
}
