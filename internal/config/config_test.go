package config

import (
	"encoding/base64"
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":9090")
	}
	if cfg.JWTIssuer != "care-platform" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "care-platform")
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.LockoutThreshold != 5 {
		t.Errorf("LockoutThreshold = %d, want 5", cfg.LockoutThreshold)
	}
	if cfg.BackupCodeCount != 10 {
		t.Errorf("BackupCodeCount = %d, want 10", cfg.BackupCodeCount)
	}
	if cfg.LoginRatePerMinute != 10 {
		t.Errorf("LoginRatePerMinute = %d, want 10", cfg.LoginRatePerMinute)
	}
	if cfg.SecurityEventsTopic != "care-security-events" {
		t.Errorf("SecurityEventsTopic = %q", cfg.SecurityEventsTopic)
	}
	if cfg.CookieSecure {
		t.Error("CookieSecure should default to false")
	}

	durations := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"SessionTTL", cfg.SessionTTL(), 8 * time.Hour},
		{"RememberMeTTL", cfg.RememberMeTTL(), 720 * time.Hour},
		{"MFAChallengeTTL", cfg.MFAChallengeTTL(), 5 * time.Minute},
		{"LockoutDuration", cfg.LockoutDuration(), 30 * time.Minute},
		{"MFAEnrollmentGrace", cfg.MFAEnrollmentGrace(), 72 * time.Hour},
		{"KeySweepInterval", cfg.KeySweepInterval(), time.Hour},
	}
	for _, d := range durations {
		if d.got != d.want {
			t.Errorf("%s = %v, want %v", d.name, d.got, d.want)
		}
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9999")
	os.Setenv("JWT_ISSUER", "custom-issuer")
	os.Setenv("BCRYPT_COST", "14")
	os.Setenv("LOCKOUT_THRESHOLD", "3")
	os.Setenv("SESSION_TTL", "2h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9999")
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "custom-issuer")
	}
	if cfg.BcryptCost != 14 {
		t.Errorf("BcryptCost = %d, want 14", cfg.BcryptCost)
	}
	if cfg.LockoutThreshold != 3 {
		t.Errorf("LockoutThreshold = %d, want 3", cfg.LockoutThreshold)
	}
	if cfg.SessionTTL() != 2*time.Hour {
		t.Errorf("SessionTTL = %v, want 2h", cfg.SessionTTL())
	}
}

func TestLoad_BCRYPT_COSTRange(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		want  int
		err   bool
	}{
		{"valid min", "4", 4, false},
		{"valid max", "31", 31, false},
		{"valid middle", "12", 12, false},
		{"too low", "3", 0, true},
		{"too high", "32", 0, true},
		{"zero", "0", 12, false}, // Should default to 12
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("BCRYPT_COST", tc.value)

			cfg, err := Load()
			if tc.err {
				if err == nil {
					t.Fatal("Load should return error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.BcryptCost != tc.want {
				t.Errorf("BcryptCost = %d, want %d", cfg.BcryptCost, tc.want)
			}
		})
	}
}

func TestLoad_InvalidLimits(t *testing.T) {
	testCases := []struct {
		name, key, value string
	}{
		{"lockout threshold zero", "LOCKOUT_THRESHOLD", "0"},
		{"backup codes zero", "BACKUP_CODE_COUNT", "0"},
		{"backup codes too many", "BACKUP_CODE_COUNT", "50"},
		{"data key not base64", "DATA_ENCRYPTION_KEY", "not base64!"},
		{"data key short", "DATA_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString([]byte("short"))},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load with %s=%q should fail", tc.key, tc.value)
			}
		})
	}
}

func TestLoad_Production(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	testCases := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing database",
			env:     map[string]string{"DATA_ENCRYPTION_KEY": key, "COOKIE_SECURE": "true"},
			wantErr: "DATABASE_URL",
		},
		{
			name:    "missing data key",
			env:     map[string]string{"DATABASE_URL": "postgres://localhost/care", "COOKIE_SECURE": "true"},
			wantErr: "DATA_ENCRYPTION_KEY",
		},
		{
			name:    "insecure cookies",
			env:     map[string]string{"DATABASE_URL": "postgres://localhost/care", "DATA_ENCRYPTION_KEY": key},
			wantErr: "COOKIE_SECURE",
		},
		{
			name: "complete",
			env:  map[string]string{"DATABASE_URL": "postgres://localhost/care", "DATA_ENCRYPTION_KEY": key, "COOKIE_SECURE": "true"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("APP_ENV", "production")
			for k, v := range tc.env {
				os.Setenv(k, v)
			}
			cfg, err := Load()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Load: %v", err)
				}
				if !cfg.IsProduction() {
					t.Error("IsProduction = false")
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want mention of %s", err, tc.wantErr)
			}
			if cfg != nil {
				t.Error("Load should return nil config on error")
			}
		})
	}
}

func TestDataKey(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	cfg := &Config{DataEncryptionKey: base64.StdEncoding.EncodeToString(raw)}
	got, err := cfg.DataKey()
	if err != nil {
		t.Fatalf("DataKey: %v", err)
	}
	if string(got) != string(raw) {
		t.Error("DataKey returned different bytes")
	}

	empty := &Config{}
	got, err = empty.DataKey()
	if err != nil || got != nil {
		t.Errorf("DataKey on empty = %v, %v; want nil, nil", got, err)
	}
}

func TestDurations_InvalidFallBack(t *testing.T) {
	cfg := &Config{
		SessionTTLRaw:         "invalid",
		RememberMeTTLRaw:      "0",
		MFAChallengeTTLRaw:    "-5m",
		LockoutDurationRaw:    "",
		MFAEnrollmentGraceRaw: "abc",
		KeySweepIntervalRaw:   "-1h",
	}
	if cfg.SessionTTL() != 8*time.Hour {
		t.Errorf("SessionTTL = %v, want default", cfg.SessionTTL())
	}
	if cfg.RememberMeTTL() != 720*time.Hour {
		t.Errorf("RememberMeTTL = %v, want default", cfg.RememberMeTTL())
	}
	if cfg.MFAChallengeTTL() != 5*time.Minute {
		t.Errorf("MFAChallengeTTL = %v, want default", cfg.MFAChallengeTTL())
	}
	if cfg.LockoutDuration() != 30*time.Minute {
		t.Errorf("LockoutDuration = %v, want default", cfg.LockoutDuration())
	}
	if cfg.MFAEnrollmentGrace() != 72*time.Hour {
		t.Errorf("MFAEnrollmentGrace = %v, want default", cfg.MFAEnrollmentGrace())
	}
	if cfg.KeySweepInterval() != time.Hour {
		t.Errorf("KeySweepInterval = %v, want default", cfg.KeySweepInterval())
	}
}

func TestLists(t *testing.T) {
	cfg := &Config{
		KafkaBrokers:       " broker1:9092, ,broker2:9092 ",
		CORSAllowedOrigins: "https://a.example.com,https://b.example.com",
	}
	brokers := cfg.KafkaBrokersList()
	if len(brokers) != 2 || brokers[0] != "broker1:9092" || brokers[1] != "broker2:9092" {
		t.Errorf("KafkaBrokersList = %v", brokers)
	}
	if got := cfg.AllowedOrigins(); len(got) != 2 {
		t.Errorf("AllowedOrigins = %v", got)
	}

	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should return nil brokers")
	}
	if (&Config{}).KafkaBrokersList() != nil {
		t.Error("empty brokers should return nil")
	}
}
