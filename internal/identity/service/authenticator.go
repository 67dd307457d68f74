package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"care-platform/backend/internal/account/domain"
	accountrepo "care-platform/backend/internal/account/repository"
	"care-platform/backend/internal/audit"
	auditdomain "care-platform/backend/internal/audit/domain"
	"care-platform/backend/internal/lockout"
	"care-platform/backend/internal/mfa"
	"care-platform/backend/internal/policy/engine"
	"care-platform/backend/internal/security"
	"care-platform/backend/internal/signingkey"
	"care-platform/backend/internal/telemetry/metrics"
)

// Outcome is the result kind of a login step.
type Outcome string

const (
	OutcomeAuthenticated     Outcome = "authenticated"
	OutcomeChallengeRequired Outcome = "mfa_required"
)

// Default token lifetimes.
const (
	DefaultSessionTTL    = 8 * time.Hour
	DefaultRememberMeTTL = 30 * 24 * time.Hour
	DefaultChallengeTTL  = 5 * time.Minute
)

// LoginResult carries either a session token or an MFA challenge token.
type LoginResult struct {
	Outcome   Outcome
	AccountID string
	Email     string
	Role      domain.Role

	Token      string
	ExpiresAt  time.Time
	Scope      engine.Scope
	RememberMe bool

	ChallengeToken     string
	ChallengeExpiresAt time.Time

	// RemainingBackupCodes is set after a backup-code login.
	RemainingBackupCodes *int
}

// Config holds token lifetimes.
type Config struct {
	SessionTTL    time.Duration
	RememberMeTTL time.Duration
	ChallengeTTL  time.Duration
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// WithLogger sets the zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Authenticator) {
		if l != nil {
			a.log = l
		}
	}
}

// Authenticator verifies credentials, runs the MFA challenge and issues session tokens.
type Authenticator struct {
	accounts accountrepo.Repository
	hasher   *security.Hasher
	lockout  *lockout.Engine
	verifier *mfa.Verifier
	keys     *signingkey.Manager
	policy   engine.Evaluator
	audit    audit.Recorder
	cfg      Config
	now      func() time.Time
	log      *zap.Logger
}

// NewAuthenticator returns an Authenticator. Zero durations in cfg use the defaults.
func NewAuthenticator(
	accounts accountrepo.Repository,
	hasher *security.Hasher,
	locks *lockout.Engine,
	verifier *mfa.Verifier,
	keys *signingkey.Manager,
	policy engine.Evaluator,
	rec audit.Recorder,
	cfg Config,
	opts ...Option,
) *Authenticator {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.RememberMeTTL <= 0 {
		cfg.RememberMeTTL = DefaultRememberMeTTL
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = DefaultChallengeTTL
	}
	a := &Authenticator{
		accounts: accounts,
		hasher:   hasher,
		lockout:  locks,
		verifier: verifier,
		keys:     keys,
		policy:   policy,
		audit:    rec,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Authenticate checks email and password. Unknown emails, wrong passwords and empty input all return
// ErrInvalidCredentials; a locked account returns ErrAccountLocked without comparing the password.
func (s *Authenticator) Authenticate(ctx context.Context, email, password string, rememberMe bool) (*LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		metrics.LoginsTotal.WithLabelValues("failure").Inc()
		s.record(ctx, auditdomain.Event{
			Type:     auditdomain.EventLoginFailure,
			Severity: auditdomain.SeverityLow,
			Outcome:  auditdomain.OutcomeFailure,
			Message:  "login failed: missing email or password",
		})
		return nil, ErrInvalidCredentials
	}
	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("identity: authenticate: %w", err)
	}
	if a == nil {
		s.hasher.CompareDummy([]byte(password))
		metrics.LoginsTotal.WithLabelValues("failure").Inc()
		s.record(ctx, auditdomain.Event{
			Type:     auditdomain.EventLoginFailure,
			Severity: auditdomain.SeverityLow,
			Outcome:  auditdomain.OutcomeFailure,
			Message:  "login failed: unknown email",
		})
		return nil, ErrInvalidCredentials
	}

	locked, err := s.lockout.IsLocked(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("identity: authenticate: %w", err)
	}
	if locked {
		metrics.LoginsTotal.WithLabelValues("locked").Inc()
		s.record(ctx, auditdomain.Event{
			Type:         auditdomain.EventLoginFailure,
			Severity:     auditdomain.SeverityMedium,
			Outcome:      auditdomain.OutcomeDenied,
			UserID:       a.ID,
			TargetUserID: a.ID,
			Message:      "account locked",
		})
		return nil, ErrAccountLocked
	}

	if err := s.hasher.Compare(a.PasswordHash, []byte(password)); err != nil {
		st, ferr := s.lockout.RecordFailure(ctx, a.ID)
		if ferr != nil {
			s.log.Error("identity: record failed attempt", zap.String("account_id", a.ID), zap.Error(ferr))
		}
		msg := "login failed: invalid password"
		if st != nil {
			msg = fmt.Sprintf("login failed: invalid password (attempt %d of %d)", st.FailedAttempts, s.lockout.Threshold())
		}
		metrics.LoginsTotal.WithLabelValues("failure").Inc()
		s.record(ctx, auditdomain.Event{
			Type:         auditdomain.EventLoginFailure,
			Severity:     auditdomain.SeverityLow,
			Outcome:      auditdomain.OutcomeFailure,
			UserID:       a.ID,
			TargetUserID: a.ID,
			Message:      msg,
		})
		return nil, ErrInvalidCredentials
	}

	if err := s.lockout.RecordSuccess(ctx, a.ID); err != nil {
		return nil, fmt.Errorf("identity: authenticate: %w", err)
	}

	if a.MFAEnabled {
		token, exp, err := s.keys.IssueToken(a.ID, string(a.Role), signingkey.IssueOptions{
			TTL:        s.cfg.ChallengeTTL,
			Purpose:    signingkey.PurposeMFA,
			RememberMe: rememberMe,
		})
		if err != nil {
			return nil, fmt.Errorf("identity: issue challenge: %w", err)
		}
		metrics.LoginsTotal.WithLabelValues("mfa_required").Inc()
		s.record(ctx, auditdomain.Event{
			Type:     auditdomain.EventLoginSuccess,
			Severity: auditdomain.SeverityInfo,
			Outcome:  auditdomain.OutcomeWarning,
			UserID:   a.ID,
			Message:  "password verified, MFA pending",
		})
		return &LoginResult{
			Outcome:            OutcomeChallengeRequired,
			AccountID:          a.ID,
			Email:              a.Email,
			Role:               a.Role,
			RememberMe:         rememberMe,
			ChallengeToken:     token,
			ChallengeExpiresAt: exp,
		}, nil
	}

	res, err := s.issueSession(ctx, a, rememberMe)
	if err != nil {
		return nil, err
	}
	metrics.LoginsTotal.WithLabelValues("success").Inc()
	s.record(ctx, auditdomain.Event{
		Type:     auditdomain.EventLoginSuccess,
		Severity: auditdomain.SeverityInfo,
		Outcome:  auditdomain.OutcomeSuccess,
		UserID:   a.ID,
		Message:  "login succeeded",
	})
	return res, nil
}

// CompleteMFAChallenge finishes a login started by Authenticate. A failed code counts toward lockout.
func (s *Authenticator) CompleteMFAChallenge(ctx context.Context, challengeToken, code string, useBackupCode bool) (*LoginResult, error) {
	claims, err := s.keys.ValidateToken(challengeToken)
	if err != nil {
		return nil, s.challengeRejected(ctx, "", "invalid or expired challenge token")
	}
	if claims.Purpose != signingkey.PurposeMFA {
		return nil, s.challengeRejected(ctx, claims.Subject, "token is not an mfa challenge")
	}
	a, err := s.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("identity: complete mfa: %w", err)
	}
	if a == nil || !a.MFAEnabled {
		return nil, s.challengeRejected(ctx, claims.Subject, "mfa not enabled for challenged account")
	}
	locked, err := s.lockout.IsLocked(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("identity: complete mfa: %w", err)
	}
	if locked {
		metrics.LoginsTotal.WithLabelValues("locked").Inc()
		s.record(ctx, auditdomain.Event{
			Type:         auditdomain.EventLoginFailure,
			Severity:     auditdomain.SeverityMedium,
			Outcome:      auditdomain.OutcomeDenied,
			UserID:       a.ID,
			TargetUserID: a.ID,
			Message:      "account locked",
		})
		return nil, ErrAccountLocked
	}

	method, failErr := "totp", mfa.ErrInvalidMFACode
	verify := s.verifier.Verify
	if useBackupCode {
		method, failErr = "backup code", mfa.ErrInvalidBackupCode
		verify = s.verifier.VerifyBackupCode
	}
	ok, err := verify(ctx, a.ID, code)
	if err != nil {
		if errors.Is(err, mfa.ErrMFANotEnabled) {
			return nil, s.challengeRejected(ctx, a.ID, "mfa not enabled for challenged account")
		}
		return nil, fmt.Errorf("identity: complete mfa: %w", err)
	}
	if !ok {
		if _, ferr := s.lockout.RecordFailure(ctx, a.ID); ferr != nil {
			s.log.Error("identity: record failed attempt", zap.String("account_id", a.ID), zap.Error(ferr))
		}
		metrics.LoginsTotal.WithLabelValues("failure").Inc()
		s.record(ctx, auditdomain.Event{
			Type:         auditdomain.EventMFAVerifyFailure,
			Severity:     auditdomain.SeverityMedium,
			Outcome:      auditdomain.OutcomeFailure,
			UserID:       a.ID,
			TargetUserID: a.ID,
			Message:      "login MFA verification failed (" + method + ")",
		})
		return nil, failErr
	}
	if err := s.lockout.RecordSuccess(ctx, a.ID); err != nil {
		return nil, fmt.Errorf("identity: complete mfa: %w", err)
	}

	res, err := s.issueSession(ctx, a, claims.RememberMe)
	if err != nil {
		return nil, err
	}
	if useBackupCode {
		n, err := s.verifier.RemainingBackupCodes(ctx, a.ID)
		if err != nil {
			s.log.Warn("identity: count backup codes", zap.String("account_id", a.ID), zap.Error(err))
		} else {
			res.RemainingBackupCodes = &n
		}
	}
	metrics.LoginsTotal.WithLabelValues("success").Inc()
	s.record(ctx, auditdomain.Event{
		Type:     auditdomain.EventLoginSuccess,
		Severity: auditdomain.SeverityInfo,
		Outcome:  auditdomain.OutcomeSuccess,
		UserID:   a.ID,
		Message:  "login completed with " + method,
	})
	return res, nil
}

// challengeRejected records a refused challenge and returns ErrChallengeExpired.
func (s *Authenticator) challengeRejected(ctx context.Context, accountID, reason string) error {
	metrics.LoginsTotal.WithLabelValues("failure").Inc()
	s.record(ctx, auditdomain.Event{
		Type:     auditdomain.EventMFAVerifyFailure,
		Severity: auditdomain.SeverityMedium,
		Outcome:  auditdomain.OutcomeFailure,
		UserID:   accountID,
		Message:  "mfa challenge rejected: " + reason,
	})
	return ErrChallengeExpired
}

// Register creates a non-privileged account.
func (s *Authenticator) Register(ctx context.Context, email, password string, role domain.Role) (*domain.Account, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := validatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if role == "" {
		role = domain.RolePatient
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: invalid role", ErrInvalidInput)
	}
	if role == domain.RoleAdmin {
		return nil, ErrRoleNotSelfRegistrable
	}
	existing, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("identity: register: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hash, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, fmt.Errorf("identity: register: %w", err)
	}
	now := s.now()
	a := &domain.Account{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, fmt.Errorf("identity: register: %w", err)
	}
	s.record(ctx, auditdomain.Event{
		Type:     auditdomain.EventAccountRegistered,
		Severity: auditdomain.SeverityInfo,
		Outcome:  auditdomain.OutcomeSuccess,
		UserID:   a.ID,
		Message:  "account registered with role " + string(role),
	})
	return a, nil
}

// ChangePassword replaces the password after checking the current one and clears ChangePasswordRequired.
func (s *Authenticator) ChangePassword(ctx context.Context, accountID, current, next string) error {
	a, err := s.Account(ctx, accountID)
	if err != nil {
		return err
	}
	if err := s.hasher.Compare(a.PasswordHash, []byte(current)); err != nil {
		s.record(ctx, auditdomain.Event{
			Type:     auditdomain.EventPasswordChanged,
			Severity: auditdomain.SeverityMedium,
			Outcome:  auditdomain.OutcomeFailure,
			UserID:   a.ID,
			Message:  "password change rejected: current password mismatch",
		})
		return ErrInvalidCredentials
	}
	if err := validatePassword(next); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if next == current {
		return fmt.Errorf("%w: new password must differ from the current one", ErrInvalidInput)
	}
	hash, err := s.hasher.Hash([]byte(next))
	if err != nil {
		return fmt.Errorf("identity: change password: %w", err)
	}
	if err := s.accounts.UpdatePassword(ctx, a.ID, hash, false, s.now()); err != nil {
		return fmt.Errorf("identity: change password: %w", err)
	}
	s.record(ctx, auditdomain.Event{
		Type:     auditdomain.EventPasswordChanged,
		Severity: auditdomain.SeverityMedium,
		Outcome:  auditdomain.OutcomeSuccess,
		UserID:   a.ID,
		Message:  "password changed",
	})
	return nil
}

// Reissue issues a fresh session token with the scope re-evaluated, after MFA enrollment or a password change.
func (s *Authenticator) Reissue(ctx context.Context, accountID string, rememberMe bool) (*LoginResult, error) {
	a, err := s.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	locked, err := s.lockout.IsLocked(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("identity: reissue: %w", err)
	}
	if locked {
		return nil, ErrAccountLocked
	}
	return s.issueSession(ctx, a, rememberMe)
}

// Logout records the end of a session. Tokens are stateless and expire on their own.
func (s *Authenticator) Logout(ctx context.Context, accountID string) {
	s.record(ctx, auditdomain.Event{
		Type:     auditdomain.EventLogout,
		Severity: auditdomain.SeverityInfo,
		Outcome:  auditdomain.OutcomeSuccess,
		UserID:   accountID,
		Message:  "logged out",
	})
}

// Account loads an account by ID. Returns domain.ErrNotFound when it does not exist.
func (s *Authenticator) Account(ctx context.Context, accountID string) (*domain.Account, error) {
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("identity: load account: %w", err)
	}
	if a == nil {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

func (s *Authenticator) issueSession(ctx context.Context, a *domain.Account, rememberMe bool) (*LoginResult, error) {
	scope := s.policy.SessionScope(ctx, a, s.now())
	ttl := s.cfg.SessionTTL
	if rememberMe {
		ttl = s.cfg.RememberMeTTL
	}
	token, exp, err := s.keys.IssueToken(a.ID, string(a.Role), signingkey.IssueOptions{
		TTL:        ttl,
		Scope:      string(scope),
		Purpose:    signingkey.PurposeSession,
		RememberMe: rememberMe,
	})
	if err != nil {
		return nil, fmt.Errorf("identity: issue session: %w", err)
	}
	return &LoginResult{
		Outcome:    OutcomeAuthenticated,
		AccountID:  a.ID,
		Email:      a.Email,
		Role:       a.Role,
		Token:      token,
		ExpiresAt:  exp,
		Scope:      scope,
		RememberMe: rememberMe,
	}, nil
}

func (s *Authenticator) record(ctx context.Context, e auditdomain.Event) {
	if s.audit != nil {
		s.audit.Record(ctx, e)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
