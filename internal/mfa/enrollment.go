package mfa

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"care-platform/backend/internal/account/domain"
	accountrepo "care-platform/backend/internal/account/repository"
	"care-platform/backend/internal/audit"
	auditdomain "care-platform/backend/internal/audit/domain"
	mfarepo "care-platform/backend/internal/mfa/repository"
	"care-platform/backend/internal/security"
)

// SetupResult is returned once by BeginSetup. Secret is shown for manual entry.
type SetupResult struct {
	Secret        string `json:"secret"`
	OTPAuthURL    string `json:"otpauthUrl"`
	QRCodeDataURL string `json:"qrCode"`
}

// EnrollmentConfig holds enrollment settings.
type EnrollmentConfig struct {
	Issuer          string
	BackupCodeCount int
}

// Enrollment drives the unenrolled → pending_verification → enrolled lifecycle.
type Enrollment struct {
	accounts accountrepo.Repository
	codes    mfarepo.BackupCodeRepository
	verifier *Verifier
	box      *security.SecretBox
	audit    audit.Recorder
	cfg      EnrollmentConfig
	log      *zap.Logger
}

// NewEnrollment returns an Enrollment. The verifier supplies the clock and the TOTP check.
func NewEnrollment(accounts accountrepo.Repository, codes mfarepo.BackupCodeRepository, verifier *Verifier, box *security.SecretBox, rec audit.Recorder, cfg EnrollmentConfig, log *zap.Logger) *Enrollment {
	if cfg.Issuer == "" {
		cfg.Issuer = "Care Platform"
	}
	if cfg.BackupCodeCount <= 0 {
		cfg.BackupCodeCount = DefaultBackupCodeCount
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Enrollment{accounts: accounts, codes: codes, verifier: verifier, box: box, audit: rec, cfg: cfg, log: log}
}

// BeginSetup generates a new TOTP secret and stores it sealed and unverified. Calling it again replaces
// the pending secret.
func (e *Enrollment) BeginSetup(ctx context.Context, accountID string) (*SetupResult, error) {
	a, err := e.verifier.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}
	key, err := generateKey(e.cfg.Issuer, a.Email)
	if err != nil {
		return nil, fmt.Errorf("mfa: generate key: %w", err)
	}
	qr, err := qrDataURL(key)
	if err != nil {
		return nil, fmt.Errorf("mfa: render qr: %w", err)
	}
	sealed, err := e.box.Seal([]byte(key.Secret()), []byte(a.ID))
	if err != nil {
		return nil, fmt.Errorf("mfa: seal secret: %w", err)
	}
	if err := e.accounts.SetMFASecret(ctx, a.ID, sealed, e.verifier.now()); err != nil {
		return nil, fmt.Errorf("mfa: store secret: %w", err)
	}
	e.record(ctx, auditdomain.Event{
		Type:     auditdomain.EventMFASetupStarted,
		Severity: auditdomain.SeverityLow,
		Outcome:  auditdomain.OutcomeSuccess,
		UserID:   a.ID,
		Message:  "mfa setup started",
	})
	return &SetupResult{Secret: key.Secret(), OTPAuthURL: key.URL(), QRCodeDataURL: qr}, nil
}

// VerifySetup confirms the pending secret with a code, enables MFA and returns fresh backup codes.
// A wrong code leaves the pending state unchanged and does not count toward lockout.
func (e *Enrollment) VerifySetup(ctx context.Context, accountID, code string) ([]string, error) {
	a, err := e.verifier.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}
	if a.MFASecret == "" {
		return nil, ErrSetupNotStarted
	}
	ok, err := e.verifier.checkTOTP(ctx, a, code)
	observe("enrollment", ok, err)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.record(ctx, auditdomain.Event{
			Type:     auditdomain.EventMFAVerifyFailure,
			Severity: auditdomain.SeverityLow,
			Outcome:  auditdomain.OutcomeFailure,
			UserID:   a.ID,
			Message:  "mfa setup verification failed",
		})
		return nil, ErrInvalidMFACode
	}

	codes, err := GenerateBackupCodes(e.cfg.BackupCodeCount)
	if err != nil {
		return nil, fmt.Errorf("mfa: generate backup codes: %w", err)
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = HashBackupCode(c)
	}
	now := e.verifier.now()
	if err := e.codes.Replace(ctx, a.ID, hashes, now); err != nil {
		return nil, fmt.Errorf("mfa: store backup codes: %w", err)
	}
	if err := e.accounts.EnableMFA(ctx, a.ID, a.MFASecret, now); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("mfa: enable: %w", err)
		}
		// BeginSetup replaced the secret after the code was checked.
		if derr := e.codes.DeleteAll(ctx, a.ID); derr != nil {
			e.log.Warn("mfa: drop backup codes after stale setup", zap.String("account_id", a.ID), zap.Error(derr))
		}
		e.record(ctx, auditdomain.Event{
			Type:     auditdomain.EventMFAVerifyFailure,
			Severity: auditdomain.SeverityLow,
			Outcome:  auditdomain.OutcomeFailure,
			UserID:   a.ID,
			Message:  "mfa setup verification failed: secret replaced",
		})
		return nil, ErrInvalidMFACode
	}
	e.record(ctx, auditdomain.Event{
		Type:     auditdomain.EventMFAEnabled,
		Severity: auditdomain.SeverityInfo,
		Outcome:  auditdomain.OutcomeSuccess,
		UserID:   a.ID,
		Message:  "mfa enabled",
	})
	return codes, nil
}

// Disable removes the secret, the backup codes and the replay step. actorID differs from accountID
// when an administrator forces the reset.
func (e *Enrollment) Disable(ctx context.Context, accountID, actorID string) error {
	now := e.verifier.now()
	if err := e.accounts.DisableMFA(ctx, accountID, now); err != nil {
		return fmt.Errorf("mfa: disable: %w", err)
	}
	if err := e.codes.DeleteAll(ctx, accountID); err != nil {
		return fmt.Errorf("mfa: delete backup codes: %w", err)
	}
	sev, msg := auditdomain.SeverityMedium, "mfa disabled"
	if actorID != accountID {
		sev, msg = auditdomain.SeverityHigh, "mfa reset by administrator"
	}
	e.record(ctx, auditdomain.Event{
		Type:         auditdomain.EventMFADisabled,
		Severity:     sev,
		Outcome:      auditdomain.OutcomeSuccess,
		UserID:       actorID,
		TargetUserID: accountID,
		Message:      msg,
	})
	return nil
}

// DisableWithCode is the self-service disable: it requires a current TOTP code and records
// MFA_VERIFY_FAILURE when the code is rejected.
func (e *Enrollment) DisableWithCode(ctx context.Context, accountID, code string) error {
	ok, err := e.verifier.Verify(ctx, accountID, code)
	if err != nil && !errors.Is(err, ErrMFANotEnabled) {
		return err
	}
	if err != nil || !ok {
		msg := "mfa disable rejected: invalid code"
		if err != nil {
			msg = "mfa disable rejected: mfa not enabled"
		}
		e.record(ctx, auditdomain.Event{
			Type:     auditdomain.EventMFAVerifyFailure,
			Severity: auditdomain.SeverityMedium,
			Outcome:  auditdomain.OutcomeFailure,
			UserID:   accountID,
			Message:  msg,
		})
		if err != nil {
			return err
		}
		return ErrInvalidMFACode
	}
	return e.Disable(ctx, accountID, accountID)
}

// SetRequirement marks whether the account must enroll in MFA.
func (e *Enrollment) SetRequirement(ctx context.Context, accountID string, required bool, adminID string) error {
	if err := e.accounts.SetMFARequired(ctx, accountID, required, e.verifier.now()); err != nil {
		return fmt.Errorf("mfa: set requirement: %w", err)
	}
	e.record(ctx, auditdomain.Event{
		Type:         auditdomain.EventMFARequirementChanged,
		Severity:     auditdomain.SeverityMedium,
		Outcome:      auditdomain.OutcomeSuccess,
		UserID:       adminID,
		TargetUserID: accountID,
		Message:      fmt.Sprintf("mfa requirement set to %t", required),
	})
	return nil
}

func (e *Enrollment) record(ctx context.Context, ev auditdomain.Event) {
	if e.audit != nil {
		e.audit.Record(ctx, ev)
	}
}

// State returns the account's enrollment state.
func (e *Enrollment) State(ctx context.Context, accountID string) (domain.MFAState, error) {
	a, err := e.verifier.load(ctx, accountID)
	if err != nil {
		return "", err
	}
	return a.MFAState(), nil
}
