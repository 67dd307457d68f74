package mfa

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"care-platform/backend/internal/account/domain"
	accountrepo "care-platform/backend/internal/account/repository"
	mfarepo "care-platform/backend/internal/mfa/repository"
	"care-platform/backend/internal/security"
	"care-platform/backend/internal/telemetry/metrics"
)

// Verifier checks TOTP and backup codes for enrolled accounts.
type Verifier struct {
	accounts accountrepo.Repository
	codes    mfarepo.BackupCodeRepository
	box      *security.SecretBox
	now      func() time.Time
	log      *zap.Logger
}

// NewVerifier returns a Verifier. now may be nil for the wall clock.
func NewVerifier(accounts accountrepo.Repository, codes mfarepo.BackupCodeRepository, box *security.SecretBox, now func() time.Time, log *zap.Logger) *Verifier {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{accounts: accounts, codes: codes, box: box, now: now, log: log}
}

// Verify checks a TOTP code for an enrolled account. A code is accepted at most once: its step must be
// newer than the last accepted step, and advancing the step is atomic.
func (v *Verifier) Verify(ctx context.Context, accountID, code string) (bool, error) {
	a, err := v.load(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !a.MFAEnabled {
		return false, ErrMFANotEnabled
	}
	ok, err := v.checkTOTP(ctx, a, code)
	observe("totp", ok, err)
	return ok, err
}

// VerifyBackupCode consumes one matching unused backup code.
func (v *Verifier) VerifyBackupCode(ctx context.Context, accountID, code string) (bool, error) {
	a, err := v.load(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !a.MFAEnabled {
		return false, ErrMFANotEnabled
	}
	if NormalizeBackupCode(code) == "" {
		observe("backup", false, nil)
		return false, nil
	}
	ok, err := v.codes.Consume(ctx, accountID, HashBackupCode(code), v.now())
	if err != nil {
		err = fmt.Errorf("mfa: consume backup code: %w", err)
	}
	observe("backup", ok, err)
	return ok, err
}

// RemainingBackupCodes returns how many unused backup codes the account has.
func (v *Verifier) RemainingBackupCodes(ctx context.Context, accountID string) (int, error) {
	return v.codes.CountRemaining(ctx, accountID)
}

// checkTOTP verifies code against the account's (pending or enrolled) secret and advances the replay step.
func (v *Verifier) checkTOTP(ctx context.Context, a *domain.Account, code string) (bool, error) {
	if a.MFASecret == "" {
		return false, nil
	}
	secret, err := v.box.Open(a.MFASecret, []byte(a.ID))
	if err != nil {
		return false, fmt.Errorf("mfa: open secret: %w", err)
	}
	step, ok := matchStep(string(secret), code, v.now())
	if !ok {
		return false, nil
	}
	if a.MFALastStep != nil && step <= *a.MFALastStep {
		return false, nil
	}
	advanced, err := v.accounts.AdvanceMFAStep(ctx, a.ID, step)
	if err != nil {
		return false, fmt.Errorf("mfa: advance step: %w", err)
	}
	if !advanced {
		v.log.Warn("mfa: replayed totp step rejected", zap.String("account_id", a.ID), zap.Int64("step", step))
	}
	return advanced, nil
}

func (v *Verifier) load(ctx context.Context, accountID string) (*domain.Account, error) {
	a, err := v.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("mfa: get account: %w", err)
	}
	if a == nil {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

func observe(method string, ok bool, err error) {
	result := "failure"
	switch {
	case err != nil:
		result = "error"
	case ok:
		result = "success"
	}
	metrics.MFAVerificationsTotal.WithLabelValues(method, result).Inc()
}
