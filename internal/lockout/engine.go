// Package lockout applies the failed-login lockout policy to accounts.
package lockout

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"care-platform/backend/internal/account/domain"
	"care-platform/backend/internal/account/repository"
	"care-platform/backend/internal/audit"
	auditdomain "care-platform/backend/internal/audit/domain"
	"care-platform/backend/internal/telemetry/metrics"
)

// Defaults applied when no option overrides them.
const (
	DefaultThreshold    = 5
	DefaultLockDuration = 30 * time.Minute
)

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold sets the failed attempt count that locks an account. Values below 1 are ignored.
func WithThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.threshold = n
		}
	}
}

// WithLockDuration sets how long an automatic lock lasts. Non-positive values are ignored.
func WithLockDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.duration = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine counts failed logins and locks accounts that reach the threshold.
// Counter updates are single atomic repository operations, so concurrent failures lock exactly once.
type Engine struct {
	accounts  repository.Repository
	audit     audit.Recorder
	threshold int
	duration  time.Duration
	now       func() time.Time
	log       *zap.Logger
}

// New returns an Engine over the account repository.
func New(accounts repository.Repository, rec audit.Recorder, opts ...Option) *Engine {
	e := &Engine{
		accounts:  accounts,
		audit:     rec,
		threshold: DefaultThreshold,
		duration:  DefaultLockDuration,
		now:       func() time.Time { return time.Now().UTC() },
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Threshold returns the configured lock threshold.
func (e *Engine) Threshold() int { return e.threshold }

// RecordFailure counts one failed login. When the count reaches the threshold the account is locked
// for the lock duration and ACCOUNT_LOCKED is recorded.
func (e *Engine) RecordFailure(ctx context.Context, accountID string) (*domain.LockoutState, error) {
	now := e.now()
	st, err := e.accounts.IncrementFailedAttempts(ctx, accountID, e.threshold, now.Add(e.duration), now)
	if err != nil {
		return nil, fmt.Errorf("lockout: record failure: %w", err)
	}
	if st.LockedNow {
		metrics.LockoutsTotal.Inc()
		e.record(ctx, auditdomain.Event{
			Type:         auditdomain.EventAccountLocked,
			Severity:     auditdomain.SeverityHigh,
			Outcome:      auditdomain.OutcomeWarning,
			UserID:       audit.SystemActor,
			TargetUserID: accountID,
			Message:      fmt.Sprintf("account locked after %d failed login attempts", st.FailedAttempts),
		})
		e.log.Warn("lockout: account locked",
			zap.String("account_id", accountID),
			zap.Int("failed_attempts", st.FailedAttempts),
			zap.Duration("duration", e.duration))
	}
	return st, nil
}

// RecordSuccess resets the failed attempt counter. It never unlocks a locked account.
func (e *Engine) RecordSuccess(ctx context.Context, accountID string) error {
	if err := e.accounts.ResetFailedAttempts(ctx, accountID, e.now()); err != nil {
		return fmt.Errorf("lockout: record success: %w", err)
	}
	return nil
}

// IsLocked reports whether the account is locked now. A timed lock that has expired is cleared here;
// only the caller whose update clears it records ACCOUNT_UNLOCKED.
func (e *Engine) IsLocked(ctx context.Context, accountID string) (bool, error) {
	a, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("lockout: get account: %w", err)
	}
	if a == nil {
		return false, domain.ErrNotFound
	}
	now := e.now()
	if a.LockExpired(now) {
		cleared, err := e.accounts.ClearExpiredLock(ctx, accountID, now)
		if err != nil {
			return false, fmt.Errorf("lockout: clear expired lock: %w", err)
		}
		if cleared {
			e.record(ctx, auditdomain.Event{
				Type:         auditdomain.EventAccountUnlocked,
				Severity:     auditdomain.SeverityInfo,
				Outcome:      auditdomain.OutcomeSuccess,
				UserID:       audit.SystemActor,
				TargetUserID: accountID,
				Message:      "lock expired",
			})
		}
		return false, nil
	}
	return a.LockedAt(now), nil
}

// AdminUnlock clears the lock and the counter on behalf of adminID.
func (e *Engine) AdminUnlock(ctx context.Context, accountID, adminID string) error {
	if err := e.accounts.Unlock(ctx, accountID, e.now()); err != nil {
		return fmt.Errorf("lockout: unlock: %w", err)
	}
	e.record(ctx, auditdomain.Event{
		Type:         auditdomain.EventAccountUnlocked,
		Severity:     auditdomain.SeverityInfo,
		Outcome:      auditdomain.OutcomeSuccess,
		UserID:       adminID,
		TargetUserID: accountID,
		Message:      "account unlocked by administrator",
	})
	return nil
}

// AdminResetFailedAttempts zeroes the counter without touching the lock.
func (e *Engine) AdminResetFailedAttempts(ctx context.Context, accountID, adminID string) error {
	if err := e.accounts.ResetFailedAttempts(ctx, accountID, e.now()); err != nil {
		return fmt.Errorf("lockout: reset failed attempts: %w", err)
	}
	e.record(ctx, auditdomain.Event{
		Type:         auditdomain.EventFailedAttemptsReset,
		Severity:     auditdomain.SeverityInfo,
		Outcome:      auditdomain.OutcomeSuccess,
		UserID:       adminID,
		TargetUserID: accountID,
		Message:      "failed login attempts reset by administrator",
	})
	return nil
}

// ListLocked returns the accounts locked right now, most recent failure first.
func (e *Engine) ListLocked(ctx context.Context) ([]*domain.Account, error) {
	return e.accounts.ListLocked(ctx, e.now())
}

func (e *Engine) record(ctx context.Context, ev auditdomain.Event) {
	if e.audit != nil {
		e.audit.Record(ctx, ev)
	}
}
