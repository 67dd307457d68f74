package audit

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"care-platform/backend/internal/audit/domain"
	auditrepo "care-platform/backend/internal/audit/repository"
	"care-platform/backend/internal/telemetry"
	"care-platform/backend/internal/telemetry/metrics"
)

// SystemActor is the UserID recorded for events the service itself initiates (lazy unlock, key sweep).
const SystemActor = "system"

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// Recorder writes security events. Record is best-effort: failures are logged and do not affect the caller.
type Recorder interface {
	Record(ctx context.Context, e domain.Event)
}

// Logger implements Recorder using the audit repository, then fans the stored event out to emitters.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	emitters    []telemetry.EventEmitter
	log         *zap.Logger
	now         func() time.Time
}

// NewLogger returns a Logger that persists to repo and uses ipExtractor for the client IP.
// ipExtractor may be nil; then IP is recorded as "unknown" unless the event carries one.
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, log *zap.Logger, emitters ...telemetry.EventEmitter) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{
		repo:        repo,
		ipExtractor: ipExtractor,
		emitters:    emitters,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Record assigns the event a ULID and timestamp, stores it and ships it to every emitter.
func (l *Logger) Record(ctx context.Context, e domain.Event) {
	if l == nil {
		return
	}
	e.Timestamp = l.now()
	e.ID = ulid.MustNew(ulid.Timestamp(e.Timestamp), ulid.DefaultEntropy()).String()
	if e.IPAddress == "" {
		e.IPAddress = "unknown"
		if l.ipExtractor != nil {
			if ip := l.ipExtractor(ctx); ip != "" {
				e.IPAddress = ip
			}
		}
	}
	if !e.Severity.Valid() {
		e.Severity = domain.SeverityInfo
	}
	if e.Outcome == "" {
		e.Outcome = domain.OutcomeSuccess
	}

	if l.repo != nil {
		if err := l.repo.Create(ctx, &e); err != nil {
			metrics.AuditWriteFailuresTotal.Inc()
			l.log.Error("audit: failed to record event",
				zap.String("event_type", string(e.Type)),
				zap.String("user_id", e.UserID),
				zap.Error(err))
		}
	}
	for _, em := range l.emitters {
		ev := e
		telemetry.EmitAsync(em, ctx, &ev, l.log)
	}
}

// List returns stored events matching f, newest first.
func (l *Logger) List(ctx context.Context, f domain.Filter) ([]*domain.Event, error) {
	return l.repo.List(ctx, f)
}
