package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"care-platform/backend/internal/audit/domain"
	"care-platform/backend/internal/telemetry"
)

// recordEmitter is the subset of otellog.Logger used by the emitter.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends security events as OTel log records via the given
// LoggerProvider. If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("care.security")}
}

// NewEventEmitterWithLogger wraps any record sink. Tests use it to capture records.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.Event) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the event to an OTel log record. The body is the event JSON.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(severityOf(event.Severity))
	rec.SetSeverityText(string(event.Severity))
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	rec.SetBody(otellog.BytesValue(body))

	rec.AddAttributes(otellog.String("event_type", string(event.Type)))
	if event.ID != "" {
		rec.AddAttributes(otellog.String("event_id", event.ID))
	}
	if event.Outcome != "" {
		rec.AddAttributes(otellog.String("outcome", string(event.Outcome)))
	}
	if event.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", event.UserID))
	}
	if event.TargetUserID != "" {
		rec.AddAttributes(otellog.String("target_user_id", event.TargetUserID))
	}
	e.logger.Emit(ctx, rec)
	return nil
}

func severityOf(s domain.Severity) otellog.Severity {
	switch s {
	case domain.SeverityLow:
		return otellog.SeverityInfo2
	case domain.SeverityMedium:
		return otellog.SeverityWarn
	case domain.SeverityHigh:
		return otellog.SeverityError
	case domain.SeverityCritical:
		return otellog.SeverityFatal
	default:
		return otellog.SeverityInfo
	}
}
