package otel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"care-platform/backend/internal/audit/domain"
)

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if em == nil {
		t.Fatal("NewEventEmitter(nil) returned nil")
	}
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("noop Emit(ctx, nil): %v", err)
	}
	if err := em.Emit(context.Background(), &domain.Event{Type: domain.EventLogout}); err != nil {
		t.Errorf("noop Emit(ctx, event): %v", err)
	}
}

func TestEmit_NilEvent_ReturnsNil(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewEventEmitter(provider)
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(ctx, nil): %v", err)
	}
}

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec otellog.Record
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
}

func attributesOf(rec otellog.Record) map[string]string {
	attrs := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	return attrs
}

func TestEmit_AttributeAndBodyMapping(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	event := &domain.Event{
		ID:           "01J0000000000000000000000",
		Type:         domain.EventAccountUnlocked,
		Severity:     domain.SeverityInfo,
		Outcome:      domain.OutcomeSuccess,
		UserID:       "admin-1",
		TargetUserID: "user-1",
		Message:      "account unlocked by administrator",
		IPAddress:    "10.0.0.1",
		Timestamp:    now,
	}
	if err := em.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := cap.rec

	if !rec.Timestamp().Equal(now) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), now)
	}
	var decoded domain.Event
	if err := json.Unmarshal(rec.Body().AsBytes(), &decoded); err != nil {
		t.Fatalf("body is not event JSON: %v", err)
	}
	if decoded.ID != event.ID || decoded.Type != event.Type {
		t.Errorf("body = %+v, want id %q type %q", decoded, event.ID, event.Type)
	}

	want := map[string]string{
		"event_id": event.ID, "event_type": "ACCOUNT_UNLOCKED", "outcome": "success",
		"user_id": "admin-1", "target_user_id": "user-1",
	}
	attrs := attributesOf(rec)
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %q = %q, want %q", k, attrs[k], v)
		}
	}
}

func TestEmit_ZeroTimestamp_SetsCurrentTime(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	before := time.Now().UTC()
	if err := em.Emit(context.Background(), &domain.Event{Type: domain.EventLogout}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	after := time.Now().UTC()
	ts := cap.rec.Timestamp()
	if ts.Before(before) || ts.After(after) {
		t.Errorf("timestamp = %v, should be between %v and %v", ts, before, after)
	}
}

func TestEmit_PartialFields(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	if err := em.Emit(context.Background(), &domain.Event{Type: domain.EventKeyRotated}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	attrs := attributesOf(cap.rec)
	if attrs["event_type"] != "KEY_ROTATED" {
		t.Errorf("event_type = %q, want %q", attrs["event_type"], "KEY_ROTATED")
	}
	if _, ok := attrs["user_id"]; ok {
		t.Errorf("user_id should not be set, got %q", attrs["user_id"])
	}
	if _, ok := attrs["target_user_id"]; ok {
		t.Error("target_user_id should not be set")
	}
}

func TestEmit_SeverityMapping(t *testing.T) {
	tests := []struct {
		in   domain.Severity
		want otellog.Severity
	}{
		{domain.SeverityInfo, otellog.SeverityInfo},
		{domain.SeverityLow, otellog.SeverityInfo2},
		{domain.SeverityMedium, otellog.SeverityWarn},
		{domain.SeverityHigh, otellog.SeverityError},
		{domain.SeverityCritical, otellog.SeverityFatal},
		{"", otellog.SeverityInfo},
	}
	for _, tt := range tests {
		cap := &recordCapture{}
		em := NewEventEmitterWithLogger(cap)
		if err := em.Emit(context.Background(), &domain.Event{Type: domain.EventLoginFailure, Severity: tt.in}); err != nil {
			t.Fatalf("Emit: %v", err)
		}
		if got := cap.rec.Severity(); got != tt.want {
			t.Errorf("severity(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
