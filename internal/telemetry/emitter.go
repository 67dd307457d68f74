package telemetry

import (
	"context"

	"care-platform/backend/internal/audit/domain"
)

// EventEmitter ships a security event to a downstream sink (OTel logs, Kafka, a file). Best-effort; callers log
// and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}
