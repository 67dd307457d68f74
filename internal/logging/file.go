package logging

import (
	"context"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"care-platform/backend/internal/audit/domain"
)

// FileConfig controls rotation of the security event file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultFileConfig returns rotation defaults for path.
func DefaultFileConfig(path string) FileConfig {
	return FileConfig{
		Path:       path,
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 90,
		Compress:   true,
	}
}

// FileEmitter appends every security event as one JSON line to a rotating file.
type FileEmitter struct {
	logger *zap.Logger
	closer io.Closer
}

// NewFileEmitter opens (lazily) the rotating file described by cfg.
func NewFileEmitter(cfg FileConfig) *FileEmitter {
	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)
	return &FileEmitter{logger: zap.New(core), closer: rotator}
}

// Emit writes the event. It never fails on a well-formed event; write errors surface through Sync.
func (f *FileEmitter) Emit(_ context.Context, e *domain.Event) error {
	if e == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("event_type", string(e.Type)),
		zap.String("severity", string(e.Severity)),
		zap.String("outcome", string(e.Outcome)),
		zap.String("ip_address", e.IPAddress),
		zap.Time("event_time", e.Timestamp),
	}
	if e.UserID != "" {
		fields = append(fields, zap.String("user_id", e.UserID))
	}
	if e.TargetUserID != "" {
		fields = append(fields, zap.String("target_user_id", e.TargetUserID))
	}
	f.logger.Info(e.Message, fields...)
	return nil
}

// Close flushes and closes the file.
func (f *FileEmitter) Close() error {
	_ = f.logger.Sync()
	return f.closer.Close()
}
