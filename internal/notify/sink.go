package notify

// Package notify contains the notification sinks the audit dispatcher fans
// events out to. A sink registers with a minimum severity; delivery order
// follows the audit log's total ordering because sinks are invoked from the
// single-writer path.

import (
	"context"

	"go.uber.org/zap"

	"github.com/mamutelabs/steward/internal/audit"
)

// LogSink writes audit entries to the application log at a zap level
// matching the entry severity. It is the default sink and is always safe:
// it never returns an error.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("notify")}
}

// Name implements audit.Sink.
func (s *LogSink) Name() string { return "log" }

// Notify implements audit.Sink.
func (s *LogSink) Notify(_ context.Context, e audit.Entry) error {
	fields := []zap.Field{
		zap.Uint64("seq", e.Seq),
		zap.String("event_type", string(e.Type)),
	}
	if e.ActionID != "" {
		fields = append(fields, zap.String("action_id", e.ActionID))
	}
	if e.Status != "" {
		fields = append(fields, zap.String("status", e.Status))
	}
	if e.Outcome != "" {
		fields = append(fields, zap.String("outcome", string(e.Outcome)))
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}

	msg := e.Message
	if msg == "" {
		msg = string(e.Type)
	}

	switch e.Severity {
	case audit.SeverityWarning:
		s.logger.Warn(msg, fields...)
	case audit.SeverityError, audit.SeverityCritical:
		s.logger.Error(msg, fields...)
	default:
		s.logger.Info(msg, fields...)
	}
	return nil
}
