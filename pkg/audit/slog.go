package audit

import (
	"context"
	"log/slog"
)

// SlogLogger writes audit events as structured log records.
type SlogLogger struct {
	logger        *slog.Logger
	logParameters bool
}

// NewSlogLogger creates a SlogLogger. A nil logger uses slog.Default.
func NewSlogLogger(logger *slog.Logger, cfg Config) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger.With("component", "audit"), logParameters: cfg.LogParameters}
}

// Log implements Logger.
func (l *SlogLogger) Log(ctx context.Context, event Event) error {
	attrs := []slog.Attr{
		slog.String("event_id", event.ID),
		slog.String("request_id", event.RequestID),
		slog.String("tool", event.ToolName),
		slog.Bool("success", event.Success),
		slog.Int64("duration_ms", event.DurationMS),
	}
	if event.ToolkitKind != "" {
		attrs = append(attrs, slog.String("toolkit", event.ToolkitKind+"/"+event.ToolkitName))
	}
	if event.Route != "" {
		attrs = append(attrs, slog.String("route", event.Route))
	}
	if event.ReadOnly {
		attrs = append(attrs, slog.Bool("read_only", true))
	}
	if event.ResponseChars > 0 {
		attrs = append(attrs, slog.Int("response_chars", event.ResponseChars))
	}
	if event.ErrorMessage != "" {
		attrs = append(attrs, slog.String("error", event.ErrorMessage))
	}
	if l.logParameters && len(event.Parameters) > 0 {
		attrs = append(attrs, slog.Any("parameters", event.Parameters))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	l.logger.LogAttrs(ctx, level, "tool call", attrs...)
	return nil
}

// Close implements Logger.
func (*SlogLogger) Close() error {
	return nil
}

var _ Logger = (*SlogLogger)(nil)
