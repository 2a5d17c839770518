package telemetry

import (
	"context"
	"log/slog"
)

// LogSink writes telemetry as structured log records.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink that logs through logger, or slog.Default when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Funnel logs a funnel event at info level.
func (s *LogSink) Funnel(ctx context.Context, ev FunnelEvent) {
	attrs := []any{
		"event", string(ev.Name),
		"session_id", ev.SessionID,
		"request_id", ev.RequestID,
	}
	for k, v := range ev.Props {
		attrs = append(attrs, k, v)
	}
	s.logger.InfoContext(ctx, "funnel_event", attrs...)
}

// ProviderCall logs one provider attempt. Failures are logged at warn.
func (s *LogSink) ProviderCall(ctx context.Context, call ProviderCall) {
	msg := "provider_call_completed"
	level := slog.LevelInfo
	if call.Status != CallSuccess {
		msg = "provider_call_failed"
		level = slog.LevelWarn
	}

	attrs := []any{
		"provider", string(call.Provider),
		"operation", call.Operation,
		"request_id", call.RequestID,
		"session_id", call.SessionID,
		"latency_ms", call.Latency.Milliseconds(),
		"provider_status", string(call.Status),
		"attempt", call.Attempt,
	}
	if call.ErrorCode != "" {
		attrs = append(attrs, "error_code", call.ErrorCode)
	}
	s.logger.Log(ctx, level, msg, attrs...)
}
