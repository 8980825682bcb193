package logger

import (
	"github.com/rs/zerolog"
)

// LogRequest logs one HTTP exchange with the remote service.
func LogRequest(l Logger, method, url string, statusCode int, durationMs int64) {
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration_ms": durationMs,
	}

	switch {
	case statusCode >= 500:
		l.WarnWithFields("remote server error", fields)
	case statusCode >= 400:
		l.DebugWithFields("remote client error", fields)
	default:
		l.DebugWithFields("remote request completed", fields)
	}
}

// LogTransfer logs the terminal state of one attachment.
func LogTransfer(l Logger, id string, attempts int, bytes int64, skipped bool, err error) {
	fields := map[string]interface{}{
		"attachment_id": id,
		"attempts":      attempts,
		"bytes":         bytes,
	}

	switch {
	case err != nil:
		l.WithError(err).WarnWithFields("attachment failed", fields)
	case skipped:
		l.DebugWithFields("attachment already present", fields)
	default:
		l.DebugWithFields("attachment downloaded", fields)
	}
}

// LogRateLimit logs a server-imposed pause.
func LogRateLimit(l Logger, endpoint string, retryAfterSeconds float64) {
	l.WarnWithFields("rate limited by server", map[string]interface{}{
		"endpoint":    endpoint,
		"retry_after": retryAfterSeconds,
	})
}

// LogComponentStart logs component initialization
func LogComponentStart(l Logger, component string, config map[string]interface{}) {
	fields := map[string]interface{}{"component": component}
	for k, v := range config {
		fields[k] = v
	}
	l.InfoWithFields("component started", fields)
}

// LogComponentStop logs component shutdown
func LogComponentStop(l Logger, component string, reason string) {
	l.InfoWithFields("component stopped", map[string]interface{}{
		"component": component,
		"reason":    reason,
	})
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}
