package logger

import (
	"context"
	"log/slog"
	"time"
)

// ThreatEvent is a structured log entry for abuse and authentication
// activity. It mirrors the persisted security event but goes to the log
// stream, so operators can tail threats without querying the database.
type ThreatEvent struct {
	EventType string
	Email     string
	IPAddress string
	UserAgent string
	Success   bool
	Detail    string
}

// ThreatLogger emits structured audit lines for security-relevant activity.
type ThreatLogger struct {
	logger *slog.Logger
}

func NewThreatLogger(logger *slog.Logger) *ThreatLogger {
	return &ThreatLogger{logger: logger}
}

// LogThreat records a detected abuse signal (malicious input, blocked IP
// access, rate limit breach) at warn level.
func (tl *ThreatLogger) LogThreat(event ThreatEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "threat"),
		slog.String("event_type", event.EventType),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.Detail != "" {
		attrs = append(attrs, slog.String("detail", event.Detail))
	}

	tl.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
}

// LogAuthAttempt records the outcome of an authentication attempt.
// Failures log at warn level so they stand out when tailing.
func (tl *ThreatLogger) LogAuthAttempt(event ThreatEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.Detail != "" {
		attrs = append(attrs, slog.String("detail", event.Detail))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	tl.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}
