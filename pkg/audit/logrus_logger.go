package audit

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// LogrusLogger writes audit events as JSON lines through logrus. Every entry
// carries security=true so log pipelines can route it separately.
type LogrusLogger struct {
	log *logrus.Logger
}

// NewLogrusLogger creates an audit logger writing to out (stderr when nil)
func NewLogrusLogger(out io.Writer) *LogrusLogger {
	if out == nil {
		out = os.Stderr
	}
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	log.SetLevel(logrus.InfoLevel)
	return &LogrusLogger{log: log}
}

// Log implements Logger
func (l *LogrusLogger) Log(_ context.Context, event *AuditEvent) error {
	fields := logrus.Fields{
		"security":   true,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	addString(fields, "user_id", event.UserID)
	addString(fields, "email", event.Email)
	addString(fields, "resource_type", string(event.ResourceType))
	addString(fields, "resource_id", event.ResourceID)
	addString(fields, "ip", event.IPAddress)
	addString(fields, "user_agent", event.UserAgent)
	addString(fields, "request_id", event.RequestID)
	addString(fields, "method", event.Method)
	addString(fields, "path", event.Path)
	addString(fields, "error", event.ErrorMessage)
	if len(event.Metadata) > 0 {
		fields["metadata"] = event.Metadata
	}
	if event.Changes != nil {
		fields["changes"] = event.Changes
	}

	entry := l.log.WithFields(fields)
	if !event.Timestamp.IsZero() {
		entry = entry.WithTime(event.Timestamp)
	}

	msg := event.Message
	if msg == "" {
		msg = string(event.EventType)
	}

	switch event.Status {
	case EventStatusDenied, EventStatusFailure:
		entry.Warn(msg)
	default:
		entry.Info(msg)
	}
	return nil
}

// Close implements Logger
func (l *LogrusLogger) Close() error {
	return nil
}

func addString(fields logrus.Fields, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
