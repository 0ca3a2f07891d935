package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/tutorhub/tutorhub/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close flushes any buffered events
	Close() error
}

type loggerKey struct{}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return logger
	}
	return NopLogger()
}

// NopLogger returns a logger that drops every event
func NopLogger() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(context.Context, *AuditEvent) error { return nil }
func (noOpLogger) Close() error                           { return nil }

// NewEvent builds an event with request id, client ip and user id taken
// from ctx and, when r is non-nil, the method, path and user agent.
func NewEvent(ctx context.Context, r *http.Request, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		UserID:    contextkeys.GetUserID(ctx),
		IPAddress: contextkeys.GetClientIP(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
	}
	if r != nil {
		event.Method = r.Method
		event.Path = r.URL.Path
		event.UserAgent = r.UserAgent()
	}
	return event
}

// Record logs event through the context logger. Failures to write the
// audit trail never fail the request.
func Record(ctx context.Context, event *AuditEvent) {
	_ = FromContext(ctx).Log(ctx, event)
}

// LogSuccess records a successful event for the request
func LogSuccess(r *http.Request, eventType EventType, message string, metadata map[string]interface{}) {
	event := NewEvent(r.Context(), r, eventType, EventStatusSuccess)
	event.Message = message
	event.Metadata = metadata
	Record(r.Context(), event)
}

// LogFailure records a failed event for the request
func LogFailure(r *http.Request, eventType EventType, message string, err error) {
	event := NewEvent(r.Context(), r, eventType, EventStatusFailure)
	event.Message = message
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	Record(r.Context(), event)
}

// LogDenied records an access denial for the request
func LogDenied(r *http.Request, eventType EventType, resourceType ResourceType, resourceID, reason string) {
	event := NewEvent(r.Context(), r, eventType, EventStatusDenied)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = reason
	Record(r.Context(), event)
}
