package audit

import (
	"net/http"
)

// Middleware makes the audit logger available to handlers through the
// request context
type Middleware struct {
	logger Logger
}

// NewMiddleware creates a new audit middleware
func NewMiddleware(logger Logger) *Middleware {
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{logger: logger}
}

// Handler wraps an HTTP handler with the audit logger
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithLogger(r.Context(), m.logger)))
	})
}
