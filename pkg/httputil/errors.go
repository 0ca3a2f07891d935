package httputil

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/tutorhub/tutorhub/pkg/observability"
)

// Kind classifies an API error and determines its HTTP status
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimited
	KindUpstream
)

// Default client-facing messages
const (
	MsgValidation      = "Неверные данные"
	MsgUnauthenticated = "Не авторизован"
	MsgForbidden       = "Недостаточно прав"
	MsgNotFound        = "Не найдено"
	MsgUpstream        = "Ошибка внешнего провайдера"
	MsgInternal        = "Внутренняя ошибка сервера"
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_failed"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstream:
		return "upstream_failure"
	default:
		return "internal"
	}
}

// Status returns the HTTP status code for the kind
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) defaultMessage() string {
	switch k {
	case KindValidation:
		return MsgValidation
	case KindUnauthenticated:
		return MsgUnauthenticated
	case KindForbidden:
		return MsgForbidden
	case KindNotFound:
		return MsgNotFound
	case KindUpstream:
		return MsgUpstream
	default:
		return MsgInternal
	}
}

// Error is an API error carrying a kind, a client-facing message and an
// optional internal cause that is logged but never sent to the client.
type Error struct {
	Kind       Kind
	Message    string
	Details    interface{}
	RetryAfter time.Duration
	ResetAt    time.Time
	Cause      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.defaultMessage()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an API error of the given kind
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// ValidationError creates a 400 error with per-field details
func ValidationError(details interface{}) *Error {
	return &Error{Kind: KindValidation, Message: MsgValidation, Details: details}
}

// Unauthenticated creates a 401 error
func Unauthenticated(message string) *Error {
	return NewError(KindUnauthenticated, message)
}

// Forbidden creates a 403 error
func Forbidden(message string) *Error {
	return NewError(KindForbidden, message)
}

// NotFound creates a 404 error
func NotFound(message string) *Error {
	return NewError(KindNotFound, message)
}

// Conflict creates a 409 error
func Conflict(message string) *Error {
	return NewError(KindConflict, message)
}

// RateLimited creates a 429 error. retryAfter is rounded up to whole seconds
// when written.
func RateLimited(retryAfter time.Duration, resetAt time.Time) *Error {
	return &Error{Kind: KindRateLimited, RetryAfter: retryAfter, ResetAt: resetAt}
}

// Upstream wraps an identity provider failure as a 502 error
func Upstream(cause error) *Error {
	return &Error{Kind: KindUpstream, Message: MsgUpstream, Cause: cause}
}

// Internal wraps an unexpected failure as a 500 error
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: MsgInternal, Cause: cause}
}

// RetryAfterSeconds rounds d up to whole seconds, with a minimum of one
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RateLimitMessage returns the client-facing message for a rate limit denial
func RateLimitMessage(seconds int) string {
	return fmt.Sprintf("Слишком много попыток. Попробуйте через %d сек.", seconds)
}

// WriteAPIError writes err as the failure envelope. Errors that are not
// *Error become Internal. Causes of 5xx errors are logged, never written.
func WriteAPIError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = Internal(err)
	}

	status := apiErr.Kind.Status()
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).
			WithError(apiErr.Cause).
			WithFields(map[string]interface{}{
				"kind":   apiErr.Kind.String(),
				"method": r.Method,
				"path":   r.URL.Path,
			}).
			Error("Request failed")
	}

	body := map[string]interface{}{"ok": false}

	if apiErr.Kind == KindRateLimited {
		secs := RetryAfterSeconds(apiErr.RetryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		body["error"] = RateLimitMessage(secs)
		body["retryAfter"] = secs
		if !apiErr.ResetAt.IsZero() {
			body["resetTime"] = apiErr.ResetAt.UnixMilli()
		}
		WriteJSON(w, status, body)
		return
	}

	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.Kind.defaultMessage()
	}
	body["error"] = msg
	if apiErr.Details != nil {
		body["details"] = apiErr.Details
	}
	WriteJSON(w, status, body)
}
