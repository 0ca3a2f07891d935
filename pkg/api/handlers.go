package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tutorhub/tutorhub/pkg/httputil"
	"github.com/tutorhub/tutorhub/pkg/middleware"
	"github.com/tutorhub/tutorhub/pkg/observability"
	"github.com/tutorhub/tutorhub/pkg/storage"
)

// Client-facing messages shared by the handler groups
const (
	MsgUserNotFound    = "Пользователь не найден"
	MsgEmailTaken      = "Пользователь с таким email уже существует"
	MsgPhoneTaken      = "Пользователь с таким телефоном уже существует"
	MsgDatabaseDown    = "Ошибка подключения к базе данных"
	MsgPasswordTooLong = "Пароль слишком длинный"
)

// callerID returns the session user id. Routes using it run behind RequireSession.
func callerID(r *http.Request) string {
	return middleware.GetAuthContext(r).UserID()
}

// decodeBody decodes a JSON body, answering 400 on failure
func decodeBody(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := httputil.ParseJSON(r, dest); err != nil {
		e := httputil.NewError(httputil.KindValidation, httputil.MsgValidation)
		e.Cause = err
		httputil.WriteAPIError(w, r, e)
		return false
	}
	return true
}

// writeStoreError maps storage sentinels onto the API envelope
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httputil.WriteAPIError(w, r, httputil.NotFound(notFound))
	case errors.Is(err, storage.ErrDuplicateEmail):
		httputil.WriteAPIError(w, r, httputil.Conflict(MsgEmailTaken))
	case errors.Is(err, storage.ErrDuplicatePhone):
		httputil.WriteAPIError(w, r, httputil.Conflict(MsgPhoneTaken))
	default:
		httputil.WriteAPIError(w, r, httputil.Internal(err))
	}
}

// UserCounter counts users
type UserCounter interface {
	CountUsers(ctx context.Context) (int, error)
}

// HealthHandlers serves the database probe on the main port
type HealthHandlers struct {
	users UserCounter
}

// NewHealthHandlers creates the health handlers
func NewHealthHandlers(users UserCounter) *HealthHandlers {
	return &HealthHandlers{users: users}
}

// RegisterRoutes registers health routes
func (h *HealthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/health/db", h.database).Methods(http.MethodGet)
}

// database handles GET /api/health/db
func (h *HealthHandlers) database(w http.ResponseWriter, r *http.Request) {
	count, err := h.users.CountUsers(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Database health check failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, MsgDatabaseDown)
		return
	}
	httputil.WriteSuccess(w, httputil.M{"userCount": count})
}
