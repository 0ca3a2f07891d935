package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/tutorhub/tutorhub/pkg/httputil"
	"github.com/tutorhub/tutorhub/pkg/middleware"
	"github.com/tutorhub/tutorhub/pkg/storage"
	"github.com/tutorhub/tutorhub/pkg/validation"
)

// NotificationLimit is the number of notifications returned by a listing
const NotificationLimit = 50

const (
	MsgNotificationNotFound = "Уведомление не найдено"
	MsgNotificationDeleted  = "Уведомление удалено"
)

// NotificationHandlers handles the caller's notifications
type NotificationHandlers struct {
	store storage.NotificationStore
}

// NewNotificationHandlers creates the notification handlers
func NewNotificationHandlers(store storage.NotificationStore) *NotificationHandlers {
	return &NotificationHandlers{store: store}
}

// RegisterRoutes registers notification routes
func (h *NotificationHandlers) RegisterRoutes(router *mux.Router, session *middleware.SessionMiddleware) {
	router.Handle("/api/notifications", session.RequireSession(http.HandlerFunc(h.create))).Methods(http.MethodPost)
	router.Handle("/api/notifications", session.RequireSession(http.HandlerFunc(h.list))).Methods(http.MethodGet)
	router.Handle("/api/notifications/{id}", session.RequireSession(http.HandlerFunc(h.delete))).Methods(http.MethodDelete)
}

type createNotificationRequest struct {
	Text string `json:"text"`
}

// create handles POST /api/notifications
func (h *NotificationHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req createNotificationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		httputil.WriteAPIError(w, r, httputil.NewError(httputil.KindValidation, validation.MsgNotificationText))
		return
	}

	n, err := h.store.CreateNotification(r.Context(), callerID(r), text, storage.NotificationTypeSystem)
	if err != nil {
		httputil.WriteAPIError(w, r, httputil.Internal(err))
		return
	}
	httputil.WriteSuccess(w, httputil.M{"notification": n})
}

// list handles GET /api/notifications
func (h *NotificationHandlers) list(w http.ResponseWriter, r *http.Request) {
	notifications, err := h.store.ListNotifications(r.Context(), callerID(r), NotificationLimit)
	if err != nil {
		httputil.WriteAPIError(w, r, httputil.Internal(err))
		return
	}
	if notifications == nil {
		notifications = []*storage.Notification{}
	}
	httputil.WriteSuccess(w, httputil.M{"notifications": notifications})
}

// delete handles DELETE /api/notifications/{id}
func (h *NotificationHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := h.store.DeleteNotification(r.Context(), callerID(r), id)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteAPIError(w, r, httputil.NotFound(MsgNotificationNotFound))
		return
	}
	if err != nil {
		httputil.WriteAPIError(w, r, httputil.Internal(err))
		return
	}
	httputil.WriteMessage(w, MsgNotificationDeleted)
}
