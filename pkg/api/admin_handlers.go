package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tutorhub/tutorhub/pkg/audit"
	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/contextkeys"
	"github.com/tutorhub/tutorhub/pkg/httputil"
	"github.com/tutorhub/tutorhub/pkg/middleware"
	"github.com/tutorhub/tutorhub/pkg/observability"
	"github.com/tutorhub/tutorhub/pkg/rbac"
	"github.com/tutorhub/tutorhub/pkg/storage"
	"github.com/tutorhub/tutorhub/pkg/validation"
)

// OnlineWindow is how recently a user must have been active to count as online
const OnlineWindow = 5 * time.Minute

// Distribution bucket names on the admin dashboard
const (
	BucketAdmins   = "админ"
	BucketManagers = "менеджер"
	BucketUsers    = "пользователь"
)

// AdminHandlers handles the admin area API
type AdminHandlers struct {
	store   storage.UserStore
	stats   StatsSource
	policy  *rbac.Policy
	metrics *observability.Metrics
	now     func() time.Time
}

// NewAdminHandlers creates the admin handlers
func NewAdminHandlers(store storage.UserStore, stats StatsSource, policy *rbac.Policy, metrics *observability.Metrics) *AdminHandlers {
	if stats == nil {
		stats = store
	}
	if policy == nil {
		policy = rbac.NewPolicy()
	}
	return &AdminHandlers{
		store:   store,
		stats:   stats,
		policy:  policy,
		metrics: metrics,
		now:     time.Now,
	}
}

// RegisterRoutes registers admin routes. Every route requires a session
// and admin area access on the caller's stored roles.
func (h *AdminHandlers) RegisterRoutes(router *mux.Router, session *middleware.SessionMiddleware, access *rbac.AdminAccess) {
	guard := func(fn http.HandlerFunc) http.Handler {
		return session.RequireSession(access.Require(fn))
	}

	router.Handle("/api/admin/users", guard(h.listUsers)).Methods(http.MethodGet)
	router.Handle("/api/admin/users/{id}/role", guard(h.updateRoles)).Methods(http.MethodPut)
	router.Handle("/api/admin/users/{id}",
		session.RequireSession(h.rejectSelfDelete(access.Require(http.HandlerFunc(h.deleteUser))))).
		Methods(http.MethodDelete)
	router.Handle("/api/admin/stats", guard(h.getStats)).Methods(http.MethodGet)
}

// listUsers handles GET /api/admin/users
func (h *AdminHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		httputil.WriteAPIError(w, r, httputil.Internal(err))
		return
	}
	if users == nil {
		users = []*auth.User{}
	}
	httputil.WriteSuccess(w, httputil.M{"users": users})
}

type updateRolesRequest struct {
	Roles []string `json:"roles"`
}

// updateRoles handles PUT /api/admin/users/{id}/role
func (h *AdminHandlers) updateRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	targetID := mux.Vars(r)["id"]
	callerRoles, _ := contextkeys.GetStoredRoles(ctx)

	var req updateRolesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	v := validation.NewValidator()
	if req.Roles == nil {
		v.Add(validation.CodeInvalidType, validation.MsgRolesRequired, "roles")
	}
	v.Strings("roles", req.Roles, validation.MsgRolesRequired)
	if !v.Valid() {
		httputil.WriteAPIError(w, r, httputil.ValidationError(v.Issues()))
		return
	}
	roles := auth.NormalizeRoles(req.Roles)

	change := rbac.RoleChange{
		CallerID:    callerID(r),
		CallerRoles: callerRoles,
		TargetID:    targetID,
		NewRoles:    roles,
	}
	if err := h.policy.AuthorizeRoleChange(change); err != nil {
		h.deny(w, r, targetID, err)
		return
	}

	targetRoles, err := h.store.GetUserRoles(ctx, targetID)
	if err != nil {
		writeStoreError(w, r, err, MsgUserNotFound)
		return
	}
	if err := h.policy.AuthorizeTarget(callerRoles, targetRoles); err != nil {
		h.deny(w, r, targetID, err)
		return
	}

	user, err := h.store.UpdateRoles(ctx, targetID, roles)
	if err != nil {
		writeStoreError(w, r, err, MsgUserNotFound)
		return
	}

	audit.LogSuccess(r, audit.EventTypeAuthzRoleChange, "roles updated", map[string]interface{}{
		"target_id": targetID,
		"old_roles": targetRoles,
		"new_roles": roles,
	})
	httputil.WriteSuccess(w, httputil.M{"user": user})
}

// deleteUser handles DELETE /api/admin/users/{id}
func (h *AdminHandlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	targetID := mux.Vars(r)["id"]
	callerRoles, _ := contextkeys.GetStoredRoles(ctx)

	if err := h.policy.AuthorizeDelete(callerID(r), callerRoles, targetID); err != nil {
		h.deny(w, r, targetID, err)
		return
	}

	if err := h.store.DeleteUser(ctx, targetID); err != nil {
		writeStoreError(w, r, err, MsgUserNotFound)
		return
	}

	audit.LogSuccess(r, audit.EventTypeAdminUserDelete, "user deleted", map[string]interface{}{
		"target_id": targetID,
	})
	httputil.WriteSuccess(w, nil)
}

// rejectSelfDelete answers 400 to a caller deleting their own account
// before the admin area gate runs, whatever roles they hold
func (h *AdminHandlers) rejectSelfDelete(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		targetID := mux.Vars(r)["id"]
		if targetID != "" && targetID == callerID(r) {
			h.deny(w, r, targetID, rbac.ErrSelfDelete)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// deny answers a policy rejection. Deleting oneself is a bad request,
// every other rejection is forbidden.
func (h *AdminHandlers) deny(w http.ResponseWriter, r *http.Request, targetID string, err error) {
	audit.LogDenied(r, audit.EventTypeAuthzAccessDenied, audit.ResourceTypeUser, targetID, err.Error())
	if errors.Is(err, rbac.ErrSelfDelete) {
		httputil.WriteAPIError(w, r, httputil.NewError(httputil.KindValidation, rbac.Message(err)))
		return
	}
	httputil.WriteAPIError(w, r, httputil.Forbidden(rbac.Message(err)))
}

type distributionBucket struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// getStats handles GET /api/admin/stats
func (h *AdminHandlers) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context(), h.now().Add(-OnlineWindow))
	if err != nil {
		httputil.WriteAPIError(w, r, httputil.Internal(err))
		return
	}
	h.metrics.SetUserCounts(stats.Total, stats.Online)

	admins, managers, users := stats.Distribution()
	httputil.WriteSuccess(w, httputil.M{
		"totalUsers":   stats.Total,
		"adminCount":   stats.Admins,
		"managerCount": stats.Managers,
		"onlineCount":  stats.Online,
		"distribution": []distributionBucket{
			{Name: BucketAdmins, Value: admins},
			{Name: BucketManagers, Value: managers},
			{Name: BucketUsers, Value: users},
		},
	})
}
