package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/tutorhub/tutorhub/pkg/audit"
	"github.com/tutorhub/tutorhub/pkg/contextkeys"
	"github.com/tutorhub/tutorhub/pkg/httputil"
	"github.com/tutorhub/tutorhub/pkg/middleware"
	"github.com/tutorhub/tutorhub/pkg/observability"
	"github.com/tutorhub/tutorhub/pkg/storage"
)

// RoleLookup reads a user's current roles
type RoleLookup interface {
	GetUserRoles(ctx context.Context, id string) ([]string, error)
}

// AdminAccess gates admin API routes on the caller's stored roles rather
// than the roles baked into the session token
type AdminAccess struct {
	roles  RoleLookup
	policy *Policy
}

// NewAdminAccess creates the admin route gate
func NewAdminAccess(roles RoleLookup, policy *Policy) *AdminAccess {
	if policy == nil {
		policy = NewPolicy()
	}
	return &AdminAccess{
		roles:  roles,
		policy: policy,
	}
}

// Require must run after SessionMiddleware.RequireSession. It loads the
// caller's roles, rejects anyone without admin area access and puts the
// roles on the request context for the handlers.
func (a *AdminAccess) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := middleware.GetAuthContext(r)
		if authCtx == nil || authCtx.Claims == nil {
			httputil.WriteAPIError(w, r, httputil.Unauthenticated(httputil.MsgUnauthenticated))
			return
		}
		callerID := authCtx.UserID()

		roles, err := a.roles.GetUserRoles(r.Context(), callerID)
		if errors.Is(err, storage.ErrNotFound) {
			audit.LogDenied(r, audit.EventTypeAuthzAccessDenied, audit.ResourceTypeRoute, r.URL.Path, "caller no longer exists")
			httputil.WriteAPIError(w, r, httputil.Forbidden(httputil.MsgForbidden))
			return
		}
		if err != nil {
			httputil.WriteAPIError(w, r, httputil.Internal(err))
			return
		}

		if !a.policy.CanAccessAdmin(roles) {
			observability.FromContext(r.Context()).
				WithFields(map[string]interface{}{
					"user_id": callerID,
					"path":    r.URL.Path,
				}).
				Warn("Admin API access denied")
			audit.LogDenied(r, audit.EventTypeAuthzAccessDenied, audit.ResourceTypeRoute, r.URL.Path, "no admin area role")
			httputil.WriteAPIError(w, r, httputil.Forbidden(httputil.MsgForbidden))
			return
		}

		next.ServeHTTP(w, r.WithContext(contextkeys.WithStoredRoles(r.Context(), roles)))
	})
}
