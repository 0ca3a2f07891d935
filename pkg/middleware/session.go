package middleware

import (
	"context"
	"net/http"

	"github.com/tutorhub/tutorhub/pkg/audit"
	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/contextkeys"
	"github.com/tutorhub/tutorhub/pkg/httputil"
	"github.com/tutorhub/tutorhub/pkg/observability"
)

// MsgInvalidToken is returned for a present but unusable session token
const MsgInvalidToken = "Неверный токен"

// TokenVerifier verifies session tokens
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// SessionMiddleware resolves the session cookie on API routes
type SessionMiddleware struct {
	tokens TokenVerifier
	cookie auth.SessionCookie
}

// NewSessionMiddleware creates a new session middleware
func NewSessionMiddleware(tokens TokenVerifier, cookie auth.SessionCookie) *SessionMiddleware {
	return &SessionMiddleware{
		tokens: tokens,
		cookie: cookie,
	}
}

// RequireSession rejects requests without a valid session. A missing cookie
// is "Не авторизован"; an invalid one is "Неверный токен" and the cookie is
// cleared.
func (m *SessionMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.TokenFromRequest(r)
		if !ok {
			httputil.WriteAPIError(w, r, httputil.Unauthenticated(httputil.MsgUnauthenticated))
			return
		}

		claims, err := m.tokens.Verify(r.Context(), token)
		if err != nil {
			observability.FromContext(r.Context()).
				WithField("token", auth.Fingerprint(token)).
				Debug("Session token rejected")
			audit.LogFailure(r, audit.EventTypeAuthTokenInvalid, "invalid session token", err)
			m.cookie.Clear(w)
			httputil.WriteAPIError(w, r, httputil.Unauthenticated(MsgInvalidToken))
			return
		}

		authCtx := &auth.AuthContext{Claims: claims, Token: token}
		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithUserID(ctx, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext retrieves the auth context from the request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	return AuthContextFrom(r.Context())
}

// AuthContextFrom retrieves the auth context from ctx
func AuthContextFrom(ctx context.Context) *auth.AuthContext {
	if authCtx, ok := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext); ok {
		return authCtx
	}
	return nil
}
