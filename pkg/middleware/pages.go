package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/tutorhub/tutorhub/pkg/audit"
	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/observability"
)

// Page guard redirect targets
const (
	LoginPage   = "/login"
	ProfilePage = "/profile"
)

// Reasons reported by PageGuard.Decide
const (
	ReasonPublic         = "public"
	ReasonNoSession      = "no_session"
	ReasonInvalidSession = "invalid_session"
	ReasonNotPrivileged  = "not_privileged"
	ReasonSignedIn       = "signed_in"
	ReasonAllowed        = "allowed"
)

var (
	protectedPrefixes = []string{"/profile", "/notifications", "/admin"}
	guestPrefixes     = []string{"/login", "/register"}
	onboardingPrefix  = "/register/details"
	adminPrefix       = "/admin"
)

// PageDecision is the outcome of a page navigation check
type PageDecision struct {
	Pass       bool
	RedirectTo string
	Reason     string
	// Claims are set when a valid session was presented
	Claims *auth.Claims
}

// PageGuard decides whether a page navigation proceeds or redirects
type PageGuard struct {
	tokens  TokenVerifier
	metrics *observability.Metrics
}

// NewPageGuard creates a new page guard. metrics may be nil.
func NewPageGuard(tokens TokenVerifier, metrics *observability.Metrics) *PageGuard {
	return &PageGuard{tokens: tokens, metrics: metrics}
}

// hasPathPrefix matches prefix as a whole path segment
func hasPathPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func matchesAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if hasPathPrefix(path, p) {
			return true
		}
	}
	return false
}

// Decide evaluates a navigation to path with the session cookie, which may be nil
func (g *PageGuard) Decide(ctx context.Context, path string, cookie *http.Cookie) PageDecision {
	hasCookie := cookie != nil && cookie.Value != ""
	protected := matchesAny(path, protectedPrefixes)
	guestOnly := matchesAny(path, guestPrefixes) && !hasPathPrefix(path, onboardingPrefix)

	if protected && !hasCookie {
		return PageDecision{RedirectTo: LoginPage, Reason: ReasonNoSession}
	}

	if hasPathPrefix(path, adminPrefix) {
		claims, err := g.tokens.Verify(ctx, cookie.Value)
		if err != nil {
			return PageDecision{RedirectTo: LoginPage, Reason: ReasonInvalidSession}
		}
		if !auth.IsPrivileged(claims.Roles) {
			return PageDecision{RedirectTo: ProfilePage, Reason: ReasonNotPrivileged, Claims: claims}
		}
		return PageDecision{Pass: true, Reason: ReasonAllowed, Claims: claims}
	}

	if guestOnly && hasCookie {
		claims, err := g.tokens.Verify(ctx, cookie.Value)
		if err == nil {
			return PageDecision{RedirectTo: ProfilePage, Reason: ReasonSignedIn, Claims: claims}
		}
		// Expired sessions must still reach the login page
		return PageDecision{Pass: true, Reason: ReasonInvalidSession}
	}

	if protected {
		return PageDecision{Pass: true, Reason: ReasonAllowed}
	}
	return PageDecision{Pass: true, Reason: ReasonPublic}
}

// Handler applies Decide to page requests, redirecting with 302
func (g *PageGuard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(auth.CookieName)
		if err != nil {
			cookie = nil
		}

		decision := g.Decide(r.Context(), r.URL.Path, cookie)
		if decision.Pass {
			next.ServeHTTP(w, r)
			return
		}

		if decision.Reason == ReasonNotPrivileged {
			observability.FromContext(r.Context()).WithFields(map[string]interface{}{
				"user_id": decision.Claims.UserID,
				"roles":   strings.Join(decision.Claims.Roles, ","),
				"path":    r.URL.Path,
			}).Warn("[SECURITY] Unauthorized admin access attempt")
			event := audit.NewEvent(r.Context(), r, audit.EventTypeAuthzAccessDenied, audit.EventStatusDenied)
			event.UserID = decision.Claims.UserID
			event.ResourceType = audit.ResourceTypePage
			event.ResourceID = r.URL.Path
			event.Message = "admin page requires admin, manager or ceo role"
			audit.Record(r.Context(), event)
		}

		g.metrics.RecordRedirect(decision.RedirectTo)
		http.Redirect(w, r, decision.RedirectTo, http.StatusFound)
	})
}
