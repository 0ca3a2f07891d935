package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tutorhub/tutorhub/pkg/audit"
	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/httputil"
	"github.com/tutorhub/tutorhub/pkg/middleware"
	"github.com/tutorhub/tutorhub/pkg/observability"
	"github.com/tutorhub/tutorhub/pkg/rbac"
	"github.com/tutorhub/tutorhub/pkg/storage"
)

// StatsSource provides the admin dashboard counters
type StatsSource interface {
	Stats(ctx context.Context, onlineSince time.Time) (storage.UserStats, error)
}

// Dependencies are the collaborators of the API server
type Dependencies struct {
	Store   storage.Store
	Avatars storage.AvatarStore
	Tokens  *auth.TokenService
	Hasher  *auth.PasswordHasher
	Limiter middleware.Limiter
	Cookie  auth.SessionCookie

	// Stats defaults to Store
	Stats StatsSource

	// LoginRule and RegisterRule default to 3 attempts per minute
	LoginRule    middleware.RateLimitRule
	RegisterRule middleware.RateLimitRule

	// Identity registers the external identity routes when set
	Identity RouteRegistrar

	Metrics *observability.Metrics
	Logger  *observability.Logger
	Audit   audit.Logger

	// AvatarDir is served at /avatars/ when avatars are stored on disk
	AvatarDir string
	// PagesDir is served behind the page guard when set
	PagesDir string

	RequestTimeout time.Duration
	MaxBodyBytes   int64
	CORSOrigins    []string
	// TrustedProxies may set the client address through forwarding headers
	TrustedProxies httputil.TrustedProxies
	Tracing        bool
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	handler http.Handler
	session *middleware.SessionMiddleware
	admin   *rbac.AdminAccess
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// NewServer creates a new API server
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if deps.Stats == nil {
		deps.Stats = deps.Store
	}
	if deps.LoginRule.Route == "" {
		deps.LoginRule = middleware.DefaultAuthRule("login")
	}
	if deps.RegisterRule.Route == "" {
		deps.RegisterRule = middleware.DefaultAuthRule("register")
	}

	s := &Server{
		router:  mux.NewRouter(),
		session: middleware.NewSessionMiddleware(deps.Tokens, deps.Cookie),
		admin:   rbac.NewAdminAccess(deps.Store, rbac.NewPolicy()),
	}

	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}

	s.setupRoutes(deps)
	s.handler = s.buildChain(deps)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(deps Dependencies) {
	limiter := middleware.NewRateLimitMiddleware(deps.Limiter, deps.Metrics)

	authHandlers := NewAuthHandlers(deps.Store, deps.Hasher, deps.Tokens, deps.Cookie, deps.Metrics)
	authHandlers.RegisterRoutes(s.router, s.session, limiter.Limit(deps.LoginRule), limiter.Limit(deps.RegisterRule))

	NewProfileHandlers(deps.Store, deps.Avatars).RegisterRoutes(s.router, s.session)
	NewNotificationHandlers(deps.Store).RegisterRoutes(s.router, s.session)
	NewAdminHandlers(deps.Store, deps.Stats, rbac.NewPolicy(), deps.Metrics).RegisterRoutes(s.router, s.session, s.admin)
	NewHealthHandlers(deps.Store).RegisterRoutes(s.router)

	if deps.Identity != nil {
		s.RegisterRoutes(deps.Identity)
	}

	if deps.AvatarDir != "" {
		s.router.PathPrefix("/avatars/").Handler(
			http.StripPrefix("/avatars/", http.FileServer(http.Dir(deps.AvatarDir))),
		).Methods(http.MethodGet, http.MethodHead)
	}

	// Unknown API routes answer with the envelope instead of falling through to pages
	s.router.PathPrefix("/api/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteAPIError(w, r, httputil.NotFound(httputil.MsgNotFound))
	})

	if deps.PagesDir != "" {
		guard := middleware.NewPageGuard(deps.Tokens, deps.Metrics)
		s.router.PathPrefix("/").Handler(guard.Handler(http.FileServer(http.Dir(deps.PagesDir))))
	}
}

// buildChain wraps the router with the request middleware, outermost first
func (s *Server) buildChain(deps Dependencies) http.Handler {
	chain := []func(http.Handler) http.Handler{
		httputil.RecoveryMiddleware,
		httputil.RequestIDMiddleware,
		deps.TrustedProxies.Middleware,
		httputil.LoggingMiddleware(deps.Logger),
		audit.NewMiddleware(deps.Audit).Handler,
		httputil.SecurityHeadersMiddleware,
	}
	if len(deps.CORSOrigins) > 0 {
		chain = append(chain, httputil.CORSMiddleware(deps.CORSOrigins))
	}
	if deps.MaxBodyBytes > 0 {
		chain = append(chain, httputil.MaxBytesMiddleware(deps.MaxBodyBytes))
	}
	chain = append(chain, httputil.TimeoutMiddleware(deps.RequestTimeout))

	handler := httputil.Chain(chain...)(s.router)
	if deps.Tracing {
		handler = otelhttp.NewHandler(handler, "tutorhub",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
	return handler
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}
