// Package middleware provides the HTTP middleware of the auth subsystem:
// fixed-window rate limiting (in-memory or Redis), API session resolution
// from the auth-token cookie, and the page guard that redirects browser
// navigations.
//
// # Rate Limiting
//
//	limiter := middleware.NewFixedWindowLimiter()
//	rl := middleware.NewRateLimitMiddleware(limiter, metrics)
//	router.Handle("/api/auth/login", rl.Limit(middleware.DefaultAuthRule("login"))(loginHandler))
//
// Each route keys its counters by "<route>:<client ip>", so login attempts do
// not consume the register budget. Redis failures fail open.
//
// # Sessions
//
//	sessions := middleware.NewSessionMiddleware(tokens, cookie)
//	api.Handle("/auth/me", sessions.RequireSession(meHandler))
//
// # Page Guard
//
//	guard := middleware.NewPageGuard(tokens, metrics)
//	pages.Use(guard.Handler)
package middleware
