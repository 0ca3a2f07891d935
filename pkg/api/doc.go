// Package api provides the HTTP API of the tutorhub service.
//
// # Overview
//
// The API is built on gorilla/mux and organized into handler groups that
// each register their own routes:
//
//   - AuthHandlers: registration, login, logout, the current user and password changes
//   - ProfileHandlers: profile replacement, partial updates and avatar uploads
//   - NotificationHandlers: the caller's own notifications
//   - AdminHandlers: user listing, role changes, deletion and dashboard stats
//
// Every response uses the JSON envelope written by pkg/httputil: {ok:true, ...}
// on success and {ok:false, error, details?} on failure.
//
// # Sessions
//
// The session is an HS256 token in the auth-token cookie. Routes that need a
// session run behind middleware.SessionMiddleware.RequireSession; admin routes
// additionally run behind rbac.AdminAccess, which re-reads the caller's roles
// from storage on every request. Login and registration are rate limited per
// client IP.
//
// # Usage
//
//	server := api.NewServer(api.Dependencies{
//		Store:   store,
//		Avatars: avatars,
//		Tokens:  tokens,
//		Hasher:  auth.NewPasswordHasher(auth.DefaultBcryptCost),
//		Limiter: middleware.NewFixedWindowLimiter(),
//		Cookie:  cfg.SessionCookie(),
//	})
//	http.ListenAndServe(":3000", server)
package api
