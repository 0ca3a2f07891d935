// Package auth provides session authentication primitives for tutorhub.
//
// # Overview
//
// This package implements the core of the session subsystem: the user and profile
// records as the rest of the service sees them, the role vocabulary, signed session
// tokens, the auth-token cookie binding, password hashing, and token revocation.
// It has no knowledge of HTTP routing or storage; handlers and middleware compose it.
//
// # Key Components
//
// Roles: an open vocabulary with three privileged values
//
//	RoleCEO     - unrestricted admin rights, the only role that may delete users
//	RoleAdmin   - admin area access, may assign the manager role to others
//	RoleManager - admin area access, read-only on roles
//
// The roles set is the single source of truth. IsAdmin is always derived from it:
//
//	user.IsAdmin = auth.DeriveIsAdmin(user.Roles)
//
// Session tokens: HS256 JWTs with a fixed lifetime (7 days by default)
//
//	tokens, err := auth.NewTokenService(secret, 7*24*time.Hour)
//	token, claims, err := tokens.Issue(auth.IdentityFromUser(user))
//	claims, err = tokens.Verify(ctx, token) // ErrInvalidToken on any failure
//
// Cookie binding: the token travels in an HttpOnly, SameSite=Lax cookie named auth-token
//
//	cookie := auth.SessionCookie{Secure: production, MaxAge: tokens.Expiry()}
//	cookie.Set(w, token)
//	cookie.Clear(w) // empty value, Max-Age=0
//
// Passwords: bcrypt with cost 12, bounded by the request context
//
//	hasher := auth.NewPasswordHasher(auth.DefaultBcryptCost)
//	hash, err := hasher.Hash(ctx, "secret1")
//	err = hasher.Compare(ctx, hash, "secret1") // ErrPasswordMismatch on mismatch
//
// Revocation: logout records the token id in a Denylist (Redis or in-memory LRU)
// until the token would have expired anyway.
//
// # Related Packages
//
//   - pkg/middleware: session and page guard middleware built on TokenService
//   - pkg/rbac: role policy for admin mutations
package auth
