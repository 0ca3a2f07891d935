// Package sso bridges an external identity provider into local sessions.
//
// # Overview
//
// A user who signs in at the provider presents the provider's signed token.
// The Bridge verifies it, provisions or links the local account and issues
// an ordinary session token, so the rest of the service never sees provider
// tokens.
//
// # Verification
//
// OIDCVerifier checks the RS256 signature against the provider JWKS, the
// issuer, the audience and expiry. Tokens without a subject are rejected.
// Every failure wraps ErrInvalidExternalToken.
//
// # Provisioning
//
// Accounts are matched by the provider subject first, then linked by a
// verified email, and created otherwise. Provisioning runs in a single
// store transaction and the session token is issued only after it commits:
//
//	bridge := sso.NewBridge(verifier, store, tokens, metrics)
//	result, err := bridge.Exchange(ctx, providerToken)
//
// # Routes
//
//	POST /api/auth/exchange          token exchange (JSON or form, hzid_token or token)
//	GET  /api/auth/idp/login         redirect to the provider, state in a signed cookie
//	GET  /api/auth/idp/callback      code exchange, bridge, cookie, redirect to /profile
//	POST /api/auth/idp/refresh       provider refresh, then bridge
//	*    /api/idp/{path}             provider API proxy
//
// A provider 429 is relayed to the caller as a 429 with Retry-After and
// resetTime, see RetryHint for where the wait time comes from.
package sso
