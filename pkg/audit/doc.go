// Package audit records security-relevant events: logins and failed logins,
// registrations, logouts, password changes, token exchanges, rate limit
// denials, admin access denials and admin mutations.
//
// Handlers reach the logger through the request context:
//
//	audit.LogDenied(r, audit.EventTypeAuthzAccessDenied, audit.ResourceTypePage, "/admin", "no privileged role")
//
// Without a configured logger events are dropped. Events never contain
// passwords or tokens.
package audit
