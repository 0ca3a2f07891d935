package auth

import "strings"

// Role is a value from the open role vocabulary
type Role string

const (
	RoleCEO     Role = "ceo"     // Unrestricted role management, user deletion
	RoleAdmin   Role = "admin"   // Admin area, may assign manager
	RoleManager Role = "manager" // Admin area, no role management
)

// PrivilegedRoles grant access to the admin area
var PrivilegedRoles = []Role{RoleAdmin, RoleManager, RoleCEO}

// HasRole checks if roles contains role
func HasRole(roles []string, role Role) bool {
	for _, r := range roles {
		if r == string(role) {
			return true
		}
	}
	return false
}

// HasAnyRole checks if roles contains at least one of want
func HasAnyRole(roles []string, want ...Role) bool {
	for _, role := range want {
		if HasRole(roles, role) {
			return true
		}
	}
	return false
}

// IsPrivileged reports whether roles grant admin area access
func IsPrivileged(roles []string) bool {
	return HasAnyRole(roles, PrivilegedRoles...)
}

// DeriveIsAdmin computes the legacy admin flag from roles
func DeriveIsAdmin(roles []string) bool {
	return HasAnyRole(roles, RoleAdmin, RoleCEO)
}

// NormalizeRoles trims, lower-cases and de-duplicates roles, keeping first-seen
// order. Empty values are dropped. The result is never nil.
func NormalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
