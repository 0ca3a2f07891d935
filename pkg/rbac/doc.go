// Package rbac decides who may use the admin area and what they may do
// there.
//
// # Roles
//
// Three role values carry privilege:
//
//	ceo      - full control; the only role that may delete users or touch another ceo
//	admin    - may grant or revoke the manager role on other users
//	manager  - may view the admin area but not change anything
//
// Users with none of these are plain users. A user's isAdmin flag is derived
// from roles (admin or ceo) and is never consulted for decisions here.
//
// # Stored roles, not token roles
//
// Session tokens embed the roles the user had at login and stay valid for
// days. Every admin decision therefore re-reads the caller's roles from the
// store:
//
//	access := rbac.NewAdminAccess(store, rbac.NewPolicy())
//	admin := router.PathPrefix("/api/admin").Subrouter()
//	admin.Use(sessions.RequireSession, access.Require)
//
// Require puts the stored roles on the request context
// (contextkeys.GetStoredRoles), and handlers feed them to the Policy.
//
// # Role changes
//
// Policy.AuthorizeRoleChange runs before the target is loaded and checks, in
// order:
//
//  1. plain users and managers are rejected (ErrInsufficientRole)
//  2. an admin that is not ceo may only assign exactly the manager role
//     (ErrAdminAssignsManagerOnly)
//  3. nobody but a ceo may change their own roles (ErrSelfModification)
//
// Once the target is loaded, Policy.AuthorizeTarget protects ceo accounts
// from non-ceo callers (ErrCeoProtected).
//
// # Deletion
//
// Policy.AuthorizeDelete rejects deleting oneself (ErrSelfDelete) before
// anything else, then requires the ceo role.
//
// Message maps every policy error to the Russian text returned to clients.
package rbac
