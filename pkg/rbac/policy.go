package rbac

import (
	"errors"

	"github.com/tutorhub/tutorhub/pkg/auth"
)

// Policy errors. Each maps to a client message through Message.
var (
	ErrInsufficientRole        = errors.New("insufficient role")
	ErrAdminAssignsManagerOnly = errors.New("admin may only assign the manager role")
	ErrSelfModification        = errors.New("cannot modify own roles")
	ErrCeoProtected            = errors.New("cannot modify a ceo")
	ErrSelfDelete              = errors.New("cannot delete own account")
)

// Message returns the client-facing text for a policy error
func Message(err error) string {
	switch {
	case errors.Is(err, ErrAdminAssignsManagerOnly):
		return "Администратор может назначать только роль менеджера"
	case errors.Is(err, ErrSelfModification):
		return "Нельзя изменить собственные роли"
	case errors.Is(err, ErrCeoProtected):
		return "Нельзя изменить роли CEO"
	case errors.Is(err, ErrSelfDelete):
		return "Нельзя удалить самого себя"
	default:
		return "Недостаточно прав"
	}
}

// RoleChange describes a request to replace the roles of TargetID
type RoleChange struct {
	CallerID    string
	CallerRoles []string
	TargetID    string
	NewRoles    []string
}

// Policy evaluates admin mutations against the caller's stored roles. It
// holds no state; the zero value is ready to use.
type Policy struct{}

// NewPolicy returns the role policy
func NewPolicy() *Policy {
	return &Policy{}
}

// CanAccessAdmin reports whether roles grant access to the admin area
func (p *Policy) CanAccessAdmin(roles []string) bool {
	return auth.IsPrivileged(roles)
}

// AuthorizeRoleChange runs the checks that need only the caller and the
// requested roles. Callers must follow up with AuthorizeTarget once the
// target user is loaded.
func (p *Policy) AuthorizeRoleChange(change RoleChange) error {
	roles := change.CallerRoles
	isCEO := auth.HasRole(roles, auth.RoleCEO)
	isAdmin := auth.HasRole(roles, auth.RoleAdmin)

	// Plain users and managers cannot change roles
	if !isCEO && !isAdmin {
		return ErrInsufficientRole
	}
	if isAdmin && !isCEO {
		for _, role := range change.NewRoles {
			if role != string(auth.RoleManager) {
				return ErrAdminAssignsManagerOnly
			}
		}
	}
	if change.CallerID == change.TargetID && !isCEO {
		return ErrSelfModification
	}
	return nil
}

// AuthorizeTarget rejects changes to a ceo by anyone but a ceo
func (p *Policy) AuthorizeTarget(callerRoles, targetRoles []string) error {
	if auth.HasRole(targetRoles, auth.RoleCEO) && !auth.HasRole(callerRoles, auth.RoleCEO) {
		return ErrCeoProtected
	}
	return nil
}

// AuthorizeDelete allows only a ceo to delete accounts, never their own
func (p *Policy) AuthorizeDelete(callerID string, callerRoles []string, targetID string) error {
	if callerID == targetID {
		return ErrSelfDelete
	}
	if !auth.HasRole(callerRoles, auth.RoleCEO) {
		return ErrInsufficientRole
	}
	return nil
}
