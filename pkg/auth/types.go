package auth

import (
	"encoding/json"
	"time"
)

// User represents a local account. PasswordHash is never serialized.
type User struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	IsAdmin         bool       `json:"isAdmin"`
	Roles           []string   `json:"roles"`
	ExternalSubject *string    `json:"-"`
	LastActive      *time.Time `json:"lastActive,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	Profile         *Profile   `json:"profile,omitempty"`
}

// Profile holds display attributes of a user
type Profile struct {
	UserID    string          `json:"userId"`
	FirstName *string         `json:"firstName"`
	LastName  *string         `json:"lastName"`
	Avatar    *string         `json:"avatar"`
	Role      *string         `json:"role"`
	Interests []string        `json:"interests"`
	Phone     *string         `json:"phone"`
	Privacy   json.RawMessage `json:"privacy"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// ProfileUpdate describes a profile upsert. Nil fields are left untouched on
// update and stored as null on insert.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Avatar    *string
	Role      *string
	Interests *[]string
	Phone     *string
	Privacy   json.RawMessage
}

// IsEmpty reports whether the update carries no fields
func (u ProfileUpdate) IsEmpty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Avatar == nil && u.Role == nil &&
		u.Interests == nil && u.Phone == nil && u.Privacy == nil
}

// Apply merges the update into p and returns the result
func (u ProfileUpdate) Apply(p Profile) Profile {
	if u.FirstName != nil {
		p.FirstName = u.FirstName
	}
	if u.LastName != nil {
		p.LastName = u.LastName
	}
	if u.Avatar != nil {
		p.Avatar = u.Avatar
	}
	if u.Role != nil {
		p.Role = u.Role
	}
	if u.Interests != nil {
		p.Interests = append([]string{}, (*u.Interests)...)
	}
	if u.Phone != nil {
		p.Phone = u.Phone
	}
	if u.Privacy != nil {
		p.Privacy = append(json.RawMessage{}, u.Privacy...)
	}
	if p.Interests == nil {
		p.Interests = []string{}
	}
	return p
}

// Identity is the subset of a user embedded in a session token
type Identity struct {
	UserID string
	Email  string
	Roles  []string
}

// IdentityFromUser builds the token identity for a user
func IdentityFromUser(u *User) Identity {
	return Identity{
		UserID: u.ID,
		Email:  u.Email,
		Roles:  u.Roles,
	}
}

// AuthContext holds the verified session of the current request
type AuthContext struct {
	Claims *Claims
	Token  string
}

// UserID returns the authenticated user id
func (ac *AuthContext) UserID() string {
	if ac == nil || ac.Claims == nil {
		return ""
	}
	return ac.Claims.UserID
}

// HasRole checks the roles carried by the token. Authorization decisions on
// mutations re-read roles from storage instead.
func (ac *AuthContext) HasRole(role Role) bool {
	if ac == nil || ac.Claims == nil {
		return false
	}
	return HasRole(ac.Claims.Roles, role)
}
