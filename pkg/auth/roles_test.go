package auth

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleHelpers(t *testing.T) {
	tests := []struct {
		roles      []string
		privileged bool
		isAdmin    bool
	}{
		{nil, false, false},
		{[]string{}, false, false},
		{[]string{"tutor"}, false, false},
		{[]string{"manager"}, true, false},
		{[]string{"admin"}, true, true},
		{[]string{"ceo"}, true, true},
		{[]string{"student", "manager", "admin"}, true, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.privileged, IsPrivileged(tt.roles), "IsPrivileged(%v)", tt.roles)
		assert.Equal(t, tt.isAdmin, DeriveIsAdmin(tt.roles), "DeriveIsAdmin(%v)", tt.roles)
	}
}

func TestNormalizeRoles(t *testing.T) {
	assert.Equal(t, []string{}, NormalizeRoles(nil))
	assert.Equal(t, []string{"manager", "admin"}, NormalizeRoles([]string{" Manager", "admin", "", "manager"}))
}

func TestProfileUpdate_Apply(t *testing.T) {
	first := "Anna"
	role := "tutor"
	interests := []string{"math"}

	base := Profile{UserID: "u1", FirstName: &first}
	assert.True(t, ProfileUpdate{}.IsEmpty())

	update := ProfileUpdate{Role: &role, Interests: &interests, Privacy: json.RawMessage(`{"phone":false}`)}
	assert.False(t, update.IsEmpty())

	got := update.Apply(base)
	assert.Equal(t, "Anna", *got.FirstName)
	assert.Equal(t, "tutor", *got.Role)
	assert.Equal(t, []string{"math"}, got.Interests)
	assert.JSONEq(t, `{"phone":false}`, string(got.Privacy))

	// Applying the same update again is a no-op
	assert.Equal(t, got, update.Apply(got))
}

func TestUserJSONOmitsPassword(t *testing.T) {
	data, err := json.Marshal(User{ID: "u1", Email: "a@b.com", PasswordHash: "$2a$12$hash", Roles: []string{}})
	assert.NoError(t, err)
	assert.NotContains(t, string(data), "password")
	assert.NotContains(t, string(data), "$2a$12$hash")
}
