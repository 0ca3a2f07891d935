package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenService(t *testing.T, opts ...TokenOption) *TokenService {
	t.Helper()
	svc, err := NewTokenService([]byte("test-secret-test-secret-test-secret"), 0, opts...)
	require.NoError(t, err)
	return svc
}

func TestNewTokenService(t *testing.T) {
	t.Run("requires secret", func(t *testing.T) {
		_, err := NewTokenService(nil, time.Hour)
		assert.ErrorIs(t, err, ErrMissingSecret)
	})

	t.Run("defaults expiry to seven days", func(t *testing.T) {
		svc := newTestTokenService(t)
		assert.Equal(t, 7*24*time.Hour, svc.Expiry())
	})
}

func TestTokenService_RoundTrip(t *testing.T) {
	svc := newTestTokenService(t)

	tests := []struct {
		name     string
		identity Identity
		isAdmin  bool
	}{
		{"plain user", Identity{UserID: "u1", Email: "a@b.com"}, false},
		{"manager", Identity{UserID: "u2", Email: "m@b.com", Roles: []string{"manager"}}, false},
		{"admin", Identity{UserID: "u3", Email: "ad@b.com", Roles: []string{"admin"}}, true},
		{"ceo and manager", Identity{UserID: "u4", Email: "c@b.com", Roles: []string{"ceo", "manager"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, issued, err := svc.Issue(tt.identity)
			require.NoError(t, err)
			require.NotEmpty(t, token)

			claims, err := svc.Verify(context.Background(), token)
			require.NoError(t, err)

			assert.Equal(t, tt.identity.UserID, claims.UserID)
			assert.Equal(t, tt.identity.Email, claims.Email)
			assert.Equal(t, tt.isAdmin, claims.IsAdmin)
			assert.Equal(t, issued.Roles, claims.Roles)
			assert.NotNil(t, claims.Roles)
			assert.Equal(t, issued.ID, claims.ID)
			assert.Equal(t, issued.ExpiresAt.Unix(), claims.ExpiresAt.Unix())
		})
	}
}

func TestTokenService_IssueRequiresUserID(t *testing.T) {
	svc := newTestTokenService(t)
	_, _, err := svc.Issue(Identity{Email: "a@b.com"})
	assert.Error(t, err)
}

func TestTokenService_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc := newTestTokenService(t, WithClock(clock))

	token, claims, err := svc.Issue(Identity{UserID: "u1", Email: "a@b.com"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(7*24*time.Hour).Unix(), claims.ExpiresAt.Unix())

	now = now.Add(7*24*time.Hour - time.Minute)
	_, err = svc.Verify(context.Background(), token)
	assert.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = svc.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_VerifyRejects(t *testing.T) {
	svc := newTestTokenService(t)
	token, claims, err := svc.Issue(Identity{UserID: "u1", Email: "a@b.com", Roles: []string{"admin"}})
	require.NoError(t, err)

	other, err := NewTokenService([]byte("another-secret"), 0)
	require.NoError(t, err)
	foreign, _, err := other.Issue(Identity{UserID: "u1", Email: "a@b.com"})
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"foreign secret", foreign},
		{"alg none", unsigned},
		{"tampered payload", tampered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := svc.Verify(context.Background(), tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Nil(t, claims)
		})
	}
}

func TestTokenService_Revoke(t *testing.T) {
	denylist := NewMemoryDenylist(10, time.Hour)
	svc := newTestTokenService(t, WithDenylist(denylist))
	ctx := context.Background()

	token, claims, err := svc.Issue(Identity{UserID: "u1", Email: "a@b.com"})
	require.NoError(t, err)

	_, err = svc.Verify(ctx, token)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, claims))

	_, err = svc.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// A different session of the same user stays valid
	second, _, err := svc.Issue(Identity{UserID: "u1", Email: "a@b.com"})
	require.NoError(t, err)
	_, err = svc.Verify(ctx, second)
	assert.NoError(t, err)
}

func TestTokenService_RevokeWithoutDenylist(t *testing.T) {
	svc := newTestTokenService(t)
	_, claims, err := svc.Issue(Identity{UserID: "u1"})
	require.NoError(t, err)
	assert.NoError(t, svc.Revoke(context.Background(), claims))
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("eyJhbGciOiJIUzI1NiJ9.payload.signature")
	assert.Len(t, fp, 8)
	assert.Equal(t, fp, Fingerprint("eyJhbGciOiJIUzI1NiJ9.payload.signature"))
	assert.NotEqual(t, fp, Fingerprint("other"))
}
