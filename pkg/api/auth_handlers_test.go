package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/middleware"
	"github.com/tutorhub/tutorhub/pkg/observability"
)

func registerBody(email, phone string) map[string]string {
	return map[string]string{
		"email":     email,
		"password":  testPassword,
		"firstName": "Анна",
		"lastName":  "Иванова",
		"phone":     phone,
	}
}

func TestRegister(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/api/auth/register", registerBody("  Anna@Example.COM ", "+7 (900) 111-22-33"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := readBody(t, rec)
	assert.Equal(t, true, body["ok"])
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "anna@example.com", user["email"])
	assert.Equal(t, false, user["isAdmin"])
	assert.Equal(t, []interface{}{}, user["roles"])
	assert.NotContains(t, user, "passwordHash")

	profile := user["profile"].(map[string]interface{})
	assert.Equal(t, "9001112233", profile["phone"])
	assert.Equal(t, "Анна", profile["firstName"])

	cookie := responseCookie(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	claims, err := f.tokens.Verify(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, user["id"], claims.UserID)
	assert.Equal(t, "anna@example.com", claims.Email)
}

func TestRegister_Validation(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name   string
		body   interface{}
		fields []string
	}{
		{"bad email", map[string]string{"email": "nope", "password": testPassword, "firstName": "A", "lastName": "B", "phone": "9001112233"}, []string{"email"}},
		{"short password", map[string]string{"email": "a@example.com", "password": "12345", "firstName": "A", "lastName": "B", "phone": "9001112233"}, []string{"password"}},
		{"blank names", map[string]string{"email": "a@example.com", "password": testPassword, "firstName": "  ", "lastName": "", "phone": "9001112233"}, []string{"firstName", "lastName"}},
		{"short phone", map[string]string{"email": "a@example.com", "password": testPassword, "firstName": "A", "lastName": "B", "phone": "12345"}, []string{"phone"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/auth/register", tt.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			body := readBody(t, rec)
			assert.Equal(t, "Неверные данные", body["error"])
			details := body["details"].([]interface{})
			var paths []string
			for _, d := range details {
				path := d.(map[string]interface{})["path"].([]interface{})
				paths = append(paths, path[0].(string))
			}
			assert.ElementsMatch(t, tt.fields, paths)
			assert.Nil(t, responseCookie(rec))
		})
	}
}

func TestRegister_EmptyBody(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/api/auth/register", "", nil)
	assertFailure(t, rec, http.StatusBadRequest, "Неверные данные")
}

func TestRegister_Conflicts(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "anna@example.com", "9001112233")

	rec := f.do(http.MethodPost, "/api/auth/register", registerBody("ANNA@example.com", "9009998877"), nil)
	assertFailure(t, rec, http.StatusConflict, MsgEmailTaken)

	rec = f.do(http.MethodPost, "/api/auth/register", registerBody("boris@example.com", "8 900 111 22 33"), nil)
	assertFailure(t, rec, http.StatusConflict, MsgPhoneTaken)
}

func TestRegister_PasswordTooLong(t *testing.T) {
	f := newAPIFixture(t)

	body := registerBody("anna@example.com", "9001112233")
	body["password"] = strings.Repeat("x", 80)
	rec := f.do(http.MethodPost, "/api/auth/register", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	details := readBody(t, rec)["details"].([]interface{})
	require.Len(t, details, 1)
	issue := details[0].(map[string]interface{})
	assert.Equal(t, MsgPasswordTooLong, issue["message"])
	assert.Equal(t, []interface{}{"password"}, issue["path"])
}

func TestLogin(t *testing.T) {
	f := newAPIFixture(t)
	seeded, _ := f.seedUser(t, "anna@example.com", "9001112233", "manager")

	rec := f.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "Anna@Example.com",
		"password": testPassword,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	user := readBody(t, rec)["user"].(map[string]interface{})
	assert.Equal(t, seeded.ID, user["id"])
	assert.Equal(t, []interface{}{"manager"}, user["roles"])

	cookie := responseCookie(rec)
	require.NotNil(t, cookie)
	claims, err := f.tokens.Verify(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, []string{"manager"}, claims.Roles)
	assert.False(t, claims.IsAdmin)
}

func TestLogin_UniformFailure(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "anna@example.com", "9001112233")

	wrongPassword := f.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "anna@example.com", "password": "wrong-pass",
	}, nil)
	unknownEmail := f.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "ghost@example.com", "password": testPassword,
	}, nil)

	assertFailure(t, wrongPassword, http.StatusUnauthorized, MsgInvalidCredentials)
	assertFailure(t, unknownEmail, http.StatusUnauthorized, MsgInvalidCredentials)
	assert.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
	assert.Nil(t, responseCookie(wrongPassword))
}

func TestLogin_UnknownEmailPaysForComparison(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	f := newAPIFixture(t, func(d *Dependencies) { d.Metrics = metrics })

	hashSamples := func() uint64 {
		families, err := registry.Gather()
		require.NoError(t, err)
		for _, mf := range families {
			if mf.GetName() == "tutorhub_password_hash_duration_seconds" {
				return mf.GetMetric()[0].GetHistogram().GetSampleCount()
			}
		}
		return 0
	}

	rec := f.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "ghost@example.com", "password": testPassword,
	}, nil)
	assertFailure(t, rec, http.StatusUnauthorized, MsgInvalidCredentials)
	assert.Equal(t, uint64(1), hashSamples())

	rec = f.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "ghost2@example.com", "password": testPassword,
	}, nil)
	assertFailure(t, rec, http.StatusUnauthorized, MsgInvalidCredentials)
	assert.Equal(t, uint64(2), hashSamples())
}

func TestLogin_RateLimited(t *testing.T) {
	f := newAPIFixture(t, func(d *Dependencies) {
		d.LoginRule = middleware.DefaultAuthRule("login")
	})

	creds := map[string]string{"email": "ghost@example.com", "password": testPassword}
	for i := 0; i < 3; i++ {
		rec := f.do(http.MethodPost, "/api/auth/login", creds, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := f.do(http.MethodPost, "/api/auth/login", creds, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := readBody(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.Contains(t, body["error"], "Слишком много попыток")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// The register counter is independent
	rec = f.do(http.MethodPost, "/api/auth/register", registerBody("anna@example.com", "9001112233"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMe(t *testing.T) {
	f := newAPIFixture(t)
	seeded, cookie := f.seedUser(t, "anna@example.com", "9001112233")

	rec := f.do(http.MethodGet, "/api/auth/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	user := readBody(t, rec)["user"].(map[string]interface{})
	assert.Equal(t, seeded.ID, user["id"])
	assert.NotEmpty(t, user["lastActive"])
	assert.NotNil(t, user["profile"])
}

func TestMe_SessionErrors(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/api/auth/me", nil, nil)
	assertFailure(t, rec, http.StatusUnauthorized, "Не авторизован")

	rec = f.do(http.MethodGet, "/api/auth/me", nil, &http.Cookie{Name: "auth-token", Value: "forged"})
	assertFailure(t, rec, http.StatusUnauthorized, middleware.MsgInvalidToken)
	cleared := responseCookie(rec)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
}

func TestMe_ExpiredToken(t *testing.T) {
	f := newAPIFixture(t)
	seeded, _ := f.seedUser(t, "anna@example.com", "9001112233")

	past, err := auth.NewTokenService([]byte(testSecret), time.Hour,
		auth.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }))
	require.NoError(t, err)
	token, _, err := past.Issue(auth.IdentityFromUser(seeded))
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/api/auth/me", nil, &http.Cookie{Name: auth.CookieName, Value: token})
	assertFailure(t, rec, http.StatusUnauthorized, middleware.MsgInvalidToken)
	cleared := responseCookie(rec)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.True(t, cleared.MaxAge < 0)
}

func TestMe_DeletedUser(t *testing.T) {
	f := newAPIFixture(t)
	seeded, cookie := f.seedUser(t, "anna@example.com", "9001112233")
	require.NoError(t, f.store.DeleteUser(context.Background(), seeded.ID))

	rec := f.do(http.MethodGet, "/api/auth/me", nil, cookie)
	assertFailure(t, rec, http.StatusNotFound, MsgUserNotFound)
	require.NotNil(t, responseCookie(rec))
	assert.Empty(t, responseCookie(rec).Value)
}

func TestLogout(t *testing.T) {
	f := newAPIFixture(t)
	_, cookie := f.seedUser(t, "anna@example.com", "9001112233")

	rec := f.do(http.MethodPost, "/api/auth/logout", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, readBody(t, rec)["ok"])
	cleared := responseCookie(rec)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)

	// Without a session logout still succeeds
	rec = f.do(http.MethodPost, "/api/auth/logout", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChangePassword(t *testing.T) {
	f := newAPIFixture(t)
	_, cookie := f.seedUser(t, "anna@example.com", "9001112233")

	rec := f.do(http.MethodPost, "/api/auth/change-password", map[string]string{
		"oldPassword": "not-it",
		"newPassword": "brand-new-pass",
	}, cookie)
	assertFailure(t, rec, http.StatusUnauthorized, MsgWrongOldPassword)

	rec = f.do(http.MethodPost, "/api/auth/change-password", map[string]string{
		"oldPassword": testPassword,
		"newPassword": "123",
	}, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/auth/change-password", map[string]string{
		"oldPassword": testPassword,
		"newPassword": strings.Repeat("y", 80),
	}, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	issue := readBody(t, rec)["details"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, MsgPasswordTooLong, issue["message"])
	assert.Equal(t, []interface{}{"newPassword"}, issue["path"])

	rec = f.do(http.MethodPost, "/api/auth/change-password", map[string]string{
		"oldPassword": testPassword,
		"newPassword": "brand-new-pass",
	}, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, MsgPasswordChanged, readBody(t, rec)["message"])

	rec = f.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "anna@example.com", "password": "brand-new-pass",
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "anna@example.com", "password": testPassword,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
