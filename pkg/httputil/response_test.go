package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteSuccess(w, M{"user": M{"id": "u1"}, "ok": false}))

	body := decodeBody(t, w)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "u1", body["user"].(map[string]interface{})["id"])
}

func TestWriteMessage(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteMessage(w, "Пароль успешно изменен"))

	body := decodeBody(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "Пароль успешно изменен", body["message"])
}

func TestWriteAPIError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"validation", ValidationError([]string{"x"}), http.StatusBadRequest, MsgValidation},
		{"unauthenticated default", &Error{Kind: KindUnauthenticated}, http.StatusUnauthorized, MsgUnauthenticated},
		{"unauthenticated custom", Unauthenticated("Неверный токен"), http.StatusUnauthorized, "Неверный токен"},
		{"forbidden", Forbidden(MsgForbidden), http.StatusForbidden, MsgForbidden},
		{"not found", NotFound("Пользователь не найден"), http.StatusNotFound, "Пользователь не найден"},
		{"conflict", Conflict("Пользователь с таким email уже существует"), http.StatusConflict, "Пользователь с таким email уже существует"},
		{"upstream", Upstream(errors.New("dial tcp")), http.StatusBadGateway, MsgUpstream},
		{"internal", Internal(errors.New("db down")), http.StatusInternalServerError, MsgInternal},
		{"plain error", errors.New("secret detail"), http.StatusInternalServerError, MsgInternal},
		{"wrapped api error", fmt.Errorf("handler: %w", NotFound("Уведомление не найдено")), http.StatusNotFound, "Уведомление не найдено"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/api/x", nil)

			WriteAPIError(w, r, tt.err)

			body := decodeBody(t, w)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, tt.wantError, body["error"])
			assert.NotContains(t, w.Body.String(), "secret detail")
			assert.NotContains(t, w.Body.String(), "db down")
		})
	}
}

func TestWriteAPIError_Details(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/auth/register", nil)

	WriteAPIError(w, r, ValidationError([]map[string]string{{"message": "Неверный формат email"}}))

	body := decodeBody(t, w)
	details, ok := body["details"].([]interface{})
	require.True(t, ok)
	assert.Len(t, details, 1)
}

func TestWriteAPIError_RateLimited(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	resetAt := time.UnixMilli(1767225600000)

	WriteAPIError(w, r, RateLimited(41500*time.Millisecond, resetAt))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))

	body := decodeBody(t, w)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "Слишком много попыток. Попробуйте через 42 сек.", body["error"])
	assert.Equal(t, 42.0, body["retryAfter"])
	assert.Equal(t, float64(resetAt.UnixMilli()), body["resetTime"])
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(-time.Second))
	assert.Equal(t, 1, RetryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 60, RetryAfterSeconds(time.Minute))
	assert.Equal(t, 61, RetryAfterSeconds(time.Minute+time.Millisecond))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Internal(cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, "not_found: Не найдено", (&Error{Kind: KindNotFound}).Error())
}
