package sso

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hintNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRetryHint(t *testing.T) {
	future := hintNow.Add(30 * time.Second)

	tests := []struct {
		name      string
		header    map[string]string
		body      string
		wantAfter time.Duration
		wantReset time.Time
	}{
		{
			name:      "body reset time in milliseconds",
			body:      `{"resetTime":` + strconv.FormatInt(future.UnixMilli(), 10) + `}`,
			wantAfter: 30 * time.Second,
			wantReset: future,
		},
		{
			name:      "body reset time as string",
			body:      `{"resetTime":"` + strconv.FormatInt(future.UnixMilli(), 10) + `"}`,
			wantAfter: 30 * time.Second,
			wantReset: future,
		},
		{
			name:      "partial second rounds up",
			body:      `{"resetTime":` + strconv.FormatInt(hintNow.Add(1500*time.Millisecond).UnixMilli(), 10) + `}`,
			wantAfter: 2 * time.Second,
			wantReset: hintNow.Add(1500 * time.Millisecond),
		},
		{
			name:      "past body reset falls back to Retry-After",
			header:    map[string]string{"Retry-After": "20"},
			body:      `{"resetTime":` + strconv.FormatInt(hintNow.Add(-time.Minute).UnixMilli(), 10) + `}`,
			wantAfter: 20 * time.Second,
			wantReset: hintNow.Add(20 * time.Second),
		},
		{
			name:      "Retry-After header",
			header:    map[string]string{"Retry-After": "7"},
			wantAfter: 7 * time.Second,
			wantReset: hintNow.Add(7 * time.Second),
		},
		{
			name:      "X-RateLimit-Reset header",
			header:    map[string]string{"X-RateLimit-Reset": strconv.FormatInt(hintNow.Add(90*time.Second).Unix(), 10)},
			wantAfter: 90 * time.Second,
			wantReset: hintNow.Add(90 * time.Second),
		},
		{
			name:      "unparseable hints",
			header:    map[string]string{"Retry-After": "Wed, 21 Oct 2015 07:28:00 GMT"},
			body:      `not json`,
			wantAfter: time.Minute,
			wantReset: hintNow.Add(time.Minute),
		},
		{
			name:      "no hint",
			wantAfter: time.Minute,
			wantReset: hintNow.Add(time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			for k, v := range tt.header {
				header.Set(k, v)
			}
			after, reset := RetryHint(header, []byte(tt.body), hintNow)
			assert.Equal(t, tt.wantAfter, after)
			assert.True(t, tt.wantReset.Equal(reset), "reset %v, want %v", reset, tt.wantReset)
		})
	}
}

func TestUpstreamClient_URL(t *testing.T) {
	c := NewUpstreamClient("https://id.example.com/api/", nil)
	assert.Equal(t, "https://id.example.com/api/user/me", c.URL("/user/me"))
	assert.Equal(t, "https://id.example.com/api/user/me", c.URL("user/me"))
}

func TestUpstreamClient_Refresh(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/refresh", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		json.NewDecoder(r.Body).Decode(&gotBody)

		switch gotBody["refresh_token"] {
		case "good":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"success":true,"tokens":{"access_token":"at","refresh_token":"rt2","expires_in":3600,"token_type":"Bearer"}}`))
		case "busy":
			w.Header().Set("Retry-After", "12")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"message":"slow down"}`))
		case "empty":
			w.Write([]byte(`{"tokens":{}}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid refresh token"}`))
		}
	}))
	defer server.Close()

	c := NewUpstreamClient(server.URL+"/api", server.Client())
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		tokens, err := c.Refresh(ctx, "good")
		require.NoError(t, err)
		assert.Equal(t, "good", gotBody["refresh_token"])
		assert.Equal(t, "at", tokens.AccessToken)
		assert.Equal(t, "rt2", tokens.RefreshToken)
		assert.Equal(t, 3600, tokens.ExpiresIn)
	})

	t.Run("rate limited", func(t *testing.T) {
		_, err := c.Refresh(ctx, "busy")
		var rl *UpstreamRateLimitError
		require.True(t, errors.As(err, &rl))
		assert.Equal(t, 12*time.Second, rl.RetryAfter)
	})

	t.Run("rejected", func(t *testing.T) {
		_, err := c.Refresh(ctx, "bad")
		var upErr *UpstreamError
		require.True(t, errors.As(err, &upErr))
		assert.Equal(t, http.StatusUnauthorized, upErr.Status)
		assert.Equal(t, "invalid refresh token", upErr.Message)
	})

	t.Run("no access token", func(t *testing.T) {
		_, err := c.Refresh(ctx, "empty")
		var upErr *UpstreamError
		assert.True(t, errors.As(err, &upErr))
	})
}

func TestUpstreamClient_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := NewUpstreamClient(url, nil)
	_, err := c.Refresh(context.Background(), "good")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}
