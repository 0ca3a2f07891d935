package sso

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxUpstreamBody bounds how much of a provider response is read
const maxUpstreamBody = 1 << 20

const defaultRetryAfter = time.Minute

// UpstreamTokens are the tokens returned by the provider refresh endpoint
type UpstreamTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// UpstreamClient calls the identity provider REST API
type UpstreamClient struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewUpstreamClient creates a client for the API rooted at baseURL
func NewUpstreamClient(baseURL string, client *http.Client) *UpstreamClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &UpstreamClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		now:     time.Now,
	}
}

// URL joins path onto the API root with exactly one slash
func (c *UpstreamClient) URL(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Forward sends a raw request to the provider. The caller owns the response body.
func (c *UpstreamClient) Forward(ctx context.Context, method, path, rawQuery string, header http.Header, body io.Reader) (*http.Response, error) {
	target := c.URL(path)
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	return resp, nil
}

// Refresh trades a provider refresh token for new provider tokens
func (c *UpstreamClient) Refresh(ctx context.Context, refreshToken string) (*UpstreamTokens, error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}

	resp, err := c.Forward(ctx, http.MethodPost, "/auth/refresh", "", nil, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	if err := c.CheckResponse(resp, body); err != nil {
		return nil, err
	}

	var out struct {
		Tokens UpstreamTokens `json:"tokens"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if out.Tokens.AccessToken == "" {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: "refresh response has no access token"}
	}
	return &out.Tokens, nil
}

// CheckResponse turns a non-success response into *UpstreamRateLimitError
// or *UpstreamError
func (c *UpstreamClient) CheckResponse(resp *http.Response, body []byte) error {
	return checkUpstreamResponse(resp, body, c.now())
}

func checkUpstreamResponse(resp *http.Response, body []byte, now time.Time) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, resetAt := RetryHint(resp.Header, body, now)
		return &UpstreamRateLimitError{RetryAfter: retryAfter, ResetAt: resetAt}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var msg struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &msg)
	text := msg.Error
	if text == "" {
		text = msg.Message
	}
	return &UpstreamError{Status: resp.StatusCode, Message: text}
}

// RetryHint reads the wait time out of a 429 response. Sources in order:
// a resetTime body field (unix ms, number or string), the Retry-After
// header (seconds), the X-RateLimit-Reset header (unix seconds). Hints in the
// past are skipped; with no usable hint the wait is one minute.
func RetryHint(header http.Header, body []byte, now time.Time) (time.Duration, time.Time) {
	if resetAt, ok := bodyResetTime(body); ok && resetAt.After(now) {
		return roundUp(resetAt.Sub(now)), resetAt
	}

	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			d := time.Duration(secs) * time.Second
			return d, now.Add(d)
		}
	}

	if v := strings.TrimSpace(header.Get("X-RateLimit-Reset")); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			resetAt := time.Unix(secs, 0)
			if resetAt.After(now) {
				return roundUp(resetAt.Sub(now)), resetAt
			}
		}
	}

	return defaultRetryAfter, now.Add(defaultRetryAfter)
}

func bodyResetTime(body []byte) (time.Time, bool) {
	if len(body) == 0 {
		return time.Time{}, false
	}
	var payload struct {
		ResetTime json.RawMessage `json:"resetTime"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.ResetTime) == 0 {
		return time.Time{}, false
	}

	var ms float64
	if err := json.Unmarshal(payload.ResetTime, &ms); err != nil {
		var s string
		if err := json.Unmarshal(payload.ResetTime, &s); err != nil {
			return time.Time{}, false
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return time.Time{}, false
		}
		ms = parsed
	}
	if ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)), true
}

func roundUp(d time.Duration) time.Duration {
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}
