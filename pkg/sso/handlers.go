package sso

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tutorhub/tutorhub/pkg/audit"
	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/httputil"
	"github.com/tutorhub/tutorhub/pkg/observability"
	"github.com/tutorhub/tutorhub/pkg/storage"
)

// Client-facing messages
const (
	MsgInvalidExternalToken = "Недействительный внешний токен"
	MsgMissingExternalToken = "Отсутствует hzid_token"
	MsgInvalidOAuthState    = "Недействительный запрос авторизации"
	MsgEmailTaken           = "Пользователь с таким email уже существует"
	msgProxyPath            = "Некорректный путь запроса"
)

// AfterLoginPath is where the browser lands after a successful provider login
const AfterLoginPath = "/profile"

// proxiedHeaders are copied from the client request to the provider
var proxiedHeaders = []string{"Authorization", "Cookie", "Content-Type"}

// Handlers serves the identity bridge routes. flow and upstream are optional;
// their routes are not registered when nil.
type Handlers struct {
	bridge   *Bridge
	flow     *OAuthFlow
	upstream *UpstreamClient
	cookie   auth.SessionCookie
}

// NewHandlers creates the identity bridge handlers
func NewHandlers(bridge *Bridge, flow *OAuthFlow, upstream *UpstreamClient, cookie auth.SessionCookie) *Handlers {
	return &Handlers{
		bridge:   bridge,
		flow:     flow,
		upstream: upstream,
		cookie:   cookie,
	}
}

// RegisterRoutes registers identity bridge routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/auth/exchange", h.exchange).Methods(http.MethodPost)

	if h.flow != nil {
		router.HandleFunc("/api/auth/idp/login", h.login).Methods(http.MethodGet)
		router.HandleFunc("/api/auth/idp/callback", h.callback).Methods(http.MethodGet)
	}
	if h.upstream != nil {
		router.HandleFunc("/api/auth/idp/refresh", h.refresh).Methods(http.MethodPost)
		router.HandleFunc("/api/idp/{path:.+}", h.proxy).
			Methods(http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete)
	}
}

// exchangeRequest accepts the provider token under either name
type exchangeRequest struct {
	HzidToken string `json:"hzid_token"`
	Token     string `json:"token"`
}

func (req exchangeRequest) value() string {
	if req.HzidToken != "" {
		return req.HzidToken
	}
	return req.Token
}

// readExchangeToken takes the token from an urlencoded form or a JSON body.
// Bodies without a recognised content type are tried as JSON.
func readExchangeToken(r *http.Request) string {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return ""
		}
		return exchangeRequest{HzidToken: r.PostForm.Get("hzid_token"), Token: r.PostForm.Get("token")}.value()
	}

	var req exchangeRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		return ""
	}
	return req.value()
}

// exchange handles POST /api/auth/exchange
func (h *Handlers) exchange(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(readExchangeToken(r))
	if token == "" {
		httputil.WriteAPIError(w, r, httputil.NewError(httputil.KindValidation, MsgMissingExternalToken))
		return
	}

	result, err := h.bridge.Exchange(r.Context(), token)
	if err != nil {
		audit.LogFailure(r, audit.EventTypeAuthTokenExchange, "token exchange failed", err)
		h.writeError(w, r, err)
		return
	}

	h.completeLogin(w, r, result)
	httputil.WriteSuccess(w, httputil.M{
		"accessToken": result.AccessToken,
		"tokenType":   result.TokenType,
		"expiresIn":   result.ExpiresIn,
		"user":        result.User,
	})
}

// login handles GET /api/auth/idp/login
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	target, err := h.flow.Begin(w, r)
	if err != nil {
		httputil.WriteAPIError(w, r, httputil.Internal(err))
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// callback handles GET /api/auth/idp/callback
func (h *Handlers) callback(w http.ResponseWriter, r *http.Request) {
	token, err := h.flow.Complete(w, r)
	if err != nil {
		audit.LogFailure(r, audit.EventTypeAuthTokenExchange, "oauth callback failed", err)
		h.writeError(w, r, err)
		return
	}

	result, err := h.bridge.Exchange(r.Context(), ExternalToken(token))
	if err != nil {
		audit.LogFailure(r, audit.EventTypeAuthTokenExchange, "token exchange failed", err)
		h.writeError(w, r, err)
		return
	}

	h.completeLogin(w, r, result)
	http.Redirect(w, r, AfterLoginPath, http.StatusFound)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refresh handles POST /api/auth/idp/refresh. The provider refresh token is
// traded for new provider tokens, which then go through the bridge.
func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAPIError(w, r, err)
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteAPIError(w, r, httputil.NewError(httputil.KindValidation, MsgMissingExternalToken))
		return
	}

	tokens, err := h.upstream.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.bridge.Exchange(r.Context(), tokens.AccessToken)
	if err != nil {
		audit.LogFailure(r, audit.EventTypeAuthTokenExchange, "token exchange after refresh failed", err)
		h.writeError(w, r, err)
		return
	}
	result.RefreshToken = tokens.RefreshToken

	h.completeLogin(w, r, result)
	httputil.WriteSuccess(w, httputil.M{
		"accessToken":  result.AccessToken,
		"tokenType":    result.TokenType,
		"expiresIn":    result.ExpiresIn,
		"refreshToken": result.RefreshToken,
		"user":         result.User,
	})
}

func (h *Handlers) completeLogin(w http.ResponseWriter, r *http.Request, result *ExchangeResult) {
	h.cookie.Set(w, result.AccessToken)
	event := audit.NewEvent(r.Context(), r, audit.EventTypeAuthTokenExchange, audit.EventStatusSuccess)
	event.UserID = result.User.ID
	event.Email = result.User.Email
	event.ResourceType = audit.ResourceTypeUser
	event.ResourceID = result.User.ID
	audit.Record(r.Context(), event)
}

// writeError maps bridge, flow and provider failures onto the API envelope
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rateLimited *UpstreamRateLimitError
	var upstreamErr *UpstreamError

	switch {
	case errors.As(err, &rateLimited):
		httputil.WriteAPIError(w, r, httputil.RateLimited(rateLimited.RetryAfter, rateLimited.ResetAt))
	case errors.Is(err, ErrInvalidExternalToken):
		httputil.WriteAPIError(w, r, httputil.Unauthenticated(MsgInvalidExternalToken))
	case errors.Is(err, ErrStateMismatch), errors.Is(err, ErrMissingCode):
		httputil.WriteAPIError(w, r, httputil.NewError(httputil.KindValidation, MsgInvalidOAuthState))
	case errors.Is(err, storage.ErrDuplicateEmail):
		httputil.WriteAPIError(w, r, httputil.Conflict(MsgEmailTaken))
	case errors.As(err, &upstreamErr):
		httputil.WriteAPIError(w, r, httputil.Upstream(err))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		httputil.WriteAPIError(w, r, httputil.Internal(err))
	case errors.Is(err, ErrUpstreamUnavailable):
		httputil.WriteAPIError(w, r, httputil.Upstream(err))
	default:
		httputil.WriteAPIError(w, r, httputil.Internal(err))
	}
}

// proxy handles /api/idp/{path}, relaying the request to the provider API
func (h *Handlers) proxy(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	if strings.Trim(path, "/") == "" || strings.Contains(path, "..") {
		httputil.WriteAPIError(w, r, httputil.NewError(httputil.KindValidation, msgProxyPath))
		return
	}

	header := make(http.Header)
	for _, name := range proxiedHeaders {
		if v := r.Header.Get(name); v != "" {
			header.Set(name, v)
		}
	}

	var body io.Reader
	if r.Method != http.MethodGet {
		body = r.Body
	}

	logger := observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"method":   r.Method,
		"path":     path,
		"has_auth": header.Get("Authorization") != "",
	})

	resp, err := h.upstream.Forward(r.Context(), r.Method, path, r.URL.RawQuery, header, body)
	if err != nil {
		logger.WithError(err).Error("Identity provider proxy request failed")
		httputil.WriteAPIError(w, r, httputil.Upstream(err))
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		httputil.WriteAPIError(w, r, httputil.Upstream(err))
		return
	}

	if resp.StatusCode >= http.StatusBadRequest {
		logger.WithField("status", resp.StatusCode).Warn("Identity provider returned an error")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		writeRateLimitRelay(w, resp, data, h.upstream.now())
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	w.Write(data)
}

// writeRateLimitRelay passes a provider 429 through with a normalised
// Retry-After and resetTime
func writeRateLimitRelay(w http.ResponseWriter, resp *http.Response, data []byte, now time.Time) {
	retryAfter, resetAt := RetryHint(resp.Header, data, now)
	secs := httputil.RetryAfterSeconds(retryAfter)

	payload := map[string]interface{}{}
	if err := json.Unmarshal(data, &payload); err != nil || payload == nil {
		payload = map[string]interface{}{"ok": false}
	}
	payload["resetTime"] = resetAt.UnixMilli()
	payload["retryAfter"] = secs
	if _, ok := payload["message"]; !ok {
		payload["message"] = httputil.RateLimitMessage(secs)
	}

	if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining != "" {
		w.Header().Set("X-RateLimit-Remaining", remaining)
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	httputil.WriteJSON(w, http.StatusTooManyRequests, payload)
}
