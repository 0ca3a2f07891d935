package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/tutorhub/tutorhub/pkg/audit"
	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/httputil"
	"github.com/tutorhub/tutorhub/pkg/middleware"
	"github.com/tutorhub/tutorhub/pkg/observability"
	"github.com/tutorhub/tutorhub/pkg/storage"
	"github.com/tutorhub/tutorhub/pkg/validation"
)

// Auth route messages
const (
	MsgInvalidCredentials = "Неверный email или пароль"
	MsgWrongOldPassword   = "Неверный старый пароль"
	MsgPasswordChanged    = "Пароль успешно изменен"
)

// Metric action labels
const (
	actionLogin    = "login"
	actionRegister = "register"
	actionPassword = "change_password"
)

// AuthHandlers handles authentication-related HTTP requests
type AuthHandlers struct {
	store   storage.Store
	hasher  *auth.PasswordHasher
	tokens  *auth.TokenService
	cookie  auth.SessionCookie
	metrics *observability.Metrics
	now     func() time.Time

	// dummyHash is compared on unknown emails so both login failures pay
	// for one bcrypt comparison
	dummyOnce sync.Once
	dummyHash string
}

// NewAuthHandlers creates a new auth handlers instance. metrics may be nil.
func NewAuthHandlers(store storage.Store, hasher *auth.PasswordHasher, tokens *auth.TokenService, cookie auth.SessionCookie, metrics *observability.Metrics) *AuthHandlers {
	return &AuthHandlers{
		store:   store,
		hasher:  hasher,
		tokens:  tokens,
		cookie:  cookie,
		metrics: metrics,
		now:     time.Now,
	}
}

// RegisterRoutes registers authentication routes. loginLimit and
// registerLimit run before the handlers decode anything.
func (h *AuthHandlers) RegisterRoutes(router *mux.Router, session *middleware.SessionMiddleware, loginLimit, registerLimit func(http.Handler) http.Handler) {
	router.Handle("/api/auth/register", registerLimit(http.HandlerFunc(h.register))).Methods(http.MethodPost)
	router.Handle("/api/auth/login", loginLimit(http.HandlerFunc(h.login))).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/logout", h.logout).Methods(http.MethodPost)
	router.Handle("/api/auth/me", session.RequireSession(http.HandlerFunc(h.me))).Methods(http.MethodGet)
	router.Handle("/api/auth/change-password", session.RequireSession(http.HandlerFunc(h.changePassword))).Methods(http.MethodPost)
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
}

// register handles POST /api/auth/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	email := validation.NormalizeEmail(req.Email)
	firstName := validation.NormalizeName(req.FirstName)
	lastName := validation.NormalizeName(req.LastName)

	v := validation.NewValidator()
	v.Email("email", email).
		MinLength("password", req.Password, validation.MinPasswordLength, validation.MsgPasswordTooShort).
		Required("firstName", firstName, validation.MsgFirstNameRequired).
		Required("lastName", lastName, validation.MsgLastNameRequired)
	phone := v.Phone("phone", req.Phone)
	if !v.Valid() {
		h.metrics.RecordAuthAttempt(actionRegister, observability.ResultRejected)
		httputil.WriteAPIError(w, r, httputil.ValidationError(v.Issues()))
		return
	}

	ctx := r.Context()
	taken, err := h.store.EmailExists(ctx, email)
	if err != nil {
		httputil.WriteAPIError(w, r, httputil.Internal(err))
		return
	}
	if taken {
		h.metrics.RecordAuthAttempt(actionRegister, observability.ResultRejected)
		httputil.WriteAPIError(w, r, httputil.Conflict(MsgEmailTaken))
		return
	}
	taken, err = h.store.PhoneExists(ctx, phone, "")
	if err != nil {
		httputil.WriteAPIError(w, r, httputil.Internal(err))
		return
	}
	if taken {
		h.metrics.RecordAuthAttempt(actionRegister, observability.ResultRejected)
		httputil.WriteAPIError(w, r, httputil.Conflict(MsgPhoneTaken))
		return
	}

	hash, ok := h.hashPassword(w, r, "password", req.Password)
	if !ok {
		return
	}

	user, err := h.store.CreateUserWithProfile(ctx, storage.RegisterInput{
		Email:        email,
		PasswordHash: hash,
		Roles:        []string{},
		Profile: auth.ProfileUpdate{
			FirstName: &firstName,
			LastName:  &lastName,
			Phone:     &phone,
		},
	})
	if err != nil {
		h.metrics.RecordAuthAttempt(actionRegister, observability.ResultError)
		writeStoreError(w, r, err, MsgUserNotFound)
		return
	}

	if !h.startSession(w, r, user) {
		return
	}

	h.metrics.RecordAuthAttempt(actionRegister, observability.ResultSuccess)
	event := audit.NewEvent(ctx, r, audit.EventTypeAuthRegister, audit.EventStatusSuccess)
	event.UserID = user.ID
	event.Email = user.Email
	event.ResourceType = audit.ResourceTypeUser
	event.ResourceID = user.ID
	audit.Record(ctx, event)

	httputil.WriteSuccess(w, httputil.M{"user": user})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// login handles POST /api/auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	email := validation.NormalizeEmail(req.Email)
	v := validation.NewValidator()
	v.Email("email", email).
		Required("password", req.Password, validation.MsgPasswordRequired)
	if !v.Valid() {
		h.metrics.RecordAuthAttempt(actionLogin, observability.ResultRejected)
		httputil.WriteAPIError(w, r, httputil.ValidationError(v.Issues()))
		return
	}

	ctx := r.Context()
	user, err := h.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		h.compareDummy(r, req.Password)
		h.rejectLogin(w, r, email, "unknown email")
		return
	}
	if err != nil {
		httputil.WriteAPIError(w, r, httputil.Internal(err))
		return
	}

	start := h.now()
	err = h.hasher.Compare(ctx, user.PasswordHash, req.Password)
	h.metrics.ObservePasswordHash(h.now().Sub(start))
	if errors.Is(err, auth.ErrPasswordMismatch) {
		h.rejectLogin(w, r, email, "wrong password")
		return
	}
	if err != nil {
		httputil.WriteAPIError(w, r, httputil.Internal(err))
		return
	}
	user.PasswordHash = ""

	if !h.startSession(w, r, user) {
		return
	}

	h.metrics.RecordAuthAttempt(actionLogin, observability.ResultSuccess)
	event := audit.NewEvent(ctx, r, audit.EventTypeAuthLogin, audit.EventStatusSuccess)
	event.UserID = user.ID
	event.Email = user.Email
	audit.Record(ctx, event)

	httputil.WriteSuccess(w, httputil.M{"user": user})
}

// rejectLogin answers unknown email and wrong password the same way
func (h *AuthHandlers) rejectLogin(w http.ResponseWriter, r *http.Request, email, reason string) {
	h.metrics.RecordAuthAttempt(actionLogin, observability.ResultFailure)
	observability.FromContext(r.Context()).
		WithFields(map[string]interface{}{
			"ip":     httputil.ClientIP(r),
			"reason": reason,
		}).
		Warn("Login failed")

	event := audit.NewEvent(r.Context(), r, audit.EventTypeAuthLoginFailed, audit.EventStatusFailure)
	event.Email = email
	event.Message = reason
	audit.Record(r.Context(), event)

	httputil.WriteAPIError(w, r, httputil.Unauthenticated(MsgInvalidCredentials))
}

// logout handles POST /api/auth/logout. It always succeeds; revocation is
// best-effort.
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if token, ok := auth.TokenFromRequest(r); ok {
		if claims, err := h.tokens.Verify(ctx, token); err == nil {
			if err := h.tokens.Revoke(ctx, claims); err != nil {
				observability.FromContext(ctx).
					WithError(err).
					WithField("token", auth.Fingerprint(token)).
					Warn("Failed to revoke session token")
			}
			event := audit.NewEvent(ctx, r, audit.EventTypeAuthLogout, audit.EventStatusSuccess)
			event.UserID = claims.UserID
			event.Email = claims.Email
			audit.Record(ctx, event)
		}
	}

	h.cookie.Clear(w)
	httputil.WriteSuccess(w, nil)
}

// me handles GET /api/auth/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := callerID(r)

	if err := h.store.TouchLastActive(ctx, userID, h.now()); err != nil && !errors.Is(err, storage.ErrNotFound) {
		observability.FromContext(ctx).WithError(err).WithField("user_id", userID).Warn("Failed to update last activity")
	}

	user, err := h.store.GetUserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		h.cookie.Clear(w)
		httputil.WriteAPIError(w, r, httputil.NotFound(MsgUserNotFound))
		return
	}
	if err != nil {
		httputil.WriteAPIError(w, r, httputil.Internal(err))
		return
	}

	httputil.WriteSuccess(w, httputil.M{"user": user})
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// changePassword handles POST /api/auth/change-password
func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	v := validation.NewValidator()
	v.Required("oldPassword", req.OldPassword, validation.MsgOldPasswordRequired).
		MinLength("newPassword", req.NewPassword, validation.MinPasswordLength, validation.MsgNewPasswordTooShort)
	if !v.Valid() {
		httputil.WriteAPIError(w, r, httputil.ValidationError(v.Issues()))
		return
	}

	ctx := r.Context()
	current, err := h.store.GetUserByID(ctx, callerID(r))
	if err != nil {
		writeStoreError(w, r, err, MsgUserNotFound)
		return
	}
	// Only the email lookup carries the hash
	user, err := h.store.GetUserByEmail(ctx, current.Email)
	if err != nil {
		writeStoreError(w, r, err, MsgUserNotFound)
		return
	}

	err = h.hasher.Compare(ctx, user.PasswordHash, req.OldPassword)
	if errors.Is(err, auth.ErrPasswordMismatch) {
		h.metrics.RecordAuthAttempt(actionPassword, observability.ResultFailure)
		audit.LogFailure(r, audit.EventTypeAuthPasswordChange, "old password mismatch", err)
		httputil.WriteAPIError(w, r, httputil.Unauthenticated(MsgWrongOldPassword))
		return
	}
	if err != nil {
		httputil.WriteAPIError(w, r, httputil.Internal(err))
		return
	}

	hash, ok := h.hashPassword(w, r, "newPassword", req.NewPassword)
	if !ok {
		return
	}
	if err := h.store.UpdatePassword(ctx, user.ID, hash); err != nil {
		writeStoreError(w, r, err, MsgUserNotFound)
		return
	}

	h.metrics.RecordAuthAttempt(actionPassword, observability.ResultSuccess)
	audit.LogSuccess(r, audit.EventTypeAuthPasswordChange, "password changed", nil)
	httputil.WriteMessage(w, MsgPasswordChanged)
}

// compareDummy spends the same bcrypt work as a real password check
func (h *AuthHandlers) compareDummy(r *http.Request, password string) {
	h.dummyOnce.Do(func() {
		hash, err := h.hasher.Hash(context.Background(), "tutorhub-login-timing")
		if err == nil {
			h.dummyHash = hash
		}
	})
	start := h.now()
	_ = h.hasher.Compare(r.Context(), h.dummyHash, password)
	h.metrics.ObservePasswordHash(h.now().Sub(start))
}

// hashPassword hashes password, answering the request on failure. field
// names the request field a too-long password is reported on.
func (h *AuthHandlers) hashPassword(w http.ResponseWriter, r *http.Request, field, password string) (string, bool) {
	start := h.now()
	hash, err := h.hasher.Hash(r.Context(), password)
	h.metrics.ObservePasswordHash(h.now().Sub(start))

	if errors.Is(err, auth.ErrPasswordTooLong) {
		httputil.WriteAPIError(w, r, httputil.ValidationError(validation.Issues{{
			Code:    validation.CodeCustom,
			Path:    []string{field},
			Message: MsgPasswordTooLong,
		}}))
		return "", false
	}
	if err != nil {
		httputil.WriteAPIError(w, r, httputil.Internal(err))
		return "", false
	}
	return hash, true
}

// startSession issues a token for user and sets the session cookie
func (h *AuthHandlers) startSession(w http.ResponseWriter, r *http.Request, user *auth.User) bool {
	token, _, err := h.tokens.Issue(auth.IdentityFromUser(user))
	if err != nil {
		httputil.WriteAPIError(w, r, httputil.Internal(err))
		return false
	}
	h.cookie.Set(w, token)
	return true
}
