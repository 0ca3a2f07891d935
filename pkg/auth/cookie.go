package auth

import (
	"net/http"
	"time"
)

// CookieName is the session cookie name
const CookieName = "auth-token"

// SessionCookie writes and reads the session cookie
type SessionCookie struct {
	// Secure marks the cookie Secure (production only)
	Secure bool
	// MaxAge is the cookie lifetime, DefaultTokenExpiry when zero
	MaxAge time.Duration
}

// Set writes the session cookie carrying token
func (c SessionCookie) Set(w http.ResponseWriter, token string) {
	maxAge := c.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultTokenExpiry
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear expires the session cookie
func (c SessionCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // net/http renders a negative MaxAge as Max-Age=0
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// TokenFromRequest returns the session token carried by the request cookie
func TokenFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
