package sso

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/storage"
)

var (
	// ErrInvalidExternalToken covers every external token verification failure
	ErrInvalidExternalToken = errors.New("invalid external token")
	// ErrStateMismatch is returned when the OAuth callback state does not match
	ErrStateMismatch = errors.New("oauth state mismatch")
	// ErrMissingCode is returned when the OAuth callback carries no code
	ErrMissingCode = errors.New("missing authorization code")
	// ErrUpstreamUnavailable wraps transport failures talking to the provider
	ErrUpstreamUnavailable = errors.New("identity provider unavailable")
)

// Config describes the external identity provider
type Config struct {
	Issuer   string
	JWKSURL  string
	Audience string

	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string

	// APIBaseURL is the provider REST API root used for refresh and the proxy
	APIBaseURL string

	// SessionKey signs the OAuth state cookie
	SessionKey []byte
	// Secure marks the state cookie Secure
	Secure bool
}

// ExternalClaims are the identity claims read from a verified provider token
type ExternalClaims struct {
	Subject       string
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
	Name          string
	Picture       string
}

// Identity converts the claims into provisioning input. A missing given or
// family name is taken from the full name.
func (c *ExternalClaims) Identity() storage.ExternalIdentity {
	first, last := c.GivenName, c.FamilyName
	if first == "" && last == "" && c.Name != "" {
		parts := strings.Fields(c.Name)
		first = parts[0]
		if len(parts) > 1 {
			last = strings.Join(parts[1:], " ")
		}
	}

	return storage.ExternalIdentity{
		Subject:       c.Subject,
		Email:         strings.ToLower(strings.TrimSpace(c.Email)),
		EmailVerified: c.EmailVerified,
		FirstName:     optional(first),
		LastName:      optional(last),
		Picture:       optional(c.Picture),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ExchangeResult is returned by a successful token exchange
type ExchangeResult struct {
	AccessToken  string     `json:"accessToken"`
	TokenType    string     `json:"tokenType"`
	ExpiresIn    int        `json:"expiresIn"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	User         *auth.User `json:"user"`
}

// UpstreamRateLimitError is a 429 from the provider with the retry hint it gave
type UpstreamRateLimitError struct {
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *UpstreamRateLimitError) Error() string {
	return fmt.Sprintf("identity provider rate limited, retry after %s", e.RetryAfter)
}

// UpstreamError is any other non-success response from the provider
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("identity provider returned status %d", e.Status)
	}
	return fmt.Sprintf("identity provider returned status %d: %s", e.Status, e.Message)
}
