package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// TokenVerifier verifies an external identity token and returns its claims
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*ExternalClaims, error)
}

// OIDCVerifier checks provider tokens against the provider JWKS, issuer,
// audience and expiry
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	jwks     *jwksTransport
}

// jwksTransport counts failed key set fetches so a provider outage can be
// told apart from a rejected token. go-oidc does not wrap fetch errors.
type jwksTransport struct {
	base     http.RoundTripper
	failures atomic.Int64
}

func (t *jwksTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.failures.Add(1)
	}
	return resp, err
}

// VerifierOption configures an OIDCVerifier
type VerifierOption func(*verifierOptions)

type verifierOptions struct {
	client *http.Client
	now    func() time.Time
}

// WithVerifierHTTPClient sets the client used to fetch the JWKS
func WithVerifierHTTPClient(c *http.Client) VerifierOption {
	return func(o *verifierOptions) {
		o.client = c
	}
}

// WithVerifierClock overrides the time used for expiry checks
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(o *verifierOptions) {
		o.now = now
	}
}

// NewOIDCVerifier creates a verifier for cfg. The key set is fetched lazily
// on first use and refreshed when an unknown key id shows up.
func NewOIDCVerifier(cfg Config, opts ...VerifierOption) (*OIDCVerifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("identity issuer is required")
	}
	if cfg.JWKSURL == "" {
		return nil, errors.New("identity JWKS URL is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("identity audience is required")
	}

	o := verifierOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	client := http.Client{}
	if o.client != nil {
		client = *o.client
	}
	transport := &jwksTransport{base: client.Transport}
	if transport.base == nil {
		transport.base = http.DefaultTransport
	}
	client.Transport = transport

	// The key set keeps this context for every later JWKS fetch
	keyCtx := oidc.ClientContext(context.Background(), &client)
	keySet := oidc.NewRemoteKeySet(keyCtx, cfg.JWKSURL)

	return &OIDCVerifier{
		verifier: oidc.NewVerifier(cfg.Issuer, keySet, &oidc.Config{
			ClientID: cfg.Audience,
			Now:      o.now,
		}),
		jwks: transport,
	}, nil
}

type idTokenClaims struct {
	Email         string          `json:"email"`
	EmailVerified json.RawMessage `json:"email_verified"`
	GivenName     string          `json:"given_name"`
	FamilyName    string          `json:"family_name"`
	Name          string          `json:"name"`
	Picture       string          `json:"picture"`
}

// Verify implements TokenVerifier. A failure to fetch the provider keys
// wraps ErrUpstreamUnavailable; every other failure wraps
// ErrInvalidExternalToken.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*ExternalClaims, error) {
	fetchFailures := v.jwks.failures.Load()
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		if v.jwks.failures.Load() != fetchFailures {
			return nil, fmt.Errorf("%w: fetching keys: %v", ErrUpstreamUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidExternalToken, err)
	}
	if idToken.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidExternalToken)
	}

	var c idTokenClaims
	if err := idToken.Claims(&c); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrInvalidExternalToken, err)
	}

	return &ExternalClaims{
		Subject:       idToken.Subject,
		Email:         c.Email,
		EmailVerified: parseFlag(c.EmailVerified),
		GivenName:     c.GivenName,
		FamilyName:    c.FamilyName,
		Name:          c.Name,
		Picture:       c.Picture,
	}, nil
}

// parseFlag accepts a JSON boolean or a quoted boolean; some providers send
// email_verified as a string
func parseFlag(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		b, _ = strconv.ParseBool(s)
	}
	return b
}
