package sso

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"golang.org/x/oauth2"
)

const (
	stateSessionName = "tutorhub-oauth"
	stateKey         = "state"
	stateMaxAge      = 600
)

// OAuthFlow runs the authorization code flow against the provider. The
// state value lives in a signed cookie between the two legs.
type OAuthFlow struct {
	oauth    *oauth2.Config
	sessions sessions.Store
	client   *http.Client
	now      func() time.Time
}

// NewOAuthFlow creates the flow. client is used for the token endpoint and
// may be nil.
func NewOAuthFlow(cfg Config, client *http.Client) (*OAuthFlow, error) {
	if cfg.ClientID == "" || cfg.AuthURL == "" || cfg.TokenURL == "" {
		return nil, errors.New("identity client id, auth URL and token URL are required")
	}
	if len(cfg.SessionKey) == 0 {
		return nil, errors.New("identity session key is required")
	}
	if client == nil {
		client = http.DefaultClient
	}

	store := sessions.NewCookieStore(cfg.SessionKey)
	store.Options = &sessions.Options{
		Path:     "/api/auth/idp",
		MaxAge:   stateMaxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &OAuthFlow{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		sessions: store,
		client:   client,
		now:      time.Now,
	}, nil
}

// Begin stores a fresh state and returns the provider authorize URL
func (f *OAuthFlow) Begin(w http.ResponseWriter, r *http.Request) (string, error) {
	state, err := randomState()
	if err != nil {
		return "", err
	}

	// A cookie signed with an old key decodes to a fresh session; that is fine here
	session, _ := f.sessions.Get(r, stateSessionName)
	session.Values[stateKey] = state
	if err := session.Save(r, w); err != nil {
		return "", fmt.Errorf("failed to save oauth state: %w", err)
	}

	return f.oauth.AuthCodeURL(state), nil
}

// Complete checks the callback state, clears it and exchanges the code.
// A provider 429 comes back as *UpstreamRateLimitError.
func (f *OAuthFlow) Complete(w http.ResponseWriter, r *http.Request) (*oauth2.Token, error) {
	session, _ := f.sessions.Get(r, stateSessionName)
	expected, _ := session.Values[stateKey].(string)

	delete(session.Values, stateKey)
	session.Options.MaxAge = -1
	_ = session.Save(r, w)

	query := r.URL.Query()
	got := query.Get("state")
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		return nil, ErrStateMismatch
	}
	if providerErr := query.Get("error"); providerErr != "" {
		return nil, &UpstreamError{Status: http.StatusBadRequest, Message: providerErr}
	}
	code := query.Get("code")
	if code == "" {
		return nil, ErrMissingCode
	}

	ctx := context.WithValue(r.Context(), oauth2.HTTPClient, f.client)
	token, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			if checked := checkUpstreamResponse(retrieveErr.Response, retrieveErr.Body, f.now()); checked != nil {
				return nil, checked
			}
		}
		return nil, fmt.Errorf("%w: token exchange: %w", ErrUpstreamUnavailable, err)
	}
	return token, nil
}

// ExternalToken picks the token to verify from a provider token response:
// the id_token, or the access token when the provider sends none
func ExternalToken(token *oauth2.Token) string {
	if idToken, ok := token.Extra("id_token").(string); ok && idToken != "" {
		return idToken
	}
	return token.AccessToken
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
