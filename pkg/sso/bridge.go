package sso

import (
	"context"
	"errors"
	"fmt"

	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/observability"
	"github.com/tutorhub/tutorhub/pkg/storage"
)

// TokenIssuer issues local session tokens
type TokenIssuer interface {
	Issue(id auth.Identity) (string, *auth.Claims, error)
}

// Bridge trades a verified external identity token for a local session
type Bridge struct {
	verifier TokenVerifier
	store    storage.IdentityStore
	tokens   TokenIssuer
	metrics  *observability.Metrics
}

// NewBridge creates an identity bridge. metrics may be nil.
func NewBridge(verifier TokenVerifier, store storage.IdentityStore, tokens TokenIssuer, metrics *observability.Metrics) *Bridge {
	return &Bridge{
		verifier: verifier,
		store:    store,
		tokens:   tokens,
		metrics:  metrics,
	}
}

// Exchange verifies externalToken, provisions the local user and only then
// issues a session token. Nothing is issued when any step fails.
func (b *Bridge) Exchange(ctx context.Context, externalToken string) (*ExchangeResult, error) {
	logger := observability.FromContext(ctx).WithField("token", auth.Fingerprint(externalToken))

	claims, err := b.verifier.Verify(ctx, externalToken)
	if errors.Is(err, ErrUpstreamUnavailable) {
		b.metrics.RecordTokenExchange(observability.ResultError)
		logger.WithError(err).Error("Identity provider keys unavailable")
		return nil, err
	}
	if err != nil {
		b.metrics.RecordTokenExchange(observability.ResultRejected)
		logger.WithError(err).Warn("External token rejected")
		if !errors.Is(err, ErrInvalidExternalToken) {
			err = fmt.Errorf("%w: %v", ErrInvalidExternalToken, err)
		}
		return nil, err
	}

	user, err := b.store.ProvisionExternalUser(ctx, claims.Identity())
	if err != nil {
		b.metrics.RecordTokenExchange(observability.ResultError)
		logger.WithError(err).WithField("subject", claims.Subject).Error("Failed to provision external user")
		return nil, fmt.Errorf("failed to provision user: %w", err)
	}

	token, issued, err := b.tokens.Issue(auth.IdentityFromUser(user))
	if err != nil {
		b.metrics.RecordTokenExchange(observability.ResultError)
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	b.metrics.RecordTokenExchange(observability.ResultSuccess)
	logger.WithField("user_id", user.ID).Info("External identity exchanged")

	expiresIn := 0
	if issued.ExpiresAt != nil && issued.IssuedAt != nil {
		expiresIn = int(issued.ExpiresAt.Sub(issued.IssuedAt.Time).Seconds())
	}

	return &ExchangeResult{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   expiresIn,
		User:        user,
	}, nil
}
