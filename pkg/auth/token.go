package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tutorhub/tutorhub/pkg/observability"
)

const (
	// DefaultTokenExpiry is the session token lifetime
	DefaultTokenExpiry = 7 * 24 * time.Hour

	// DevelopmentSecret signs tokens when no secret is configured outside production
	DevelopmentSecret = "tutorhub-dev-secret-change-in-production"
)

var (
	// ErrInvalidToken covers every verification failure
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingSecret is returned when the signing secret is empty
	ErrMissingSecret = errors.New("token signing secret is required")
)

// Claims are the session token claims
type Claims struct {
	UserID  string   `json:"userId"`
	Email   string   `json:"email"`
	IsAdmin bool     `json:"isAdmin"`
	Roles   []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies session tokens
type TokenService struct {
	secret   []byte
	expiry   time.Duration
	denylist Denylist
	logger   *observability.Logger
	now      func() time.Time
}

// TokenOption configures a TokenService
type TokenOption func(*TokenService)

// WithDenylist enables revocation checks
func WithDenylist(d Denylist) TokenOption {
	return func(s *TokenService) {
		s.denylist = d
	}
}

// WithTokenLogger sets the logger used for revocation lookup failures
func WithTokenLogger(logger *observability.Logger) TokenOption {
	return func(s *TokenService) {
		s.logger = logger
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// NewTokenService creates a token service. A zero expiry means DefaultTokenExpiry.
func NewTokenService(secret []byte, expiry time.Duration, opts ...TokenOption) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}

	s := &TokenService{
		secret: secret,
		expiry: expiry,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Expiry returns the token lifetime
func (s *TokenService) Expiry() time.Duration {
	return s.expiry
}

// Issue signs a new session token for the identity
func (s *TokenService) Issue(id Identity) (string, *Claims, error) {
	if id.UserID == "" {
		return "", nil, fmt.Errorf("user id is required")
	}

	roles := id.Roles
	if roles == nil {
		roles = []string{}
	}

	now := s.now().Truncate(time.Second)
	claims := &Claims{
		UserID:  id.UserID,
		Email:   id.Email,
		IsAdmin: DeriveIsAdmin(roles),
		Roles:   roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, claims, nil
}

// Verify checks signature, expiry and revocation. Any failure is ErrInvalidToken.
func (s *TokenService) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	if claims.Roles == nil {
		claims.Roles = []string{}
	}

	if s.denylist != nil && claims.ID != "" {
		revoked, err := s.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			// Fail open on revocation store errors
			if s.logger != nil {
				s.logger.WithError(err).Warn("Token revocation lookup failed")
			}
		} else if revoked {
			return nil, ErrInvalidToken
		}
	}

	return claims, nil
}

// Revoke records the token id until the token expires
func (s *TokenService) Revoke(ctx context.Context, claims *Claims) error {
	if s.denylist == nil || claims == nil || claims.ID == "" {
		return nil
	}
	until := s.now().Add(s.expiry)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	if !until.After(s.now()) {
		return nil
	}
	return s.denylist.Revoke(ctx, claims.ID, until)
}

// Fingerprint returns a short, non-reversible identifier of a token for logs
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:8]
}
