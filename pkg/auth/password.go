package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor for stored password hashes
const DefaultBcryptCost = 12

var (
	// ErrPasswordMismatch is returned when a password does not match its hash
	ErrPasswordMismatch = errors.New("password mismatch")
	// ErrPasswordTooLong is returned for passwords bcrypt cannot hash
	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
)

// PasswordHasher hashes and compares passwords with bcrypt
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher creates a hasher. Costs outside bcrypt bounds fall back to DefaultBcryptCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &PasswordHasher{cost: cost}
}

// Cost returns the configured work factor
func (h *PasswordHasher) Cost() int {
	return h.cost
}

// Hash hashes a password. It returns ctx.Err() if the context ends first.
func (h *PasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	hash, err := runBounded(ctx, func() ([]byte, error) {
		return bcrypt.GenerateFromPassword([]byte(password), h.cost)
	})
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Compare checks a password against a hash. Accounts without a password hash
// never match.
func (h *PasswordHasher) Compare(ctx context.Context, hash, password string) error {
	if hash == "" {
		return ErrPasswordMismatch
	}
	_, err := runBounded(ctx, func() (struct{}, error) {
		return struct{}{}, bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return ErrPasswordMismatch
	}
}

type boundedResult[T any] struct {
	value T
	err   error
}

// runBounded runs fn in a goroutine and stops waiting when ctx ends
func runBounded[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	done := make(chan boundedResult[T], 1)
	go func() {
		v, err := fn()
		done <- boundedResult[T]{value: v, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
