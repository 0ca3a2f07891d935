// Package storage defines the persistence ports of tutorhub and the
// filesystem avatar store.
//
// # Ports
//
// Store composes the focused capabilities used by the HTTP layer:
//
//   - UserStore: accounts, roles, passwords, admin listing and stats
//   - ProfileStore: profile upserts and phone uniqueness
//   - NotificationStore: per-user notifications
//   - IdentityStore: linking identity provider subjects to local users
//
// AvatarStore keeps uploaded avatar images and returns their public URL.
//
// # Errors
//
// Backends wrap the sentinel errors with %w so handlers can translate them:
//
//	user, err := store.GetUserByID(ctx, id)
//	if errors.Is(err, storage.ErrNotFound) {
//		// 404
//	}
//
// ErrDuplicateEmail, ErrDuplicatePhone and ErrDuplicateSubject are returned for
// unique violations, including ones that lose a race at insert time.
//
// # Backends
//
// Package storage/postgres implements Store on PostgreSQL with embedded goose
// migrations and provides the S3 avatar store. Package storage/memory
// implements Store in process for local development and tests.
package storage
