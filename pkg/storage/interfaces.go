package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/tutorhub/tutorhub/pkg/auth"
)

// Sentinel errors. Backends wrap them with %w; callers test with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateEmail   = errors.New("email already registered")
	ErrDuplicatePhone   = errors.New("phone already registered")
	ErrDuplicateSubject = errors.New("external subject already linked")
)

// RegisterInput is a new local account and its initial profile
type RegisterInput struct {
	Email        string
	PasswordHash string
	Roles        []string
	Profile      auth.ProfileUpdate
}

// ExternalIdentity is a verified identity provider subject
type ExternalIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	FirstName     *string
	LastName      *string
	Picture       *string
}

// UserStats are the counters behind the admin dashboard
type UserStats struct {
	Total    int
	Admins   int // roles contain admin or ceo
	Managers int // roles contain manager
	// ManagersOnly hold manager without admin or ceo
	ManagersOnly int
	Online       int
}

// Distribution buckets users exclusively: admin over manager over user
func (s UserStats) Distribution() (admins, managers, users int) {
	admins = s.Admins
	managers = s.ManagersOnly
	users = s.Total - admins - managers
	if users < 0 {
		users = 0
	}
	return admins, managers, users
}

// UserStore persists accounts. Reads return users with IsAdmin derived from
// roles and, where one exists, the profile attached.
type UserStore interface {
	CreateUserWithProfile(ctx context.Context, in RegisterInput) (*auth.User, error)
	GetUserByID(ctx context.Context, id string) (*auth.User, error)
	// GetUserByEmail returns the user including PasswordHash
	GetUserByEmail(ctx context.Context, email string) (*auth.User, error)
	GetUserRoles(ctx context.Context, id string) ([]string, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	TouchLastActive(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	// UpdateRoles replaces roles and rewrites the stored admin flag in one statement
	UpdateRoles(ctx context.Context, id string, roles []string) (*auth.User, error)
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]*auth.User, error)
	CountUsers(ctx context.Context) (int, error)
	Stats(ctx context.Context, onlineSince time.Time) (UserStats, error)
}

// ProfileStore persists profiles
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*auth.Profile, error)
	// PhoneExists reports whether another user holds phone. excludeUserID may be empty.
	PhoneExists(ctx context.Context, phone, excludeUserID string) (bool, error)
	// UpsertProfile sets the provided fields, creating the profile if needed
	UpsertProfile(ctx context.Context, userID string, upd auth.ProfileUpdate) (*auth.Profile, error)
}

// Notification is a message addressed to one user
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Content   string    `json:"text"`
	Type      string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// NotificationTypeSystem marks notifications created by the user themselves
const NotificationTypeSystem = "system"

// NotificationStore persists notifications
type NotificationStore interface {
	CreateNotification(ctx context.Context, userID, content, typ string) (*Notification, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]*Notification, error)
	// DeleteNotification removes id only if it belongs to userID
	DeleteNotification(ctx context.Context, userID, id string) error
}

// IdentityStore links external identities to local users
type IdentityStore interface {
	// ProvisionExternalUser updates the user linked to the subject, links an
	// existing user with the same verified email, or creates a new user. It is
	// all-or-nothing.
	ProvisionExternalUser(ctx context.Context, ext ExternalIdentity) (*auth.User, error)
}

// Store is the full persistence port of the service
type Store interface {
	UserStore
	ProfileStore
	NotificationStore
	IdentityStore
	HealthCheck(ctx context.Context) error
}

// AvatarStore keeps uploaded avatar images
type AvatarStore interface {
	// PutAvatar stores content under name and returns its public URL
	PutAvatar(ctx context.Context, name string, content io.Reader, contentType string) (string, error)
}

// Config for storage backends
type Config struct {
	Type string // "memory" or "postgres"

	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs []string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Avatar config
	AvatarBackend   string // "filesystem" or "s3"
	AvatarDir       string
	AvatarURLPrefix string

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	S3PublicURL    string

	// StatsCacheTTL caches admin stats in Redis when positive
	StatsCacheTTL time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             "postgres",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		AvatarBackend:    "filesystem",
		AvatarDir:        "./public/avatars",
		AvatarURLPrefix:  "/avatars",
		StatsCacheTTL:    15 * time.Second,
	}
}

// ExternalEmail returns the email a new federated user is created with. A
// subject without an email gets an address under the reserved .invalid TLD.
func ExternalEmail(ext ExternalIdentity) string {
	if ext.Email != "" {
		return ext.Email
	}
	return "idp+" + ext.Subject + "@users.tutorhub.invalid"
}
