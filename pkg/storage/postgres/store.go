package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/storage"
)

var tracer = otel.Tracer("github.com/tutorhub/tutorhub/pkg/storage/postgres")

const uniqueViolation = "23505"

// Store implements storage.Store on PostgreSQL
type Store struct {
	db      *sql.DB
	replica func() *sql.DB
	now     func() time.Time
}

var _ storage.Store = (*Store)(nil)

// StoreOption configures a Store
type StoreOption func(*Store)

// WithReplicas routes read-only listing queries through cm's replicas
func WithReplicas(cm *ConnectionManager) StoreOption {
	return func(s *Store) {
		s.replica = cm.Replica
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a new PostgreSQL-backed store
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:  db,
		now: time.Now,
	}
	s.replica = func() *sql.DB { return s.db }
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the primary connection
func (s *Store) DB() *sql.DB {
	return s.db
}

func startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", op),
	}, attrs...)
	return tracer.Start(ctx, "Store."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// mapUniqueViolation translates unique constraint violations to sentinels
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case "users_email_key":
		return storage.ErrDuplicateEmail
	case "profiles_phone_key":
		return storage.ErrDuplicatePhone
	case "users_external_subject_key":
		return storage.ErrDuplicateSubject
	}
	return err
}

const userSelect = `
	SELECT u.id, u.email, COALESCE(u.password_hash, ''), u.roles, u.external_subject,
	       u.last_active, u.created_at,
	       p.user_id, p.first_name, p.last_name, p.avatar, p.role, p.interests,
	       p.phone, p.privacy, p.updated_at
	FROM users u
	LEFT JOIN profiles p ON p.user_id = u.id
`

const profileColumns = `user_id, first_name, last_name, avatar, role, interests, phone, privacy, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		u          auth.User
		roles      pq.StringArray
		subject    sql.NullString
		lastActive sql.NullTime

		profileUserID sql.NullString
		firstName     sql.NullString
		lastName      sql.NullString
		avatar        sql.NullString
		title         sql.NullString
		interests     pq.StringArray
		phone         sql.NullString
		privacy       []byte
		updatedAt     sql.NullTime
	)

	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &roles, &subject, &lastActive, &u.CreatedAt,
		&profileUserID, &firstName, &lastName, &avatar, &title, &interests, &phone, &privacy, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Roles = []string(roles)
	if u.Roles == nil {
		u.Roles = []string{}
	}
	u.IsAdmin = auth.DeriveIsAdmin(u.Roles)
	if subject.Valid {
		u.ExternalSubject = &subject.String
	}
	if lastActive.Valid {
		t := lastActive.Time
		u.LastActive = &t
	}

	if profileUserID.Valid {
		u.Profile = buildProfile(profileUserID.String, firstName, lastName, avatar, title, interests, phone, privacy, updatedAt)
	}
	return &u, nil
}

func buildProfile(userID string, firstName, lastName, avatar, title sql.NullString, interests pq.StringArray, phone sql.NullString, privacy []byte, updatedAt sql.NullTime) *auth.Profile {
	p := &auth.Profile{
		UserID:    userID,
		FirstName: nullString(firstName),
		LastName:  nullString(lastName),
		Avatar:    nullString(avatar),
		Role:      nullString(title),
		Interests: []string(interests),
		Phone:     nullString(phone),
		UpdatedAt: updatedAt.Time,
	}
	if p.Interests == nil {
		p.Interests = []string{}
	}
	if len(privacy) > 0 {
		p.Privacy = json.RawMessage(privacy)
	}
	return p
}

func scanProfile(row rowScanner) (*auth.Profile, error) {
	var (
		userID    string
		firstName sql.NullString
		lastName  sql.NullString
		avatar    sql.NullString
		title     sql.NullString
		interests pq.StringArray
		phone     sql.NullString
		privacy   []byte
		updatedAt sql.NullTime
	)
	if err := row.Scan(&userID, &firstName, &lastName, &avatar, &title, &interests, &phone, &privacy, &updatedAt); err != nil {
		return nil, err
	}
	return buildProfile(userID, firstName, lastName, avatar, title, interests, phone, privacy, updatedAt), nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// CreateUserWithProfile inserts the user and profile in one transaction
func (s *Store) CreateUserWithProfile(ctx context.Context, in storage.RegisterInput) (user *auth.User, err error) {
	ctx, span := startSpan(ctx, "CreateUserWithProfile")
	defer func() { endSpan(span, err) }()

	id := uuid.NewString()
	roles := auth.NormalizeRoles(in.Roles)

	err = WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		var passwordHash interface{}
		if in.PasswordHash != "" {
			passwordHash = in.PasswordHash
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, email, password_hash, is_admin, roles, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, in.Email, passwordHash, auth.DeriveIsAdmin(roles), pq.Array(roles), s.now())
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", mapUniqueViolation(err))
		}

		if _, err := upsertProfile(ctx, tx, id, in.Profile, s.now()); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetUserByID(ctx, id)
}

func (s *Store) getUser(ctx context.Context, q DBTX, where string, arg interface{}) (*auth.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, userSelect+" WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByID implements storage.UserStore
func (s *Store) GetUserByID(ctx context.Context, id string) (user *auth.User, err error) {
	ctx, span := startSpan(ctx, "GetUserByID", attribute.String("user.id", id))
	defer func() { endSpan(span, err) }()

	if _, perr := uuid.Parse(id); perr != nil {
		return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	user, err = s.getUser(ctx, s.db, "u.id = $1", id)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return user, nil
}

// GetUserByEmail implements storage.UserStore
func (s *Store) GetUserByEmail(ctx context.Context, email string) (user *auth.User, err error) {
	ctx, span := startSpan(ctx, "GetUserByEmail")
	defer func() { endSpan(span, err) }()

	return s.getUser(ctx, s.db, "u.email = $1", email)
}

// GetUserRoles implements storage.UserStore
func (s *Store) GetUserRoles(ctx context.Context, id string) ([]string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}

	var roles pq.StringArray
	err := s.db.QueryRowContext(ctx, `SELECT roles FROM users WHERE id = $1`, id).Scan(&roles)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get roles: %w", err)
	}
	if roles == nil {
		return []string{}, nil
	}
	return []string(roles), nil
}

// EmailExists implements storage.UserStore
func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return exists, nil
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return nil
}

// TouchLastActive implements storage.UserStore
func (s *Store) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET last_active = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch last active: %w", err)
	}
	return expectOneRow(res, "user "+id)
}

// UpdatePassword implements storage.UserStore
func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string) (err error) {
	ctx, span := startSpan(ctx, "UpdatePassword", attribute.String("user.id", id))
	defer func() { endSpan(span, err) }()

	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return expectOneRow(res, "user "+id)
}

// UpdateRoles implements storage.UserStore
func (s *Store) UpdateRoles(ctx context.Context, id string, roles []string) (user *auth.User, err error) {
	ctx, span := startSpan(ctx, "UpdateRoles", attribute.String("user.id", id))
	defer func() { endSpan(span, err) }()

	if _, perr := uuid.Parse(id); perr != nil {
		return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}

	roles = auth.NormalizeRoles(roles)
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET roles = $2, is_admin = $3 WHERE id = $1`,
		id, pq.Array(roles), auth.DeriveIsAdmin(roles))
	if err != nil {
		return nil, fmt.Errorf("failed to update roles: %w", err)
	}
	if err := expectOneRow(res, "user "+id); err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

// DeleteUser implements storage.UserStore. Profile and notifications cascade.
func (s *Store) DeleteUser(ctx context.Context, id string) (err error) {
	ctx, span := startSpan(ctx, "DeleteUser", attribute.String("user.id", id))
	defer func() { endSpan(span, err) }()

	if _, perr := uuid.Parse(id); perr != nil {
		return fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return expectOneRow(res, "user "+id)
}

// ListUsers implements storage.UserStore, newest first
func (s *Store) ListUsers(ctx context.Context) (users []*auth.User, err error) {
	ctx, span := startSpan(ctx, "ListUsers")
	defer func() { endSpan(span, err) }()

	rows, err := s.replica().QueryContext(ctx, userSelect+" ORDER BY u.created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users = make([]*auth.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.PasswordHash = ""
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	span.SetAttributes(attribute.Int("result.count", len(users)))
	return users, nil
}

// CountUsers implements storage.UserStore
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// Stats implements storage.UserStore
func (s *Store) Stats(ctx context.Context, onlineSince time.Time) (stats storage.UserStats, err error) {
	ctx, span := startSpan(ctx, "Stats")
	defer func() { endSpan(span, err) }()

	err = s.replica().QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE 'admin' = ANY(roles) OR 'ceo' = ANY(roles)),
		       COUNT(*) FILTER (WHERE 'manager' = ANY(roles)),
		       COUNT(*) FILTER (WHERE 'manager' = ANY(roles) AND NOT ('admin' = ANY(roles) OR 'ceo' = ANY(roles))),
		       COUNT(*) FILTER (WHERE last_active >= $1)
		FROM users
	`, onlineSince).Scan(&stats.Total, &stats.Admins, &stats.Managers, &stats.ManagersOnly, &stats.Online)
	if err != nil {
		return storage.UserStats{}, fmt.Errorf("failed to compute user stats: %w", err)
	}
	return stats, nil
}

// GetProfile implements storage.ProfileStore
func (s *Store) GetProfile(ctx context.Context, userID string) (*auth.Profile, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("profile %s: %w", userID, storage.ErrNotFound)
	}
	p, err := scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// PhoneExists implements storage.ProfileStore
func (s *Store) PhoneExists(ctx context.Context, phone, excludeUserID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM profiles WHERE phone = $1 AND user_id::text <> $2)`,
		phone, excludeUserID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check phone: %w", err)
	}
	return exists, nil
}

// UpsertProfile implements storage.ProfileStore
func (s *Store) UpsertProfile(ctx context.Context, userID string, upd auth.ProfileUpdate) (profile *auth.Profile, err error) {
	ctx, span := startSpan(ctx, "UpsertProfile", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	if _, perr := uuid.Parse(userID); perr != nil {
		return nil, fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
	}
	return upsertProfile(ctx, s.db, userID, upd, s.now())
}

// upsertProfile inserts the provided fields, or on conflict overwrites only
// those fields
func upsertProfile(ctx context.Context, q DBTX, userID string, upd auth.ProfileUpdate, now time.Time) (*auth.Profile, error) {
	cols := []string{"user_id", "updated_at"}
	args := []interface{}{userID, now}
	sets := []string{"updated_at = EXCLUDED.updated_at"}

	add := func(col string, v interface{}) {
		cols = append(cols, col)
		args = append(args, v)
		sets = append(sets, col+" = EXCLUDED."+col)
	}
	if upd.FirstName != nil {
		add("first_name", *upd.FirstName)
	}
	if upd.LastName != nil {
		add("last_name", *upd.LastName)
	}
	if upd.Avatar != nil {
		add("avatar", *upd.Avatar)
	}
	if upd.Role != nil {
		add("role", *upd.Role)
	}
	if upd.Interests != nil {
		add("interests", pq.Array(*upd.Interests))
	}
	if upd.Phone != nil {
		add("phone", *upd.Phone)
	}
	if upd.Privacy != nil {
		add("privacy", []byte(upd.Privacy))
	}

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`
		INSERT INTO profiles (%s) VALUES (%s)
		ON CONFLICT (user_id) DO UPDATE SET %s
		RETURNING %s`,
		strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(sets, ", "), profileColumns)

	p, err := scanProfile(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return nil, fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to upsert profile: %w", mapUniqueViolation(err))
	}
	return p, nil
}

// CreateNotification implements storage.NotificationStore
func (s *Store) CreateNotification(ctx context.Context, userID, content, typ string) (*storage.Notification, error) {
	n := &storage.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   content,
		Type:      typ,
		CreatedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, content, type, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, n.ID, n.UserID, n.Content, n.Type, n.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return nil, fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return n, nil
}

// ListNotifications implements storage.NotificationStore, newest first
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]*storage.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, content, type, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]*storage.Notification, 0)
	for rows.Next() {
		var n storage.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Content, &n.Type, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// DeleteNotification implements storage.NotificationStore
func (s *Store) DeleteNotification(ctx context.Context, userID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("notification %s: %w", id, storage.ErrNotFound)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return expectOneRow(res, "notification "+id)
}

// ProvisionExternalUser implements storage.IdentityStore in one transaction
func (s *Store) ProvisionExternalUser(ctx context.Context, ext storage.ExternalIdentity) (user *auth.User, err error) {
	ctx, span := startSpan(ctx, "ProvisionExternalUser")
	defer func() { endSpan(span, err) }()

	if ext.Subject == "" {
		return nil, errors.New("provision: external subject is required")
	}

	names := auth.ProfileUpdate{FirstName: ext.FirstName, LastName: ext.LastName, Avatar: ext.Picture}
	var userID string

	err = WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM users WHERE external_subject = $1 FOR UPDATE`, ext.Subject).Scan(&userID)
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("provision.outcome", "updated"))
			if ext.Email != "" {
				if _, err := tx.ExecContext(ctx, `UPDATE users SET email = $2 WHERE id = $1`, userID, ext.Email); err != nil {
					return fmt.Errorf("failed to update user email: %w", mapUniqueViolation(err))
				}
			}
			_, err := upsertProfile(ctx, tx, userID, names, s.now())
			return err
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to find linked user: %w", err)
		}

		if ext.Email != "" && ext.EmailVerified {
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM users WHERE email = $1 FOR UPDATE`, ext.Email).Scan(&userID)
			switch {
			case err == nil:
				span.SetAttributes(attribute.String("provision.outcome", "linked"))
				res, err := tx.ExecContext(ctx,
					`UPDATE users SET external_subject = $2 WHERE id = $1 AND external_subject IS NULL`,
					userID, ext.Subject)
				if err != nil {
					return fmt.Errorf("failed to link user: %w", mapUniqueViolation(err))
				}
				if n, _ := res.RowsAffected(); n == 0 {
					return fmt.Errorf("link user: %w", storage.ErrDuplicateSubject)
				}
				_, err = upsertProfile(ctx, tx, userID, names, s.now())
				return err
			case !errors.Is(err, sql.ErrNoRows):
				return fmt.Errorf("failed to find user by email: %w", err)
			}
		}

		span.SetAttributes(attribute.String("provision.outcome", "created"))
		userID = uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO users (id, email, is_admin, roles, external_subject, created_at)
			VALUES ($1, $2, FALSE, '{}', $3, $4)
		`, userID, storage.ExternalEmail(ext), ext.Subject, s.now())
		if err != nil {
			return fmt.Errorf("failed to create user: %w", mapUniqueViolation(err))
		}
		_, err = upsertProfile(ctx, tx, userID, names, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.GetUserByID(ctx, userID)
}

// HealthCheck implements storage.Store
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
