// Package memory implements storage.Store in process. Data is lost on restart.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/storage"
)

type userRecord struct {
	user    auth.User
	profile *auth.Profile
}

// Store is a mutex-guarded in-memory storage.Store
type Store struct {
	mu            sync.RWMutex
	users         map[string]*userRecord
	notifications map[string]*storage.Notification
	now           func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty store
func New(opts ...Option) *Store {
	s := &Store{
		users:         make(map[string]*userRecord),
		notifications: make(map[string]*storage.Notification),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyProfile(p *auth.Profile) *auth.Profile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Interests = copyStrings(p.Interests)
	if p.Privacy != nil {
		cp.Privacy = append(json.RawMessage{}, p.Privacy...)
	}
	return &cp
}

// snapshot returns a detached copy. Callers hold s.mu.
func (r *userRecord) snapshot(withHash bool) *auth.User {
	u := r.user
	u.Roles = copyStrings(r.user.Roles)
	u.IsAdmin = auth.DeriveIsAdmin(u.Roles)
	if !withHash {
		u.PasswordHash = ""
	}
	u.Profile = copyProfile(r.profile)
	return &u
}

func (s *Store) findByEmail(email string) *userRecord {
	for _, r := range s.users {
		if r.user.Email == email {
			return r
		}
	}
	return nil
}

func (s *Store) findBySubject(sub string) *userRecord {
	for _, r := range s.users {
		if r.user.ExternalSubject != nil && *r.user.ExternalSubject == sub {
			return r
		}
	}
	return nil
}

func (s *Store) phoneTaken(phone, excludeUserID string) bool {
	for id, r := range s.users {
		if id == excludeUserID || r.profile == nil || r.profile.Phone == nil {
			continue
		}
		if *r.profile.Phone == phone {
			return true
		}
	}
	return false
}

// applyProfile upserts upd into the record. Callers hold s.mu for writing.
func (s *Store) applyProfile(r *userRecord, upd auth.ProfileUpdate) error {
	if upd.Phone != nil && s.phoneTaken(*upd.Phone, r.user.ID) {
		return fmt.Errorf("upsert profile: %w", storage.ErrDuplicatePhone)
	}
	base := auth.Profile{UserID: r.user.ID}
	if r.profile != nil {
		base = *r.profile
	}
	p := upd.Apply(base)
	p.UpdatedAt = s.now()
	r.profile = &p
	return nil
}

// CreateUserWithProfile implements storage.UserStore
func (s *Store) CreateUserWithProfile(ctx context.Context, in storage.RegisterInput) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findByEmail(in.Email) != nil {
		return nil, fmt.Errorf("create user: %w", storage.ErrDuplicateEmail)
	}
	if in.Profile.Phone != nil && s.phoneTaken(*in.Profile.Phone, "") {
		return nil, fmt.Errorf("create user: %w", storage.ErrDuplicatePhone)
	}

	roles := auth.NormalizeRoles(in.Roles)
	r := &userRecord{user: auth.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		Roles:        roles,
		CreatedAt:    s.now(),
	}}
	if err := s.applyProfile(r, in.Profile); err != nil {
		return nil, err
	}
	s.users[r.user.ID] = r
	return r.snapshot(false), nil
}

// GetUserByID implements storage.UserStore
func (s *Store) GetUserByID(ctx context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return r.snapshot(false), nil
}

// GetUserByEmail implements storage.UserStore
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.findByEmail(email)
	if r == nil {
		return nil, fmt.Errorf("user by email: %w", storage.ErrNotFound)
	}
	return r.snapshot(true), nil
}

// GetUserRoles implements storage.UserStore
func (s *Store) GetUserRoles(ctx context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return copyStrings(r.user.Roles), nil
}

// EmailExists implements storage.UserStore
func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByEmail(email) != nil, nil
}

// TouchLastActive implements storage.UserStore
func (s *Store) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	r.user.LastActive = &at
	return nil
}

// UpdatePassword implements storage.UserStore
func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	r.user.PasswordHash = passwordHash
	return nil
}

// UpdateRoles implements storage.UserStore
func (s *Store) UpdateRoles(ctx context.Context, id string, roles []string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	r.user.Roles = auth.NormalizeRoles(roles)
	return r.snapshot(false), nil
}

// DeleteUser implements storage.UserStore. Profile and notifications go with it.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	delete(s.users, id)
	for nid, n := range s.notifications {
		if n.UserID == id {
			delete(s.notifications, nid)
		}
	}
	return nil
}

// ListUsers implements storage.UserStore, newest first
func (s *Store) ListUsers(ctx context.Context) ([]*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*auth.User, 0, len(s.users))
	for _, r := range s.users {
		users = append(users, r.snapshot(false))
	}
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

// CountUsers implements storage.UserStore
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// Stats implements storage.UserStore
func (s *Store) Stats(ctx context.Context, onlineSince time.Time) (storage.UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats storage.UserStats
	for _, r := range s.users {
		stats.Total++
		admin := auth.HasAnyRole(r.user.Roles, auth.RoleAdmin, auth.RoleCEO)
		manager := auth.HasRole(r.user.Roles, auth.RoleManager)
		if admin {
			stats.Admins++
		}
		if manager {
			stats.Managers++
			if !admin {
				stats.ManagersOnly++
			}
		}
		if r.user.LastActive != nil && !r.user.LastActive.Before(onlineSince) {
			stats.Online++
		}
	}
	return stats, nil
}

// GetProfile implements storage.ProfileStore
func (s *Store) GetProfile(ctx context.Context, userID string) (*auth.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.users[userID]
	if !ok || r.profile == nil {
		return nil, fmt.Errorf("profile %s: %w", userID, storage.ErrNotFound)
	}
	return copyProfile(r.profile), nil
}

// PhoneExists implements storage.ProfileStore
func (s *Store) PhoneExists(ctx context.Context, phone, excludeUserID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phoneTaken(phone, excludeUserID), nil
}

// UpsertProfile implements storage.ProfileStore
func (s *Store) UpsertProfile(ctx context.Context, userID string, upd auth.ProfileUpdate) (*auth.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
	}
	if err := s.applyProfile(r, upd); err != nil {
		return nil, err
	}
	return copyProfile(r.profile), nil
}

// CreateNotification implements storage.NotificationStore
func (s *Store) CreateNotification(ctx context.Context, userID, content, typ string) (*storage.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return nil, fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
	}
	n := &storage.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   content,
		Type:      typ,
		CreatedAt: s.now(),
	}
	s.notifications[n.ID] = n
	cp := *n
	return &cp, nil
}

// ListNotifications implements storage.NotificationStore, newest first
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]*storage.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.Notification, 0)
	for _, n := range s.notifications {
		if n.UserID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteNotification implements storage.NotificationStore
func (s *Store) DeleteNotification(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return fmt.Errorf("notification %s: %w", id, storage.ErrNotFound)
	}
	delete(s.notifications, id)
	return nil
}

// ProvisionExternalUser implements storage.IdentityStore
func (s *Store) ProvisionExternalUser(ctx context.Context, ext storage.ExternalIdentity) (*auth.User, error) {
	if ext.Subject == "" {
		return nil, fmt.Errorf("provision: external subject is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names := auth.ProfileUpdate{FirstName: ext.FirstName, LastName: ext.LastName, Avatar: ext.Picture}

	if r := s.findBySubject(ext.Subject); r != nil {
		if ext.Email != "" && ext.Email != r.user.Email {
			if other := s.findByEmail(ext.Email); other != nil {
				return nil, fmt.Errorf("provision: %w", storage.ErrDuplicateEmail)
			}
			r.user.Email = ext.Email
		}
		if err := s.applyProfile(r, names); err != nil {
			return nil, err
		}
		return r.snapshot(false), nil
	}

	if ext.Email != "" && ext.EmailVerified {
		if r := s.findByEmail(ext.Email); r != nil {
			if r.user.ExternalSubject != nil {
				return nil, fmt.Errorf("provision: %w", storage.ErrDuplicateSubject)
			}
			sub := ext.Subject
			r.user.ExternalSubject = &sub
			if err := s.applyProfile(r, names); err != nil {
				return nil, err
			}
			return r.snapshot(false), nil
		}
	}

	email := storage.ExternalEmail(ext)
	if s.findByEmail(email) != nil {
		return nil, fmt.Errorf("provision: %w", storage.ErrDuplicateEmail)
	}
	sub := ext.Subject
	r := &userRecord{user: auth.User{
		ID:              uuid.NewString(),
		Email:           email,
		Roles:           []string{},
		ExternalSubject: &sub,
		CreatedAt:       s.now(),
	}}
	if err := s.applyProfile(r, names); err != nil {
		return nil, err
	}
	s.users[r.user.ID] = r
	return r.snapshot(false), nil
}

// HealthCheck implements storage.Store
func (s *Store) HealthCheck(ctx context.Context) error {
	return nil
}
