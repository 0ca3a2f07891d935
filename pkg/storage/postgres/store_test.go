package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/storage"
)

const testUserID = "5f0c6f5e-3c1a-4b8e-9d55-0a9f1f4d2b11"

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, WithClock(func() time.Time { return testNow })), mock
}

var userRowColumns = []string{
	"id", "email", "password_hash", "roles", "external_subject", "last_active", "created_at",
	"user_id", "first_name", "last_name", "avatar", "role", "interests", "phone", "privacy", "updated_at",
}

func userRows(id, email, hash, roles string, withProfile bool) *sqlmock.Rows {
	rows := sqlmock.NewRows(userRowColumns)
	if withProfile {
		return rows.AddRow(id, email, hash, roles, nil, nil, testNow,
			id, "Иван", "Петров", nil, nil, "{math}", "9991234567", []byte(`{"showPhone":true}`), testNow)
	}
	return rows.AddRow(id, email, hash, roles, nil, nil, testNow,
		nil, nil, nil, nil, nil, nil, nil, nil, nil)
}

func profileRows(id string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"user_id", "first_name", "last_name", "avatar", "role", "interests", "phone", "privacy", "updated_at"}).
		AddRow(id, "Иван", "Петров", nil, nil, "{}", "9991234567", nil, testNow)
}

func strPtr(s string) *string { return &s }

func TestMapUniqueViolation(t *testing.T) {
	tests := []struct {
		constraint string
		want       error
	}{
		{"users_email_key", storage.ErrDuplicateEmail},
		{"profiles_phone_key", storage.ErrDuplicatePhone},
		{"users_external_subject_key", storage.ErrDuplicateSubject},
	}
	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			err := mapUniqueViolation(&pq.Error{Code: uniqueViolation, Constraint: tt.constraint})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	other := errors.New("boom")
	assert.Equal(t, other, mapUniqueViolation(other))

	fk := &pq.Error{Code: "23503"}
	assert.Equal(t, error(fk), mapUniqueViolation(fk))
}

func TestStore_CreateUserWithProfile(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "a@b.com", "hash", false, sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO profiles").WillReturnRows(profileRows(testUserID))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT u.id").WillReturnRows(userRows(testUserID, "a@b.com", "hash", "{}", true))

	u, err := store.CreateUserWithProfile(context.Background(), storage.RegisterInput{
		Email:        "a@b.com",
		PasswordHash: "hash",
		Profile: auth.ProfileUpdate{
			FirstName: strPtr("Иван"),
			LastName:  strPtr("Петров"),
			Phone:     strPtr("9991234567"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, testUserID, u.ID)
	assert.Empty(t, u.PasswordHash)
	assert.Equal(t, []string{}, u.Roles)
	require.NotNil(t, u.Profile)
	assert.Equal(t, []string{"math"}, u.Profile.Interests)
	assert.JSONEq(t, `{"showPhone":true}`, string(u.Profile.Privacy))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateUserWithProfile_RollsBack(t *testing.T) {
	t.Run("duplicate email", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").
			WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "users_email_key"})
		mock.ExpectRollback()

		_, err := store.CreateUserWithProfile(context.Background(), storage.RegisterInput{Email: "a@b.com", PasswordHash: "h"})
		assert.ErrorIs(t, err, storage.ErrDuplicateEmail)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate phone leaves no user", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO profiles").
			WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "profiles_phone_key"})
		mock.ExpectRollback()

		_, err := store.CreateUserWithProfile(context.Background(), storage.RegisterInput{
			Email:   "a@b.com",
			Profile: auth.ProfileUpdate{Phone: strPtr("9991234567")},
		})
		assert.ErrorIs(t, err, storage.ErrDuplicatePhone)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_GetUser(t *testing.T) {
	t.Run("by email keeps hash and derives admin", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`WHERE u.email = \$1`).
			WithArgs("a@b.com").
			WillReturnRows(userRows(testUserID, "a@b.com", "hash", "{ceo}", false))

		u, err := store.GetUserByEmail(context.Background(), "a@b.com")
		require.NoError(t, err)
		assert.Equal(t, "hash", u.PasswordHash)
		assert.True(t, u.IsAdmin)
		assert.Nil(t, u.Profile)
	})

	t.Run("missing", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`WHERE u.id = \$1`).WillReturnError(sql.ErrNoRows)

		_, err := store.GetUserByID(context.Background(), testUserID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("malformed id is not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		_, err := store.GetUserByID(context.Background(), "not-a-uuid")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_UpdateRoles(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users SET roles").
		WithArgs(testUserID, sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT u.id").WillReturnRows(userRows(testUserID, "a@b.com", "", "{admin,manager}", false))

	u, err := store.UpdateRoles(context.Background(), testUserID, []string{"Admin", "manager", "admin"})
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "manager"}, u.Roles)
	assert.True(t, u.IsAdmin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_NotFoundOnZeroRows(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE users SET roles").WillReturnResult(sqlmock.NewResult(0, 0))
	_, err := store.UpdateRoles(ctx, testUserID, []string{"manager"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	mock.ExpectExec("DELETE FROM users").WithArgs(testUserID).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.DeleteUser(ctx, testUserID), storage.ErrNotFound)

	mock.ExpectExec("UPDATE users SET password_hash").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.UpdatePassword(ctx, testUserID, "h"), storage.ErrNotFound)

	assert.ErrorIs(t, store.DeleteNotification(ctx, testUserID, "nope"), storage.ErrNotFound)

	mock.ExpectExec("DELETE FROM notifications").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.DeleteNotification(ctx, testUserID, testUserID), storage.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Stats(t *testing.T) {
	store, mock := newMockStore(t)
	since := testNow.Add(-5 * time.Minute)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"total", "admins", "managers", "managers_only", "online"}).
			AddRow(10, 2, 4, 3, 1))

	stats, err := store.Stats(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, storage.UserStats{Total: 10, Admins: 2, Managers: 4, ManagersOnly: 3, Online: 1}, stats)
}

func TestStore_ListNotifications(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM notifications").
		WithArgs(testUserID, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "content", "type", "created_at"}).
			AddRow("n2", testUserID, "second", "system", testNow).
			AddRow("n1", testUserID, "first", "system", testNow.Add(-time.Minute)))

	list, err := store.ListNotifications(context.Background(), testUserID, 50)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Content)
}

func TestStore_UpsertProfile_OnlyProvidedFields(t *testing.T) {
	store, mock := newMockStore(t)

	role := "Репетитор"
	mock.ExpectQuery(`INSERT INTO profiles \(user_id, updated_at, role\) VALUES \(\$1, \$2, \$3\)\s+ON CONFLICT \(user_id\) DO UPDATE SET updated_at = EXCLUDED.updated_at, role = EXCLUDED.role`).
		WithArgs(testUserID, testNow, role).
		WillReturnRows(profileRows(testUserID))

	_, err := store.UpsertProfile(context.Background(), testUserID, auth.ProfileUpdate{Role: &role})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ProvisionExternalUser(t *testing.T) {
	t.Run("creates user when nothing matches", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery("WHERE external_subject = \\$1 FOR UPDATE").WithArgs("sub-1").WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("WHERE email = \\$1 FOR UPDATE").WithArgs("x@idp.com").WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("INSERT INTO users").
			WithArgs(sqlmock.AnyArg(), "x@idp.com", "sub-1", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO profiles").WillReturnRows(profileRows(testUserID))
		mock.ExpectCommit()
		mock.ExpectQuery("SELECT u.id").WillReturnRows(userRows(testUserID, "x@idp.com", "", "{}", true))

		u, err := store.ProvisionExternalUser(context.Background(), storage.ExternalIdentity{
			Subject: "sub-1", Email: "x@idp.com", EmailVerified: true, FirstName: strPtr("Иван"),
		})
		require.NoError(t, err)
		assert.Equal(t, "x@idp.com", u.Email)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure rolls back", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery("WHERE external_subject").WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("INSERT INTO users").WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		_, err := store.ProvisionExternalUser(context.Background(), storage.ExternalIdentity{Subject: "sub-2", Email: "y@idp.com"})
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("links existing verified email", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery("WHERE external_subject").WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("WHERE email = \\$1 FOR UPDATE").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testUserID))
		mock.ExpectExec("UPDATE users SET external_subject").
			WithArgs(testUserID, "sub-3").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO profiles").WillReturnRows(profileRows(testUserID))
		mock.ExpectCommit()
		mock.ExpectQuery("SELECT u.id").WillReturnRows(userRows(testUserID, "a@b.com", "", "{manager}", true))

		u, err := store.ProvisionExternalUser(context.Background(), storage.ExternalIdentity{
			Subject: "sub-3", Email: "a@b.com", EmailVerified: true,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"manager"}, u.Roles)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
