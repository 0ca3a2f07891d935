//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/storage"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("tutorhub"),
		tcpostgres.WithUsername("tutorhub"),
		tcpostgres.WithPassword("tutorhub"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(ctx, db))
	return db
}

func TestIntegration_UserLifecycle(t *testing.T) {
	db := setupPostgres(t)
	store := NewStore(db)
	ctx := context.Background()

	version, err := MigrationVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	first, last, phone := "Иван", "Петров", "9991234567"
	u, err := store.CreateUserWithProfile(ctx, storage.RegisterInput{
		Email:        "ivan@example.com",
		PasswordHash: "hash",
		Profile:      auth.ProfileUpdate{FirstName: &first, LastName: &last, Phone: &phone},
	})
	require.NoError(t, err)
	require.NotNil(t, u.Profile)
	assert.Equal(t, []string{}, u.Profile.Interests)

	_, err = store.CreateUserWithProfile(ctx, storage.RegisterInput{Email: "ivan@example.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, storage.ErrDuplicateEmail)

	_, err = store.CreateUserWithProfile(ctx, storage.RegisterInput{
		Email:   "other@example.com",
		Profile: auth.ProfileUpdate{Phone: &phone},
	})
	assert.ErrorIs(t, err, storage.ErrDuplicatePhone)
	exists, err := store.EmailExists(ctx, "other@example.com")
	require.NoError(t, err)
	assert.False(t, exists, "failed registration must not leave a user behind")

	updated, err := store.UpdateRoles(ctx, u.ID, []string{"admin", "manager"})
	require.NoError(t, err)
	assert.True(t, updated.IsAdmin)

	stats, err := store.Stats(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, storage.UserStats{Total: 1, Admins: 1, Managers: 1}, stats)

	n, err := store.CreateNotification(ctx, u.ID, "hello", storage.NotificationTypeSystem)
	require.NoError(t, err)
	list, err := store.ListNotifications(ctx, u.ID, 50)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, store.DeleteUser(ctx, u.ID))
	assert.ErrorIs(t, store.DeleteNotification(ctx, u.ID, n.ID), storage.ErrNotFound)
	_, err = store.GetProfile(ctx, u.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_ProvisionExternalUser(t *testing.T) {
	db := setupPostgres(t)
	store := NewStore(db)
	ctx := context.Background()

	name := "Анна"
	u, err := store.ProvisionExternalUser(ctx, storage.ExternalIdentity{
		Subject: "idp|1", Email: "anna@example.com", EmailVerified: true, FirstName: &name,
	})
	require.NoError(t, err)

	again, err := store.ProvisionExternalUser(ctx, storage.ExternalIdentity{Subject: "idp|1", Email: "anna@example.com"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
	require.NotNil(t, again.Profile)
	assert.Equal(t, "Анна", *again.Profile.FirstName)

	_, err = store.ProvisionExternalUser(ctx, storage.ExternalIdentity{
		Subject: "idp|2", Email: "anna@example.com", EmailVerified: true,
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateSubject)
}
