package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/storage"
)

type fakeBackend struct {
	users      map[string]*auth.User
	version    int64
	migrateErr error
	migrated   bool
	closed     bool
}

func newFakeBackend(users ...*auth.User) *fakeBackend {
	b := &fakeBackend{users: make(map[string]*auth.User), version: 3}
	for _, u := range users {
		b.users[u.Email] = u
	}
	return b
}

func (b *fakeBackend) Migrate(context.Context) (int64, error) {
	if b.migrateErr != nil {
		return 0, b.migrateErr
	}
	b.migrated = true
	return b.version, nil
}

func (b *fakeBackend) GetUserByEmail(_ context.Context, email string) (*auth.User, error) {
	u, ok := b.users[email]
	if !ok {
		return nil, fmt.Errorf("user by email: %w", storage.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (b *fakeBackend) UpdateRoles(_ context.Context, id string, roles []string) (*auth.User, error) {
	for _, u := range b.users {
		if u.ID == id {
			u.Roles = roles
			u.IsAdmin = auth.DeriveIsAdmin(roles)
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (b *fakeBackend) Close() error {
	b.closed = true
	return nil
}

func connectTo(b *fakeBackend) Connector {
	return func(context.Context) (Backend, error) { return b, nil }
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand(connectTo(newFakeBackend()), &bytes.Buffer{})

	assert.Equal(t, "tutorhub-admin", root.Name)
	assert.NotNil(t, root.Flags)
	assert.Len(t, root.Subcommands, 2)
	assert.Contains(t, root.Subcommands, "migrate")
	assert.Contains(t, root.Subcommands, "grant")
}

func TestCommandExecute_Usage(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{"no args", nil},
		{"lowercase -h", []string{"-h"}},
		{"uppercase --HELP", []string{"--HELP"}},
		{"help word", []string{"help"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			connect := func(context.Context) (Backend, error) {
				t.Fatal("usage must not connect")
				return nil, nil
			}
			root := NewRootCommand(connect, &out)

			require.NoError(t, root.ExecuteArgs(context.Background(), tc.args))
			assert.Contains(t, out.String(), "Usage: tutorhub-admin <command> [args]")
			assert.Contains(t, out.String(), "grant")
			assert.Contains(t, out.String(), "migrate")
		})
	}
}

func TestCommandExecute_UnknownCommand(t *testing.T) {
	root := NewRootCommand(connectTo(newFakeBackend()), &bytes.Buffer{})

	err := root.ExecuteArgs(context.Background(), []string{"nonexistent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: nonexistent")
}

func TestMigrate(t *testing.T) {
	backend := newFakeBackend()
	var out bytes.Buffer
	root := NewRootCommand(connectTo(backend), &out)

	require.NoError(t, root.ExecuteArgs(context.Background(), []string{"migrate"}))
	assert.True(t, backend.migrated)
	assert.True(t, backend.closed)
	assert.Contains(t, out.String(), "version 3")
}

func TestMigrate_Errors(t *testing.T) {
	backend := newFakeBackend()
	backend.migrateErr = errors.New("dirty database")
	root := NewRootCommand(connectTo(backend), &bytes.Buffer{})

	err := root.ExecuteArgs(context.Background(), []string{"migrate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dirty database")
	assert.True(t, backend.closed)

	failing := func(context.Context) (Backend, error) { return nil, errors.New("connection refused") }
	err = NewRootCommand(failing, &bytes.Buffer{}).ExecuteArgs(context.Background(), []string{"migrate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}

func TestGrant(t *testing.T) {
	anna := &auth.User{ID: "u1", Email: "anna@example.com", Roles: []string{"manager"}}

	testCases := []struct {
		name      string
		args      []string
		wantRoles []string
		wantErr   string
	}{
		{"replace", []string{"-email", " Anna@Example.com ", "-roles", "ceo, admin"}, []string{"ceo", "admin"}, ""},
		{"add", []string{"-email", "anna@example.com", "-roles", "admin", "-add"}, []string{"manager", "admin"}, ""},
		{"clear", []string{"-email", "anna@example.com", "-roles", ""}, []string{}, ""},
		{"missing email", []string{"-roles", "ceo"}, nil, "-email is required"},
		{"unknown role", []string{"-email", "anna@example.com", "-roles", "root"}, nil, `unknown role "root"`},
		{"unknown user", []string{"-email", "ghost@example.com", "-roles", "ceo"}, nil, "no user with email ghost@example.com"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			user := *anna
			user.Roles = append([]string(nil), anna.Roles...)
			backend := newFakeBackend(&user)
			var out bytes.Buffer
			root := NewRootCommand(connectTo(backend), &out)

			err := root.ExecuteArgs(context.Background(), append([]string{"grant"}, tc.args...))
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				assert.Equal(t, []string{"manager"}, backend.users["anna@example.com"].Roles)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.wantRoles, backend.users["anna@example.com"].Roles)
			assert.Contains(t, out.String(), "anna@example.com (u1)")
		})
	}
}
