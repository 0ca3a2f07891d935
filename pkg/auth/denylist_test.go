package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDenylist(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	d := NewRedisDenylist(client, "")
	ctx := context.Background()

	revoked, err := d.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, d.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)))
	assert.True(t, mr.Exists("denylist:jti-1"))

	revoked, err = d.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(2 * time.Hour)
	revoked, err = d.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	// Already expired tokens are not stored
	require.NoError(t, d.Revoke(ctx, "jti-2", time.Now().Add(-time.Minute)))
	assert.False(t, mr.Exists("denylist:jti-2"))
}

func TestRedisDenylist_PrefixSeparator(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	d := NewRedisDenylist(client, "tutorhub:revoked:")
	require.NoError(t, d.Revoke(context.Background(), "jti-9", time.Now().Add(time.Hour)))
	assert.True(t, mr.Exists("tutorhub:revoked:jti-9"))
	assert.False(t, mr.Exists("tutorhub:revoked::jti-9"))
}

func TestRedisDenylist_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err = NewRedisDenylist(client, "x").IsRevoked(context.Background(), "jti")
	assert.Error(t, err)
}

func TestMemoryDenylist(t *testing.T) {
	d := NewMemoryDenylist(2, time.Hour)
	ctx := context.Background()

	require.NoError(t, d.Revoke(ctx, "a", time.Now().Add(time.Minute)))
	revoked, err := d.IsRevoked(ctx, "a")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = d.IsRevoked(ctx, "b")
	require.NoError(t, err)
	assert.False(t, revoked)

	now := time.Now().Add(2 * time.Minute)
	d.now = func() time.Time { return now }
	revoked, err = d.IsRevoked(ctx, "a")
	require.NoError(t, err)
	assert.False(t, revoked)
}
