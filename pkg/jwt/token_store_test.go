package jwt

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenStore(t *testing.T) *TokenStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewTokenStore(rdb, 1)
}

func TestTokenStore_StoreAndValidate(t *testing.T) {
	ctx := context.Background()
	store := newTestTokenStore(t)

	require.NoError(t, store.StoreToken(ctx, "u1", 1, "tok-a"))

	valid, err := store.IsTokenValid(ctx, "u1", 1, "tok-a")
	require.NoError(t, err)
	assert.True(t, valid)

	// Unknown token reads as status 0
	status, err := store.ValidateTokenStatus(ctx, "u1", 1, "tok-unknown")
	require.NoError(t, err)
	assert.Equal(t, 0, status)
}

func TestTokenStore_Invalidate(t *testing.T) {
	ctx := context.Background()
	store := newTestTokenStore(t)

	require.NoError(t, store.StoreToken(ctx, "u1", 1, "tok-a"))
	require.NoError(t, store.InvalidateToken(ctx, "u1", 1, "tok-a"))

	status, err := store.ValidateTokenStatus(ctx, "u1", 1, "tok-a")
	require.NoError(t, err)
	assert.Equal(t, TokenStatusLogout, status)

	valid, err := store.IsTokenValid(ctx, "u1", 1, "tok-a")
	require.NoError(t, err)
	assert.False(t, valid)

	// Invalidating an unknown token is a no-op
	assert.NoError(t, store.InvalidateToken(ctx, "u1", 1, "tok-unknown"))
}

func TestTokenStore_KickOtherTokens(t *testing.T) {
	ctx := context.Background()
	store := newTestTokenStore(t)

	require.NoError(t, store.StoreToken(ctx, "u1", 1, "tok-old"))
	require.NoError(t, store.StoreToken(ctx, "u1", 1, "tok-new"))

	kicked, err := store.KickOtherTokens(ctx, "u1", 1, "tok-new")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-old"}, kicked)

	status, err := store.ValidateTokenStatus(ctx, "u1", 1, "tok-old")
	require.NoError(t, err)
	assert.Equal(t, TokenStatusKicked, status)

	valid, err := store.IsTokenValid(ctx, "u1", 1, "tok-new")
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestTokenStore_DeleteToken(t *testing.T) {
	ctx := context.Background()
	store := newTestTokenStore(t)

	require.NoError(t, store.StoreToken(ctx, "u1", 1, "tok-a"))
	require.NoError(t, store.DeleteToken(ctx, "u1", 1, "tok-a"))

	status, err := store.ValidateTokenStatus(ctx, "u1", 1, "tok-a")
	require.NoError(t, err)
	assert.Equal(t, 0, status)
}

func TestTokenStore_PlatformIsolation(t *testing.T) {
	ctx := context.Background()
	store := newTestTokenStore(t)

	require.NoError(t, store.StoreToken(ctx, "u1", 1, "tok-web"))
	require.NoError(t, store.StoreToken(ctx, "u1", 2, "tok-mobile"))

	kicked, err := store.KickOtherTokens(ctx, "u1", 1, "tok-web")
	require.NoError(t, err)
	assert.Empty(t, kicked)

	valid, err := store.IsTokenValid(ctx, "u1", 2, "tok-mobile")
	require.NoError(t, err)
	assert.True(t, valid, "tokens on other platforms are untouched")
}
