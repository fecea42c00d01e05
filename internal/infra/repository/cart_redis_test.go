package repository

import (
	"context"
	"testing"
	"time"

	repo "commerce/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T, ttl time.Duration) (*CartRedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCartRedisStore(client, "commerce:", ttl), mr
}

func TestCartRedisStore_SetGet(t *testing.T) {
	store, mr := setupRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "cart:s1", []byte(`{"session_id":"s1"}`)))

	got, err := store.Get(ctx, "cart:s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"session_id":"s1"}`, string(got))

	// プレフィックス付きで保存される
	raw, err := mr.Get("commerce:cart:s1")
	require.NoError(t, err)
	assert.Equal(t, `{"session_id":"s1"}`, raw)
	assert.Equal(t, time.Hour, mr.TTL("commerce:cart:s1"))
}

func TestCartRedisStore_Miss(t *testing.T) {
	store, _ := setupRedisStore(t, time.Hour)

	_, err := store.Get(context.Background(), "cart:none")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCartRedisStore_Expires(t *testing.T) {
	store, mr := setupRedisStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "cart:s1", []byte(`{}`)))
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "cart:s1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCartRedisStore_SetRefreshesTTL(t *testing.T) {
	store, mr := setupRedisStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "cart:s1", []byte(`{"v":1}`)))
	mr.FastForward(50 * time.Second)
	require.NoError(t, store.Set(ctx, "cart:s1", []byte(`{"v":2}`)))
	mr.FastForward(50 * time.Second)

	got, err := store.Get(ctx, "cart:s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))
}

func TestCartRedisStore_Delete(t *testing.T) {
	store, mr := setupRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "cart:s1", []byte(`{}`)))
	require.NoError(t, store.Delete(ctx, "cart:s1"))
	assert.False(t, mr.Exists("commerce:cart:s1"))

	// 無いキーの削除もエラーにしない
	require.NoError(t, store.Delete(ctx, "cart:s1"))
}

func TestCartRedisStore_ServerDown(t *testing.T) {
	store, mr := setupRedisStore(t, time.Hour)
	mr.Close()

	_, err := store.Get(context.Background(), "cart:s1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, repo.ErrNotFound)
	assert.Contains(t, err.Error(), "redis get failed")
}

func TestNewCartRedisStore_DefaultTTL(t *testing.T) {
	store := NewCartRedisStore(redis.NewClient(&redis.Options{}), "", 0)
	assert.Equal(t, DefaultCartTTL, store.ttl)
}
