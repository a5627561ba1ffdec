package hybrid

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bigapi/backend/internal/config"
	"bigapi/backend/internal/storage"
	"bigapi/backend/internal/storage/memory"
	"bigapi/backend/internal/storage/redis"
	"bigapi/backend/internal/storage/storagetest"
)

func setup(t *testing.T) (*miniredis.Miniredis, *memory.Store, *Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := redis.New(config.RedisConfig{Address: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	db := memory.NewStore()
	return mr, db, NewStore(db, redis.NewCache(client, time.Minute), zap.NewNop())
}

func TestHybridStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		_, _, store := setup(t)
		return store
	})
}

func TestHybridStore_RevokeInvalidatesCachedKey(t *testing.T) {
	ctx := context.Background()
	mr, _, store := setup(t)

	key := storagetest.NewKey("acct-1", "cached", time.Now())
	require.NoError(t, store.CreateAPIKey(ctx, key))

	got, err := store.GetAPIKeyBySecretHash(ctx, key.SecretHash)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.True(t, mr.Exists("api_key:"+key.SecretHash))

	require.NoError(t, store.RevokeAPIKey(ctx, key.ID, time.Now()))

	got, err = store.GetAPIKeyBySecretHash(ctx, key.SecretHash)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestHybridStore_RevokedKeyStaysRevokedAfterLateFill(t *testing.T) {
	ctx := context.Background()
	mr, db, store := setup(t)
	cache := store.cache

	key := storagetest.NewKey("acct-1", "racing", time.Now())
	require.NoError(t, store.CreateAPIKey(ctx, key))

	// 回源读取发生在吊销之前，写入发生在吊销之后
	snapshot, err := db.GetAPIKeyBySecretHash(ctx, key.SecretHash)
	require.NoError(t, err)
	require.True(t, snapshot.IsActive)

	require.NoError(t, store.RevokeAPIKey(ctx, key.ID, time.Now()))
	mr.FastForward(500 * time.Millisecond)

	stored, err := cache.SetAPIKey(ctx, snapshot)
	require.NoError(t, err)
	assert.False(t, stored)

	// 超过缓存寿命后仍读不到旧记录
	mr.FastForward(59800 * time.Millisecond)
	got, err := store.GetAPIKeyBySecretHash(ctx, key.SecretHash)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	mr.FastForward(5 * time.Minute)
	got, err = store.GetAPIKeyBySecretHash(ctx, key.SecretHash)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.False(t, mr.Exists("api_key:"+key.SecretHash))
}

func TestHybridStore_FallsBackWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	mr, _, store := setup(t)

	key := storagetest.NewKey("acct-1", "fallback", time.Now())
	require.NoError(t, store.CreateAPIKey(ctx, key))
	mr.Close()

	got, err := store.GetAPIKeyBySecretHash(ctx, key.SecretHash)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)

	// 无法写入墓碑时吊销报错，数据库已更新
	assert.Error(t, store.RevokeAPIKey(ctx, key.ID, time.Now()))
	assert.Error(t, store.Health(ctx))
}

func TestHybridStore_RateLimitUsesRedis(t *testing.T) {
	ctx := context.Background()
	mr, _, store := setup(t)

	count, err := store.IncrementRateLimit(ctx, "account:acct-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.True(t, mr.Exists("ratelimit:account:acct-1"))
}
