package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/storage"
)

const (
	apiKeyPrefix    = "api_key:"         // api_key:<secretHash> -> APIKey JSON
	tombstonePrefix = "api_key:revoked:" // api_key:revoked:<secretHash> -> 1
	rateLimitPrefix = "ratelimit:"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// invalidateAttempts 写入吊销墓碑的最大尝试次数
const invalidateAttempts = 3

// fillScript 墓碑不存在时才写入缓存，墓碑存在时丢弃本次回填
var fillScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// Cache API Key 查找缓存与限流计数。
//
// 吊销时写入墓碑，墓碑寿命为缓存寿命的两倍。回填只在墓碑不存在时生效，
// 所以任何仍可读到的缓存条目都早于墓碑写入，而那次写入已将其删除。
type Cache struct {
	rdb *goredis.Client
	ttl time.Duration
}

var _ storage.RateLimitRepository = (*Cache)(nil)

// NewCache 创建 Redis 缓存实例
func NewCache(client *Client, ttl time.Duration) *Cache {
	return newCache(client.rdb, ttl)
}

func newCache(rdb *goredis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// GetAPIKey 根据摘要读取缓存的API Key，未命中或已吊销返回 ErrCacheMiss
func (c *Cache) GetAPIKey(ctx context.Context, secretHash string) (*domain.APIKey, error) {
	values, err := c.rdb.MGet(ctx, apiKeyPrefix+secretHash, tombstonePrefix+secretHash).Result()
	if err != nil {
		return nil, err
	}
	if values[1] != nil || values[0] == nil {
		return nil, ErrCacheMiss
	}

	data, ok := values[0].(string)
	if !ok {
		return nil, ErrCacheMiss
	}
	var key domain.APIKey
	if err := json.Unmarshal([]byte(data), &key); err != nil {
		return nil, err
	}
	// SecretHash 不参与 JSON 序列化
	key.SecretHash = secretHash
	return &key, nil
}

// SetAPIKey 缓存API Key，已有吊销墓碑或记录已停用时不写入
//
// 返回值:
//   - bool: 是否写入缓存
//   - error: Redis 错误
func (c *Cache) SetAPIKey(ctx context.Context, key *domain.APIKey) (bool, error) {
	if !key.IsActive {
		return false, nil
	}
	data, err := json.Marshal(key)
	if err != nil {
		return false, err
	}
	stored, err := fillScript.Run(ctx, c.rdb,
		[]string{apiKeyPrefix + key.SecretHash, tombstonePrefix + key.SecretHash},
		string(data), c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

// InvalidateAPIKey 写入吊销墓碑并删除缓存
//
// 事务失败时按退避重试；全部失败后仍尝试单独删除缓存条目，并返回最后一次错误。
func (c *Cache) InvalidateAPIKey(ctx context.Context, secretHash string) error {
	var lastErr error
	for attempt := 1; attempt <= invalidateAttempts; attempt++ {
		_, lastErr = c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, tombstonePrefix+secretHash, 1, c.tombstoneTTL())
			pipe.Del(ctx, apiKeyPrefix+secretHash)
			return nil
		})
		if lastErr == nil {
			return nil
		}
		if attempt == invalidateAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}

	if err := c.rdb.Del(ctx, apiKeyPrefix+secretHash).Err(); err != nil {
		return errors.Join(lastErr, err)
	}
	return lastErr
}

func (c *Cache) tombstoneTTL() time.Duration {
	return 2 * c.ttl
}

// IncrementRateLimit 固定窗口计数，窗口内首次计数时设置过期时间
func (c *Cache) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	var incr *goredis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, rateLimitPrefix+key)
		pipe.ExpireNX(ctx, rateLimitPrefix+key, window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Ping 测试 Redis 连接
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
