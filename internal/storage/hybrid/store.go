package hybrid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/storage"
	"bigapi/backend/internal/storage/redis"
)

// Store 混合存储实现，数据库为准，Redis 缓存密钥查找并承载限流计数
type Store struct {
	storage.Store
	cache *redis.Cache
	log   *zap.Logger
}

var _ storage.Store = (*Store)(nil)
var _ storage.RateLimitRepository = (*Store)(nil)

// NewStore 创建混合存储实例
func NewStore(db storage.Store, cache *redis.Cache, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{Store: db, cache: cache, log: log}
}

// GetAPIKeyBySecretHash 先查缓存，未命中时回源数据库并回填
func (s *Store) GetAPIKeyBySecretHash(ctx context.Context, secretHash string) (*domain.APIKey, error) {
	key, err := s.cache.GetAPIKey(ctx, secretHash)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, redis.ErrCacheMiss) {
		s.log.Warn("api key cache read failed, falling back to database", zap.Error(err))
	}

	key, err = s.Store.GetAPIKeyBySecretHash(ctx, secretHash)
	if err != nil {
		return nil, err
	}

	if _, err := s.cache.SetAPIKey(ctx, key); err != nil {
		s.log.Warn("failed to cache api key", zap.String("key_id", key.ID), zap.Error(err))
	}
	return key, nil
}

// RevokeAPIKey 数据库吊销成功后写入墓碑并删除缓存
//
// 缓存失效在重试后仍失败时返回错误，数据库中的吊销已生效，调用方可重复吊销以重新写入墓碑。
func (s *Store) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	if err := s.Store.RevokeAPIKey(ctx, id, at); err != nil {
		return err
	}

	key, err := s.Store.GetAPIKey(ctx, id)
	if err != nil {
		return err
	}
	if err := s.cache.InvalidateAPIKey(ctx, key.SecretHash); err != nil {
		s.log.Error("failed to invalidate revoked api key in cache",
			zap.String("key_id", key.ID),
			zap.Error(err),
		)
		return fmt.Errorf("invalidate api key cache: %w", err)
	}
	return nil
}

// IncrementRateLimit 使用 Redis 计数，多实例共享窗口
func (s *Store) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	return s.cache.IncrementRateLimit(ctx, key, window)
}

// Health 同时检查数据库与 Redis
func (s *Store) Health(ctx context.Context) error {
	if err := s.Store.Health(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := s.cache.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}
