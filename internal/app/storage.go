package app

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"bigapi/backend/internal/config"
	"bigapi/backend/internal/ratelimit"
	"bigapi/backend/internal/storage"
	"bigapi/backend/internal/storage/hybrid"
	"bigapi/backend/internal/storage/memory"
	"bigapi/backend/internal/storage/postgres"
	"bigapi/backend/internal/storage/redis"
	sqlstore "bigapi/backend/internal/storage/sql"
)

// Storage 按配置组装的存储层
type Storage struct {
	Store storage.Store
	// RateLimits 共享限流计数，未启用 Redis 时为空
	RateLimits storage.RateLimitRepository
	// Redis 未启用时为空
	Redis *redis.Client
}

// OpenStorage 根据配置初始化存储
//
// 数据库类型：
//   - 空或 memory：内存存储（开发环境）
//   - postgres/postgresql/mysql：GORM 存储
//   - pgx/lib-pq/sqlite：database/sql 存储
//
// 启用 Redis 时在数据库外层包装混合存储。
func OpenStorage(cfg *config.Config, log *zap.Logger) (*Storage, error) {
	if log == nil {
		log = zap.NewNop()
	}

	store, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	log.Info("storage initialized", zap.String("type", storeType(cfg.Database.Type)))

	if !cfg.Redis.Enabled {
		return &Storage{Store: store}, nil
	}

	client, err := redis.New(cfg.Redis, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	hs := hybrid.NewStore(store, redis.NewCache(client, cfg.Redis.KeyCacheTTL), log)
	log.Info("redis key cache enabled", zap.Duration("ttl", cfg.Redis.KeyCacheTTL))

	return &Storage{Store: hs, RateLimits: hs, Redis: client}, nil
}

func openDatabase(cfg config.DatabaseConfig) (storage.Store, error) {
	switch storeType(cfg.Type) {
	case "memory":
		return memory.NewStore(), nil
	case "postgres", "postgresql", "mysql":
		store, err := postgres.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open gorm store: %w", err)
		}
		return store, nil
	case "pgx", "lib-pq", "sqlite":
		store, err := sqlstore.NewStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sql store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

func storeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "memory"
	}
	return t
}

// Close 依次关闭数据库与 Redis 连接
func (s *Storage) Close() error {
	var errs []error
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	return errors.Join(errs...)
}

// NewLimiter 根据配置创建限流器，未启用时返回 nil
//
// 有共享计数存储时使用固定窗口计数，多实例共享额度；否则使用进程内令牌桶。
func NewLimiter(cfg config.RateLimitConfig, st *Storage) ratelimit.Limiter {
	if !cfg.Enabled {
		return nil
	}
	if st != nil && st.RateLimits != nil {
		return ratelimit.NewCounterLimiter(st.RateLimits, cfg.Requests, cfg.Window)
	}
	return ratelimit.NewTokenBucketLimiter(cfg.Requests, cfg.Window)
}
