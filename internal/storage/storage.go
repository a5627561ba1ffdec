package storage

import (
	"context"
	"errors"
	"time"

	"bigapi/backend/internal/domain"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateSecretHash 密钥摘要冲突（唯一索引）
	ErrDuplicateSecretHash = errors.New("api key secret hash already exists")
	// ErrAccountExists 账户已存在
	ErrAccountExists = errors.New("account already exists")
)

// AccountRepository 定义账户数据存取操作。余额由计费系统维护，这里只读。
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *domain.Account) error
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
}

// APIKeyRepository 定义API Key数据存取操作。每个写操作只涉及单条记录。
type APIKeyRepository interface {
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKey(ctx context.Context, id string) (*domain.APIKey, error)
	GetAPIKeyBySecretHash(ctx context.Context, secretHash string) (*domain.APIKey, error)
	ListAPIKeysByAccount(ctx context.Context, accountID string) ([]*domain.APIKey, error) // 按创建时间倒序
	RevokeAPIKey(ctx context.Context, id string, at time.Time) error
	TouchAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error
}

// UsageRepository 定义只追加的用量日志操作。
type UsageRepository interface {
	// AppendUsageEvent 写入一条事件并分配 Sequence
	AppendUsageEvent(ctx context.Context, event *domain.UsageEvent) error
	// SumUsage 汇总窗口内的事件
	SumUsage(ctx context.Context, accountID string, window domain.Window) (domain.UsageTotals, error)
	// RecentUsage 返回窗口内最近 limit 条事件，按 (Timestamp, Sequence) 倒序
	RecentUsage(ctx context.Context, accountID string, window domain.Window, limit int) ([]*domain.UsageEvent, error)
}

// RateLimitRepository 定义固定窗口计数限流操作。
type RateLimitRepository interface {
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Store 定义完整的存储接口。
type Store interface {
	AccountRepository
	APIKeyRepository
	UsageRepository

	Close() error
	Health(ctx context.Context) error
}
