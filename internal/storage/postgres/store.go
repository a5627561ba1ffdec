package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bigapi/backend/internal/config"
	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/storage"
)

// Store 基于 GORM 的存储实现，支持 PostgreSQL 与 MySQL
type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

// usageEventRow 用量事件表结构，Sequence 由数据库自增分配
type usageEventRow struct {
	Sequence       int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	ID             string    `gorm:"type:varchar(36);uniqueIndex;not null"`
	AccountID      string    `gorm:"type:varchar(64);index:idx_usage_account_time,priority:1;not null"`
	APIKeyID       string    `gorm:"type:varchar(36)"`
	Timestamp      time.Time `gorm:"column:occurred_at;index:idx_usage_account_time,priority:2;not null"`
	CreditsUsed    int64     `gorm:"not null;default:0"`
	ProvidersUsed  []string  `gorm:"serializer:json;type:text"`
	SuccessCount   int       `gorm:"not null;default:0"`
	RequestedCount int       `gorm:"not null;default:0"`
}

func (usageEventRow) TableName() string { return "usage_events" }

func (r *usageEventRow) toDomain() *domain.UsageEvent {
	providers := r.ProvidersUsed
	if providers == nil {
		providers = []string{}
	}
	return &domain.UsageEvent{
		ID:             r.ID,
		Sequence:       r.Sequence,
		AccountID:      r.AccountID,
		APIKeyID:       r.APIKeyID,
		Timestamp:      r.Timestamp.UTC(),
		CreditsUsed:    r.CreditsUsed,
		ProvidersUsed:  providers,
		SuccessCount:   r.SuccessCount,
		RequestedCount: r.RequestedCount,
	}
}

// Open 根据数据库配置选择方言并创建存储实例
func Open(cfg config.DatabaseConfig) (*Store, error) {
	var (
		store *Store
		err   error
	)
	switch strings.ToLower(cfg.Type) {
	case "postgres", "postgresql":
		store, err = NewStore(cfg.DSN)
	case "mysql":
		store, err = NewMySQLStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported gorm database type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	sqlDB, err := store.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return store, nil
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn))
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn))
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector) (*Store, error) {
	cfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true, // 唯一约束冲突转换为 gorm.ErrDuplicatedKey
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Account{},
		&domain.APIKey{},
		&usageEventRow{},
	)
}

// ========== Account Repository ==========

// CreateAccount 创建账户
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	err := s.db.WithContext(ctx).Create(account).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrAccountExists
	}
	return err
}

// GetAccount 根据 ID 获取账户
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var account domain.Account
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

// ========== API Key Repository ==========

// CreateAPIKey 保存API Key
func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	err := s.db.WithContext(ctx).Create(key).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrDuplicateSecretHash
	}
	return err
}

// GetAPIKey 根据ID获取API Key
func (s *Store) GetAPIKey(ctx context.Context, id string) (*domain.APIKey, error) {
	return s.findKey(ctx, "id = ?", id)
}

// GetAPIKeyBySecretHash 根据摘要获取API Key
func (s *Store) GetAPIKeyBySecretHash(ctx context.Context, secretHash string) (*domain.APIKey, error) {
	return s.findKey(ctx, "secret_hash = ?", secretHash)
}

func (s *Store) findKey(ctx context.Context, query string, arg string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := s.db.WithContext(ctx).Where(query, arg).First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &key, nil
}

// ListAPIKeysByAccount 列出账户的所有API Key
func (s *Store) ListAPIKeysByAccount(ctx context.Context, accountID string) ([]*domain.APIKey, error) {
	var keys []*domain.APIKey
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Find(&keys).Error
	return keys, err
}

// RevokeAPIKey 吊销API Key，保留首次吊销时间
func (s *Store) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&domain.APIKey{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_active":  false,
			"revoked_at": gorm.Expr("COALESCE(revoked_at, ?)", at.UTC()),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.requireKey(ctx, id)
	}
	return nil
}

// TouchAPIKeyLastUsed 更新最后使用时间，只前进不后退
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&domain.APIKey{}).
		Where("id = ? AND (last_used_at IS NULL OR last_used_at < ?)", id, at.UTC()).
		Update("last_used_at", at.UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.requireKey(ctx, id)
	}
	return nil
}

// requireKey 区分"记录不存在"与"无需更新"（MySQL 对未变化的行返回 0）
func (s *Store) requireKey(ctx context.Context, id string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&domain.APIKey{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ========== Usage Repository ==========

// AppendUsageEvent 追加用量事件
func (s *Store) AppendUsageEvent(ctx context.Context, event *domain.UsageEvent) error {
	row := &usageEventRow{
		ID:             event.ID,
		AccountID:      event.AccountID,
		APIKeyID:       event.APIKeyID,
		Timestamp:      event.Timestamp.UTC(),
		CreditsUsed:    event.CreditsUsed,
		ProvidersUsed:  event.ProvidersUsed,
		SuccessCount:   event.SuccessCount,
		RequestedCount: event.RequestedCount,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	event.Sequence = row.Sequence
	return nil
}

// SumUsage 在数据库内完成窗口汇总
func (s *Store) SumUsage(ctx context.Context, accountID string, window domain.Window) (domain.UsageTotals, error) {
	var totals domain.UsageTotals
	err := s.usageQuery(ctx, accountID, window).
		Select("COUNT(*) AS calls, " +
			"COALESCE(SUM(success_count), 0) AS success_count, " +
			"COALESCE(SUM(requested_count), 0) AS requested_count, " +
			"COALESCE(SUM(credits_used), 0) AS credits_used").
		Scan(&totals).Error
	return totals, err
}

// RecentUsage 返回窗口内最近的事件
func (s *Store) RecentUsage(ctx context.Context, accountID string, window domain.Window, limit int) ([]*domain.UsageEvent, error) {
	query := s.usageQuery(ctx, accountID, window).Order("occurred_at DESC, seq DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []usageEventRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	events := make([]*domain.UsageEvent, 0, len(rows))
	for i := range rows {
		events = append(events, rows[i].toDomain())
	}
	return events, nil
}

func (s *Store) usageQuery(ctx context.Context, accountID string, window domain.Window) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&usageEventRow{}).Where("account_id = ?", accountID)
	if !window.Since.IsZero() {
		query = query.Where("occurred_at >= ?", window.Since.UTC())
	}
	if !window.Until.IsZero() {
		query = query.Where("occurred_at < ?", window.Until.UTC())
	}
	return query
}

// Health 检查数据库连接
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
