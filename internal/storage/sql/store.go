package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bigapi/backend/internal/config"
	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/storage"
)

// Store 基于 database/sql 的存储实现（PostgreSQL via pgx 或 lib/pq、MySQL 5.7+、SQLite）
type Store struct {
	db      *sql.DB
	dialect *dialect
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建SQL数据库存储并执行建表
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	d, err := lookupDialect(cfg.Type)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if d.name == "sqlite" {
		// SQLite 只允许单写连接
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db, dialect: d}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate 执行建表语句，所有语句均可重复执行
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// ========== Account Repository ==========

// CreateAccount 创建账户
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	_, err := s.exec(ctx,
		`INSERT INTO accounts (id, email, credits, plan, created_at) VALUES (?, ?, ?, ?, ?)`,
		account.ID, account.Email, account.Credits, string(account.Plan), account.CreatedAt.UTC(),
	)
	if err != nil && s.dialect.isUnique(err) {
		return storage.ErrAccountExists
	}
	return err
}

// GetAccount 根据ID获取账户
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var (
		account domain.Account
		plan    string
	)
	err := s.queryRow(ctx,
		`SELECT id, email, credits, plan, created_at FROM accounts WHERE id = ?`, id,
	).Scan(&account.ID, &account.Email, &account.Credits, &plan, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	account.Plan = domain.Plan(plan)
	account.CreatedAt = account.CreatedAt.UTC()
	return &account, nil
}

// ========== API Key Repository ==========

const apiKeyColumns = `id, account_id, name, secret_hash, preview, is_active, created_at, last_used_at, revoked_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*domain.APIKey, error) {
	var (
		key       domain.APIKey
		lastUsed  sql.NullTime
		revokedAt sql.NullTime
	)
	err := row.Scan(&key.ID, &key.AccountID, &key.Name, &key.SecretHash, &key.Preview,
		&key.IsActive, &key.CreatedAt, &lastUsed, &revokedAt)
	if err != nil {
		return nil, err
	}
	key.CreatedAt = key.CreatedAt.UTC()
	if lastUsed.Valid {
		t := lastUsed.Time.UTC()
		key.LastUsedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time.UTC()
		key.RevokedAt = &t
	}
	return &key, nil
}

// CreateAPIKey 保存API Key
func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	_, err := s.exec(ctx,
		`INSERT INTO api_keys (`+apiKeyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.AccountID, key.Name, key.SecretHash, key.Preview, key.IsActive,
		key.CreatedAt.UTC(), nullTime(key.LastUsedAt), nullTime(key.RevokedAt),
	)
	if err != nil && s.dialect.isUnique(err) {
		return storage.ErrDuplicateSecretHash
	}
	return err
}

// GetAPIKey 根据ID获取API Key
func (s *Store) GetAPIKey(ctx context.Context, id string) (*domain.APIKey, error) {
	return s.getAPIKey(ctx, "id", id)
}

// GetAPIKeyBySecretHash 根据摘要获取API Key
func (s *Store) GetAPIKeyBySecretHash(ctx context.Context, secretHash string) (*domain.APIKey, error) {
	return s.getAPIKey(ctx, "secret_hash", secretHash)
}

func (s *Store) getAPIKey(ctx context.Context, column, value string) (*domain.APIKey, error) {
	key, err := scanAPIKey(s.queryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE `+column+` = ?`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return key, nil
}

// ListAPIKeysByAccount 列出账户的所有API Key
func (s *Store) ListAPIKeysByAccount(ctx context.Context, accountID string) ([]*domain.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE account_id = ? ORDER BY created_at DESC, id DESC`),
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*domain.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// RevokeAPIKey 吊销API Key，保留首次吊销时间
func (s *Store) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	result, err := s.exec(ctx,
		`UPDATE api_keys SET is_active = ?, revoked_at = COALESCE(revoked_at, ?) WHERE id = ?`,
		false, at.UTC(), id,
	)
	if err != nil {
		return err
	}
	return s.checkAffected(ctx, result, id)
}

// TouchAPIKeyLastUsed 更新最后使用时间，只前进不后退
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error {
	result, err := s.exec(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ? AND (last_used_at IS NULL OR last_used_at < ?)`,
		at.UTC(), id, at.UTC(),
	)
	if err != nil {
		return err
	}
	return s.checkAffected(ctx, result, id)
}

// checkAffected 在未更新任何行时确认记录是否存在
func (s *Store) checkAffected(ctx context.Context, result sql.Result, id string) error {
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	var count int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM api_keys WHERE id = ?`, id).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ========== Usage Repository ==========

// AppendUsageEvent 追加用量事件并回填序号
func (s *Store) AppendUsageEvent(ctx context.Context, event *domain.UsageEvent) error {
	providers := event.ProvidersUsed
	if providers == nil {
		providers = []string{}
	}
	encoded, err := json.Marshal(providers)
	if err != nil {
		return err
	}

	query := `INSERT INTO usage_events (id, account_id, api_key_id, occurred_at, credits_used, providers_used, success_count, requested_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	args := []any{event.ID, event.AccountID, event.APIKeyID, event.Timestamp.UTC(), event.CreditsUsed,
		string(encoded), event.SuccessCount, event.RequestedCount}

	if s.dialect.returning {
		return s.queryRow(ctx, query+` RETURNING seq`, args...).Scan(&event.Sequence)
	}

	result, err := s.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	event.Sequence, err = result.LastInsertId()
	return err
}

// usageFilter 构造账户与时间窗口条件
func usageFilter(accountID string, window domain.Window) (string, []any) {
	clauses := []string{"account_id = ?"}
	args := []any{accountID}
	if !window.Since.IsZero() {
		clauses = append(clauses, "occurred_at >= ?")
		args = append(args, window.Since.UTC())
	}
	if !window.Until.IsZero() {
		clauses = append(clauses, "occurred_at < ?")
		args = append(args, window.Until.UTC())
	}
	return strings.Join(clauses, " AND "), args
}

// SumUsage 在数据库内完成窗口汇总
func (s *Store) SumUsage(ctx context.Context, accountID string, window domain.Window) (domain.UsageTotals, error) {
	where, args := usageFilter(accountID, window)

	var totals domain.UsageTotals
	err := s.queryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success_count), 0), COALESCE(SUM(requested_count), 0), COALESCE(SUM(credits_used), 0)
		FROM usage_events WHERE `+where, args...,
	).Scan(&totals.Calls, &totals.SuccessCount, &totals.RequestedCount, &totals.CreditsUsed)
	return totals, err
}

// RecentUsage 返回窗口内最近的事件
func (s *Store) RecentUsage(ctx context.Context, accountID string, window domain.Window, limit int) ([]*domain.UsageEvent, error) {
	where, args := usageFilter(accountID, window)
	query := `SELECT seq, id, account_id, api_key_id, occurred_at, credits_used, providers_used, success_count, requested_count
		FROM usage_events WHERE ` + where + ` ORDER BY occurred_at DESC, seq DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*domain.UsageEvent, 0)
	for rows.Next() {
		var (
			event     domain.UsageEvent
			providers string
		)
		if err := rows.Scan(&event.Sequence, &event.ID, &event.AccountID, &event.APIKeyID, &event.Timestamp,
			&event.CreditsUsed, &providers, &event.SuccessCount, &event.RequestedCount); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(providers), &event.ProvidersUsed); err != nil {
			return nil, fmt.Errorf("decode providers_used for event %s: %w", event.ID, err)
		}
		if event.ProvidersUsed == nil {
			event.ProvidersUsed = []string{}
		}
		event.Timestamp = event.Timestamp.UTC()
		events = append(events, &event)
	}
	return events, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
