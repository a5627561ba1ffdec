package sql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect 描述一种数据库方言的驱动、占位符与建表语句
type dialect struct {
	name      string
	driver    string
	numbered  bool // 使用 $1 形式的占位符
	returning bool // 支持 INSERT ... RETURNING 获取自增序号
	schema    []string
	isUnique  func(error) bool
}

const postgresUniqueViolation = "23505"

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id VARCHAR(64) PRIMARY KEY,
		email VARCHAR(255) NOT NULL DEFAULT '',
		credits BIGINT NOT NULL DEFAULT 0,
		plan VARCHAR(20) NOT NULL DEFAULT 'free',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id VARCHAR(36) PRIMARY KEY,
		account_id VARCHAR(64) NOT NULL,
		name VARCHAR(100) NOT NULL,
		secret_hash VARCHAR(64) NOT NULL UNIQUE,
		preview VARCHAR(32) NOT NULL,
		is_active BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		last_used_at TIMESTAMPTZ NULL,
		revoked_at TIMESTAMPTZ NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_account ON api_keys (account_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS usage_events (
		seq BIGSERIAL PRIMARY KEY,
		id VARCHAR(36) NOT NULL UNIQUE,
		account_id VARCHAR(64) NOT NULL,
		api_key_id VARCHAR(36) NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL,
		credits_used BIGINT NOT NULL DEFAULT 0,
		providers_used TEXT NOT NULL,
		success_count INTEGER NOT NULL DEFAULT 0,
		requested_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_account_time ON usage_events (account_id, occurred_at)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id VARCHAR(64) PRIMARY KEY,
		email VARCHAR(255) NOT NULL DEFAULT '',
		credits BIGINT NOT NULL DEFAULT 0,
		plan VARCHAR(20) NOT NULL DEFAULT 'free',
		created_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id VARCHAR(36) PRIMARY KEY,
		account_id VARCHAR(64) NOT NULL,
		name VARCHAR(100) NOT NULL,
		secret_hash VARCHAR(64) NOT NULL,
		preview VARCHAR(32) NOT NULL,
		is_active BOOLEAN NOT NULL,
		created_at DATETIME(6) NOT NULL,
		last_used_at DATETIME(6) NULL,
		revoked_at DATETIME(6) NULL,
		UNIQUE KEY uk_api_keys_secret_hash (secret_hash),
		KEY idx_api_keys_account (account_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS usage_events (
		seq BIGINT AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(36) NOT NULL,
		account_id VARCHAR(64) NOT NULL,
		api_key_id VARCHAR(36) NOT NULL DEFAULT '',
		occurred_at DATETIME(6) NOT NULL,
		credits_used BIGINT NOT NULL DEFAULT 0,
		providers_used TEXT NOT NULL,
		success_count INT NOT NULL DEFAULT 0,
		requested_count INT NOT NULL DEFAULT 0,
		UNIQUE KEY uk_usage_events_id (id),
		KEY idx_usage_account_time (account_id, occurred_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		credits INTEGER NOT NULL DEFAULT 0,
		plan TEXT NOT NULL DEFAULT 'free',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		name TEXT NOT NULL,
		secret_hash TEXT NOT NULL UNIQUE,
		preview TEXT NOT NULL,
		is_active BOOLEAN NOT NULL,
		created_at DATETIME NOT NULL,
		last_used_at DATETIME NULL,
		revoked_at DATETIME NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_account ON api_keys (account_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS usage_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		api_key_id TEXT NOT NULL DEFAULT '',
		occurred_at DATETIME NOT NULL,
		credits_used INTEGER NOT NULL DEFAULT 0,
		providers_used TEXT NOT NULL,
		success_count INTEGER NOT NULL DEFAULT 0,
		requested_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_account_time ON usage_events (account_id, occurred_at)`,
}

func isPgxUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == postgresUniqueViolation
}

func isPqUnique(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == postgresUniqueViolation
}

func isMySQLUnique(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}

func isSQLiteUnique(err error) bool {
	var liteErr *sqlite.Error
	if !errors.As(err, &liteErr) {
		return false
	}
	code := liteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// lookupDialect 根据配置中的数据库类型返回方言
func lookupDialect(dbType string) (*dialect, error) {
	switch strings.ToLower(dbType) {
	case "pgx":
		return &dialect{name: "pgx", driver: "pgx", numbered: true, returning: true, schema: postgresSchema, isUnique: isPgxUnique}, nil
	case "lib-pq":
		return &dialect{name: "lib-pq", driver: "postgres", numbered: true, returning: true, schema: postgresSchema, isUnique: isPqUnique}, nil
	case "mysql":
		return &dialect{name: "mysql", driver: "mysql", schema: mysqlSchema, isUnique: isMySQLUnique}, nil
	case "sqlite":
		return &dialect{name: "sqlite", driver: "sqlite", schema: sqliteSchema, isUnique: isSQLiteUnique}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: pgx, lib-pq, mysql, sqlite)", dbType)
	}
}

// placeholder 根据数据库类型返回第 n 个占位符
func (d *dialect) placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// rebind 将查询中的 ? 替换为方言对应的占位符
func (d *dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
