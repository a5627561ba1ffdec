package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	insecureJWTSecret    = "change-me-in-production"
	insecureAPIKeyPepper = "change-me-in-production-pepper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到控制台
}

// DatabaseConfig 定义数据库连接配置
type DatabaseConfig struct {
	// 数据库类型:
	//   ""                 内存存储（开发环境）
	//   "postgres"/"mysql" GORM 存储
	//   "pgx"/"lib-pq"/"sqlite" database/sql 原生 SQL 存储
	Type            string
	DSN             string
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Enabled     bool
	Address     string        // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password    string        // Redis 认证密码，留空表示无密码
	DB          int           // Redis 数据库编号，默认 0
	KeyCacheTTL time.Duration // API Key 查找缓存有效期，默认 5 分钟
}

// JWTConfig 定义身份服务会话令牌的校验配置
type JWTConfig struct {
	Secret   string        // 身份服务签名密钥（HS256），必须至少 32 字符
	Issuer   string        // 期望的签发者，留空不校验
	Audience string        // 期望的受众，默认 "authenticated"
	Expiry   time.Duration // 本地签发开发令牌时的有效期，默认 1 小时
}

// APIKeyConfig 定义 API Key 生成与摘要配置
//
// 注意：Pepper 参与所有密钥摘要的计算，修改后所有已签发的密钥都会失效。
type APIKeyConfig struct {
	Prefix string // 密钥前缀，默认 "big_live_"
	Pepper string // 服务端密钥材料，必须至少 32 字符
}

// AccountConfig 定义账户的默认值
type AccountConfig struct {
	InitialCredits int64 // 首次登录自动创建账户时的初始积分
}

// UsageConfig 定义用量聚合配置
type UsageConfig struct {
	RecentLimit     int           // 最近活动条数，默认 10
	DashboardWindow time.Duration // 仪表盘统计窗口，0 表示全部历史
}

// TouchConfig 定义最后使用时间异步更新的协程池配置
type TouchConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// RateLimitConfig 定义按调用主体的限流配置
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	APIKey    APIKeyConfig
	Account   AccountConfig
	Usage     UsageConfig
	Touch     TouchConfig
	RateLimit RateLimitConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: BIGAPI_，例如 BIGAPI_SERVER_PORT, BIGAPI_JWT_SECRET
//
// 返回值:
//   - *Config: 加载成功的配置对象
//   - error: 配置验证失败时返回错误
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("bigapi")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	connMaxLifetime, err := time.ParseDuration(v.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	keyCacheTTL, err := time.ParseDuration(v.GetString("redis.key_cache_ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid redis.key_cache_ttl: %w", err)
	}

	jwtExpiry, err := time.ParseDuration(v.GetString("jwt.expiry"))
	if err != nil {
		jwtExpiry = time.Hour
	}

	dashboardWindow, err := time.ParseDuration(v.GetString("usage.dashboard_window"))
	if err != nil {
		return nil, fmt.Errorf("invalid usage.dashboard_window: %w", err)
	}

	touchTimeout, err := time.ParseDuration(v.GetString("touch.timeout"))
	if err != nil {
		touchTimeout = 2 * time.Second
	}

	rateWindow, err := time.ParseDuration(v.GetString("rate_limit.window"))
	if err != nil {
		return nil, fmt.Errorf("invalid rate_limit.window: %w", err)
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Type:            strings.ToLower(v.GetString("database.type")),
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Enabled:     v.GetBool("redis.enabled"),
			Address:     v.GetString("redis.address"),
			Password:    v.GetString("redis.password"),
			DB:          v.GetInt("redis.db"),
			KeyCacheTTL: keyCacheTTL,
		},
		JWT: JWTConfig{
			Secret:   v.GetString("jwt.secret"),
			Issuer:   v.GetString("jwt.issuer"),
			Audience: v.GetString("jwt.audience"),
			Expiry:   jwtExpiry,
		},
		APIKey: APIKeyConfig{
			Prefix: v.GetString("apikey.prefix"),
			Pepper: v.GetString("apikey.pepper"),
		},
		Account: AccountConfig{
			InitialCredits: v.GetInt64("account.initial_credits"),
		},
		Usage: UsageConfig{
			RecentLimit:     v.GetInt("usage.recent_limit"),
			DashboardWindow: dashboardWindow,
		},
		Touch: TouchConfig{
			Workers:   v.GetInt("touch.workers"),
			QueueSize: v.GetInt("touch.queue_size"),
			Timeout:   touchTimeout,
		},
		RateLimit: RateLimitConfig{
			Enabled:  v.GetBool("rate_limit.enabled"),
			Requests: v.GetInt("rate_limit.requests"),
			Window:   rateWindow,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 校验配置的安全性与取值范围
func (c *Config) Validate() error {
	// 安全检查：禁止使用默认密钥
	if c.JWT.Secret == insecureJWTSecret {
		return fmt.Errorf("SECURITY ERROR: JWT secret cannot be the default value. Please set BIGAPI_JWT_SECRET environment variable")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}
	if c.APIKey.Pepper == insecureAPIKeyPepper {
		return fmt.Errorf("SECURITY ERROR: API key pepper cannot be the default value. Please set BIGAPI_APIKEY_PEPPER environment variable")
	}
	if len(c.APIKey.Pepper) < 32 {
		return fmt.Errorf("SECURITY ERROR: API key pepper must be at least 32 characters long")
	}

	switch c.Database.Type {
	case "", "memory", "postgres", "postgresql", "mysql", "pgx", "lib-pq", "sqlite":
	default:
		return fmt.Errorf("unsupported database.type: %s", c.Database.Type)
	}
	if c.Database.Type != "" && c.Database.Type != "memory" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for database.type %s", c.Database.Type)
	}

	if c.Account.InitialCredits < 0 {
		return fmt.Errorf("account.initial_credits must be non-negative")
	}
	if c.Usage.RecentLimit <= 0 {
		c.Usage.RecentLimit = 10
	}
	if c.Touch.Workers <= 0 {
		c.Touch.Workers = 2
	}
	if c.Touch.QueueSize <= 0 {
		c.Touch.QueueSize = 1024
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate_limit.requests and rate_limit.window must be positive when rate limiting is enabled")
	}
	return nil
}

// Addr 返回 HTTP 监听地址
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("database.type", "") // 默认为空，使用内存存储
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_cache_ttl", "5m")
	v.SetDefault("jwt.secret", insecureJWTSecret)
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.audience", "authenticated")
	v.SetDefault("jwt.expiry", "1h")
	v.SetDefault("apikey.prefix", "big_live_")
	v.SetDefault("apikey.pepper", insecureAPIKeyPepper)
	v.SetDefault("account.initial_credits", 0)
	v.SetDefault("usage.recent_limit", 10)
	v.SetDefault("usage.dashboard_window", "0s")
	v.SetDefault("touch.workers", 2)
	v.SetDefault("touch.queue_size", 1024)
	v.SetDefault("touch.timeout", "2s")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests", 120)
	v.SetDefault("rate_limit.window", "1m")
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env
//
// 文件不存在时静默跳过；已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
