package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bigapi/backend/internal/config"
	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/health"
	"bigapi/backend/internal/middleware"
	"bigapi/backend/internal/monitoring"
	"bigapi/backend/internal/ratelimit"
)

// maxRequestBody 请求体上限，本服务只接收小型 JSON
const maxRequestBody = 1 << 20

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	Keys          KeyManager
	Accounts      AccountProvisioner
	Usage         UsageRecorder
	Dashboard     DashboardBuilder
	Resolver      middleware.PrincipalResolver
	Limiter       ratelimit.Limiter // 为空表示不限流
	Metrics       *monitoring.Metrics
	HealthChecker *health.HealthChecker
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	mm := middleware.NewMonitoringMiddleware(deps.Metrics, log)
	router.Use(mm.PanicRecovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(mm.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(maxRequestBody))
	router.Use(gincors.New(corsConfig(deps.Config)))

	// 健康检查与监控
	if deps.HealthChecker != nil {
		hc := deps.HealthChecker
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": hc.CheckHealth(c.Request.Context())})
		})
		router.GET("/health/live", gin.WrapF(hc.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(hc.ReadyHandler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	apiKeyHandler := NewAPIKeyHandler(deps.Keys, log)
	authHandler := NewAuthHandler(deps.Accounts, log)
	dashboardHandler := NewDashboardHandler(deps.Dashboard, log)
	usageHandler := NewUsageHandler(deps.Usage, log)
	compatHandler := NewCompatHandler(deps.Keys, deps.Dashboard, log)

	authn := middleware.NewAuthenticator(deps.Resolver, log)

	// V1 API：全部需要认证
	v1 := router.Group("/v1")
	v1.Use(middleware.ValidateContentType("application/json"))
	v1.Use(authn.RequirePrincipal())
	if deps.Limiter != nil {
		v1.Use(middleware.RateLimit(deps.Limiter, deps.Metrics, log))
	}
	v1.Use(authHandler.EnsureAccount())
	{
		v1.GET("/auth/me", authHandler.Me)

		// ========== 账户管理（仅会话登录） ==========
		account := v1.Group("", middleware.RequireScope(domain.ScopeFullAccount))
		{
			account.POST("/api-keys", apiKeyHandler.CreateAPIKey)
			account.GET("/api-keys", apiKeyHandler.ListAPIKeys)
			account.GET("/api-keys/:id", apiKeyHandler.GetAPIKey)
			account.DELETE("/api-keys/:id", apiKeyHandler.RevokeAPIKey)
			account.GET("/dashboard", dashboardHandler.GetDashboard)

			// 旧版前端兼容接口
			account.POST("/auth/generate-api-key", compatHandler.GenerateAPIKey)
			account.GET("/auth/api-keys", compatHandler.ListAPIKeys)
			account.DELETE("/auth/api-keys/:id", compatHandler.DeleteAPIKey)
			account.GET("/dashboard/stats", compatHandler.DashboardStats)
		}

		// ========== API 调用（仅 API Key） ==========
		api := v1.Group("", middleware.RequireScope(domain.ScopeAPI))
		{
			api.POST("/usage/events", usageHandler.AppendUsageEvent)
		}
	}

	return router
}

func corsConfig(cfg *config.Config) gincors.Config {
	origins := []string{"*"}
	if cfg != nil && len(cfg.CORS.AllowedOrigins) > 0 {
		origins = cfg.CORS.AllowedOrigins
	}

	corsCfg := gincors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{
			"Content-Length",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
			"Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsCfg.AllowOrigins {
		if origin == "*" {
			corsCfg.AllowCredentials = false
			break
		}
	}
	return corsCfg
}
