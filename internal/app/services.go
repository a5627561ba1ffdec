package app

import (
	"fmt"

	"go.uber.org/zap"

	jwtpkg "bigapi/backend/internal/auth/jwt"
	"bigapi/backend/internal/config"
	"bigapi/backend/internal/monitoring"
	"bigapi/backend/internal/secret"
	"bigapi/backend/internal/service"
)

// Services 业务服务集合，HTTP 服务与运维命令共用
type Services struct {
	Codec     *secret.Codec
	Keys      *service.APIKeyService
	Accounts  *service.AccountService
	Usage     *service.UsageService
	Dashboard *service.DashboardService
	Sessions  *jwtpkg.Manager
}

// NewServices 创建业务服务
//
// 参数:
//   - cfg: 系统配置
//   - st: 已初始化的存储
//   - log: 日志
//   - metrics: 监控指标，可为 nil
func NewServices(cfg *config.Config, st *Storage, log *zap.Logger, metrics *monitoring.Metrics) (*Services, error) {
	codec, err := secret.NewCodec(cfg.APIKey.Prefix, cfg.APIKey.Pepper)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret codec: %w", err)
	}

	keys := service.NewAPIKeyService(st.Store, codec, log)
	keys.SetMetrics(metrics)

	usage := service.NewUsageService(st.Store, cfg.Usage.RecentLimit, log)
	usage.SetMetrics(metrics)

	return &Services{
		Codec:     codec,
		Keys:      keys,
		Accounts:  service.NewAccountService(st.Store, cfg.Account.InitialCredits, log),
		Usage:     usage,
		Dashboard: service.NewDashboardService(st.Store, usage, cfg.Usage.DashboardWindow),
		Sessions:  jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.Expiry),
	}, nil
}
