package service

import (
	"context"
	"errors"
	"time"

	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/storage"
)

// UsageAggregator 用量聚合接口
type UsageAggregator interface {
	Aggregate(ctx context.Context, accountID string, window domain.Window) (*domain.UsageAggregate, error)
}

// DashboardService 仪表盘聚合服务，每次调用实时读取，不缓存
type DashboardService struct {
	accounts storage.AccountRepository
	usage    UsageAggregator
	window   time.Duration
	now      func() time.Time
}

// NewDashboardService 创建仪表盘服务
//
// 参数:
//   - accounts: 账户余额来源
//   - usage: 用量聚合
//   - window: 统计窗口，0 表示全部历史
func NewDashboardService(accounts storage.AccountRepository, usage UsageAggregator, window time.Duration) *DashboardService {
	return &DashboardService{
		accounts: accounts,
		usage:    usage,
		window:   window,
		now:      time.Now,
	}
}

// BuildView 构建账户仪表盘视图
//
// 返回值:
//   - *domain.DashboardView: 余额与用量汇总
//   - error: 账户不存在返回 ErrNotFound，余额或用量读取失败返回 ErrUpstream
func (s *DashboardService) BuildView(ctx context.Context, accountID string) (*domain.DashboardView, error) {
	account, err := retryOnce(ctx, func(ctx context.Context) (*domain.Account, error) {
		return s.accounts.GetAccount(ctx, accountID)
	})
	if err != nil {
		return nil, wrapStorageError("read balance", err)
	}

	aggregate, err := s.usage.Aggregate(ctx, accountID, domain.LastDuration(s.now(), s.window))
	if err != nil {
		if errors.Is(err, domain.ErrUpstream) {
			return nil, err
		}
		return nil, domain.Upstream("aggregate usage", err)
	}

	return &domain.DashboardView{
		Credits:              account.Credits,
		TotalAPICalls:        aggregate.TotalCalls,
		TotalImagesGenerated: aggregate.TotalImagesGenerated,
		TotalCreditsUsed:     aggregate.TotalCreditsUsed,
		SuccessRate:          aggregate.SuccessRate,
		RecentActivity:       aggregate.RecentActivity,
	}, nil
}
