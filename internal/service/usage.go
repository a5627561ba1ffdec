package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/monitoring"
	"bigapi/backend/internal/storage"
)

// DefaultRecentLimit 最近活动默认条数
const DefaultRecentLimit = 10

// UsageService 用量账本服务：只追加写入，聚合只读
type UsageService struct {
	store       storage.UsageRepository
	recentLimit int
	log         *zap.Logger
	metrics     *monitoring.Metrics
	now         func() time.Time
}

// NewUsageService 创建用量服务
func NewUsageService(store storage.UsageRepository, recentLimit int, log *zap.Logger) *UsageService {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &UsageService{
		store:       store,
		recentLimit: recentLimit,
		log:         log,
		now:         time.Now,
	}
}

// SetMetrics 设置监控指标
func (s *UsageService) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// Append 追加一条用量事件
//
// 参数:
//   - event: 用量事件，ID 与 Timestamp 为空时自动填充
//
// 返回值:
//   - error: 校验失败返回 ErrValidation，存储故障返回 ErrUpstream
func (s *UsageService) Append(ctx context.Context, event *domain.UsageEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	event.Timestamp = event.Timestamp.UTC()
	if event.ProvidersUsed == nil {
		event.ProvidersUsed = []string{}
	}

	if err := s.store.AppendUsageEvent(ctx, event); err != nil {
		return domain.Upstream("append usage event", err)
	}

	s.metrics.RecordUsageEvent(event.CreditsUsed)
	s.log.Debug("usage event recorded",
		zap.String("account_id", event.AccountID),
		zap.Int64("credits_used", event.CreditsUsed),
		zap.Int64("sequence", event.Sequence),
	)
	return nil
}

// Aggregate 汇总账户在窗口内的用量
//
// 参数:
//   - accountID: 账户ID
//   - window: 时间窗口，零值表示全部历史
//
// 返回值:
//   - *domain.UsageAggregate: 汇总结果，无事件时各项为 0
//   - error: 存储故障返回 ErrUpstream
func (s *UsageService) Aggregate(ctx context.Context, accountID string, window domain.Window) (*domain.UsageAggregate, error) {
	totals, err := s.store.SumUsage(ctx, accountID, window)
	if err != nil {
		return nil, domain.Upstream("sum usage", err)
	}

	recent, err := s.store.RecentUsage(ctx, accountID, window, s.recentLimit)
	if err != nil {
		return nil, domain.Upstream("recent usage", err)
	}

	activity := make([]domain.ActivityEntry, 0, len(recent))
	for _, event := range recent {
		activity = append(activity, domain.ActivityEntry{
			Timestamp:     event.Timestamp,
			ProvidersUsed: event.ProvidersUsed,
			SuccessCount:  event.SuccessCount,
			CreditsUsed:   event.CreditsUsed,
		})
	}

	return &domain.UsageAggregate{
		TotalCalls:           totals.Calls,
		TotalImagesGenerated: totals.SuccessCount,
		TotalCreditsUsed:     totals.CreditsUsed,
		SuccessRate:          domain.SuccessRate(totals.SuccessCount, totals.RequestedCount),
		RecentActivity:       activity,
	}, nil
}
