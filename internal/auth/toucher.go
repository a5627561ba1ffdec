package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bigapi/backend/internal/config"
	"bigapi/backend/internal/logger"
	"bigapi/backend/internal/monitoring"
	"bigapi/backend/internal/pool"
)

// KeyToucher 更新密钥最后使用时间
type KeyToucher interface {
	TouchLastUsed(ctx context.Context, keyID string, at time.Time) error
}

// Toucher 在协程池中异步更新密钥最后使用时间
//
// 队列满时直接丢弃，认证流程不等待也不感知写入结果。
type Toucher struct {
	pool    *pool.WorkerPool
	keys    KeyToucher
	timeout time.Duration
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewToucher 创建异步更新器
func NewToucher(keys KeyToucher, cfg config.TouchConfig, log *zap.Logger, metrics *monitoring.Metrics) *Toucher {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	wp := pool.NewWorkerPool(cfg.Workers, cfg.QueueSize, log)
	wp.OnPanic = func(any) { metrics.RecordPanic() }

	return &Toucher{
		pool:    wp,
		keys:    keys,
		timeout: timeout,
		log:     log,
		metrics: metrics,
	}
}

// Start 启动工作协程
func (t *Toucher) Start(ctx context.Context) {
	t.pool.Start(ctx)
}

// Stop 等待队列中的更新执行完毕
func (t *Toucher) Stop() {
	t.pool.Stop()
}

// Schedule 提交一次更新，返回是否已入队
func (t *Toucher) Schedule(keyID string, at time.Time) bool {
	queued := t.pool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		if err := t.keys.TouchLastUsed(ctx, keyID, at); err != nil {
			t.metrics.RecordTouchFailure()
			t.log.Warn("failed to update api key last used time", logger.KeyID(keyID), zap.Error(err))
		}
	})
	if !queued {
		t.metrics.RecordTouchDropped()
		t.log.Debug("touch queue full, dropping update", logger.KeyID(keyID))
	}
	return queued
}
