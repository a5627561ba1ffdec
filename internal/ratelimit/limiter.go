package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/storage"
)

// Decision 单次限流判定结果
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter 按调用主体限流
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// CounterLimiter 固定窗口计数限流，计数存放在共享存储（Redis）中，多实例共享额度
type CounterLimiter struct {
	store  storage.RateLimitRepository
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewCounterLimiter 创建固定窗口限流器
//
// 参数:
//   - store: 计数存储
//   - limit: 每个窗口允许的请求数
//   - window: 窗口长度
func NewCounterLimiter(store storage.RateLimitRepository, limit int, window time.Duration) *CounterLimiter {
	return &CounterLimiter{
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow 计数加一并判断是否超限
//
// 计数键包含窗口起点，窗口切换后自动使用新的计数器。
func (l *CounterLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	start := l.now().Truncate(l.window)
	bucket := fmt.Sprintf("%s:%d", key, start.Unix())

	count, err := l.store.IncrementRateLimit(ctx, bucket, l.window)
	if err != nil {
		return Decision{}, domain.Upstream("increment rate limit", err)
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   start.Add(l.window),
	}, nil
}

// maxBuckets 令牌桶数量超过该值时清理闲置条目
const maxBuckets = 10000

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucketLimiter 进程内令牌桶限流，未启用 Redis 时使用
type TokenBucketLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
	every   rate.Limit
	now     func() time.Time
}

// NewTokenBucketLimiter 创建令牌桶限流器，窗口内平均补充 limit 个令牌，突发上限为 limit
func NewTokenBucketLimiter(limit int, window time.Duration) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		every:   rate.Every(window / time.Duration(limit)),
		now:     time.Now,
	}
}

// Allow 消耗一个令牌
func (l *TokenBucketLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxBuckets {
			l.prune(now)
		}
		b = &bucket{limiter: rate.NewLimiter(l.every, l.limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)
	l.mu.Unlock()

	remaining := int(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}

	// 补满一个令牌所需时间
	interval := l.window / time.Duration(l.limit)
	resetAt := now
	if tokens < 1 {
		resetAt = now.Add(time.Duration((1 - tokens) * float64(interval)))
	}

	return Decision{
		Allowed:   allowed,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// prune 删除一个窗口内未出现过的桶，调用方持有锁
func (l *TokenBucketLimiter) prune(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.window {
			delete(l.buckets, key)
		}
	}
}
