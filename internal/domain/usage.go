package domain

import (
	"strings"
	"time"
)

// UsageEvent 一次计费动作的只追加记录，写入后不可修改
type UsageEvent struct {
	ID             string    `json:"id"`
	Sequence       int64     `json:"sequence"` // 存储层分配的插入序号，同一时间戳下的排序依据
	AccountID      string    `json:"accountId"`
	APIKeyID       string    `json:"apiKeyId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	CreditsUsed    int64     `json:"creditsUsed"`
	ProvidersUsed  []string  `json:"providersUsed"`
	SuccessCount   int       `json:"successCount"`
	RequestedCount int       `json:"requestedCount"`
}

// Validate 校验事件字段
func (e *UsageEvent) Validate() error {
	if strings.TrimSpace(e.AccountID) == "" {
		return NewValidationError("accountId", "must not be empty")
	}
	if e.CreditsUsed < 0 {
		return NewValidationError("creditsUsed", "must be non-negative")
	}
	if e.SuccessCount < 0 || e.RequestedCount < 0 {
		return NewValidationError("successCount", "counts must be non-negative")
	}
	if e.SuccessCount > e.RequestedCount {
		return NewValidationError("successCount", "must not exceed requestedCount")
	}
	for _, p := range e.ProvidersUsed {
		if strings.TrimSpace(p) == "" {
			return NewValidationError("providersUsed", "provider identifiers must not be empty")
		}
	}
	return nil
}

// Before 按 (Timestamp, Sequence) 全序比较
func (e *UsageEvent) Before(other *UsageEvent) bool {
	if e.Timestamp.Equal(other.Timestamp) {
		return e.Sequence < other.Sequence
	}
	return e.Timestamp.Before(other.Timestamp)
}

// Window 聚合时间窗口 [Since, Until)，零值表示不设边界
type Window struct {
	Since time.Time
	Until time.Time
}

// Contains 判断时间点是否落在窗口内
func (w Window) Contains(t time.Time) bool {
	if !w.Since.IsZero() && t.Before(w.Since) {
		return false
	}
	if !w.Until.IsZero() && !t.Before(w.Until) {
		return false
	}
	return true
}

// LastDuration 返回截至 now 的最近 d 时长窗口；d<=0 表示全部历史
func LastDuration(now time.Time, d time.Duration) Window {
	if d <= 0 {
		return Window{}
	}
	return Window{Since: now.Add(-d)}
}

// UsageTotals 存储层汇总结果
type UsageTotals struct {
	Calls          int64
	SuccessCount   int64
	RequestedCount int64
	CreditsUsed    int64
}

// ActivityEntry 最近活动条目
type ActivityEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	ProvidersUsed []string  `json:"providersUsed"`
	SuccessCount  int       `json:"successCount"`
	CreditsUsed   int64     `json:"creditsUsed"`
}

// UsageAggregate 用量聚合视图
type UsageAggregate struct {
	TotalCalls           int64           `json:"totalCalls"`
	TotalImagesGenerated int64           `json:"totalImagesGenerated"`
	TotalCreditsUsed     int64           `json:"totalCreditsUsed"`
	SuccessRate          float64         `json:"successRate"` // 百分比，分母为 0 时为 0
	RecentActivity       []ActivityEntry `json:"recentActivity"`
}

// SuccessRate 计算成功率百分比（保留两位小数），分母为 0 时返回 0
func SuccessRate(success, requested int64) float64 {
	if requested <= 0 {
		return 0
	}
	rate := float64(success) * 100 / float64(requested)
	return float64(int64(rate*100+0.5)) / 100
}
