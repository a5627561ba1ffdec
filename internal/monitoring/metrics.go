package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 认证结果标签
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics 监控指标
//
// 所有方法对 nil 接收者安全，未启用监控时可直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 认证指标
	AuthAttempts *prometheus.CounterVec

	// 密钥生命周期
	APIKeysCreated prometheus.Counter
	APIKeysRevoked prometheus.Counter

	// 用量
	UsageEvents  prometheus.Counter
	UsageCredits prometheus.Counter

	// 最后使用时间异步更新
	TouchDropped  prometheus.Counter
	TouchFailures prometheus.Counter

	// 错误与限流
	ErrorsTotal     *prometheus.CounterVec
	PanicsTotal     prometheus.Counter
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 在独立的 registry 上创建监控指标
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bigapi_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bigapi_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		AuthAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bigapi_auth_attempts_total",
				Help: "Credential resolutions by credential kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		APIKeysCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bigapi_api_keys_created_total",
				Help: "Total number of API keys created",
			},
		),

		APIKeysRevoked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bigapi_api_keys_revoked_total",
				Help: "Total number of API key revocations",
			},
		),

		UsageEvents: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bigapi_usage_events_total",
				Help: "Total number of usage events recorded",
			},
		),

		UsageCredits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bigapi_usage_credits_total",
				Help: "Total credits recorded in usage events",
			},
		),

		TouchDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bigapi_touch_dropped_total",
				Help: "Last-used updates dropped because the queue was full",
			},
		),

		TouchFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bigapi_touch_failures_total",
				Help: "Last-used updates that failed in storage",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bigapi_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bigapi_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bigapi_rate_limit_blocks_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"kind"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordAuthAttempt 记录一次凭证解析
func (m *Metrics) RecordAuthAttempt(kind, outcome string) {
	if m == nil {
		return
	}
	m.AuthAttempts.WithLabelValues(kind, outcome).Inc()
}

// RecordAPIKeyCreated 记录密钥创建
func (m *Metrics) RecordAPIKeyCreated() {
	if m == nil {
		return
	}
	m.APIKeysCreated.Inc()
}

// RecordAPIKeyRevoked 记录密钥吊销
func (m *Metrics) RecordAPIKeyRevoked() {
	if m == nil {
		return
	}
	m.APIKeysRevoked.Inc()
}

// RecordUsageEvent 记录用量事件
func (m *Metrics) RecordUsageEvent(credits int64) {
	if m == nil {
		return
	}
	m.UsageEvents.Inc()
	m.UsageCredits.Add(float64(credits))
}

// RecordTouchDropped 记录被丢弃的最后使用时间更新
func (m *Metrics) RecordTouchDropped() {
	if m == nil {
		return
	}
	m.TouchDropped.Inc()
}

// RecordTouchFailure 记录失败的最后使用时间更新
func (m *Metrics) RecordTouchFailure() {
	if m == nil {
		return
	}
	m.TouchFailures.Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(kind string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(kind).Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
