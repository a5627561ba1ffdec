package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bigapi/backend/internal/monitoring"
	"bigapi/backend/internal/ratelimit"
)

const msgTooManyRequests = "请求过于频繁，请稍后再试"

// RateLimit 按调用主体限流，需放在 RequirePrincipal 之后
//
// API Key 按密钥计数，会话按账户计数。限流存储不可用时放行请求。
func RateLimit(limiter ratelimit.Limiter, metrics *monitoring.Metrics, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		principal, ok := PrincipalFrom(c)
		if !ok {
			c.Next()
			return
		}

		decision, err := limiter.Allow(c.Request.Context(), principal.RateLimitKey())
		if err != nil {
			log.Warn("rate limiter unavailable, request allowed",
				zap.String("account_id", principal.AccountID),
				zap.Error(err),
			)
			metrics.RecordError("rate_limit_unavailable", "middleware")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retryAfter := int(math.Ceil(time.Until(decision.ResetAt).Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			metrics.RecordRateLimitBlock(string(principal.Kind))
			abortWithError(c, http.StatusTooManyRequests, msgTooManyRequests)
			return
		}

		c.Next()
	}
}
