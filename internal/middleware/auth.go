package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bigapi/backend/internal/domain"
)

const (
	// principalKey gin 上下文中保存调用主体的键
	principalKey = "principal"

	msgUnauthorized = "认证失败"
	msgForbidden    = "当前凭证无权访问该接口"
	msgUnavailable  = "认证服务暂不可用"
)

// PrincipalResolver 将 Authorization 头解析为调用主体
type PrincipalResolver interface {
	Resolve(ctx context.Context, header string) (*domain.Principal, error)
}

// Authenticator 认证中间件
type Authenticator struct {
	resolver PrincipalResolver
	log      *zap.Logger
}

// NewAuthenticator 创建认证中间件
func NewAuthenticator(resolver PrincipalResolver, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{resolver: resolver, log: log}
}

// RequirePrincipal 要求请求携带有效的会话令牌或 API Key
//
// 所有凭证问题返回相同的 401 响应；依赖不可用时返回 503。
func (a *Authenticator) RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := a.resolver.Resolve(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			if errors.Is(err, domain.ErrUpstream) {
				a.log.Error("principal resolution unavailable",
					zap.String("path", c.Request.URL.Path),
					zap.Error(err),
				)
				abortWithError(c, http.StatusServiceUnavailable, msgUnavailable)
				return
			}
			c.Header("WWW-Authenticate", `Bearer realm="bigapi"`)
			abortWithError(c, http.StatusUnauthorized, msgUnauthorized)
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// RequireScope 要求调用主体具备指定权限范围，需放在 RequirePrincipal 之后
func RequireScope(scope domain.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := PrincipalFrom(c)
		if !ok {
			abortWithError(c, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		if !principal.Can(scope) {
			abortWithError(c, http.StatusForbidden, msgForbidden)
			return
		}
		c.Next()
	}
}

// PrincipalFrom 从 gin 上下文中取出调用主体
func PrincipalFrom(c *gin.Context) (*domain.Principal, bool) {
	value, exists := c.Get(principalKey)
	if !exists {
		return nil, false
	}
	principal, ok := value.(*domain.Principal)
	return principal, ok && principal != nil
}

// SetPrincipal 写入调用主体，供测试和内部路由使用
func SetPrincipal(c *gin.Context, principal *domain.Principal) {
	c.Set(principalKey, principal)
}
