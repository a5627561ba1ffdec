package httptransport

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/middleware"
)

// AccountProvisioner 读取或按需创建账户
type AccountProvisioner interface {
	Get(ctx context.Context, accountID string) (*domain.Account, error)
	Ensure(ctx context.Context, accountID, email string) (*domain.Account, error)
}

// AuthHandler 处理认证主体相关的 HTTP 请求
type AuthHandler struct {
	accounts AccountProvisioner // 账户服务
	log      *zap.Logger        // 结构化日志记录器
}

// NewAuthHandler 创建新的认证处理器实例
//
// 参数:
//   - accounts: 账户服务
//   - log: 日志
//
// 返回值:
//   - *AuthHandler: 认证处理器实例
func NewAuthHandler(accounts AccountProvisioner, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{accounts: accounts, log: log}
}

type accountResponse struct {
	ID      string      `json:"id"`
	Email   string      `json:"email,omitempty"`
	Credits int64       `json:"credits"`
	Plan    domain.Plan `json:"plan"`
}

type meResponse struct {
	Kind    domain.CredentialKind `json:"kind"`
	Scope   domain.Scope          `json:"scope"`
	KeyID   string                `json:"keyId,omitempty"`
	Account accountResponse       `json:"account"`
}

// EnsureAccount 会话主体首次访问时创建账户记录，API Key 主体不做处理
func (h *AuthHandler) EnsureAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.PrincipalFrom(c)
		if !ok || principal.Kind != domain.CredentialSession {
			c.Next()
			return
		}

		if _, err := h.accounts.Ensure(c.Request.Context(), principal.AccountID, principal.Email); err != nil {
			respondError(c, h.log, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// Me 返回当前调用主体及其账户信息
// @Summary 当前主体
// @Tags 认证
// @Produce json
// @Security BearerAuth
// @Success 200 {object} meResponse
// @Failure 401 {object} Response
// @Router /v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	account, err := h.accounts.Get(c.Request.Context(), principal.AccountID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Success(c, meResponse{
		Kind:  principal.Kind,
		Scope: principal.Scope,
		KeyID: principal.KeyID,
		Account: accountResponse{
			ID:      account.ID,
			Email:   account.Email,
			Credits: account.Credits,
			Plan:    account.Plan,
		},
	})
}

// requirePrincipal 取出调用主体，缺失时直接返回 401
func requirePrincipal(c *gin.Context) (*domain.Principal, bool) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return nil, false
	}
	return principal, true
}
