package httptransport

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bigapi/backend/internal/domain"
)

// KeyManager API Key 生命周期操作
type KeyManager interface {
	Create(ctx context.Context, accountID, name string) (*domain.APIKey, string, error)
	List(ctx context.Context, accountID string) ([]*domain.APIKey, error)
	Get(ctx context.Context, accountID, keyID string) (*domain.APIKey, error)
	Revoke(ctx context.Context, accountID, keyID string) error
}

// APIKeyHandler API Key管理处理器
type APIKeyHandler struct {
	keys KeyManager
	log  *zap.Logger
}

// NewAPIKeyHandler 创建API Key处理器
func NewAPIKeyHandler(keys KeyManager, log *zap.Logger) *APIKeyHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIKeyHandler{keys: keys, log: log}
}

// createAPIKeyRequest 创建API Key请求
type createAPIKeyRequest struct {
	Name string `json:"name"` // API Key名称，服务层负责校验
}

// apiKeyResponse API Key响应，只包含脱敏片段
type apiKeyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Preview    string     `json:"preview"`
	IsActive   bool       `json:"isActive"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
}

// createdAPIKeyResponse 创建响应，原始密钥仅在此返回一次
type createdAPIKeyResponse struct {
	apiKeyResponse
	Secret string `json:"secret"`
}

func newAPIKeyResponse(key *domain.APIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:         key.ID,
		Name:       key.Name,
		Preview:    key.Preview,
		IsActive:   key.IsActive,
		CreatedAt:  key.CreatedAt,
		LastUsedAt: key.LastUsedAt,
		RevokedAt:  key.RevokedAt,
	}
}

// CreateAPIKey godoc
// @Summary 创建API Key
// @Description 为当前账户创建API Key，原始密钥只在响应中出现一次
// @Tags APIKeys
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createAPIKeyRequest true "API Key参数"
// @Success 201 {object} createdAPIKeyResponse
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Router /v1/api-keys [post]
func (h *APIKeyHandler) CreateAPIKey(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	key, raw, err := h.keys.Create(c.Request.Context(), principal.AccountID, req.Name)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Created(c, createdAPIKeyResponse{
		apiKeyResponse: newAPIKeyResponse(key),
		Secret:         raw,
	})
}

// ListAPIKeys godoc
// @Summary 获取API Key列表
// @Description 获取当前账户的全部API Key（含已吊销），按创建时间倒序
// @Tags APIKeys
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{items=[]apiKeyResponse,count=int}
// @Failure 401 {object} Response
// @Router /v1/api-keys [get]
func (h *APIKeyHandler) ListAPIKeys(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	keys, err := h.keys.List(c.Request.Context(), principal.AccountID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	items := make([]apiKeyResponse, 0, len(keys))
	for _, key := range keys {
		items = append(items, newAPIKeyResponse(key))
	}

	Success(c, gin.H{
		"items": items,
		"count": len(items),
	})
}

// GetAPIKey godoc
// @Summary 获取API Key详情
// @Tags APIKeys
// @Produce json
// @Security BearerAuth
// @Param id path string true "API Key ID"
// @Success 200 {object} apiKeyResponse
// @Failure 404 {object} Response
// @Router /v1/api-keys/{id} [get]
func (h *APIKeyHandler) GetAPIKey(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	key, err := h.keys.Get(c.Request.Context(), principal.AccountID, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Success(c, newAPIKeyResponse(key))
}

// RevokeAPIKey godoc
// @Summary 吊销API Key
// @Description 吊销后密钥立即失效，记录保留；重复吊销同样成功
// @Tags APIKeys
// @Security BearerAuth
// @Param id path string true "API Key ID"
// @Success 204
// @Failure 404 {object} Response
// @Router /v1/api-keys/{id} [delete]
func (h *APIKeyHandler) RevokeAPIKey(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	if err := h.keys.Revoke(c.Request.Context(), principal.AccountID, c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}

	NoContent(c)
}
