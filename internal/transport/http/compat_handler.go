package httptransport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/middleware"
)

// 注意：兼容API使用旧版前端的格式（snake_case，直接返回数据，错误为 {"error": ...}）

// errorResponse 兼容API错误响应（旧格式）
type errorResponse struct {
	Error string `json:"error"`
}

// CompatHandler 兼容API处理器
type CompatHandler struct {
	keys      KeyManager
	dashboard DashboardBuilder
	log       *zap.Logger
}

// NewCompatHandler 创建兼容API处理器
func NewCompatHandler(keys KeyManager, dashboard DashboardBuilder, log *zap.Logger) *CompatHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CompatHandler{
		keys:      keys,
		dashboard: dashboard,
		log:       log,
	}
}

// ========== 请求/响应结构体 ==========

type generateAPIKeyRequest struct {
	KeyName string `json:"key_name"`
}

type generateAPIKeyResponse struct {
	APIKey     string    `json:"api_key"`
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	KeyPreview string    `json:"key_preview"`
	CreatedAt  time.Time `json:"created_at"`
}

type compatKeyItem struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPreview string     `json:"key_preview"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

type compatKeyListResponse struct {
	APIKeys []compatKeyItem `json:"api_keys"`
}

type compatTaskDetails struct {
	ProvidersUsed []string `json:"providers_used"`
	SuccessCount  int      `json:"success_count"`
}

type compatActivity struct {
	Timestamp   int64             `json:"timestamp"` // Unix 秒
	CreditsUsed int64             `json:"credits_used"`
	TaskDetails compatTaskDetails `json:"task_details"`
}

type compatStatsResponse struct {
	Credits              int64            `json:"credits"`
	TotalAPICalls        int64            `json:"total_api_calls"`
	TotalImagesGenerated int64            `json:"total_images_generated"`
	TotalCreditsUsed     int64            `json:"total_credits_used"`
	SuccessRate          float64          `json:"success_rate"`
	RecentActivity       []compatActivity `json:"recent_activity"`
}

// ========== 处理器 ==========

// GenerateAPIKey 创建API Key（旧接口）
// POST /v1/auth/generate-api-key
func (h *CompatHandler) GenerateAPIKey(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	var req generateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	key, raw, err := h.keys.Create(c.Request.Context(), principal.AccountID, req.KeyName)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, generateAPIKeyResponse{
		APIKey:     raw,
		ID:         key.ID,
		Name:       key.Name,
		KeyPreview: key.Preview,
		CreatedAt:  key.CreatedAt,
	})
}

// ListAPIKeys 获取API Key列表（旧接口）
// GET /v1/auth/api-keys
func (h *CompatHandler) ListAPIKeys(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	keys, err := h.keys.List(c.Request.Context(), principal.AccountID)
	if err != nil {
		h.fail(c, err)
		return
	}

	items := make([]compatKeyItem, 0, len(keys))
	for _, key := range keys {
		items = append(items, compatKeyItem{
			ID:         key.ID,
			Name:       key.Name,
			KeyPreview: key.Preview,
			IsActive:   key.IsActive,
			CreatedAt:  key.CreatedAt,
			LastUsedAt: key.LastUsedAt,
		})
	}

	c.JSON(http.StatusOK, compatKeyListResponse{APIKeys: items})
}

// DeleteAPIKey 吊销API Key（旧接口，语义为吊销而非物理删除）
// DELETE /v1/auth/api-keys/:id
func (h *CompatHandler) DeleteAPIKey(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	if err := h.keys.Revoke(c.Request.Context(), principal.AccountID, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DashboardStats 仪表盘统计（旧接口）
// GET /v1/dashboard/stats
func (h *CompatHandler) DashboardStats(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	view, err := h.dashboard.BuildView(c.Request.Context(), principal.AccountID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, newCompatStats(view))
}

func newCompatStats(view *domain.DashboardView) compatStatsResponse {
	activity := make([]compatActivity, 0, len(view.RecentActivity))
	for _, entry := range view.RecentActivity {
		activity = append(activity, compatActivity{
			Timestamp:   entry.Timestamp.Unix(),
			CreditsUsed: entry.CreditsUsed,
			TaskDetails: compatTaskDetails{
				ProvidersUsed: entry.ProvidersUsed,
				SuccessCount:  entry.SuccessCount,
			},
		})
	}

	return compatStatsResponse{
		Credits:              view.Credits,
		TotalAPICalls:        view.TotalAPICalls,
		TotalImagesGenerated: view.TotalImagesGenerated,
		TotalCreditsUsed:     view.TotalCreditsUsed,
		SuccessRate:          view.SuccessRate,
		RecentActivity:       activity,
	}
}

func (h *CompatHandler) principal(c *gin.Context) (*domain.Principal, bool) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
	}
	return principal, ok
}

func (h *CompatHandler) fail(c *gin.Context, err error) {
	status, msg := classifyError(err)
	logServerError(c, h.log, status, err)
	c.JSON(status, errorResponse{Error: msg})
}
