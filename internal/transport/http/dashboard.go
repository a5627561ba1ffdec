package httptransport

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bigapi/backend/internal/domain"
)

// DashboardBuilder 构建仪表盘快照
type DashboardBuilder interface {
	BuildView(ctx context.Context, accountID string) (*domain.DashboardView, error)
}

// DashboardHandler 仪表盘处理器
type DashboardHandler struct {
	dashboard DashboardBuilder
	log       *zap.Logger
}

// NewDashboardHandler 创建仪表盘处理器
func NewDashboardHandler(dashboard DashboardBuilder, log *zap.Logger) *DashboardHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DashboardHandler{dashboard: dashboard, log: log}
}

// GetDashboard godoc
// @Summary 仪表盘
// @Description 返回余额与用量汇总，每次请求实时计算
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} domain.DashboardView
// @Failure 503 {object} Response
// @Router /v1/dashboard [get]
func (h *DashboardHandler) GetDashboard(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	view, err := h.dashboard.BuildView(c.Request.Context(), principal.AccountID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Success(c, view)
}
