package httptransport

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bigapi/backend/internal/domain"
)

// UsageRecorder 追加用量事件
type UsageRecorder interface {
	Append(ctx context.Context, event *domain.UsageEvent) error
}

// UsageHandler 用量上报处理器，供生成流水线在完成一次任务后调用
type UsageHandler struct {
	usage UsageRecorder
	log   *zap.Logger
}

// NewUsageHandler 创建用量处理器
func NewUsageHandler(usage UsageRecorder, log *zap.Logger) *UsageHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &UsageHandler{usage: usage, log: log}
}

type usageEventRequest struct {
	CreditsUsed    int64      `json:"creditsUsed"`
	ProvidersUsed  []string   `json:"providersUsed"`
	SuccessCount   int        `json:"successCount"`
	RequestedCount int        `json:"requestedCount"`
	Timestamp      *time.Time `json:"timestamp,omitempty"` // 为空时使用服务端时间
}

// AppendUsageEvent godoc
// @Summary 上报用量事件
// @Description 事件归属于调用方 API Key 所在账户，写入后不可修改
// @Tags Usage
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body usageEventRequest true "用量事件"
// @Success 201 {object} domain.UsageEvent
// @Failure 400 {object} Response
// @Failure 403 {object} Response
// @Router /v1/usage/events [post]
func (h *UsageHandler) AppendUsageEvent(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	var req usageEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	event := &domain.UsageEvent{
		AccountID:      principal.AccountID,
		APIKeyID:       principal.KeyID,
		CreditsUsed:    req.CreditsUsed,
		ProvidersUsed:  req.ProvidersUsed,
		SuccessCount:   req.SuccessCount,
		RequestedCount: req.RequestedCount,
	}
	if req.Timestamp != nil {
		event.Timestamp = *req.Timestamp
	}

	if err := h.usage.Append(c.Request.Context(), event); err != nil {
		respondError(c, h.log, err)
		return
	}

	Created(c, event)
}
