package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bigapi/backend/internal/domain"
)

// 通用错误消息
const (
	MsgInvalidRequest     = "请求参数格式错误"
	MsgAuthRequired       = "需要认证"
	MsgPermissionDenied   = "权限不足"
	MsgResourceNotFound   = "资源不存在"
	MsgConflict           = "资源冲突，请重试"
	MsgServiceUnavailable = "服务暂不可用，请稍后重试"
	MsgInternalError      = "服务器内部错误，请稍后重试"
)

// errorMapping 业务错误 -> HTTP 状态码与中文消息
var errorMapping = []struct {
	target error
	status int
	msg    string
}{
	{domain.ErrValidation, http.StatusBadRequest, MsgInvalidRequest},
	{domain.ErrUnauthorized, http.StatusUnauthorized, MsgAuthRequired},
	{domain.ErrForbidden, http.StatusForbidden, MsgPermissionDenied},
	{domain.ErrNotFound, http.StatusNotFound, MsgResourceNotFound},
	{domain.ErrConflict, http.StatusConflict, MsgConflict},
	{domain.ErrUpstream, http.StatusServiceUnavailable, MsgServiceUnavailable},
}

// classifyError 返回错误对应的状态码和对外消息
//
// 校验错误返回具体字段原因，其他错误不暴露内部细节。
func classifyError(err error) (int, string) {
	for _, m := range errorMapping {
		if !errors.Is(err, m.target) {
			continue
		}
		var ve *domain.ValidationError
		if m.target == domain.ErrValidation && errors.As(err, &ve) {
			return m.status, ve.Error()
		}
		return m.status, m.msg
	}
	return http.StatusInternalServerError, MsgInternalError
}

// respondError 输出统一错误响应，服务端错误记录日志
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status, msg := classifyError(err)
	logServerError(c, log, status, err)
	Error(c, status, msg)
}

func logServerError(c *gin.Context, log *zap.Logger, status int, err error) {
	if status < http.StatusInternalServerError {
		return
	}
	log.Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Int("status", status),
		zap.Error(err),
	)
}
