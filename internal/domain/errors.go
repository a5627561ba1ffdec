package domain

import (
	"errors"
	"fmt"
)

// 业务错误分类，传输层按此映射 HTTP 状态码
var (
	// ErrValidation 输入参数不合法（用户可修正）
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized 凭证缺失、格式错误、过期或已吊销（统一返回，不泄露具体原因）
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden 已认证但权限范围不足
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound 资源不存在或不属于调用者（两种情况对外不可区分）
	ErrNotFound = errors.New("not found")
	// ErrConflict 内部冲突，内部重试失败后才会暴露
	ErrConflict = errors.New("conflict")
	// ErrUpstream 身份服务或存储不可用
	ErrUpstream = errors.New("upstream unavailable")
)

// ValidationError 描述具体字段的校验失败原因
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError 创建字段校验错误
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is 使 errors.Is(err, ErrValidation) 成立
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Upstream 将底层存储/网络错误包装为 ErrUpstream，保留原始错误链
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
}
