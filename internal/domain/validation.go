package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ValidateAPIKeyName 校验并规范化密钥名称
//
// 参数:
//   - name: 用户提交的名称
//
// 返回值:
//   - string: 去除首尾空白后的名称
//   - error: 为空、过长或包含控制字符时返回 ValidationError
func ValidateAPIKeyName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", NewValidationError("name", "must not be empty")
	}
	if utf8.RuneCountInString(trimmed) > MaxAPIKeyNameLength {
		return "", NewValidationError("name", "too long (max 100 chars)")
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return "", NewValidationError("name", "must not contain control characters")
		}
	}
	return trimmed, nil
}

// ValidateAccountID 校验账户标识
func ValidateAccountID(accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return NewValidationError("accountId", "must not be empty")
	}
	return nil
}
