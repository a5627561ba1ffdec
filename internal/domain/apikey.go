package domain

import "time"

// APIKey API密钥记录。
//
// 原始密钥只在创建时返回一次，这里仅保存其单向摘要和用于展示的脱敏片段。
// 吊销后记录保留（IsActive=false）用于审计，不做物理删除。
type APIKey struct {
	ID         string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AccountID  string     `json:"accountId" gorm:"type:varchar(64);index;not null"`
	Name       string     `json:"name" gorm:"type:varchar(100);not null"`
	SecretHash string     `json:"-" gorm:"type:varchar(64);uniqueIndex;not null"` // HMAC-SHA256 十六进制，永不返回
	Preview    string     `json:"preview" gorm:"type:varchar(32);not null"`      // 例如 big_live_...a1B2
	IsActive   bool       `json:"isActive" gorm:"not null"`
	CreatedAt  time.Time  `json:"createdAt" gorm:"index"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
}

// MaxAPIKeyNameLength 密钥名称最大长度
const MaxAPIKeyNameLength = 100
