package domain

import "time"

// Plan 账户套餐
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// Account 计费与认证主体。余额由外部计费系统维护，本服务只读取。
type Account struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Email     string    `json:"email" gorm:"type:varchar(255);index"`
	Credits   int64     `json:"credits" gorm:"not null;default:0"`
	Plan      Plan      `json:"plan" gorm:"type:varchar(20);default:'free'"`
	CreatedAt time.Time `json:"createdAt"`
}
