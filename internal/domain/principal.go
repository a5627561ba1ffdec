package domain

// CredentialKind 凭证类型（Principal 的判别标签）
type CredentialKind string

const (
	CredentialSession CredentialKind = "session"
	CredentialAPIKey  CredentialKind = "api_key"
)

// Scope 权限范围
type Scope string

const (
	// ScopeFullAccount 会话登录：可管理密钥、查看仪表盘
	ScopeFullAccount Scope = "full_account"
	// ScopeAPI API Key 调用：只能使用生成接口
	ScopeAPI Scope = "api"
)

// Principal 已认证的调用主体。
//
// Kind 决定哪些字段有效：CredentialSession 携带 Email，CredentialAPIKey 携带 KeyID。
type Principal struct {
	Kind      CredentialKind `json:"kind"`
	Scope     Scope          `json:"scope"`
	AccountID string         `json:"accountId"`
	Email     string         `json:"email,omitempty"`
	KeyID     string         `json:"keyId,omitempty"`
}

// NewSessionPrincipal 会话主体，拥有完整账户权限
func NewSessionPrincipal(accountID, email string) *Principal {
	return &Principal{
		Kind:      CredentialSession,
		Scope:     ScopeFullAccount,
		AccountID: accountID,
		Email:     email,
	}
}

// NewAPIKeyPrincipal API Key 主体，仅有 API 调用权限
func NewAPIKeyPrincipal(key *APIKey) *Principal {
	return &Principal{
		Kind:      CredentialAPIKey,
		Scope:     ScopeAPI,
		AccountID: key.AccountID,
		KeyID:     key.ID,
	}
}

// Can 判断主体是否满足所需权限范围
func (p *Principal) Can(required Scope) bool {
	if p == nil {
		return false
	}
	return p.Scope == required
}

// RateLimitKey 限流维度：API Key 按密钥，会话按账户
func (p *Principal) RateLimitKey() string {
	if p.Kind == CredentialAPIKey {
		return "key:" + p.KeyID
	}
	return "account:" + p.AccountID
}
