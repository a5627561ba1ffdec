package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken 无效的令牌
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken 令牌已过期
	ErrExpiredToken = errors.New("token expired")
)

// leeway 允许的时钟偏差
const leeway = 30 * time.Second

// Claims 身份服务会话令牌声明，sub 为账户ID
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Identity 验证通过的会话身份
type Identity struct {
	AccountID string
	Email     string
}

// Manager 会话令牌管理器
//
// 验证身份服务签发的 HS256 会话令牌；Issue 仅用于本地开发与演示。
type Manager struct {
	secret   []byte
	issuer   string
	audience string
	expiry   time.Duration
	parser   *jwt.Parser
}

// NewManager 创建会话令牌管理器
//
// 参数:
//   - secret: 身份服务共享签名密钥
//   - issuer: 期望的 iss，为空时不校验
//   - audience: 期望的 aud，为空时不校验
//   - expiry: Issue 签发令牌的有效期
func NewManager(secret, issuer, audience string, expiry time.Duration) *Manager {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	if expiry <= 0 {
		expiry = time.Hour
	}

	return &Manager{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		expiry:   expiry,
		parser:   jwt.NewParser(opts...),
	}
}

// Verify 验证会话令牌并返回身份
func (m *Manager) Verify(_ context.Context, tokenString string) (*Identity, error) {
	claims := &Claims{}
	token, err := m.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{AccountID: claims.Subject, Email: claims.Email}, nil
}

// Issue 签发会话令牌
//
// 参数:
//   - accountID: 写入 sub
//   - email: 用户邮箱
//
// 返回值:
//   - string: 已签名令牌
//   - error: 错误信息
func (m *Manager) Issue(accountID, email string) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   accountID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}
