// Package secret 负责 API Key 原始密钥的生成、摘要和脱敏展示。
//
// 摘要使用由服务端 pepper 经 HKDF 派生的 HMAC 密钥。更换 pepper 会使所有已签发的
// 密钥立即失效（摘要无法再匹配），这是运维层面的风险，不是缺陷。
package secret

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// DefaultPrefix 密钥前缀，便于下游系统识别并拦截泄露的密钥
	DefaultPrefix = "big_live_"
	// entropyBytes 随机部分字节数（256 位）
	entropyBytes = 32
	// previewTail 脱敏展示保留的末尾字符数
	previewTail = 4
	// MinPepperLength pepper 最小长度
	MinPepperLength = 32

	hkdfInfo = "bigapi api-key lookup v1"
)

var (
	// ErrWeakPepper pepper 太短
	ErrWeakPepper = errors.New("api key pepper must be at least 32 characters")
	// ErrInvalidPrefix 前缀不合法
	ErrInvalidPrefix = errors.New("api key prefix must be 3-16 characters of [a-z0-9_]")
)

// bodyLength base64url(无填充) 编码 32 字节后的长度
var bodyLength = base64.RawURLEncoding.EncodedLen(entropyBytes)

// Codec 无状态的密钥编解码器，可并发使用
type Codec struct {
	prefix    string
	lookupKey []byte
	random    io.Reader
}

// NewCodec 创建编解码器
//
// 参数:
//   - prefix: 密钥前缀，为空时使用 DefaultPrefix
//   - pepper: 服务端密钥材料
//
// 返回值:
//   - *Codec: 编解码器
//   - error: 参数不合法时返回错误
func NewCodec(prefix, pepper string) (*Codec, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !validPrefix(prefix) {
		return nil, ErrInvalidPrefix
	}
	if len(pepper) < MinPepperLength {
		return nil, ErrWeakPepper
	}

	lookupKey := make([]byte, sha256.Size)
	kdf := hkdf.New(sha256.New, []byte(pepper), []byte(prefix), []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, lookupKey); err != nil {
		return nil, fmt.Errorf("derive lookup key: %w", err)
	}

	return &Codec{
		prefix:    prefix,
		lookupKey: lookupKey,
		random:    rand.Reader,
	}, nil
}

// Generate 生成新的原始密钥：前缀 + base64url(32 字节随机数)
func (c *Codec) Generate() (string, error) {
	buf := make([]byte, entropyBytes)
	if _, err := io.ReadFull(c.random, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return c.prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash 计算原始密钥的存储摘要（十六进制 HMAC-SHA256）
func (c *Codec) Hash(raw string) string {
	mac := hmac.New(sha256.New, c.lookupKey)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// Preview 生成脱敏展示片段，只保留末尾 4 个字符
func (c *Codec) Preview(raw string) string {
	body := strings.TrimPrefix(raw, c.prefix)
	if len(body) <= previewTail {
		return c.prefix + "..."
	}
	return c.prefix + "..." + body[len(body)-previewTail:]
}

// LooksLikeKey 判断令牌是否符合 API Key 格式（前缀 + 固定长度的 base64url 主体）
func (c *Codec) LooksLikeKey(token string) bool {
	if !strings.HasPrefix(token, c.prefix) {
		return false
	}
	body := token[len(c.prefix):]
	if len(body) != bodyLength {
		return false
	}
	for i := 0; i < len(body); i++ {
		if !isBase64URLChar(body[i]) {
			return false
		}
	}
	return true
}

// Equal 以常量时间比较两个摘要
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func isBase64URLChar(ch byte) bool {
	return (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '-' || ch == '_'
}

func validPrefix(prefix string) bool {
	if len(prefix) < 3 || len(prefix) > 16 {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		ch := prefix[i]
		if !((ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '_') {
			return false
		}
	}
	return true
}
