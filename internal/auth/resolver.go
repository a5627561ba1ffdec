package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	jwtpkg "bigapi/backend/internal/auth/jwt"
	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/logger"
	"bigapi/backend/internal/monitoring"
)

// SessionVerifier 验证身份服务签发的会话令牌
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (*jwtpkg.Identity, error)
}

// KeyFinder 根据原始密钥查找可用的API Key
type KeyFinder interface {
	FindBySecret(ctx context.Context, raw string) (*domain.APIKey, error)
}

// KeyRecognizer 判断令牌是否为本系统签发的API Key格式
type KeyRecognizer interface {
	LooksLikeKey(token string) bool
}

// TouchScheduler 异步记录密钥使用时间
type TouchScheduler interface {
	Schedule(keyID string, at time.Time) bool
}

// Resolver 将 Authorization 头解析为调用主体
//
// 所有凭证问题统一返回 domain.ErrUnauthorized，不区分缺失、过期、吊销等原因；
// 存储或身份服务不可用时返回 domain.ErrUpstream。
type Resolver struct {
	sessions SessionVerifier
	keys     KeyFinder
	codec    KeyRecognizer
	toucher  TouchScheduler
	log      *zap.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// NewResolver 创建主体解析器
func NewResolver(sessions SessionVerifier, keys KeyFinder, codec KeyRecognizer, toucher TouchScheduler, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		sessions: sessions,
		keys:     keys,
		codec:    codec,
		toucher:  toucher,
		log:      log,
		now:      time.Now,
	}
}

// SetMetrics 设置监控指标
func (r *Resolver) SetMetrics(metrics *monitoring.Metrics) {
	r.metrics = metrics
}

// Resolve 解析 Authorization 头
//
// 参数:
//   - header: 原始 Authorization 头，形如 "Bearer <token>"
//
// 返回值:
//   - *domain.Principal: 会话主体或API Key主体
//   - error: ErrUnauthorized 或 ErrUpstream
func (r *Resolver) Resolve(ctx context.Context, header string) (*domain.Principal, error) {
	token, ok := ExtractBearer(header)
	if !ok {
		r.metrics.RecordAuthAttempt("none", monitoring.OutcomeRejected)
		return nil, domain.ErrUnauthorized
	}

	if r.codec.LooksLikeKey(token) {
		return r.resolveKey(ctx, token)
	}
	return r.resolveSession(ctx, token)
}

func (r *Resolver) resolveKey(ctx context.Context, raw string) (*domain.Principal, error) {
	kind := string(domain.CredentialAPIKey)

	key, err := r.keys.FindBySecret(ctx, raw)
	if err != nil {
		if errors.Is(err, domain.ErrUpstream) {
			r.metrics.RecordAuthAttempt(kind, monitoring.OutcomeError)
			r.log.Error("api key lookup failed", zap.Error(err))
			return nil, err
		}
		r.metrics.RecordAuthAttempt(kind, monitoring.OutcomeRejected)
		return nil, domain.ErrUnauthorized
	}

	if r.toucher != nil {
		r.toucher.Schedule(key.ID, r.now())
	}
	r.metrics.RecordAuthAttempt(kind, monitoring.OutcomeSuccess)
	r.log.Debug("api key authenticated", logger.KeyID(key.ID), logger.KeyPreview(key.Preview))
	return domain.NewAPIKeyPrincipal(key), nil
}

func (r *Resolver) resolveSession(ctx context.Context, token string) (*domain.Principal, error) {
	kind := string(domain.CredentialSession)

	identity, err := r.sessions.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrUpstream) {
			r.metrics.RecordAuthAttempt(kind, monitoring.OutcomeError)
			r.log.Error("session verification unavailable", zap.Error(err))
			return nil, err
		}
		r.metrics.RecordAuthAttempt(kind, monitoring.OutcomeRejected)
		return nil, domain.ErrUnauthorized
	}

	r.metrics.RecordAuthAttempt(kind, monitoring.OutcomeSuccess)
	return domain.NewSessionPrincipal(identity.AccountID, identity.Email), nil
}

// ExtractBearer 从 Authorization 头中取出令牌
//
// 方案名大小写不敏感，令牌本身不能包含空白。
func ExtractBearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	if token == "" || strings.ContainsAny(token, " \t\r\n") {
		return "", false
	}
	return token, true
}
