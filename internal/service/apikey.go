package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/logger"
	"bigapi/backend/internal/monitoring"
	"bigapi/backend/internal/secret"
	"bigapi/backend/internal/storage"
)

// maxCreateAttempts 摘要冲突时的最大生成次数
const maxCreateAttempts = 3

// APIKeyService API Key业务逻辑服务
type APIKeyService struct {
	store   storage.APIKeyRepository
	codec   *secret.Codec
	log     *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

// NewAPIKeyService 创建API Key服务
func NewAPIKeyService(store storage.APIKeyRepository, codec *secret.Codec, log *zap.Logger) *APIKeyService {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIKeyService{
		store: store,
		codec: codec,
		log:   log,
		now:   time.Now,
	}
}

// SetMetrics 设置监控指标
func (s *APIKeyService) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// Create 为账户签发新的API Key
//
// 参数:
//   - accountID: 所属账户
//   - name: 密钥名称（去除首尾空白后 1..100 字符）
//
// 返回值:
//   - *domain.APIKey: 已保存的记录（不含原始密钥）
//   - string: 原始密钥，仅此一次返回
//   - error: ErrValidation / ErrConflict / ErrUpstream
func (s *APIKeyService) Create(ctx context.Context, accountID, name string) (*domain.APIKey, string, error) {
	if err := domain.ValidateAccountID(accountID); err != nil {
		return nil, "", err
	}
	name, err := domain.ValidateAPIKeyName(name)
	if err != nil {
		return nil, "", err
	}

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		raw, err := s.codec.Generate()
		if err != nil {
			return nil, "", domain.Upstream("generate api key", err)
		}

		key := &domain.APIKey{
			ID:         uuid.NewString(),
			AccountID:  accountID,
			Name:       name,
			SecretHash: s.codec.Hash(raw),
			Preview:    s.codec.Preview(raw),
			IsActive:   true,
			CreatedAt:  s.now().UTC(),
		}

		err = s.store.CreateAPIKey(ctx, key)
		if err == nil {
			s.metrics.RecordAPIKeyCreated()
			s.log.Info("api key created",
				logger.AccountID(accountID),
				logger.KeyID(key.ID),
				logger.KeyPreview(key.Preview),
			)
			return key, raw, nil
		}
		if !errors.Is(err, storage.ErrDuplicateSecretHash) {
			return nil, "", domain.Upstream("create api key", err)
		}
		s.log.Warn("api key hash collision, regenerating", zap.Int("attempt", attempt))
	}

	return nil, "", fmt.Errorf("%w: could not allocate a unique api key", domain.ErrConflict)
}

// List 列出账户的所有API Key（含已吊销），按创建时间倒序
//
// 参数:
//   - accountID: 账户ID
//
// 返回值:
//   - []*domain.APIKey: API Key列表，没有时为空切片
//   - error: 错误信息
func (s *APIKeyService) List(ctx context.Context, accountID string) ([]*domain.APIKey, error) {
	keys, err := s.store.ListAPIKeysByAccount(ctx, accountID)
	if err != nil {
		return nil, domain.Upstream("list api keys", err)
	}
	if keys == nil {
		keys = []*domain.APIKey{}
	}
	return keys, nil
}

// Get 获取账户名下的单个API Key
//
// 不存在与不属于该账户返回同一个 ErrNotFound。
func (s *APIKeyService) Get(ctx context.Context, accountID, keyID string) (*domain.APIKey, error) {
	key, err := s.store.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, wrapStorageError("get api key", err)
	}
	if key.AccountID != accountID {
		return nil, domain.ErrNotFound
	}
	return key, nil
}

// FindBySecret 根据原始密钥查找可用的API Key
//
// 参数:
//   - raw: 调用方出示的原始密钥
//
// 返回值:
//   - *domain.APIKey: 处于启用状态的记录
//   - error: 未知或已吊销返回 ErrNotFound，存储故障返回 ErrUpstream
func (s *APIKeyService) FindBySecret(ctx context.Context, raw string) (*domain.APIKey, error) {
	hash := s.codec.Hash(raw)

	key, err := retryOnce(ctx, func(ctx context.Context) (*domain.APIKey, error) {
		return s.store.GetAPIKeyBySecretHash(ctx, hash)
	})
	if err != nil {
		return nil, wrapStorageError("find api key", err)
	}
	if !secret.Equal(key.SecretHash, hash) || !key.IsActive {
		return nil, domain.ErrNotFound
	}
	return key, nil
}

// Revoke 吊销账户名下的API Key，重复吊销视为成功
//
// 参数:
//   - accountID: 调用者账户
//   - keyID: 目标密钥
//
// 返回值:
//   - error: 不存在或不属于调用者时返回 ErrNotFound
func (s *APIKeyService) Revoke(ctx context.Context, accountID, keyID string) error {
	key, err := s.Get(ctx, accountID, keyID)
	if err != nil {
		return err
	}

	if err := s.store.RevokeAPIKey(ctx, key.ID, s.now().UTC()); err != nil {
		return wrapStorageError("revoke api key", err)
	}

	if key.IsActive {
		s.metrics.RecordAPIKeyRevoked()
		s.log.Info("api key revoked",
			logger.AccountID(accountID),
			logger.KeyID(key.ID),
			logger.KeyPreview(key.Preview),
		)
	}
	return nil
}

// TouchLastUsed 记录密钥最后使用时间
func (s *APIKeyService) TouchLastUsed(ctx context.Context, keyID string, at time.Time) error {
	return wrapStorageError("touch api key", s.store.TouchAPIKeyLastUsed(ctx, keyID, at.UTC()))
}
