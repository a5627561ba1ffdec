package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/logger"
	"bigapi/backend/internal/storage"
)

// AccountService 账户服务。余额由计费系统写入，这里只负责首次登录时的账户创建。
type AccountService struct {
	store          storage.AccountRepository
	initialCredits int64
	log            *zap.Logger
	now            func() time.Time
}

// NewAccountService 创建账户服务
func NewAccountService(store storage.AccountRepository, initialCredits int64, log *zap.Logger) *AccountService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountService{
		store:          store,
		initialCredits: initialCredits,
		log:            log,
		now:            time.Now,
	}
}

// Get 读取账户
func (s *AccountService) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	account, err := retryOnce(ctx, func(ctx context.Context) (*domain.Account, error) {
		return s.store.GetAccount(ctx, accountID)
	})
	if err != nil {
		return nil, wrapStorageError("get account", err)
	}
	return account, nil
}

// Ensure 确保账户存在，不存在时按初始积分创建
//
// 参数:
//   - accountID: 身份服务中的用户标识
//   - email: 用户邮箱，仅用于展示
//
// 返回值:
//   - *domain.Account: 已存在或新建的账户
//   - error: 错误信息
func (s *AccountService) Ensure(ctx context.Context, accountID, email string) (*domain.Account, error) {
	if err := domain.ValidateAccountID(accountID); err != nil {
		return nil, err
	}

	account, err := s.Get(ctx, accountID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	account = &domain.Account{
		ID:        accountID,
		Email:     email,
		Credits:   s.initialCredits,
		Plan:      domain.PlanFree,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, storage.ErrAccountExists) {
			// 并发首次登录，以已写入的记录为准
			return s.Get(ctx, accountID)
		}
		return nil, domain.Upstream("create account", err)
	}

	s.log.Info("account provisioned", logger.AccountID(accountID), zap.Int64("credits", account.Credits))
	return account, nil
}
