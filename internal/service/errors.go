package service

import (
	"context"
	"errors"

	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/storage"
)

// wrapStorageError 将存储层错误转换为业务错误
func wrapStorageError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return domain.ErrNotFound
	default:
		return domain.Upstream(op, err)
	}
}

// retryOnce 幂等读操作遇到基础设施错误时重试一次
func retryOnce[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	result, err := fn(ctx)
	if err == nil || errors.Is(err, storage.ErrNotFound) || ctx.Err() != nil {
		return result, err
	}
	return fn(ctx)
}
