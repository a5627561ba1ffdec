package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/storage/memory"
)

// 完整流程：创建密钥、记录用量、查看仪表盘、吊销
func TestKeyLifecycleAndDashboard(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.CreateAccount(ctx, &domain.Account{ID: "A", Credits: 1000, Plan: domain.PlanPro}))

	keys := NewAPIKeyService(store, newTestCodec(t), nil)
	usage := NewUsageService(store, 0, nil)
	dashboard := NewDashboardService(store, usage, 0)

	key, raw, err := keys.Create(ctx, "A", "prod")
	require.NoError(t, err)
	assert.True(t, key.IsActive)

	list, err := keys.List(ctx, "A")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "prod", list[0].Name)
	assert.True(t, list[0].IsActive)
	assert.Nil(t, list[0].LastUsedAt)

	base := time.Now().Add(-time.Hour)
	require.NoError(t, usage.Append(ctx, &domain.UsageEvent{AccountID: "A", APIKeyID: key.ID, Timestamp: base, CreditsUsed: 30, ProvidersUsed: []string{"dalle"}, SuccessCount: 3, RequestedCount: 4}))

	view, err := dashboard.BuildView(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(3), view.TotalImagesGenerated)
	assert.Equal(t, 75.0, view.SuccessRate)

	require.NoError(t, usage.Append(ctx, &domain.UsageEvent{AccountID: "A", APIKeyID: key.ID, Timestamp: base.Add(time.Minute), CreditsUsed: 45, ProvidersUsed: []string{"flux-kontext"}, SuccessCount: 4, RequestedCount: 4}))

	view, err = dashboard.BuildView(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), view.Credits)
	assert.Equal(t, int64(2), view.TotalAPICalls)
	assert.Equal(t, int64(7), view.TotalImagesGenerated)
	assert.Equal(t, int64(75), view.TotalCreditsUsed)
	assert.Equal(t, 87.5, view.SuccessRate)
	require.Len(t, view.RecentActivity, 2)
	assert.Equal(t, int64(45), view.RecentActivity[0].CreditsUsed)

	require.NoError(t, keys.Revoke(ctx, "A", key.ID))

	_, err = keys.FindBySecret(ctx, raw)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err = keys.List(ctx, "A")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].IsActive)
}
