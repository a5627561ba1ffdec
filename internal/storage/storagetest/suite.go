// Package storagetest 提供各存储实现共用的行为测试。
package storagetest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory 为每个子测试创建一个空存储
type Factory func(t *testing.T) storage.Store

// Run 对存储实现执行通用行为测试。
func Run(t *testing.T, newStore Factory) {
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("APIKeyLifecycle", func(t *testing.T) { testAPIKeyLifecycle(t, newStore(t)) })
	t.Run("DuplicateSecretHash", func(t *testing.T) { testDuplicateSecretHash(t, newStore(t)) })
	t.Run("KeyListingTiebreak", func(t *testing.T) { testKeyListingTiebreak(t, newStore(t)) })
	t.Run("TouchIsMonotonic", func(t *testing.T) { testTouchMonotonic(t, newStore(t)) })
	t.Run("UsageAggregation", func(t *testing.T) { testUsage(t, newStore(t)) })
	t.Run("UsageSameTimestampOrdering", func(t *testing.T) { testUsageOrdering(t, newStore(t)) })
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// NewKey 构造测试用API Key记录
func NewKey(accountID, name string, createdAt time.Time) *domain.APIKey {
	id := uuid.NewString()
	sum := sha256.Sum256([]byte(id))
	return &domain.APIKey{
		ID:         id,
		AccountID:  accountID,
		Name:       name,
		SecretHash: hex.EncodeToString(sum[:]),
		Preview:    "big_live_..." + id[:4],
		IsActive:   true,
		CreatedAt:  createdAt,
	}
}

func testAccounts(t *testing.T, store storage.Store) {
	ctx := context.Background()

	_, err := store.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	account := &domain.Account{ID: "acct-1", Email: "a@example.com", Credits: 250, Plan: domain.PlanPro, CreatedAt: base}
	require.NoError(t, store.CreateAccount(ctx, account))
	assert.ErrorIs(t, store.CreateAccount(ctx, account), storage.ErrAccountExists)

	got, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.Credits)
	assert.Equal(t, domain.PlanPro, got.Plan)
	assert.Equal(t, "a@example.com", got.Email)
}

func testAPIKeyLifecycle(t *testing.T, store storage.Store) {
	ctx := context.Background()

	first := NewKey("acct-1", "first", base)
	second := NewKey("acct-1", "second", base.Add(time.Minute))
	other := NewKey("acct-2", "other", base)
	for _, k := range []*domain.APIKey{first, second, other} {
		require.NoError(t, store.CreateAPIKey(ctx, k))
	}

	got, err := store.GetAPIKeyBySecretHash(ctx, first.SecretHash)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.LastUsedAt)

	keys, err := store.ListAPIKeysByAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, second.ID, keys[0].ID)
	assert.Equal(t, first.ID, keys[1].ID)

	revokedAt := base.Add(time.Hour)
	require.NoError(t, store.RevokeAPIKey(ctx, first.ID, revokedAt))
	require.NoError(t, store.RevokeAPIKey(ctx, first.ID, revokedAt.Add(time.Hour)))

	got, err = store.GetAPIKey(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.RevokedAt)
	assert.True(t, got.RevokedAt.Equal(revokedAt))

	// 吊销后记录仍然可见
	keys, err = store.ListAPIKeysByAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	assert.ErrorIs(t, store.RevokeAPIKey(ctx, "missing", revokedAt), storage.ErrNotFound)
	_, err = store.GetAPIKey(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetAPIKeyBySecretHash(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	keys, err = store.ListAPIKeysByAccount(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func testDuplicateSecretHash(t *testing.T, store storage.Store) {
	ctx := context.Background()

	first := NewKey("acct-1", "first", base)
	require.NoError(t, store.CreateAPIKey(ctx, first))

	dup := NewKey("acct-1", "dup", base)
	dup.SecretHash = first.SecretHash
	assert.ErrorIs(t, store.CreateAPIKey(ctx, dup), storage.ErrDuplicateSecretHash)

	_, err := store.GetAPIKey(ctx, dup.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testKeyListingTiebreak(t *testing.T, store storage.Store) {
	ctx := context.Background()

	for _, id := range []string{"key-b", "key-c", "key-a"} {
		key := NewKey("acct-1", id, base)
		key.ID = id
		require.NoError(t, store.CreateAPIKey(ctx, key))
	}
	newest := NewKey("acct-1", "newest", base.Add(time.Second))
	require.NoError(t, store.CreateAPIKey(ctx, newest))

	list, err := store.ListAPIKeysByAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, list, 4)

	ids := make([]string, 0, len(list))
	for _, key := range list {
		ids = append(ids, key.ID)
	}
	assert.Equal(t, []string{newest.ID, "key-c", "key-b", "key-a"}, ids)
}

func testTouchMonotonic(t *testing.T, store storage.Store) {
	ctx := context.Background()

	key := NewKey("acct-1", "touch", base)
	require.NoError(t, store.CreateAPIKey(ctx, key))

	later := base.Add(2 * time.Hour)
	require.NoError(t, store.TouchAPIKeyLastUsed(ctx, key.ID, later))
	require.NoError(t, store.TouchAPIKeyLastUsed(ctx, key.ID, base.Add(time.Hour)))

	got, err := store.GetAPIKey(ctx, key.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, got.LastUsedAt.Equal(later))

	assert.ErrorIs(t, store.TouchAPIKeyLastUsed(ctx, "missing", later), storage.ErrNotFound)
}

func testUsage(t *testing.T, store storage.Store) {
	ctx := context.Background()

	events := []*domain.UsageEvent{
		{ID: uuid.NewString(), AccountID: "acct-1", Timestamp: base.Add(-48 * time.Hour), CreditsUsed: 7, ProvidersUsed: []string{"old"}, SuccessCount: 1, RequestedCount: 1},
		{ID: uuid.NewString(), AccountID: "acct-1", Timestamp: base.Add(-2 * time.Hour), CreditsUsed: 10, ProvidersUsed: []string{"dalle"}, SuccessCount: 3, RequestedCount: 3},
		{ID: uuid.NewString(), AccountID: "acct-1", Timestamp: base.Add(-1 * time.Hour), CreditsUsed: 8, ProvidersUsed: []string{"flux-kontext", "gemini"}, SuccessCount: 2, RequestedCount: 3},
		{ID: uuid.NewString(), AccountID: "acct-2", Timestamp: base.Add(-1 * time.Hour), CreditsUsed: 99, ProvidersUsed: []string{"dalle"}, SuccessCount: 1, RequestedCount: 1},
	}
	for _, e := range events {
		require.NoError(t, store.AppendUsageEvent(ctx, e))
		assert.NotZero(t, e.Sequence)
	}

	all, err := store.SumUsage(ctx, "acct-1", domain.Window{})
	require.NoError(t, err)
	assert.Equal(t, domain.UsageTotals{Calls: 3, SuccessCount: 6, RequestedCount: 7, CreditsUsed: 25}, all)

	window := domain.LastDuration(base, 24*time.Hour)
	recent, err := store.SumUsage(ctx, "acct-1", window)
	require.NoError(t, err)
	assert.Equal(t, domain.UsageTotals{Calls: 2, SuccessCount: 5, RequestedCount: 6, CreditsUsed: 18}, recent)

	list, err := store.RecentUsage(ctx, "acct-1", window, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []string{"flux-kontext", "gemini"}, list[0].ProvidersUsed)
	assert.Equal(t, []string{"dalle"}, list[1].ProvidersUsed)

	limited, err := store.RecentUsage(ctx, "acct-1", domain.Window{}, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, events[2].ID, limited[0].ID)

	empty, err := store.SumUsage(ctx, "nobody", domain.Window{})
	require.NoError(t, err)
	assert.Equal(t, domain.UsageTotals{}, empty)
}

func testUsageOrdering(t *testing.T, store storage.Store) {
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		e := &domain.UsageEvent{ID: uuid.NewString(), AccountID: "acct-1", Timestamp: base, CreditsUsed: int64(i), ProvidersUsed: []string{"dalle"}, SuccessCount: 1, RequestedCount: 1}
		require.NoError(t, store.AppendUsageEvent(ctx, e))
		ids = append(ids, e.ID)
	}

	list, err := store.RecentUsage(ctx, "acct-1", domain.Window{}, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)
	assert.Equal(t, ids[0], list[2].ID)
	assert.Greater(t, list[0].Sequence, list[1].Sequence)
}
