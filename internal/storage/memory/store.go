package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/storage"
)

// Store 使用内存保存账户、API Key 与用量数据，主要用于开发验证和测试。
type Store struct {
	mu         sync.RWMutex
	accounts   map[string]*domain.Account
	apiKeys    map[string]*domain.APIKey // apiKeyID -> apiKey
	byHash     map[string]string         // secretHash -> apiKeyID
	keysByUser map[string][]string       // accountID -> apiKeyIDs，按插入顺序
	usage      map[string][]*domain.UsageEvent
	sequence   int64
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		accounts:   make(map[string]*domain.Account),
		apiKeys:    make(map[string]*domain.APIKey),
		byHash:     make(map[string]string),
		keysByUser: make(map[string][]string),
		usage:      make(map[string][]*domain.UsageEvent),
	}
}

// CreateAccount 保存账户。
func (s *Store) CreateAccount(_ context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		return storage.ErrAccountExists
	}
	clone := *account
	s.accounts[account.ID] = &clone
	return nil
}

// GetAccount 根据ID获取账户。
func (s *Store) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *account
	return &clone, nil
}

// SetCredits 修改账户余额，模拟外部计费系统写入。
func (s *Store) SetCredits(id string, credits int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return storage.ErrNotFound
	}
	account.Credits = credits
	return nil
}

// CreateAPIKey 保存API Key，摘要重复时返回 ErrDuplicateSecretHash。
func (s *Store) CreateAPIKey(_ context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHash[key.SecretHash]; exists {
		return storage.ErrDuplicateSecretHash
	}
	if _, exists := s.apiKeys[key.ID]; exists {
		return storage.ErrDuplicateSecretHash
	}

	s.apiKeys[key.ID] = cloneKey(key)
	s.byHash[key.SecretHash] = key.ID
	s.keysByUser[key.AccountID] = append(s.keysByUser[key.AccountID], key.ID)
	return nil
}

// GetAPIKey 根据ID获取API Key。
func (s *Store) GetAPIKey(_ context.Context, id string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneKey(key), nil
}

// GetAPIKeyBySecretHash 根据摘要获取API Key。
func (s *Store) GetAPIKeyBySecretHash(_ context.Context, secretHash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[secretHash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneKey(s.apiKeys[id]), nil
}

// ListAPIKeysByAccount 列出账户下所有API Key，包括已吊销的，按创建时间倒序。
func (s *Store) ListAPIKeysByAccount(_ context.Context, accountID string) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.keysByUser[accountID]
	result := make([]*domain.APIKey, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		result = append(result, cloneKey(s.apiKeys[ids[i]]))
	}
	// 创建时间倒序，相同时按 ID 倒序
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// RevokeAPIKey 将API Key标记为不可用，重复吊销保持首次吊销时间。
func (s *Store) RevokeAPIKey(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return storage.ErrNotFound
	}
	key.IsActive = false
	if key.RevokedAt == nil {
		revokedAt := at
		key.RevokedAt = &revokedAt
	}
	return nil
}

// TouchAPIKeyLastUsed 更新最后使用时间，不会回退。
func (s *Store) TouchAPIKeyLastUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return storage.ErrNotFound
	}
	if key.LastUsedAt == nil || at.After(*key.LastUsedAt) {
		lastUsed := at
		key.LastUsedAt = &lastUsed
	}
	return nil
}

// AppendUsageEvent 追加用量事件并分配全局递增序号。
func (s *Store) AppendUsageEvent(_ context.Context, event *domain.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequence++
	event.Sequence = s.sequence

	clone := *event
	clone.ProvidersUsed = append([]string(nil), event.ProvidersUsed...)
	s.usage[event.AccountID] = append(s.usage[event.AccountID], &clone)
	return nil
}

// SumUsage 汇总窗口内的用量。
func (s *Store) SumUsage(_ context.Context, accountID string, window domain.Window) (domain.UsageTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var totals domain.UsageTotals
	for _, event := range s.usage[accountID] {
		if !window.Contains(event.Timestamp) {
			continue
		}
		totals.Calls++
		totals.SuccessCount += int64(event.SuccessCount)
		totals.RequestedCount += int64(event.RequestedCount)
		totals.CreditsUsed += event.CreditsUsed
	}
	return totals, nil
}

// RecentUsage 返回窗口内最近的 limit 条事件。
func (s *Store) RecentUsage(_ context.Context, accountID string, window domain.Window, limit int) ([]*domain.UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.UsageEvent
	for _, event := range s.usage[accountID] {
		if window.Contains(event.Timestamp) {
			matched = append(matched, event)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[j].Before(matched[i])
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	result := make([]*domain.UsageEvent, 0, len(matched))
	for _, event := range matched {
		clone := *event
		clone.ProvidersUsed = append([]string(nil), event.ProvidersUsed...)
		result = append(result, &clone)
	}
	return result, nil
}

// Health 内存存储始终可用。
func (s *Store) Health(context.Context) error { return nil }

// Close 内存存储无需释放资源。
func (s *Store) Close() error { return nil }

func cloneKey(key *domain.APIKey) *domain.APIKey {
	clone := *key
	if key.LastUsedAt != nil {
		t := *key.LastUsedAt
		clone.LastUsedAt = &t
	}
	if key.RevokedAt != nil {
		t := *key.RevokedAt
		clone.RevokedAt = &t
	}
	return &clone
}
