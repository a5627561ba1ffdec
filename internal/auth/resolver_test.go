package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	jwtpkg "bigapi/backend/internal/auth/jwt"
	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/monitoring"
	"bigapi/backend/internal/secret"
	"bigapi/backend/internal/service"
	"bigapi/backend/internal/storage/memory"
)

// MockSessionVerifier 模拟身份服务
type MockSessionVerifier struct {
	mock.Mock
}

func (m *MockSessionVerifier) Verify(ctx context.Context, token string) (*jwtpkg.Identity, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jwtpkg.Identity), args.Error(1)
}

// MockKeyFinder 模拟密钥查找
type MockKeyFinder struct {
	mock.Mock
}

func (m *MockKeyFinder) FindBySecret(ctx context.Context, raw string) (*domain.APIKey, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.APIKey), args.Error(1)
}

// recordingScheduler 记录被调度的更新
type recordingScheduler struct {
	keyIDs []string
}

func (r *recordingScheduler) Schedule(keyID string, _ time.Time) bool {
	r.keyIDs = append(r.keyIDs, keyID)
	return true
}

var testSecret = strings.Repeat("s", 40)

type fixture struct {
	resolver  *Resolver
	keys      *service.APIKeyService
	sessions  *jwtpkg.Manager
	scheduler *recordingScheduler
	metrics   *monitoring.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := secret.NewCodec("", strings.Repeat("pepper-", 6))
	require.NoError(t, err)

	keys := service.NewAPIKeyService(memory.NewStore(), codec, nil)
	sessions := jwtpkg.NewManager(testSecret, "", "authenticated", time.Hour)
	scheduler := &recordingScheduler{}
	metrics := monitoring.NewMetrics()

	resolver := NewResolver(sessions, keys, codec, scheduler, nil)
	resolver.SetMetrics(metrics)

	return &fixture{resolver: resolver, keys: keys, sessions: sessions, scheduler: scheduler, metrics: metrics}
}

func TestResolver_APIKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key, raw, err := f.keys.Create(ctx, "acct-1", "prod")
	require.NoError(t, err)

	principal, err := f.resolver.Resolve(ctx, "Bearer "+raw)
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialAPIKey, principal.Kind)
	assert.Equal(t, domain.ScopeAPI, principal.Scope)
	assert.Equal(t, "acct-1", principal.AccountID)
	assert.Equal(t, key.ID, principal.KeyID)
	assert.True(t, principal.Can(domain.ScopeAPI))
	assert.False(t, principal.Can(domain.ScopeFullAccount))
	assert.Equal(t, []string{key.ID}, f.scheduler.keyIDs)

	// 方案名大小写不敏感
	_, err = f.resolver.Resolve(ctx, "bearer "+raw)
	assert.NoError(t, err)

	require.NoError(t, f.keys.Revoke(ctx, "acct-1", key.ID))
	_, err = f.resolver.Resolve(ctx, "Bearer "+raw)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Len(t, f.scheduler.keyIDs, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthAttempts.WithLabelValues("api_key", monitoring.OutcomeRejected)))
}

func TestResolver_Session(t *testing.T) {
	f := newFixture(t)

	token, err := f.sessions.Issue("acct-9", "nine@example.com")
	require.NoError(t, err)

	principal, err := f.resolver.Resolve(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialSession, principal.Kind)
	assert.Equal(t, domain.ScopeFullAccount, principal.Scope)
	assert.Equal(t, "acct-9", principal.AccountID)
	assert.Equal(t, "nine@example.com", principal.Email)
	assert.Empty(t, f.scheduler.keyIDs)
}

func TestResolver_RejectionsAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expiredToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtpkg.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "acct-1",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	wrongSecret := jwtpkg.NewManager(strings.Repeat("w", 40), "", "authenticated", time.Hour)
	forgedToken, err := wrongSecret.Issue("acct-1", "")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
	}{
		{"缺失", ""},
		{"非Bearer方案", "Basic dXNlcjpwYXNz"},
		{"空令牌", "Bearer "},
		{"多个片段", "Bearer a b"},
		{"未知密钥", "Bearer big_live_" + strings.Repeat("A", 43)},
		{"格式错误会话", "Bearer garbage"},
		{"过期会话", "Bearer " + expiredToken},
		{"签名错误会话", "Bearer " + forgedToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			principal, err := f.resolver.Resolve(ctx, tc.header)
			assert.Nil(t, principal)
			assert.Equal(t, domain.ErrUnauthorized, err)
		})
	}
}

func TestResolver_UpstreamFailures(t *testing.T) {
	codec, err := secret.NewCodec("", strings.Repeat("pepper-", 6))
	require.NoError(t, err)
	ctx := context.Background()

	sessions := new(MockSessionVerifier)
	keys := new(MockKeyFinder)
	resolver := NewResolver(sessions, keys, codec, nil, nil)

	raw, err := codec.Generate()
	require.NoError(t, err)
	keys.On("FindBySecret", mock.Anything, raw).Return(nil, domain.Upstream("find api key", errors.New("db down")))

	_, err = resolver.Resolve(ctx, "Bearer "+raw)
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.NotErrorIs(t, err, domain.ErrUnauthorized)

	sessions.On("Verify", mock.Anything, "session-token").Return(nil, domain.Upstream("verify session", errors.New("idp timeout")))
	_, err = resolver.Resolve(ctx, "Bearer session-token")
	assert.ErrorIs(t, err, domain.ErrUpstream)

	sessions.On("Verify", mock.Anything, "bad-token").Return(nil, jwtpkg.ErrInvalidToken)
	_, err = resolver.Resolve(ctx, "Bearer bad-token")
	assert.Equal(t, domain.ErrUnauthorized, err)
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"BEARER abc", "abc", true},
		{"Bearer", "", false},
		{"Bearer  abc", "", false},
		{"Token abc", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		token, ok := ExtractBearer(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}
