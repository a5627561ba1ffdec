package jwt

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = strings.Repeat("s", 40)

func TestManager_IssueAndVerify(t *testing.T) {
	m := NewManager(testSecret, "bigapi-test", "authenticated", time.Hour)

	token, err := m.Issue("acct-1", "a@example.com")
	require.NoError(t, err)

	identity, err := m.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", identity.AccountID)
	assert.Equal(t, "a@example.com", identity.Email)
}

func TestManager_Rejects(t *testing.T) {
	m := NewManager(testSecret, "bigapi-test", "authenticated", time.Hour)
	ctx := context.Background()

	sign := func(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := func() Claims {
		now := time.Now()
		return Claims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "bigapi-test",
			Subject:   "acct-1",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		}}
	}

	t.Run("过期", func(t *testing.T) {
		c := valid()
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		_, err := m.Verify(ctx, sign(t, jwt.SigningMethodHS256, []byte(testSecret), c))
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("签名密钥错误", func(t *testing.T) {
		_, err := m.Verify(ctx, sign(t, jwt.SigningMethodHS256, []byte(strings.Repeat("x", 40)), valid()))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("算法不符", func(t *testing.T) {
		_, err := m.Verify(ctx, sign(t, jwt.SigningMethodHS512, []byte(testSecret), valid()))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("受众不符", func(t *testing.T) {
		c := valid()
		c.Audience = jwt.ClaimStrings{"someone-else"}
		_, err := m.Verify(ctx, sign(t, jwt.SigningMethodHS256, []byte(testSecret), c))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("签发者不符", func(t *testing.T) {
		c := valid()
		c.Issuer = "evil"
		_, err := m.Verify(ctx, sign(t, jwt.SigningMethodHS256, []byte(testSecret), c))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("缺少sub", func(t *testing.T) {
		c := valid()
		c.Subject = ""
		_, err := m.Verify(ctx, sign(t, jwt.SigningMethodHS256, []byte(testSecret), c))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("缺少过期时间", func(t *testing.T) {
		c := valid()
		c.ExpiresAt = nil
		_, err := m.Verify(ctx, sign(t, jwt.SigningMethodHS256, []byte(testSecret), c))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("格式错误", func(t *testing.T) {
		_, err := m.Verify(ctx, "not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
