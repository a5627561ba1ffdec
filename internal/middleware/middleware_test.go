package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/monitoring"
	"bigapi/backend/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubResolver struct {
	principal *domain.Principal
	err       error
	headers   []string
}

func (r *stubResolver) Resolve(_ context.Context, header string) (*domain.Principal, error) {
	r.headers = append(r.headers, header)
	return r.principal, r.err
}

type stubLimiter struct {
	decision ratelimit.Decision
	err      error
	keys     []string
}

func (l *stubLimiter) Allow(_ context.Context, key string) (ratelimit.Decision, error) {
	l.keys = append(l.keys, key)
	return l.decision, l.err
}

func perform(r http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func okHandler(c *gin.Context) { c.Status(http.StatusOK) }

func TestRequirePrincipal(t *testing.T) {
	tests := []struct {
		name       string
		principal  *domain.Principal
		err        error
		wantStatus int
	}{
		{"有效凭证", domain.NewSessionPrincipal("acct-1", "a@example.com"), nil, http.StatusOK},
		{"无效凭证", nil, domain.ErrUnauthorized, http.StatusUnauthorized},
		{"依赖不可用", nil, domain.Upstream("verify", errors.New("timeout")), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &stubResolver{principal: tt.principal, err: tt.err}
			auth := NewAuthenticator(resolver, nil)

			var seen *domain.Principal
			r := gin.New()
			r.GET("/x", auth.RequirePrincipal(), func(c *gin.Context) {
				seen, _ = PrincipalFrom(c)
				c.Status(http.StatusOK)
			})

			w := perform(r, http.MethodGet, "/x", http.Header{"Authorization": {"Bearer tok"}})
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, []string{"Bearer tok"}, resolver.headers)

			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.principal, seen)
			} else {
				assert.Nil(t, seen)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
				assert.Contains(t, w.Body.String(), `"code":401`)
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	key := &domain.APIKey{ID: "key-1", AccountID: "acct-1"}

	tests := []struct {
		name       string
		principal  *domain.Principal
		scope      domain.Scope
		wantStatus int
	}{
		{"会话访问账户接口", domain.NewSessionPrincipal("acct-1", ""), domain.ScopeFullAccount, http.StatusOK},
		{"API Key 访问账户接口", domain.NewAPIKeyPrincipal(key), domain.ScopeFullAccount, http.StatusForbidden},
		{"API Key 访问调用接口", domain.NewAPIKeyPrincipal(key), domain.ScopeAPI, http.StatusOK},
		{"会话访问调用接口", domain.NewSessionPrincipal("acct-1", ""), domain.ScopeAPI, http.StatusForbidden},
		{"缺少主体", nil, domain.ScopeAPI, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/x", func(c *gin.Context) {
				if tt.principal != nil {
					SetPrincipal(c, tt.principal)
				}
			}, RequireScope(tt.scope), okHandler)

			w := perform(r, http.MethodGet, "/x", nil)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestRateLimit(t *testing.T) {
	key := &domain.APIKey{ID: "key-1", AccountID: "acct-1"}
	reset := time.Now().Add(30 * time.Second)

	newRouter := func(l ratelimit.Limiter, metrics *monitoring.Metrics) *gin.Engine {
		r := gin.New()
		r.GET("/x", func(c *gin.Context) {
			SetPrincipal(c, domain.NewAPIKeyPrincipal(key))
		}, RateLimit(l, metrics, nil), okHandler)
		return r
	}

	t.Run("放行并返回额度头", func(t *testing.T) {
		l := &stubLimiter{decision: ratelimit.Decision{Allowed: true, Limit: 10, Remaining: 9, ResetAt: reset}}
		w := perform(newRouter(l, nil), http.MethodGet, "/x", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
		assert.Equal(t, []string{"key:key-1"}, l.keys)
	})

	t.Run("超限返回429", func(t *testing.T) {
		metrics := monitoring.NewMetrics()
		l := &stubLimiter{decision: ratelimit.Decision{Allowed: false, Limit: 10, Remaining: 0, ResetAt: reset}}
		w := perform(newRouter(l, metrics), http.MethodGet, "/x", nil)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
	})

	t.Run("限流存储不可用时放行", func(t *testing.T) {
		l := &stubLimiter{err: domain.Upstream("incr", errors.New("down"))}
		w := perform(newRouter(l, nil), http.MethodGet, "/x", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("未认证请求不计数", func(t *testing.T) {
		l := &stubLimiter{}
		r := gin.New()
		r.GET("/x", RateLimit(l, nil, nil), okHandler)

		w := perform(r, http.MethodGet, "/x", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, l.keys)
	})
}

func TestPanicRecovery(t *testing.T) {
	metrics := monitoring.NewMetrics()
	mm := NewMonitoringMiddleware(metrics, nil)

	r := gin.New()
	r.Use(mm.PanicRecovery(), mm.HTTPMetrics())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := perform(r, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":500`)
}

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders())
	r.GET("/x", okHandler)

	w := perform(r, http.MethodGet, "/x", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestRequestSizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(RequestSizeLimit(8))
	r.POST("/x", okHandler)

	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"name":"too long"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestValidateContentType(t *testing.T) {
	r := gin.New()
	r.Use(ValidateContentType("application/json"))
	r.POST("/x", okHandler)

	send := func(contentType string) int {
		req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{}`))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusOK, send("application/json; charset=utf-8"))
	assert.Equal(t, http.StatusBadRequest, send(""))
	assert.Equal(t, http.StatusUnsupportedMediaType, send("text/plain"))
}
