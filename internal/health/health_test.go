package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthChecker_Ready(t *testing.T) {
	hc := NewHealthChecker(PingFunc(func(context.Context) error { return nil }), nil)

	rec := httptest.NewRecorder()
	hc.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	hc.LiveHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthChecker_DependencyDown(t *testing.T) {
	hc := NewHealthChecker(PingFunc(func(context.Context) error { return nil }), nil)
	hc.AddDependency("redis", PingFunc(func(context.Context) error { return errors.New("connection refused") }))

	rec := httptest.NewRecorder()
	hc.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// 依赖故障不影响存活检查
	rec = httptest.NewRecorder()
	hc.LiveHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	results := hc.CheckHealth(context.Background())
	assert.Equal(t, "OK", results["store"])
	assert.Contains(t, results["redis"], "ERROR")
}
