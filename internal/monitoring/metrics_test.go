package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_IndependentRegistries(t *testing.T) {
	// 每个实例使用独立 registry，重复创建不会 panic
	first := NewMetrics()
	second := NewMetrics()

	first.RecordAPIKeyCreated()
	assert.Equal(t, 1.0, testutil.ToFloat64(first.APIKeysCreated))
	assert.Equal(t, 0.0, testutil.ToFloat64(second.APIKeysCreated))
}

func TestMetrics_Recorders(t *testing.T) {
	m := NewMetrics()

	m.RecordAuthAttempt("api_key", OutcomeSuccess)
	m.RecordAuthAttempt("api_key", OutcomeRejected)
	m.RecordAuthAttempt("api_key", OutcomeRejected)
	m.RecordUsageEvent(30)
	m.RecordUsageEvent(4)
	m.RecordTouchDropped()
	m.RecordAPIKeyRevoked()
	m.RecordHTTPRequest("GET", "/v1/dashboard", "200", 15*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuthAttempts.WithLabelValues("api_key", OutcomeRejected)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UsageEvents))
	assert.Equal(t, 34.0, testutil.ToFloat64(m.UsageCredits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TouchDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIKeysRevoked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/dashboard", "200")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAPIKeyCreated()
		m.RecordAuthAttempt("session", OutcomeError)
		m.RecordTouchFailure()
		m.RecordPanic()
	})
}

func TestMetrics_HTTPHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordAPIKeyCreated()

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bigapi_api_keys_created_total 1")
}
