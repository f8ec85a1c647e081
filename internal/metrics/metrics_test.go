package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.RecordRequest(http.StatusOK, 20*time.Millisecond)
	m.RecordRequest(http.StatusBadRequest, time.Millisecond)
	m.RecordReport(3, decimal.RequireFromString("3255.5"))
	m.RecordRateLimited()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, `wallet_reports_total{status="200"} 1`)
	assert.Contains(t, body, `wallet_reports_total{status="400"} 1`)
	assert.Contains(t, body, "wallet_users_valued_total 3")
	assert.Contains(t, body, "wallet_last_report_total_usd 3255.5")
	assert.Contains(t, body, "wallet_rate_limited_requests_total 1")
	assert.Contains(t, body, "wallet_report_duration_seconds_count 2")
}

func TestNewInstancesAreIndependent(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
