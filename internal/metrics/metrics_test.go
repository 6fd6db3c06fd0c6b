package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.PublishOutcome("offer", false)
	m.PublishOutcome("offer", false)
	m.PublishOutcome("publish", true)
	m.TokenRefreshed("success")
	m.TokenRefreshed("invalid_grant")
	m.ApplicationTokenIssued("success")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.publishOutcomes.WithLabelValues("offer", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishOutcomes.WithLabelValues("complete", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenRefreshes.WithLabelValues("invalid_grant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.applicationTokens.WithLabelValues("success")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.TokenRefreshed("success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ebay_token_refresh_total{result="success"} 1`)
}
