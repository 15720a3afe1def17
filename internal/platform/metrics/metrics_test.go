package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanline/api/internal/domain"
	"github.com/cleanline/api/internal/platform/observability"
	"github.com/cleanline/api/internal/services"
)

var (
	_ services.WizardMetrics        = (*Registry)(nil)
	_ observability.RequestObserver = (*Registry)(nil)
)

func TestRegistryRecordsWizardActivity(t *testing.T) {
	r := New(WithoutRuntimeMetrics())

	r.SessionStarted()
	r.SessionStarted()
	r.IntentObserved("advance", "ok", 2*time.Millisecond)
	r.IntentObserved("advance", "rejected", time.Millisecond)
	r.IntentObserved("advance", "ok", time.Millisecond)
	r.StageEntered(domain.StageItemManager)
	r.OrderCompleted("EUR", 104.9)
	r.SessionsSwept(3)
	r.SessionsSwept(0)
	r.SecretResolved("cache", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.sessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.intents.WithLabelValues("advance", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.intents.WithLabelValues("advance", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stages.WithLabelValues(string(domain.StageItemManager))))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.orders.WithLabelValues("EUR")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.sweptSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.secrets.WithLabelValues("cache")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.orderTotal))
}

func TestRegistryHandlerExposesRequests(t *testing.T) {
	r := New(WithNamespace("test"), WithoutRuntimeMetrics())
	r.ObserveRequest(http.MethodPost, "/api/v1/sessions/{sessionID}/advance", http.StatusOK, 12*time.Millisecond)
	r.ObserveRequest(http.MethodPost, "/api/v1/sessions/{sessionID}/advance", http.StatusUnprocessableEntity, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `test_http_requests_total{method="POST",route="/api/v1/sessions/{sessionID}/advance",status="422"} 1`), body)
	assert.True(t, strings.Contains(body, "test_http_request_duration_seconds_count"), body)
	assert.False(t, strings.Contains(body, "go_goroutines"), "runtime metrics should be disabled")
}

func TestRegistryIncludesRuntimeMetricsByDefault(t *testing.T) {
	r := New()
	families, err := r.Gatherer().Gather()
	require.NoError(t, err)

	var found bool
	for _, family := range families {
		if family.GetName() == "go_goroutines" {
			found = true
		}
	}
	assert.True(t, found)
}
