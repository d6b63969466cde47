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
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveOperation("retire", "success", time.Second)
	m.ObserveOperation("retire", "PartialRetirementFailure", time.Second)
	m.ObserveOperation("retire", "success", time.Second)
	m.PollAttempt()
	m.PollAttempt()
	m.Orphaned(2)
	m.Orphaned(0)
	m.ConnectRetry()
	m.Retired("released")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("retire", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("retire", "PartialRetirementFailure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pollAttempts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.orphaned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retired.WithLabelValues("released")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("allocate", "success", time.Second)
	m.PollAttempt()
	m.ObservePollWait("converged", time.Second)
	m.Orphaned(1)
	m.ConnectRetry()
	m.Retired("failed")
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObservePollWait("converged", 3*time.Second)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	count, err := testutil.GatherAndCount(m.Registry(), "floater_allocation_poll_wait_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	err = testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP floater_connect_retries_total Control-plane connections retried over secure transport after a transient failure.
# TYPE floater_connect_retries_total counter
floater_connect_retries_total 0
`), "floater_connect_retries_total")
	assert.NoError(t, err)
}
