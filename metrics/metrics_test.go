package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	require.NotNil(t, fetchesTotal)
	require.NotNil(t, poolsActive)
	require.NotNil(t, httpRequestsTotal)

	ObserveFetch("default", "ok", 2, 3*time.Second)
	ObserveFetch("default", "FETCH_TIMEOUT", 0, 30*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(fetchesTotal.WithLabelValues("default", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(fetchesTotal.WithLabelValues("default", "FETCH_TIMEOUT")))

	PoolStarted()
	PoolStarted()
	PoolTornDown()
	assert.Equal(t, 1.0, testutil.ToFloat64(poolsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(poolTeardownsTotal))

	ObserveHTTPRequest("POST", "/api/v1/fetch", 200, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "200")))
}
