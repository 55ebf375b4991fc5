package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	t.Run("cache_evictions_accumulate", func(t *testing.T) {
		before := testutil.ToFloat64(CacheEvictionsTotal)
		CacheEvictionsTotal.Add(3)
		assert.Equal(t, before+3, testutil.ToFloat64(CacheEvictionsTotal))
	})

	t.Run("firehose_events_by_operation", func(t *testing.T) {
		c := FirehoseEventsTotal.WithLabelValues("create")
		before := testutil.ToFloat64(c)
		c.Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(c))
	})

	t.Run("reconcile_outcomes_are_independent", func(t *testing.T) {
		ok := ReconcileDeletesTotal.WithLabelValues("deleted")
		failed := ReconcileDeletesTotal.WithLabelValues("failed")
		beforeFailed := testutil.ToFloat64(failed)

		ok.Inc()

		assert.Equal(t, beforeFailed, testutil.ToFloat64(failed))
	})
}

func TestGauges(t *testing.T) {
	CacheEntries.Set(20)
	assert.Equal(t, float64(20), testutil.ToFloat64(CacheEntries))

	FirehoseConnected.Set(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(FirehoseConnected))
	FirehoseConnected.Set(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(FirehoseConnected))
}

func TestHTTPRequestDuration_AcceptsLabels(t *testing.T) {
	assert.NotPanics(t, func() {
		HTTPRequestDuration.WithLabelValues("GET", "/api/feed", "200").Observe(0.05)
		HTTPRequestsTotal.WithLabelValues("POST", "/api/message", "201").Inc()
	})
}
