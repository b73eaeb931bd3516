package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisalay/tiercache/metrics"
)

func TestPerKeyStats(t *testing.T) {
	tr := metrics.NewTracker()
	tr.Hit("api:a", 10*time.Millisecond)
	tr.Hit("api:a", 20*time.Millisecond)
	tr.Miss("api:a", 30*time.Millisecond)
	tr.Miss("content:b", time.Millisecond)

	ks, ok := tr.Key("api:a")
	require.True(t, ok)
	assert.Equal(t, int64(2), ks.Hits)
	assert.Equal(t, int64(1), ks.Misses)
	assert.InDelta(t, 2.0/3.0, ks.HitRate, 1e-9)
	assert.Equal(t, 20*time.Millisecond, ks.AvgResponseTime)

	_, ok = tr.Key("api:none")
	assert.False(t, ok)
	assert.Equal(t, []string{"api:a", "content:b"}, tr.Keys())

	s := tr.Stats()
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(2), s.Misses)
	assert.InDelta(t, 0.5, s.HitRate, 1e-9)
	assert.Equal(t, 2, s.Keys)
	assert.Equal(t, 61*time.Millisecond/4, s.AvgResponseTime)
}

func TestWindowIsBounded(t *testing.T) {
	tr := metrics.NewTracker(metrics.WithWindow(3))
	for _, ms := range []int{100, 100, 100, 1, 2, 3} {
		tr.Hit("k", time.Duration(ms)*time.Millisecond)
	}
	ks, _ := tr.Key("k")
	assert.Equal(t, 3, ks.Samples)
	assert.Equal(t, 2*time.Millisecond, ks.AvgResponseTime)
	assert.Equal(t, int64(6), ks.Hits)
}

func TestMaintenanceCountersAndReset(t *testing.T) {
	tr := metrics.NewTracker()
	tr.Eviction("content:a", 100)
	tr.Eviction("content:b", 50)
	tr.Expire("api:c")
	tr.Corrupt("api:d")
	tr.Refresh("content:e", nil)
	tr.Refresh("content:e", errors.New("boom"))

	s := tr.Stats()
	assert.Equal(t, int64(2), s.Evictions)
	assert.Equal(t, int64(150), s.EvictedBytes)
	assert.Equal(t, int64(1), s.Expirations)
	assert.Equal(t, int64(1), s.CorruptEntries)
	assert.Equal(t, int64(2), s.Refreshes)
	assert.Equal(t, int64(1), s.RefreshFailures)

	tr.Hit("x", time.Millisecond)
	tr.Reset()
	assert.Equal(t, metrics.Stats{}, tr.Stats())
}

func TestPrometheusExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	exp, err := metrics.NewExporter("tiercache", reg)
	require.NoError(t, err)
	tr := metrics.NewTracker(metrics.WithExporter(exp))

	tr.Hit("api:a", time.Millisecond)
	tr.Hit("api:b", time.Millisecond)
	tr.Miss("content:c", time.Millisecond)
	tr.Eviction("content:c", 42)
	tr.Refresh("content:c", errors.New("x"))

	assert.Equal(t, 2.0, testutil.ToFloat64(exp.Hits.WithLabelValues("api")))
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.Misses.WithLabelValues("content")))
	assert.Equal(t, 42.0, testutil.ToFloat64(exp.EvictedBytes.WithLabelValues("content")))
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.Refreshes.WithLabelValues("content", "error")))

	_, err = metrics.NewExporter("tiercache", reg)
	assert.Error(t, err)
}
