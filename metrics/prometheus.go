package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/krisalay/tiercache/keys"
)

// Exporter holds the Prometheus metrics a Tracker mirrors its events into.
// Labels carry the key namespace, never the key itself.
type Exporter struct {
	Hits         *prometheus.CounterVec
	Misses       *prometheus.CounterVec
	ResponseTime *prometheus.HistogramVec
	Evictions    *prometheus.CounterVec
	EvictedBytes *prometheus.CounterVec
	Expirations  *prometheus.CounterVec
	Corrupt      *prometheus.CounterVec
	Refreshes    *prometheus.CounterVec
}

// NewExporter creates the metrics under namespace and registers them on reg.
func NewExporter(namespace string, reg prometheus.Registerer) (*Exporter, error) {
	e := &Exporter{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		}, []string{"namespace"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		}, []string{"namespace"}),
		ResponseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_response_seconds",
			Help:      "Cache lookup duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"namespace", "result"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of entries evicted under quota pressure",
		}, []string{"namespace"}),
		EvictedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evicted_bytes_total",
			Help:      "Total bytes freed by eviction",
		}, []string{"namespace"}),
		Expirations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_expirations_total",
			Help:      "Total number of expired entries deleted",
		}, []string{"namespace"}),
		Corrupt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_corrupt_entries_total",
			Help:      "Total number of corrupt entries deleted",
		}, []string{"namespace"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_refreshes_total",
			Help:      "Total number of background revalidations",
		}, []string{"namespace", "status"}),
	}

	for _, c := range []prometheus.Collector{
		e.Hits, e.Misses, e.ResponseTime, e.Evictions,
		e.EvictedBytes, e.Expirations, e.Corrupt, e.Refreshes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func label(key string) string {
	if ns := keys.Namespace(key); ns != "" {
		return string(ns)
	}
	return "unknown"
}

func (e *Exporter) hit(key string, elapsed time.Duration) {
	ns := label(key)
	e.Hits.WithLabelValues(ns).Inc()
	e.ResponseTime.WithLabelValues(ns, "hit").Observe(elapsed.Seconds())
}

func (e *Exporter) miss(key string, elapsed time.Duration) {
	ns := label(key)
	e.Misses.WithLabelValues(ns).Inc()
	e.ResponseTime.WithLabelValues(ns, "miss").Observe(elapsed.Seconds())
}

func (e *Exporter) eviction(key string, bytes int64) {
	ns := label(key)
	e.Evictions.WithLabelValues(ns).Inc()
	e.EvictedBytes.WithLabelValues(ns).Add(float64(bytes))
}

func (e *Exporter) expire(key string) {
	e.Expirations.WithLabelValues(label(key)).Inc()
}

func (e *Exporter) corrupt(key string) {
	e.Corrupt.WithLabelValues(label(key)).Inc()
}

func (e *Exporter) refresh(key string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.Refreshes.WithLabelValues(label(key), status).Inc()
}
