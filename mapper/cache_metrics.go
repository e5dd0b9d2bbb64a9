package mapper

import (
	"github.com/prometheus/client_golang/prometheus"
)

// cacheMetrics holds Prometheus metrics for the mapping cache.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions *prometheus.CounterVec
	entries   prometheus.Gauge
}

// newCacheMetrics creates and registers cache metrics with the provided
// registerer.
func newCacheMetrics(reg prometheus.Registerer) (*cacheMetrics, error) {
	m := &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "adaptive_alerting",
			Subsystem: "mapping_cache",
			Name:      "hits_total",
			Help:      "Total number of mapping cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "adaptive_alerting",
			Subsystem: "mapping_cache",
			Name:      "misses_total",
			Help:      "Total number of mapping cache misses",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adaptive_alerting",
			Subsystem: "mapping_cache",
			Name:      "evictions_total",
			Help:      "Total number of cache entries evicted by sync reconciliation",
		}, []string{"reason"}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "adaptive_alerting",
			Subsystem: "mapping_cache",
			Name:      "entries",
			Help:      "Current number of entries in the mapping cache",
		}),
	}

	for _, collector := range []prometheus.Collector{m.hits, m.misses, m.evictions, m.entries} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}
