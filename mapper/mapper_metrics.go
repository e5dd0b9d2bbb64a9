package mapper

import (
	"github.com/prometheus/client_golang/prometheus"
)

// mapperMetrics holds Prometheus metrics for the mapper orchestrator.
type mapperMetrics struct {
	errorsTotal   prometheus.Counter
	syncCycles    prometheus.Counter
	lookupLatency prometheus.Histogram
}

func newMapperMetrics(reg prometheus.Registerer) (*mapperMetrics, error) {
	m := &mapperMetrics{
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "adaptive_alerting",
			Subsystem: "mapper",
			Name:      "errors_total",
			Help:      "Total number of backend lookup and sync reconciliation errors",
		}),
		syncCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "adaptive_alerting",
			Subsystem: "mapper",
			Name:      "sync_cycles_total",
			Help:      "Total number of completed cache sync cycles",
		}),
		lookupLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "adaptive_alerting",
			Subsystem: "mapper",
			Name:      "lookup_latency_seconds",
			Help:      "Backend batch lookup latency as reported by the mapping service",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, collector := range []prometheus.Collector{m.errorsTotal, m.syncCycles, m.lookupLatency} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}
