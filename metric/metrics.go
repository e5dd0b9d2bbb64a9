// Package metric defines the pipeline-level Prometheus metrics for the
// mapper service. Cache- and mapper-internal metrics live with their
// components; this package covers the record flow and transport.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains pipeline-level metrics for the mapper service
type Metrics struct {
	RecordsReceived  *prometheus.CounterVec
	RecordsMapped    *prometheus.CounterVec
	RecordsPublished *prometheus.CounterVec
	RecordsDropped   *prometheus.CounterVec
	PendingMisses    prometheus.Gauge
	BatchFlushSize   prometheus.Histogram
	ErrorsTotal      *prometheus.CounterVec
	NATSConnected    prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RecordsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "adaptive_alerting",
				Subsystem: "records",
				Name:      "received_total",
				Help:      "Total number of metric records received from the stream",
			},
			[]string{"component"},
		),

		RecordsMapped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "adaptive_alerting",
				Subsystem: "records",
				Name:      "mapped_total",
				Help:      "Total number of records resolved against the mapping cache",
			},
			[]string{"component", "result"},
		),

		RecordsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "adaptive_alerting",
				Subsystem: "records",
				Name:      "published_total",
				Help:      "Total number of mapped records published downstream",
			},
			[]string{"component"},
		),

		RecordsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "adaptive_alerting",
				Subsystem: "records",
				Name:      "dropped_total",
				Help:      "Total number of records dropped (pending-miss overflow, parse failures)",
			},
			[]string{"component", "reason"},
		),

		PendingMisses: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "adaptive_alerting",
				Subsystem: "mapper",
				Name:      "pending_misses",
				Help:      "Cache-missed records currently awaiting batch resolution",
			},
		),

		BatchFlushSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "adaptive_alerting",
				Subsystem: "mapper",
				Name:      "batch_flush_size",
				Help:      "Number of tag sets per backend batch lookup",
				Buckets:   []float64{1, 5, 10, 20, 40, 80, 160},
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "adaptive_alerting",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "adaptive_alerting",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),
	}
}

// Register registers all metrics with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.RecordsReceived,
		m.RecordsMapped,
		m.RecordsPublished,
		m.RecordsDropped,
		m.PendingMisses,
		m.BatchFlushSize,
		m.ErrorsTotal,
		m.NATSConnected,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// RecordReceived increments the received record counter
func (m *Metrics) RecordReceived(component string) {
	m.RecordsReceived.WithLabelValues(component).Inc()
}

// RecordMapped increments the mapped record counter; result is "hit",
// "miss", "resolved", or "no_match"
func (m *Metrics) RecordMapped(component, result string) {
	m.RecordsMapped.WithLabelValues(component, result).Inc()
}

// RecordPublished increments the published record counter
func (m *Metrics) RecordPublished(component string) {
	m.RecordsPublished.WithLabelValues(component).Inc()
}

// RecordDropped increments the dropped record counter
func (m *Metrics) RecordDropped(component, reason string) {
	m.RecordsDropped.WithLabelValues(component, reason).Inc()
}

// RecordPendingMisses updates the pending-miss gauge
func (m *Metrics) RecordPendingMisses(n int) {
	m.PendingMisses.Set(float64(n))
}

// RecordBatchFlush observes one backend batch flush
func (m *Metrics) RecordBatchFlush(size int) {
	m.BatchFlushSize.Observe(float64(size))
}

// RecordError increments the error counter
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordNATSStatus updates the NATS connection gauge
func (m *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnected.Set(value)
}
