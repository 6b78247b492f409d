package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the store's Prometheus instrumentation: byte counts and
// operation latency.
type Metrics struct {
	bytesTotal   *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
}

// NewMetrics registers the store's collectors with reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the default
// global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mikan_store_bytes_total",
			Help: "Cumulative bytes read or written by store operation and field (key/value).",
		}, []string{"op", "field"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mikan_store_op_duration_seconds",
			Help:    "Store operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(m.bytesTotal, m.opDuration)
	return m
}

func (m *Metrics) observe(op string, start time.Time, keyBytes, valBytes int) {
	if m == nil {
		return
	}
	m.opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if keyBytes > 0 {
		m.bytesTotal.WithLabelValues(op, "key").Add(float64(keyBytes))
	}
	if valBytes > 0 {
		m.bytesTotal.WithLabelValues(op, "value").Add(float64(valBytes))
	}
}
