package instrumented

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/3leaps/bucketfs/pkg/provider"
)

// Metrics holds Prometheus collectors for store round trips.
type Metrics struct {
	bytes   *prometheus.CounterVec
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

var _ Observer = (*Metrics)(nil)

// NewMetrics registers the store collectors on reg. Collectors already
// registered by an earlier call are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bucketfs",
			Subsystem: "store",
			Name:      "bytes_total",
			Help:      "Total bytes transferred by store operations.",
		}, []string{"op"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bucketfs",
			Subsystem: "store",
			Name:      "ops_total",
			Help:      "Total number of store operations by result.",
		}, []string{"op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bucketfs",
			Subsystem: "store",
			Name:      "op_duration_seconds",
			Help:      "Histogram of store operation durations in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	m.bytes = register(reg, m.bytes)
	m.ops = register(reg, m.ops)
	m.latency = register(reg, m.latency)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// Observe records one store operation.
func (m *Metrics) Observe(op string, bytes int64, err error, dur time.Duration) {
	if bytes > 0 {
		m.bytes.WithLabelValues(op).Add(float64(bytes))
	}
	m.ops.WithLabelValues(op, result(err)).Inc()
	m.latency.WithLabelValues(op).Observe(dur.Seconds())
}

// result buckets err into a low-cardinality label value.
func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case provider.IsNotFound(err):
		return "not_found"
	case provider.IsCancelled(err):
		return "cancelled"
	case provider.IsThrottled(err):
		return "throttled"
	}
	return "error"
}
