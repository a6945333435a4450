package gcd

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for Store operations.
// A nil *Metrics records nothing.
type Metrics struct {
	ops       *prometheus.CounterVec   // By operation
	errs      *prometheus.CounterVec   // By operation
	latency   *prometheus.HistogramVec // By operation
	attBytes  prometheus.Counter
	attDedups prometheus.Counter
	events    *prometheus.CounterVec // By event kind
}

// NewMetrics creates the Store collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gcd",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of store operations",
		}, []string{"operation"}), // operation: save, get, backlog, list, open_attachment

		errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gcd",
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Total number of failed store operations",
		}, []string{"operation"}),

		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gcd",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		attBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gcd",
			Subsystem: "attachments",
			Name:      "written_bytes_total",
			Help:      "Total attachment bytes newly stored",
		}),

		attDedups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gcd",
			Subsystem: "attachments",
			Name:      "deduplicated_total",
			Help:      "Attachment writes whose content was already stored",
		}),

		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gcd",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events published",
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{m.ops, m.errs, m.latency, m.attBytes, m.attDedups, m.events} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.errs.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) attachment(n int64, added bool) {
	if m == nil {
		return
	}
	if added {
		m.attBytes.Add(float64(n))
	} else {
		m.attDedups.Inc()
	}
}

func (m *Metrics) event(kind EventKind) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind.String()).Inc()
}
