package annotations

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records per-operation outcomes and latency.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	snapshots  prometheus.Counter
}

// NewMetrics registers annotation collectors on the provided registerer.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_annotation_operations_total",
			Help: "Annotation operations by operation and result.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_annotation_operation_duration_seconds",
			Help:    "Annotation operation latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"operation"}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "margin_annotation_version_snapshots_total",
			Help: "Version ledger entries appended.",
		}),
	}
	if registerer == nil {
		return metrics, nil
	}
	for _, collector := range []prometheus.Collector{metrics.operations, metrics.duration, metrics.snapshots} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

func (m *Metrics) observe(operation string, startedAt time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, resultLabel(err)).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(startedAt).Seconds())
}

func (m *Metrics) snapshotAppended() {
	if m == nil {
		return
	}
	m.snapshots.Inc()
}
