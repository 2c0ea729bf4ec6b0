package importer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics: счётчики импорта. nil-значение допустимо и ничего не считает.
type Metrics struct {
	rows     *prometheus.CounterVec
	batches  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		rows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kalita",
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Imported rows broken down by entity and outcome.",
		}, []string{"entity", "outcome"}),
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kalita",
			Subsystem: "import",
			Name:      "batches_total",
			Help:      "Import uploads broken down by entity and result.",
		}, []string{"entity", "result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kalita",
			Subsystem: "import",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one import upload.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"entity"}),
	}
}

func (m *Metrics) row(entity string, o Outcome) {
	if m == nil {
		return
	}
	m.rows.WithLabelValues(entity, o.String()).Inc()
}

func (m *Metrics) batch(entity, result string, started time.Time) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(entity, result).Inc()
	m.duration.WithLabelValues(entity).Observe(time.Since(started).Seconds())
}
