package echelon

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var metrics = struct {
	steps        *prometheus.CounterVec
	pivotRows    *prometheus.CounterVec
	rowsReduced  *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
}{
	steps: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gbreduce",
			Name:      "elimination_steps",
			Help:      "Count of elimination steps completed since startup",
		},
		[]string{"pass"},
	),
	pivotRows: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gbreduce",
			Name:      "pivot_rows",
			Help:      "Count of pivot rows received or supplied since startup",
		},
		[]string{"pass"},
	),
	rowsReduced: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gbreduce",
			Name:      "rows_reduced",
			Help:      "Count of local rows reduced against a pivot block since startup",
		},
		[]string{"pass"},
	),
	stepDuration: prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gbreduce",
			Name:      "step_duration_seconds",
			Help:      "Time spent in one elimination step, broadcast included",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"pass"},
	),
}

var metricsRegister sync.Once

func registerMetrics() {
	metricsRegister.Do(func() {
		prometheus.MustRegister(metrics.steps)
		prometheus.MustRegister(metrics.pivotRows)
		prometheus.MustRegister(metrics.rowsReduced)
		prometheus.MustRegister(metrics.stepDuration)
	})
}

func recordStep(pass string, start time.Time, pivots, reduced int) {
	metrics.steps.WithLabelValues(pass).Inc()
	metrics.pivotRows.WithLabelValues(pass).Add(float64(pivots))
	metrics.rowsReduced.WithLabelValues(pass).Add(float64(reduced))
	metrics.stepDuration.WithLabelValues(pass).Observe(time.Since(start).Seconds())
}
