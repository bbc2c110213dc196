// Package metrics provides Prometheus metrics for the column distributor.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the column distributor.
type Metrics struct {
	// Distribution
	TasksAssigned        *prometheus.GaugeVec
	TotalTasks           prometheus.Gauge
	DistributionDuration *prometheus.HistogramVec
	DistributionFailures *prometheus.CounterVec

	// Per-column work
	ColumnsCompleted *prometheus.CounterVec
	ColumnDuration   *prometheus.HistogramVec
	WindowPosition   *prometheus.GaugeVec

	// Finalization
	CollectiveWait *prometheus.HistogramVec
	GlobalTotals   *prometheus.GaugeVec
}

var (
	defaultMetrics *Metrics
	initOnce       sync.Once
)

// Init registers the metrics with the default registry and makes them
// available through Get. Later calls return the first instance.
func Init(namespace string) *Metrics {
	initOnce.Do(func() {
		defaultMetrics = newMetrics(promauto.With(prometheus.DefaultRegisterer), namespace)
	})
	return defaultMetrics
}

// NewWithRegistry registers the metrics on reg instead of the default registry.
func NewWithRegistry(reg prometheus.Registerer, namespace string) *Metrics {
	return newMetrics(promauto.With(reg), namespace)
}

func newMetrics(f promauto.Factory, namespace string) *Metrics {
	if namespace == "" {
		namespace = "column_distributor"
	}

	return &Metrics{
		TasksAssigned: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks_assigned",
				Help:      "Number of columns assigned to a rank",
			},
			[]string{"rank"},
		),
		TotalTasks: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Number of sampled columns across the whole group",
			},
		),
		DistributionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "distribution_duration_seconds",
				Help:      "Time to compute a rank's distribution plan",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10), // 100us to ~26s
			},
			[]string{"rank"},
		),
		DistributionFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "distribution_failures_total",
				Help:      "Fatal distribution failures",
			},
			[]string{"rank", "reason"},
		),
		ColumnsCompleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "columns_completed_total",
				Help:      "Columns worked through, by outcome",
			},
			[]string{"rank", "status"},
		),
		ColumnDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "column_duration_seconds",
				Help:      "Time to solve one column",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5min
			},
			[]string{"rank", "status"},
		),
		WindowPosition: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "window_position",
				Help:      "Index of the next column in the rank's window",
			},
			[]string{"rank"},
		),
		CollectiveWait: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "collective_wait_seconds",
				Help:      "Time spent in the final counter reduction",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 12), // 1ms to ~70min
			},
			[]string{"rank"},
		),
		GlobalTotals: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "global_totals",
				Help:      "Run counters summed over the group after finalization",
			},
			[]string{"counter"},
		),
	}
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

func rankLabel(rank int) string { return strconv.Itoa(rank) }

// SetTasksAssigned records the size of a rank's window and the group total.
func (m *Metrics) SetTasksAssigned(rank, ntasks, total int) {
	m.TasksAssigned.WithLabelValues(rankLabel(rank)).Set(float64(ntasks))
	m.TotalTasks.Set(float64(total))
}

// ObserveDistribution records how long a plan took to compute.
func (m *Metrics) ObserveDistribution(rank int, seconds float64) {
	m.DistributionDuration.WithLabelValues(rankLabel(rank)).Observe(seconds)
}

// IncDistributionFailures counts a fatal distribution error.
func (m *Metrics) IncDistributionFailures(rank int, reason string) {
	m.DistributionFailures.WithLabelValues(rankLabel(rank), reason).Inc()
}

// ObserveColumn records one solved column.
func (m *Metrics) ObserveColumn(rank int, status string, seconds float64) {
	m.ColumnsCompleted.WithLabelValues(rankLabel(rank), status).Inc()
	m.ColumnDuration.WithLabelValues(rankLabel(rank), status).Observe(seconds)
}

// SetWindowPosition records the next window index of a rank.
func (m *Metrics) SetWindowPosition(rank, next int) {
	m.WindowPosition.WithLabelValues(rankLabel(rank)).Set(float64(next))
}

// ObserveCollectiveWait records the time spent in the final reduction.
func (m *Metrics) ObserveCollectiveWait(rank int, seconds float64) {
	m.CollectiveWait.WithLabelValues(rankLabel(rank)).Observe(seconds)
}

// SetGlobalTotals publishes the reduced run counters.
func (m *Metrics) SetGlobalTotals(processed, crashed, converged, notConverged int64) {
	m.GlobalTotals.WithLabelValues("processed").Set(float64(processed))
	m.GlobalTotals.WithLabelValues("crashed").Set(float64(crashed))
	m.GlobalTotals.WithLabelValues("converged").Set(float64(converged))
	m.GlobalTotals.WithLabelValues("not_converged").Set(float64(notConverged))
}
