package taskgraph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics collects Prometheus-compatible counters and a latency
// histogram for task dispatch, namespaced "taskgraph_".
//
// Metrics exposed:
//
//  1. tasks_inflight (gauge): operation tasks currently submitted to the
//     executor and awaiting a result.
//  2. tasks_sent_total (counter): operation tasks submitted, labeled by
//     workflow/interface/operation.
//  3. task_latency_ms (histogram): time from submit to the attempt's
//     Succeeded/Failed notification, in milliseconds.
//  4. tasks_succeeded_total / tasks_failed_total (counters): terminal
//     per-attempt outcomes reported by the executor.
type EngineMetrics struct {
	inflight  prometheus.Gauge
	sent      *prometheus.CounterVec
	latency   prometheus.Histogram
	succeeded prometheus.Counter
	failed    prometheus.Counter
}

// NewEngineMetrics registers all engine metrics with registry. A nil
// registry uses prometheus.DefaultRegisterer.
func NewEngineMetrics(registry prometheus.Registerer) *EngineMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &EngineMetrics{
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskgraph",
			Name:      "tasks_inflight",
			Help:      "Operation tasks currently submitted to the executor",
		}),
		sent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Name:      "tasks_sent_total",
			Help:      "Operation tasks submitted to the executor",
		}, []string{"workflow", "interface", "operation"}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taskgraph",
			Name:      "task_latency_ms",
			Help:      "Time from submit to the attempt's terminal notification, in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}),
		succeeded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Name:      "tasks_succeeded_total",
			Help:      "Operation task attempts that succeeded",
		}),
		failed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Name:      "tasks_failed_total",
			Help:      "Operation task attempts that failed",
		}),
	}
}

// TaskSent records a submission to the executor.
func (m *EngineMetrics) TaskSent(workflow, iface, operation string) {
	m.inflight.Inc()
	m.sent.WithLabelValues(workflow, iface, operation).Inc()
}

// TaskStarted is called on the executor's Started notification. It
// records nothing; latency is observed from submit to the terminal
// notification instead.
func (m *EngineMetrics) TaskStarted() {}

// TaskSucceeded records a successful attempt outcome.
func (m *EngineMetrics) TaskSucceeded() {
	m.inflight.Dec()
	m.succeeded.Inc()
}

// TaskFailed records a failed attempt outcome.
func (m *EngineMetrics) TaskFailed() {
	m.inflight.Dec()
	m.failed.Inc()
}

// ObserveLatency records a completed attempt's submit-to-terminal
// duration.
func (m *EngineMetrics) ObserveLatency(d time.Duration) {
	m.latency.Observe(float64(d.Milliseconds()))
}
