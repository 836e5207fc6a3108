package taskgraph_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/taskgraphio/orchestrator/taskgraph"
)

func gatherFamily(t *testing.T, registry *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %q not found", name)
	return nil
}

func gaugeValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	f := gatherFamily(t, registry, name)
	if len(f.GetMetric()) != 1 {
		t.Fatalf("metric family %q has %d series, want 1", name, len(f.GetMetric()))
	}
	return f.GetMetric()[0].GetGauge().GetValue()
}

func TestEngineMetrics_TracksInflightAndOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := taskgraph.NewEngineMetrics(registry)

	m.TaskSent("install", "Standard", "create")
	m.TaskSent("install", "Standard", "create")
	if got := gaugeValue(t, registry, "taskgraph_tasks_inflight"); got != 2 {
		t.Fatalf("tasks_inflight = %v, want 2", got)
	}

	m.TaskSucceeded()
	if got := gaugeValue(t, registry, "taskgraph_tasks_inflight"); got != 1 {
		t.Fatalf("tasks_inflight = %v, want 1 after one success", got)
	}

	m.TaskFailed()
	if got := gaugeValue(t, registry, "taskgraph_tasks_inflight"); got != 0 {
		t.Fatalf("tasks_inflight = %v, want 0 after one failure", got)
	}

	m.ObserveLatency(10 * time.Millisecond)

	sentFamily := gatherFamily(t, registry, "taskgraph_tasks_sent_total")
	if len(sentFamily.GetMetric()) != 1 {
		t.Fatalf("tasks_sent_total series = %d, want 1", len(sentFamily.GetMetric()))
	}
	if got := sentFamily.GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Fatalf("tasks_sent_total = %v, want 2", got)
	}

	for _, want := range []string{
		"taskgraph_task_latency_ms", "taskgraph_tasks_succeeded_total", "taskgraph_tasks_failed_total",
	} {
		gatherFamily(t, registry, want)
	}
}

func TestEngineMetrics_NilRegistryUsesDefault(t *testing.T) {
	reg := prometheus.NewRegistry()
	prevGatherer := prometheus.DefaultGatherer
	prevRegisterer := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
	defer func() {
		prometheus.DefaultRegisterer = prevRegisterer
		prometheus.DefaultGatherer = prevGatherer
	}()

	taskgraph.NewEngineMetrics(nil)
	gatherFamily(t, reg, "taskgraph_tasks_inflight")
}
