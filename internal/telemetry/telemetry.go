// Package telemetry collects engine metrics behind a Prometheus registry.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telemetry bundles the engine's metric collectors.
type Telemetry struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	nodeDuration   *prometheus.HistogramVec
	invocations    *prometheus.CounterVec
	artifactsTotal *prometheus.CounterVec
	streamDropped  prometheus.Counter
}

// New builds telemetry on a fresh registry.
func New() *Telemetry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Telemetry{
		registry: reg,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cogcore_runs_total",
			Help: "Runs by terminal status.",
		}, []string{"status"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cogcore_run_duration_seconds",
			Help:    "Wall-clock duration of a run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cogcore_node_duration_seconds",
			Help:    "Node execution duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"node", "status"}),
		invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cogcore_subagent_invocations_total",
			Help: "Sub-agent invocations by agent and outcome.",
		}, []string{"agent", "outcome"}),
		artifactsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cogcore_artifacts_total",
			Help: "Generated artifacts by chart kind.",
		}, []string{"kind"}),
		streamDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "cogcore_stream_dropped_events_total",
			Help: "Events dropped from per-run stream buffers.",
		}),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (t *Telemetry) Registry() *prometheus.Registry { return t.registry }

// RecordRun records a run's terminal status and duration.
func (t *Telemetry) RecordRun(status string, d time.Duration) {
	if t == nil {
		return
	}
	t.runsTotal.WithLabelValues(status).Inc()
	t.runDuration.Observe(d.Seconds())
}

// RecordNode records one node execution.
func (t *Telemetry) RecordNode(node, status string, d time.Duration) {
	if t == nil {
		return
	}
	t.nodeDuration.WithLabelValues(node, status).Observe(d.Seconds())
}

// RecordInvocation records one sub-agent invocation outcome.
func (t *Telemetry) RecordInvocation(agent, outcome string) {
	if t == nil {
		return
	}
	t.invocations.WithLabelValues(agent, outcome).Inc()
}

// RecordArtifact records a generated artifact.
func (t *Telemetry) RecordArtifact(kind string) {
	if t == nil {
		return
	}
	t.artifactsTotal.WithLabelValues(kind).Inc()
}

// RecordStreamDrop records buffered events overwritten before delivery.
func (t *Telemetry) RecordStreamDrop(n int) {
	if t == nil || n <= 0 {
		return
	}
	t.streamDropped.Add(float64(n))
}
