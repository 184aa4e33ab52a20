package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/core-tools/hsu-dash/pkg/monitoring"
	"github.com/core-tools/hsu-dash/pkg/state"
)

const namespace = "hsu_dash"

// Metrics are the supervisor's own Prometheus series, kept on a private
// registry so several supervisors can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	eventsApplied *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	spawnFailures *prometheus.CounterVec
	restarts      *prometheus.CounterVec
	probes        *prometheus.CounterVec
	probeLatency  *prometheus.HistogramVec
	jobsFinished  *prometheus.CounterVec
	unitsByStatus *prometheus.GaugeVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		// Labels: kind (event kind)
		eventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "applied_total",
			Help:      "Events folded into the state",
		}, []string{"kind"}),

		// Labels: kind, reason (queue_full, stale)
		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped before or by the reducer",
		}, []string{"kind", "reason"}),

		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "queue_depth",
			Help:      "Events waiting for the coordinator",
		}),

		spawnFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "units",
			Name:      "spawn_failures_total",
			Help:      "Units that failed to start",
		}, []string{"unit"}),

		restarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "units",
			Name:      "restarts_total",
			Help:      "Automatic restarts scheduled by the restart policy",
		}, []string{"unit"}),

		// Labels: unit, kind (probe kind), result (ok, failed)
		probes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "probes_total",
			Help:      "Health probes by outcome",
		}, []string{"unit", "kind", "result"}),

		probeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "probe_latency_seconds",
			Help:      "Health probe latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"kind"}),

		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Jobs finished by status",
		}, []string{"status"}),

		unitsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "units",
			Name:      "by_status",
			Help:      "Units currently in each status",
		}, []string{"status"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) EventApplied(kind state.EventKind) {
	m.eventsApplied.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) EventDropped(kind state.EventKind, reason string) {
	m.eventsDropped.WithLabelValues(string(kind), reason).Inc()
}

func (m *Metrics) QueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) SpawnFailed(unit string) {
	m.spawnFailures.WithLabelValues(unit).Inc()
}

func (m *Metrics) RestartScheduled(unit string) {
	m.restarts.WithLabelValues(unit).Inc()
}

func (m *Metrics) ProbeObserved(unit string, result monitoring.Result) {
	outcome := "ok"
	if !result.OK {
		outcome = "failed"
	}
	m.probes.WithLabelValues(unit, string(result.Kind), outcome).Inc()
	m.probeLatency.WithLabelValues(string(result.Kind)).Observe(result.Latency.Seconds())
}

func (m *Metrics) JobFinished(status string) {
	m.jobsFinished.WithLabelValues(status).Inc()
}

// ObserveStatuses refreshes the per-status unit gauges.
func (m *Metrics) ObserveStatuses(counts map[state.Status]int) {
	for _, status := range []state.Status{
		state.StatusPending, state.StatusStarting, state.StatusRunning,
		state.StatusStopped, state.StatusFailed, state.StatusRestarting,
	} {
		m.unitsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
