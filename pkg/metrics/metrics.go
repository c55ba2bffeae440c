// Package metrics holds the Prometheus collectors of the worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elderproject/elder-worker/pkg/domain"
)

const (
	namespace = "elder"
	subsystem = "worker"
)

// Write-back results.
const (
	WritebackPushed   = "pushed"
	WritebackApplied  = "applied"
	WritebackConflict = "conflict"
	WritebackFailed   = "failed"
)

// Metrics registers its collectors on a registry of its own.
type Metrics struct {
	registry *prometheus.Registry

	discoveryRuns     *prometheus.CounterVec
	discoveryDuration *prometheus.HistogramVec
	resources         *prometheus.CounterVec
	scopeErrors       *prometheus.CounterVec

	connectorRuns       *prometheus.CounterVec
	connectorDuration   *prometheus.HistogramVec
	consecutiveFailures *prometheus.GaugeVec
	identityChanges     *prometheus.CounterVec
	writebacks          *prometheus.CounterVec

	claims   *prometheus.CounterVec
	deferred *prometheus.CounterVec
	inflight *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		discoveryRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "discovery_runs_total",
			Help: "Count of finished discovery runs.",
		}, []string{"provider", "status"}),
		discoveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name:    "discovery_run_duration_seconds",
			Help:    "Duration of discovery runs.",
			Buckets: []float64{1, 5, 30, 60, 300, 600, 1800, 3600},
		}, []string{"provider"}),
		resources: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "discovered_resources_total",
			Help: "Count of resources reconciled by discovery, by what happened to them.",
		}, []string{"provider", "op"}),
		scopeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "discovery_scope_errors_total",
			Help: "Count of sub-scopes which failed in discovery runs.",
		}, []string{"provider"}),

		connectorRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "connector_runs_total",
			Help: "Count of finished connector syncs.",
		}, []string{"connector", "status"}),
		connectorDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name:    "connector_run_duration_seconds",
			Help:    "Duration of connector syncs.",
			Buckets: []float64{0.5, 1, 5, 30, 60, 300, 900},
		}, []string{"connector"}),
		consecutiveFailures: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "connector_consecutive_failures",
			Help: "Consecutive failed syncs of a connector, as of its last run in this replica.",
		}, []string{"connector"}),
		identityChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "identity_changes_total",
			Help: "Count of identity rows changed by connector syncs.",
		}, []string{"connector", "object", "op"}),
		writebacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "writeback_changes_total",
			Help: "Count of membership changes settled by write-back, by result.",
		}, []string{"connector", "result"}),

		claims: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "claims_total",
			Help: "Count of claimed units of work.",
		}, []string{"loop"}),
		deferred: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "saturated_ticks_total",
			Help: "Count of ticks which stopped claiming because every slot was busy.",
		}, []string{"loop"}),
		inflight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "inflight",
			Help: "Units of work running now.",
		}, []string{"loop"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveDiscovery(o domain.DiscoveryOutcome) {
	p := string(o.Job.Provider)
	m.discoveryRuns.WithLabelValues(p, string(o.Status)).Inc()
	if !o.FinishedAt.IsZero() {
		m.discoveryDuration.WithLabelValues(p).Observe(o.FinishedAt.Sub(o.StartedAt).Seconds())
	}
	m.resources.WithLabelValues(p, "discovered").Add(float64(o.Discovered))
	m.resources.WithLabelValues(p, "created").Add(float64(o.Created))
	m.resources.WithLabelValues(p, "updated").Add(float64(o.Updated))
	m.resources.WithLabelValues(p, "staled").Add(float64(o.Staled))
	m.scopeErrors.WithLabelValues(p).Add(float64(len(o.ScopeErrors)))
}

// ObserveSync records a finished sync. failures is consecutive_failures after the run.
func (m *Metrics) ObserveSync(o domain.SyncOutcome, failures int) {
	c := string(o.State.Connector)
	m.connectorRuns.WithLabelValues(c, string(o.Status())).Inc()
	if !o.FinishedAt.IsZero() {
		m.connectorDuration.WithLabelValues(c).Observe(o.FinishedAt.Sub(o.StartedAt).Seconds())
	}
	m.consecutiveFailures.WithLabelValues(c).Set(float64(failures))

	for object, counts := range map[string]domain.ApplyCounts{
		"identity": o.Identities, "group": o.Groups, "membership": o.Members,
	} {
		m.identityChanges.WithLabelValues(c, object, "created").Add(float64(counts.Created))
		m.identityChanges.WithLabelValues(c, object, "updated").Add(float64(counts.Updated))
		m.identityChanges.WithLabelValues(c, object, "deactivated").Add(float64(counts.Deactivated))
	}
}

// Writeback counts a settled membership change. result is one of Writeback* constants.
func (m *Metrics) Writeback(connector domain.ConnectorKind, result string) {
	m.writebacks.WithLabelValues(string(connector), result).Inc()
}

func (m *Metrics) Claimed(loop domain.LoopType) {
	m.claims.WithLabelValues(string(loop)).Inc()
}

func (m *Metrics) Saturated(loop domain.LoopType) {
	m.deferred.WithLabelValues(string(loop)).Inc()
}

// Running adds delta to units of work running in loop.
func (m *Metrics) Running(loop domain.LoopType, delta int) {
	m.inflight.WithLabelValues(string(loop)).Add(float64(delta))
}
