package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LucasCzechia/discord-cluster/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// It embeds NopMetrics so interface coverage survives future collector
// additions without forcing immediate instrumentation of every domain.
type PrometheusCollector struct {
	*NopMetrics

	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	stateTransitions *prometheus.CounterVec
	fleetSize        prometheus.Gauge

	spawnAttempts  *prometheus.CounterVec
	spawnDuration  prometheus.Histogram
	respawns       *prometheus.CounterVec
	replacements   *prometheus.CounterVec
	replacementDur *prometheus.HistogramVec

	heartbeatRTT   prometheus.Histogram
	missedBeats    *prometheus.CounterVec
	unresponsive   *prometheus.CounterVec
	requestResults *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	fanoutSize     prometheus.Histogram
	lateReplies    prometheus.Counter

	storeOps      *prometheus.CounterVec
	storeOpsDur   *prometheus.HistogramVec
	storeSize     prometheus.Gauge
	storeEvicted  prometheus.Counter
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "cluster" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "cluster"
	}

	return &PrometheusCollector{NopMetrics: NewNop(), reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "manager",
			Name:      "state_transitions_total",
			Help:      "Total controller state transitions by from/to state.",
		}, []string{"from", "to"})

		p.fleetSize = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "manager",
			Name:      "fleet_size",
			Help:      "Current number of units in the registry.",
		})

		p.spawnAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "spawn",
			Name:      "attempts_total",
			Help:      "Total unit spawn attempts by outcome.",
		}, []string{"result"})

		p.spawnDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "spawn",
			Name:      "ready_seconds",
			Help:      "Observed time from spawn to ready signal in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		})

		p.respawns = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "spawn",
			Name:      "respawns_total",
			Help:      "Total policy-driven respawns by unit ID.",
		}, []string{"unit"})

		p.replacements = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "replacement",
			Name:      "attempts_total",
			Help:      "Total fleet regeneration attempts by strategy and outcome.",
		}, []string{"strategy", "result"})

		p.replacementDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "replacement",
			Name:      "duration_seconds",
			Help:      "Observed fleet regeneration durations in seconds by strategy.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"strategy"})

		p.heartbeatRTT = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "heartbeat",
			Name:      "rtt_seconds",
			Help:      "Observed heartbeat probe round trips in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		})

		p.missedBeats = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "heartbeat",
			Name:      "missed_total",
			Help:      "Total missed heartbeat probes by unit ID.",
		}, []string{"unit"})

		p.unresponsive = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "heartbeat",
			Name:      "unresponsive_total",
			Help:      "Total units declared unresponsive by unit ID.",
		}, []string{"unit"})

		p.requestResults = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "router",
			Name:      "requests_total",
			Help:      "Total correlated requests by kind and outcome.",
		}, []string{"kind", "result"})

		p.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "router",
			Name:      "request_seconds",
			Help:      "Observed request resolution latency in seconds by kind.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"kind"})

		p.fanoutSize = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "router",
			Name:      "broadcast_fanout_units",
			Help:      "Observed broadcast fan-out sizes in units.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		})

		p.lateReplies = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "router",
			Name:      "late_replies_total",
			Help:      "Total replies discarded for already-resolved nonces.",
		})

		p.storeOps = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "ops_total",
			Help:      "Total shared-store operations by op.",
		}, []string{"op"})

		p.storeOpsDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "op_seconds",
			Help:      "Observed shared-store operation latency in seconds by op.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"op"})

		p.storeSize = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "entries",
			Help:      "Current number of shared-store entries.",
		})

		p.storeEvicted = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "evictions_total",
			Help:      "Total entries removed by expiry sweeps.",
		})

		collectors := []prometheus.Collector{
			p.stateTransitions, p.fleetSize,
			p.spawnAttempts, p.spawnDuration, p.respawns,
			p.replacements, p.replacementDur,
			p.heartbeatRTT, p.missedBeats, p.unresponsive,
			p.requestResults, p.requestLatency, p.fanoutSize, p.lateReplies,
			p.storeOps, p.storeOpsDur, p.storeSize, p.storeEvicted,
		}
		for _, c := range collectors {
			// AlreadyRegisteredError is tolerated so multiple managers can
			// share one registerer in tests.
			_ = p.reg.Register(c)
		}
	})
}

func boolResult(success bool) string {
	if success {
		return "success"
	}

	return "failure"
}

// RecordStateTransition records a controller state transition.
func (p *PrometheusCollector) RecordStateTransition(from, to types.State, _ /* duration */ float64) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// RecordFleetSize sets the registry size gauge.
func (p *PrometheusCollector) RecordFleetSize(count int) {
	p.ensureRegistered()
	p.fleetSize.Set(float64(count))
}

// RecordSpawn records a spawn attempt outcome.
func (p *PrometheusCollector) RecordSpawn(_ /* unitID */ int, success bool) {
	p.ensureRegistered()
	p.spawnAttempts.WithLabelValues(boolResult(success)).Inc()
}

// RecordSpawnDuration records spawn-to-ready latency.
func (p *PrometheusCollector) RecordSpawnDuration(seconds float64) {
	p.ensureRegistered()
	p.spawnDuration.Observe(seconds)
}

// RecordRespawn records a policy-driven respawn.
func (p *PrometheusCollector) RecordRespawn(unitID int) {
	p.ensureRegistered()
	p.respawns.WithLabelValues(strconv.Itoa(unitID)).Inc()
}

// RecordReplacement records a fleet regeneration attempt.
func (p *PrometheusCollector) RecordReplacement(strategy string, success bool, seconds float64) {
	p.ensureRegistered()
	p.replacements.WithLabelValues(strategy, boolResult(success)).Inc()
	p.replacementDur.WithLabelValues(strategy).Observe(seconds)
}

// RecordHeartbeatAck records an acknowledged probe round trip.
func (p *PrometheusCollector) RecordHeartbeatAck(_ /* unitID */ int, rttSeconds float64) {
	p.ensureRegistered()
	p.heartbeatRTT.Observe(rttSeconds)
}

// RecordMissedHeartbeat records a probe timeout.
func (p *PrometheusCollector) RecordMissedHeartbeat(unitID int) {
	p.ensureRegistered()
	p.missedBeats.WithLabelValues(strconv.Itoa(unitID)).Inc()
}

// RecordUnresponsiveUnit records a unit declared unresponsive.
func (p *PrometheusCollector) RecordUnresponsiveUnit(unitID int) {
	p.ensureRegistered()
	p.unresponsive.WithLabelValues(strconv.Itoa(unitID)).Inc()
}

// RecordRequest records a correlated request outcome and latency.
func (p *PrometheusCollector) RecordRequest(kind string, success bool, seconds float64) {
	p.ensureRegistered()
	p.requestResults.WithLabelValues(kind, boolResult(success)).Inc()
	p.requestLatency.WithLabelValues(kind).Observe(seconds)
}

// RecordBroadcastFanout records a broadcast fan-out size.
func (p *PrometheusCollector) RecordBroadcastFanout(units int) {
	p.ensureRegistered()
	p.fanoutSize.Observe(float64(units))
}

// RecordLateReply records a discarded late reply.
func (p *PrometheusCollector) RecordLateReply() {
	p.ensureRegistered()
	p.lateReplies.Inc()
}

// RecordStoreOp records a shared-store operation.
func (p *PrometheusCollector) RecordStoreOp(op string, seconds float64) {
	p.ensureRegistered()
	p.storeOps.WithLabelValues(op).Inc()
	p.storeOpsDur.WithLabelValues(op).Observe(seconds)
}

// RecordStoreSize sets the store entry gauge.
func (p *PrometheusCollector) RecordStoreSize(count int) {
	p.ensureRegistered()
	p.storeSize.Set(float64(count))
}

// RecordStoreEvictions records sweep evictions.
func (p *PrometheusCollector) RecordStoreEvictions(count int) {
	p.ensureRegistered()
	p.storeEvicted.Add(float64(count))
}
