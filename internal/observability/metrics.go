package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus-compatible gauges and counters for the
// reliability fabric: heartbeat state, lease counts, and succession
// latency. All metrics are namespaced "daokit".
type Metrics struct {
	heartbeatState   *prometheus.GaugeVec
	activeLeases     *prometheus.GaugeVec
	takeoverLatency  *prometheus.HistogramVec
	takeoversTotal   *prometheus.CounterVec
	adoptedStepsTotal *prometheus.CounterVec
	failedStepsTotal  *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewMetrics creates and registers every reliability-fabric metric with
// registry. Pass prometheus.DefaultRegisterer for the global registry, or
// a fresh prometheus.NewRegistry() for isolation (e.g. in tests).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	m := &Metrics{enabled: true}

	// heartbeat_state gauge: 0=IDLE, 1=RUNNING, 2=WARNING, 3=STALE.
	m.heartbeatState = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "daokit",
		Name:      "heartbeat_state",
		Help:      "Current heartbeat classification per run (0=idle,1=running,2=warning,3=stale)",
	}, []string{"task_id", "run_id"})

	// active_leases gauge: count of ACTIVE, unexpired process leases.
	m.activeLeases = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "daokit",
		Name:      "active_leases",
		Help:      "Current number of active, unexpired process leases",
	}, []string{"task_id", "run_id"})

	// takeover_latency_ms histogram: decision_at to takeover_at.
	m.takeoverLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "daokit",
		Name:      "takeover_latency_ms",
		Help:      "Milliseconds between a succession decision and its completed takeover",
		Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000},
	}, []string{"task_id", "run_id"})

	// takeovers_total counter.
	m.takeoversTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daokit",
		Name:      "takeovers_total",
		Help:      "Cumulative count of accepted succession takeovers",
	}, []string{"task_id", "run_id"})

	// adopted_steps_total / failed_steps_total counters.
	m.adoptedStepsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daokit",
		Name:      "adopted_steps_total",
		Help:      "Cumulative count of steps adopted during succession",
	}, []string{"task_id", "run_id"})
	m.failedStepsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daokit",
		Name:      "failed_steps_total",
		Help:      "Cumulative count of steps marked failed_non_adopted_lease during succession",
	}, []string{"task_id", "run_id"})

	return m
}

func heartbeatStateValue(state string) float64 {
	switch state {
	case "IDLE":
		return 0
	case "RUNNING":
		return 1
	case "WARNING":
		return 2
	case "STALE":
		return 3
	default:
		return -1
	}
}

// SetHeartbeatState records the current heartbeat classification for a run.
func (m *Metrics) SetHeartbeatState(taskID, runID, state string) {
	if !m.isEnabled() {
		return
	}
	m.heartbeatState.WithLabelValues(taskID, runID).Set(heartbeatStateValue(state))
}

// SetActiveLeases records the current count of live leases for a run.
func (m *Metrics) SetActiveLeases(taskID, runID string, count int) {
	if !m.isEnabled() {
		return
	}
	m.activeLeases.WithLabelValues(taskID, runID).Set(float64(count))
}

// ObserveTakeover records one completed succession: its decision-to-takeover
// latency, and the adopted/failed step counts it produced.
func (m *Metrics) ObserveTakeover(taskID, runID string, latencyMs float64, adopted, failed int) {
	if !m.isEnabled() {
		return
	}
	m.takeoverLatency.WithLabelValues(taskID, runID).Observe(latencyMs)
	m.takeoversTotal.WithLabelValues(taskID, runID).Inc()
	m.adoptedStepsTotal.WithLabelValues(taskID, runID).Add(float64(adopted))
	m.failedStepsTotal.WithLabelValues(taskID, runID).Add(float64(failed))
}

func (m *Metrics) isEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Disable stops metric recording (useful for testing).
func (m *Metrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable resumes metric recording after Disable.
func (m *Metrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}
