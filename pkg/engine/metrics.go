package engine

import (
	"time"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors the engine reports to.
type Metrics struct {
	nodeExecutions *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec
	runs           *prometheus.CounterVec
}

// NewMetrics creates the engine collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		nodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canvasflow",
			Name:      "node_executions_total",
			Help:      "Node executions by node type and final status.",
		}, []string{"node_type", "status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "canvasflow",
			Name:      "node_duration_seconds",
			Help:      "Time spent executing a node.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node_type"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canvasflow",
			Name:      "runs_total",
			Help:      "Finished workflow runs by status.",
		}, []string{"status"}),
	}

	if reg != nil {
		reg.MustRegister(m.nodeExecutions, m.nodeDuration, m.runs)
	}

	return m
}

func (m *Metrics) observeNode(t models.NodeType, status models.NodeStatus, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.nodeExecutions.WithLabelValues(string(t), string(status)).Inc()
	m.nodeDuration.WithLabelValues(string(t)).Observe(elapsed.Seconds())
}

func (m *Metrics) observeRun(status models.RunStatus) {
	if m == nil {
		return
	}

	m.runs.WithLabelValues(string(status)).Inc()
}
