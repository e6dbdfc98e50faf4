package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for workflow execution.
type Metrics struct {
	ExecutionsTotal      *prometheus.CounterVec
	NodeLatency          prometheus.Histogram
	TokensTotal          *prometheus.CounterVec
	ToolInvocationsTotal prometheus.Counter
	InflightRuns         prometheus.Gauge
}

// NewMetrics registers the collectors with the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh
// registry so runs do not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgraph",
			Name:      "executions_total",
			Help:      "Workflow executions by terminal status.",
		}, []string{"status"}),

		NodeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flowgraph",
			Name:      "node_latency_seconds",
			Help:      "Node execution latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),

		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgraph",
			Name:      "tokens_total",
			Help:      "Tokens consumed by direction.",
		}, []string{"direction"}),

		ToolInvocationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowgraph",
			Name:      "tool_invocations_total",
			Help:      "Tool calls executed by workflow runs.",
		}),

		InflightRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowgraph",
			Name:      "inflight_runs",
			Help:      "Currently running workflow executions.",
		}),
	}
}
