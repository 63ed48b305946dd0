package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the engagement workflow.
type Metrics struct {
	TransitionsTotal   *prometheus.CounterVec
	ApprovalsTotal     *prometheus.CounterVec
	GateRejectionsTotal prometheus.Counter
}

// New creates and registers the workflow metrics.
func New() *Metrics {
	return &Metrics{
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_workflow_transitions_total",
			Help: "Total engagement transitions by target status",
		}, []string{"target"}),
		ApprovalsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_workflow_approvals_total",
			Help: "Total approval decisions by outcome",
		}, []string{"outcome"}),
		GateRejectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_workflow_gate_rejections_total",
			Help: "Total transitions rejected by an unsatisfied gate",
		}),
	}
}
