package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the audit trail.
type Metrics struct {
	AppendsTotal        prometheus.Counter
	VerifyFailuresTotal prometheus.Counter
	OutboxPublished     prometheus.Counter
	OutboxErrors        prometheus.Counter
}

// New creates and registers the audit trail metrics.
func New() *Metrics {
	return &Metrics{
		AppendsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_audit_trail_appends_total",
			Help: "Total audit trail entries appended",
		}),
		VerifyFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_audit_trail_verify_failures_total",
			Help: "Total chain verifications that detected tampering",
		}),
		OutboxPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_audit_trail_outbox_published_total",
			Help: "Total outbox entries published to the export stream",
		}),
		OutboxErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_audit_trail_outbox_errors_total",
			Help: "Total outbox publish attempts that failed",
		}),
	}
}
