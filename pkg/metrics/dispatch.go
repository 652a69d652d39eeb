package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics counts ingestion and dispatch outcomes.
type DispatchMetrics struct {
	outcomes    *prometheus.CounterVec
	authRejects *prometheus.CounterVec
	sendErrors  *prometheus.CounterVec
}

// NewDispatchMetrics registers the dispatch metrics on the provided registerer.
func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	if reg == nil {
		return &DispatchMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_outcomes_total",
		Help: "Terminal dispatch decisions by provider and status.",
	}, []string{"provider", "status"})
	authRejects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_auth_rejections_total",
		Help: "Inbound events rejected before integration lookup.",
	}, []string{"provider"})
	sendErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_send_errors_total",
		Help: "Failed notification sends by provider.",
	}, []string{"provider"})
	reg.MustRegister(outcomes, authRejects, sendErrors)
	return &DispatchMetrics{
		outcomes:    outcomes,
		authRejects: authRejects,
		sendErrors:  sendErrors,
	}
}

// IncOutcome increments the outcome counter.
func (d *DispatchMetrics) IncOutcome(provider, status string) {
	if d == nil || d.outcomes == nil {
		return
	}
	d.outcomes.WithLabelValues(normalizeLabel(provider), normalizeLabel(status)).Inc()
}

// IncAuthRejected increments the inbound authentication failure counter.
func (d *DispatchMetrics) IncAuthRejected(provider string) {
	if d == nil || d.authRejects == nil {
		return
	}
	d.authRejects.WithLabelValues(normalizeLabel(provider)).Inc()
}

func (d *DispatchMetrics) IncSendError(provider string) {
	if d == nil || d.sendErrors == nil {
		return
	}
	d.sendErrors.WithLabelValues(normalizeLabel(provider)).Inc()
}
