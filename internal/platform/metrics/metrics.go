package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the PHI protection layer. One
// instance is created at startup and handed to each component; the
// component-facing interfaces live in the owning packages.
type Metrics struct {
	classificationMisses *prometheus.CounterVec

	auditWrites        *prometheus.CounterVec
	auditWriteFailures prometheus.Counter
	auditWriteDuration prometheus.Histogram

	securityEvents *prometheus.CounterVec
	alerts         *prometheus.CounterVec

	rateLimitDecisions *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		classificationMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "phiguard_classification_miss_total",
			Help: "Fields classified as NONE because they are not registered",
		}, []string{"entity"}),
		auditWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "phiguard_audit_writes_total",
			Help: "Audit entries persisted, by event type and outcome",
		}, []string{"event_type", "outcome"}),
		auditWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "phiguard_audit_write_failures_total",
			Help: "Audit persistence failures surfaced to callers",
		}),
		auditWriteDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "phiguard_audit_write_duration_seconds",
			Help:    "Latency of synchronous audit writes",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		securityEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "phiguard_security_events_total",
			Help: "Security events logged, by type and severity",
		}, []string{"event_type", "severity"}),
		alerts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "phiguard_alerts_total",
			Help: "Alert callbacks invoked, by severity",
		}, []string{"severity"}),
		rateLimitDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "phiguard_ratelimit_decisions_total",
			Help: "Rate limit decisions, by operation and outcome",
		}, []string{"operation", "allowed"}),
	}
}

// IncClassificationMiss implements phi.Metrics.
func (m *Metrics) IncClassificationMiss(entity string) {
	m.classificationMisses.WithLabelValues(entity).Inc()
}

// IncAuditWrites implements audit.Metrics.
func (m *Metrics) IncAuditWrites(eventType, outcome string) {
	m.auditWrites.WithLabelValues(eventType, outcome).Inc()
}

// IncAuditWriteFailures implements audit.Metrics.
func (m *Metrics) IncAuditWriteFailures() {
	m.auditWriteFailures.Inc()
}

// ObserveAuditWriteDuration implements audit.Metrics.
func (m *Metrics) ObserveAuditWriteDuration(seconds float64) {
	m.auditWriteDuration.Observe(seconds)
}

// IncSecurityEvent implements security.Metrics.
func (m *Metrics) IncSecurityEvent(eventType, severity string) {
	m.securityEvents.WithLabelValues(eventType, severity).Inc()
}

// IncAlerts implements security.Metrics.
func (m *Metrics) IncAlerts(severity string) {
	m.alerts.WithLabelValues(severity).Inc()
}

// IncRateLimitDecision implements ratelimit.Metrics.
func (m *Metrics) IncRateLimitDecision(operation string, allowed bool) {
	outcome := "false"
	if allowed {
		outcome = "true"
	}
	m.rateLimitDecisions.WithLabelValues(operation, outcome).Inc()
}
