package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// RBAC metrics
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec

	// Permission catalog metrics
	CatalogLookupsTotal *prometheus.CounterVec

	// Capability token metrics
	TokenValidationsTotal *prometheus.CounterVec

	// Best-effort write failures
	AuditWriteFailuresTotal   prometheus.Counter
	AccessRecordFailuresTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_authz_decisions_total",
				Help: "Total number of authorization decisions by reason code",
			},
			[]string{"reason", "allowed"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_authz_decision_duration_seconds",
				Help:    "Authorization decision latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"allowed"},
		),
		CatalogLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_catalog_lookups_total",
				Help: "Permission catalog lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),
		TokenValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_token_validations_total",
				Help: "Capability token validations by token family and result",
			},
			[]string{"family", "result"},
		),
		AuditWriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_audit_write_failures_total",
				Help: "Audit records that could not be persisted",
			},
		),
		AccessRecordFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_portal_access_record_failures_total",
				Help: "Portal access-count updates that failed",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.DecisionsTotal,
			m.DecisionDuration,
			m.CatalogLookupsTotal,
			m.TokenValidationsTotal,
			m.AuditWriteFailuresTotal,
			m.AccessRecordFailuresTotal,
		)
	}

	return m
}

// ObserveDecision records an authorization decision
func (m *Metrics) ObserveDecision(reason string, allowed bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := boolLabel(allowed)
	m.DecisionsTotal.WithLabelValues(reason, label).Inc()
	m.DecisionDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// ObserveCatalogLookup records a catalog lookup result
func (m *Metrics) ObserveCatalogLookup(result string) {
	if m == nil {
		return
	}
	m.CatalogLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveTokenValidation records a token validation result
func (m *Metrics) ObserveTokenValidation(family, result string) {
	if m == nil {
		return
	}
	m.TokenValidationsTotal.WithLabelValues(family, result).Inc()
}

// IncAuditWriteFailure counts a dropped audit record
func (m *Metrics) IncAuditWriteFailure() {
	if m == nil {
		return
	}
	m.AuditWriteFailuresTotal.Inc()
}

// IncAccessRecordFailure counts a failed access-count update
func (m *Metrics) IncAccessRecordFailure() {
	if m == nil {
		return
	}
	m.AccessRecordFailuresTotal.Inc()
}

// MetricsHandler returns the Prometheus scrape handler for a registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
