// Package metrics define los collectors Prometheus del ledger.
// Todos los métodos aceptan receptor nil para que los services funcionen sin métricas.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricAccessDecisions     = "ledger_access_decisions_total"
	MetricLedgerOperations    = "ledger_grant_operations_total"
	MetricAuditAppendFailures = "ledger_audit_append_failures_total"
	MetricHTTPRequestsTotal   = "http_requests_total"
	MetricHTTPRequestDuration = "http_request_duration_seconds"
	MetricIdempotentReplays   = "ledger_idempotent_replays_total"
)

type Metrics struct {
	accessDecisions     *prometheus.CounterVec
	ledgerOperations    *prometheus.CounterVec
	auditAppendFailures prometheus.Counter
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	idempotentReplays   prometheus.Counter
}

// New crea los collectors sin registrarlos; ver Register.
func New() *Metrics {
	return &Metrics{
		accessDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAccessDecisions,
				Help: "Access checks by result and reason",
			},
			[]string{"result", "reason"},
		),
		ledgerOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricLedgerOperations,
				Help: "Grant and revoke operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		auditAppendFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricAuditAppendFailures,
				Help: "Audit appends that failed and aborted the triggering operation",
			},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHTTPRequestsTotal,
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestDuration,
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
			},
			[]string{"method", "path", "status"},
		),
		idempotentReplays: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricIdempotentReplays,
				Help: "Responses served from the idempotency store",
			},
		),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.accessDecisions,
		m.ledgerOperations,
		m.auditAppendFailures,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.idempotentReplays,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveDecision(result, reason string) {
	if m == nil {
		return
	}
	m.accessDecisions.WithLabelValues(result, reason).Inc()
}

func (m *Metrics) ObserveLedgerOp(operation, outcome string) {
	if m == nil {
		return
	}
	m.ledgerOperations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) IncAuditAppendFailure() {
	if m == nil {
		return
	}
	m.auditAppendFailures.Inc()
}

func (m *Metrics) ObserveHTTP(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
}

func (m *Metrics) IncIdempotentReplay() {
	if m == nil {
		return
	}
	m.idempotentReplays.Inc()
}
