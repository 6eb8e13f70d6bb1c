package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func counterValue(mf *dto.MetricFamily, labels map[string]string) float64 {
	for _, m := range mf.GetMetric() {
		match := true
		for _, lp := range m.GetLabel() {
			if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
				match = false
			}
		}
		if match {
			return m.GetCounter().GetValue()
		}
	}
	return -1
}

func newRegistered(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	m := New()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	return m, reg
}

func TestRegister_Twice(t *testing.T) {
	m, reg := newRegistered(t)
	if err := m.Register(reg); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestObserveDecision(t *testing.T) {
	m, reg := newRegistered(t)

	m.ObserveDecision("allow", "grant_match")
	m.ObserveDecision("deny", "no_matching_grant")
	m.ObserveDecision("deny", "no_matching_grant")

	mf := gather(t, reg, MetricAccessDecisions)
	if mf == nil {
		t.Fatal("access decisions metric not found")
	}
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 series, got %d", len(mf.GetMetric()))
	}
	if got := counterValue(mf, map[string]string{"result": "deny", "reason": "no_matching_grant"}); got != 2 {
		t.Fatalf("deny count = %v, want 2", got)
	}
}

func TestObserveHTTP(t *testing.T) {
	m, reg := newRegistered(t)

	m.ObserveHTTP("POST", "/grants", "201", 12*time.Millisecond)

	if mf := gather(t, reg, MetricHTTPRequestsTotal); mf == nil || counterValue(mf, map[string]string{"path": "/grants"}) != 1 {
		t.Fatal("http_requests_total not incremented")
	}
	mf := gather(t, reg, MetricHTTPRequestDuration)
	if mf == nil {
		t.Fatal("duration histogram not found")
	}
	if got := mf.GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Fatalf("sample count = %d, want 1", got)
	}
}

func TestCountersWithoutLabels(t *testing.T) {
	m, reg := newRegistered(t)

	m.IncAuditAppendFailure()
	m.IncIdempotentReplay()
	m.IncIdempotentReplay()
	m.ObserveLedgerOp("revoke", "already_revoked")

	if got := counterValue(gather(t, reg, MetricAuditAppendFailures), nil); got != 1 {
		t.Fatalf("audit failures = %v, want 1", got)
	}
	if got := counterValue(gather(t, reg, MetricIdempotentReplays), nil); got != 2 {
		t.Fatalf("replays = %v, want 2", got)
	}
	if got := counterValue(gather(t, reg, MetricLedgerOperations), map[string]string{"operation": "revoke"}); got != 1 {
		t.Fatalf("ledger ops = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveDecision("allow", "owner_self_access")
	m.ObserveLedgerOp("grant", "success")
	m.IncAuditAppendFailure()
	m.ObserveHTTP("GET", "/health", "200", time.Millisecond)
	m.IncIdempotentReplay()
}
