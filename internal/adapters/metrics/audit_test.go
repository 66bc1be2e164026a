package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
)

func TestAuditMetricsCountByAction(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewAuditMetrics(registry)
	if err != nil {
		t.Fatalf("new audit metrics: %v", err)
	}

	m.EntryAppended(domain.AuditActionCreate)
	m.EntryAppended(domain.AuditActionCreate)
	m.EntryAppended(domain.AuditActionHardDelete)
	m.AppendFailed(domain.AuditActionUpdate)
	m.WriterRegistered()

	if got := testutil.ToFloat64(m.EntriesTotal.WithLabelValues("create")); got != 2 {
		t.Errorf("create entries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.EntriesTotal.WithLabelValues("hard_delete")); got != 1 {
		t.Errorf("hard_delete entries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.WriteFailuresTotal.WithLabelValues("update")); got != 1 {
		t.Errorf("update failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.WritersRegistered); got != 1 {
		t.Errorf("writers registered = %v, want 1", got)
	}
}

func TestAuditMetricsExposition(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewAuditMetrics(registry)
	if err != nil {
		t.Fatalf("new audit metrics: %v", err)
	}
	m.WriterRegistered()

	expected := `
# HELP doctrail_audit_writers_registered_total Total number of audit writers built for storage connections
# TYPE doctrail_audit_writers_registered_total counter
doctrail_audit_writers_registered_total 1
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "doctrail_audit_writers_registered_total"); err != nil {
		t.Fatal(err)
	}
}

func TestNewAuditMetricsRejectsDoubleRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	if _, err := NewAuditMetrics(registry); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewAuditMetrics(registry); err == nil {
		t.Fatal("expected second registration on the same registry to fail")
	}
}
