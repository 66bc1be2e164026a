package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
	"github.com/atvirokodosprendimai/doctrail/internal/core/usecase"
)

// AuditMetrics exports audit counters to Prometheus.
type AuditMetrics struct {
	EntriesTotal       *prometheus.CounterVec
	WriteFailuresTotal *prometheus.CounterVec
	WritersRegistered  prometheus.Counter
}

var _ usecase.AuditMetrics = (*AuditMetrics)(nil)

// NewAuditMetrics creates the audit counters and registers them on reg.
func NewAuditMetrics(reg prometheus.Registerer) (*AuditMetrics, error) {
	m := &AuditMetrics{
		EntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doctrail_audit_entries_total",
				Help: "Total number of audit entries appended",
			},
			[]string{"action"},
		),
		WriteFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doctrail_audit_write_failures_total",
				Help: "Total number of failed audit entry appends",
			},
			[]string{"action"},
		),
		WritersRegistered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "doctrail_audit_writers_registered_total",
				Help: "Total number of audit writers built for storage connections",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.EntriesTotal, m.WriteFailuresTotal, m.WritersRegistered} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register audit metrics: %w", err)
		}
	}
	return m, nil
}

func (m *AuditMetrics) EntryAppended(action domain.AuditAction) {
	m.EntriesTotal.WithLabelValues(action.String()).Inc()
}

func (m *AuditMetrics) AppendFailed(action domain.AuditAction) {
	m.WriteFailuresTotal.WithLabelValues(action.String()).Inc()
}

func (m *AuditMetrics) WriterRegistered() {
	m.WritersRegistered.Inc()
}
