package wallet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NoopMetricsCollector is a no-op implementation of MetricsCollector
type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordOperationDuration(string, time.Duration) {}
func (n *NoopMetricsCollector) RecordOperationResult(string, string)          {}
func (n *NoopMetricsCollector) RecordError(string, string)                    {}
func (n *NoopMetricsCollector) RecordTransactionVolume(string, int64)         {}
func (n *NoopMetricsCollector) RecordAuditMismatch(int64)                     {}

// PrometheusCollector records ledger metrics on a prometheus registry.
type PrometheusCollector struct {
	duration   *prometheus.HistogramVec
	results    *prometheus.CounterVec
	errors     *prometheus.CounterVec
	volume     *prometheus.CounterVec
	mismatches prometheus.Counter
	drift      prometheus.Counter
}

func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vtupay_ledger_operation_duration_seconds",
			Help:    "Duration of ledger operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		results: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vtupay_ledger_operations_total",
			Help: "Ledger operations by result.",
		}, []string{"operation", "result"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vtupay_ledger_errors_total",
			Help: "Ledger errors by code.",
		}, []string{"operation", "code"}),
		volume: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vtupay_ledger_volume_minor_total",
			Help: "Completed transaction volume in minor units.",
		}, []string{"purpose"}),
		// Unlabelled: the affected owner is in the audit error log.
		mismatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "vtupay_ledger_audit_mismatch_total",
			Help: "Balance audits where the stored balance disagreed with the ledger.",
		}),
		drift: factory.NewCounter(prometheus.CounterOpts{
			Name: "vtupay_ledger_audit_drift_minor_total",
			Help: "Absolute drift found by balance audits, in minor units.",
		}),
	}
}

func (p *PrometheusCollector) RecordOperationDuration(op string, d time.Duration) {
	p.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (p *PrometheusCollector) RecordOperationResult(op, result string) {
	p.results.WithLabelValues(op, result).Inc()
}

func (p *PrometheusCollector) RecordError(op, code string) {
	p.errors.WithLabelValues(op, code).Inc()
}

func (p *PrometheusCollector) RecordTransactionVolume(purpose string, amountMinor int64) {
	p.volume.WithLabelValues(purpose).Add(float64(amountMinor))
}

func (p *PrometheusCollector) RecordAuditMismatch(driftMinor int64) {
	p.mismatches.Inc()
	if driftMinor < 0 {
		driftMinor = -driftMinor
	}
	p.drift.Add(float64(driftMinor))
}
