package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the KYC engine.
type Metrics struct {
	Transitions         *prometheus.CounterVec
	TransitionsRejected *prometheus.CounterVec
	SubmissionAttempts  prometheus.Counter
	SubmissionOutcomes  *prometheus.CounterVec
	Notifications       *prometheus.CounterVec
	SweepDuration       prometheus.Histogram
	SweepRecords        *prometheus.CounterVec
	CasesExpired        prometheus.Counter
}

// New creates and registers all engine metrics.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_case_transitions_total",
			Help: "Applied case transitions by origin and target status",
		}, []string{"from", "to"}),
		TransitionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_case_transitions_rejected_total",
			Help: "Transition requests rejected by guard checks",
		}, []string{"reason"}),
		SubmissionAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kyc_cdms_submission_attempts_total",
			Help: "CDMS gateway calls made",
		}),
		SubmissionOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_cdms_submission_outcomes_total",
			Help: "CDMS submission outcomes by disposition",
		}, []string{"disposition"}),
		Notifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_notifications_total",
			Help: "Notification dispatches by type and delivery result",
		}, []string{"type", "delivered"}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kyc_sweep_duration_seconds",
			Help:    "Duration of full sweep passes",
			Buckets: prometheus.DefBuckets,
		}),
		SweepRecords: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_sweep_records_total",
			Help: "Records handled by the sweeper by kind",
		}, []string{"kind"}),
		CasesExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kyc_cases_expired_total",
			Help: "Cases moved to EXPIRED by the sweeper",
		}),
	}
}

// RecordTransition counts one applied transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

// RecordRejectedTransition counts one guard rejection.
func (m *Metrics) RecordRejectedTransition(reason string) {
	if m == nil {
		return
	}
	m.TransitionsRejected.WithLabelValues(reason).Inc()
}

// RecordSubmissionAttempt counts one CDMS gateway call.
func (m *Metrics) RecordSubmissionAttempt() {
	if m == nil {
		return
	}
	m.SubmissionAttempts.Inc()
}

// RecordSubmissionOutcome counts one settled submission disposition. Not every
// outcome carries a gateway call: exhaustion settles without one.
func (m *Metrics) RecordSubmissionOutcome(disposition string) {
	if m == nil {
		return
	}
	m.SubmissionOutcomes.WithLabelValues(disposition).Inc()
}

// RecordNotification counts one dispatch.
func (m *Metrics) RecordNotification(ntype string, delivered bool) {
	if m == nil {
		return
	}
	label := "false"
	if delivered {
		label = "true"
	}
	m.Notifications.WithLabelValues(ntype, label).Inc()
}

// RecordCaseExpired counts one case hard-closed by the sweeper.
func (m *Metrics) RecordCaseExpired() {
	if m == nil {
		return
	}
	m.CasesExpired.Inc()
}

// ObserveSweep records one sweep pass duration.
func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}

// RecordSweepRecord counts one record handled during a sweep.
func (m *Metrics) RecordSweepRecord(kind string) {
	if m == nil {
		return
	}
	m.SweepRecords.WithLabelValues(kind).Inc()
}
