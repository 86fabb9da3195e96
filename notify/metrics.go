package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the scheduler's prometheus collectors.
type Metrics struct {
	Sweeps         *prometheus.CounterVec
	SweepDuration  prometheus.Histogram
	EmailsSent     *prometheus.CounterVec
	EmailFailures  *prometheus.CounterVec
	StagesRecorded *prometheus.CounterVec
	PolicyFailures prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Sweeps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insurance_notification_sweeps_total",
				Help: "Notification sweeps by result (completed, skipped, failed)",
			},
			[]string{"result"},
		),
		SweepDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name: "insurance_notification_sweep_duration_seconds",
				Help: "Duration of notification sweeps in seconds",
			},
		),
		EmailsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insurance_notification_emails_sent_total",
				Help: "Expiry emails delivered to the mail transport",
			},
			[]string{"stage"},
		),
		EmailFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insurance_notification_email_failures_total",
				Help: "Expiry emails the mail transport rejected",
			},
			[]string{"stage"},
		),
		StagesRecorded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insurance_notification_stages_recorded_total",
				Help: "Notification log rows written",
			},
			[]string{"stage"},
		),
		PolicyFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "insurance_notification_policy_failures_total",
				Help: "Policies skipped in a sweep because of an error",
			},
		),
	}
}
