// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignIns counts sign-in attempts by terminal state.
	SignIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signin_attempts_total",
		Help: "Sign-in attempts by result.",
	}, []string{"result"})

	// Notifications counts guardian deliveries by result (sent, failed).
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_notifications_total",
		Help: "Guardian notification deliveries by result.",
	}, []string{"result"})

	// LedgerCalls observes spreadsheet round-trips by operation.
	LedgerCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_call_duration_seconds",
		Help:    "Latency of roster spreadsheet calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// WebhookEvents counts processed messaging webhook events by type.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Messaging webhook events by type.",
	}, []string{"type"})
)

// ObserveLedger records the time since start under op.
func ObserveLedger(op string, start time.Time) {
	LedgerCalls.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
