package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Engine-level counters for the subscription lifecycle pipeline. Registered
// on the default registry so they are exported by the same listener as the
// HTTP metrics.
var (
	EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: "lifecycle",
			Name:      "events_processed_total",
			Help:      "Subscription events processed by kind and result.",
		},
		[]string{"kind", "result"},
	)

	EventsDuplicate = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: "lifecycle",
			Name:      "events_duplicate_total",
			Help:      "Webhook deliveries rejected by the idempotency guard.",
		},
		[]string{"provider"},
	)

	IntentsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: "membership",
			Name:      "intents_executed_total",
			Help:      "Membership intents executed by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	ReconcileMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: "membership",
			Name:      "reconcile_mismatches_total",
			Help:      "Entitlement/membership mismatches found by the reconciliation pass.",
		},
	)

	SchedulerEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: "scheduler",
			Name:      "events_emitted_total",
			Help:      "Synthetic events emitted by the scheduler scan.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsProcessed,
		EventsDuplicate,
		IntentsExecuted,
		ReconcileMismatches,
		SchedulerEmitted,
	)
}
