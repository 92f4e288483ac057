// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FeedBatches tracks change-feed batches applied to a projection.
	FeedBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_feed_batches_total",
			Help: "Change feed batches applied",
		},
		[]string{"scope"},
	)

	// FeedEvents tracks individual change events by kind.
	FeedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_feed_events_total",
			Help: "Change feed events applied",
		},
		[]string{"scope", "kind"},
	)

	// DuplicatesSuppressed tracks Added events for ids already present.
	DuplicatesSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_feed_duplicates_total",
			Help: "Added events ignored because the id was already reconciled",
		},
		[]string{"scope"},
	)

	// StaleBatches tracks batches dropped because their subscription was superseded.
	StaleBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_feed_stale_batches_total",
			Help: "Batches dropped from cancelled subscriptions",
		},
		[]string{"scope"},
	)

	// FeedErrors tracks errors reported by the change feed.
	FeedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_feed_errors_total",
			Help: "Change feed errors by class",
		},
		[]string{"scope", "class"},
	)

	// SubscriptionsActive tracks open change-feed subscriptions.
	SubscriptionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_subscriptions_active",
			Help: "Number of active change feed subscriptions",
		},
		[]string{"scope"},
	)

	// Writes tracks store writes issued by user actions.
	Writes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_writes_total",
			Help: "Store writes issued by user actions",
		},
		[]string{"action", "outcome"},
	)

	// SignIns tracks identity provider outcomes.
	SignIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_auth_attempts_total",
			Help: "Identity provider attempts by operation and outcome",
		},
		[]string{"op", "outcome"},
	)
)

// RecordWrite records the outcome of a remote write.
func RecordWrite(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	Writes.WithLabelValues(action, outcome).Inc()
}

// RecordAuth records the outcome of an identity operation.
func RecordAuth(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	SignIns.WithLabelValues(op, outcome).Inc()
}
