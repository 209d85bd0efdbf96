// Package metrics declares the Prometheus instruments shared by the pipeline
// stages and the small HTTP surface each stage binary exposes them on.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Consumer outcomes recorded by the JetStream consumer loop.
const (
	OutcomeAck  = "ack"
	OutcomeTerm = "term"
	OutcomeNak  = "nak"
)

var (
	// Message delivery metrics
	MessagesHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalhawk_messages_handled_total",
			Help: "Total number of messages handled per consumer and outcome",
		},
		[]string{"consumer", "outcome"},
	)

	HandleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signalhawk_handle_duration_seconds",
			Help:    "Duration of a single stage invocation in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"consumer"},
	)

	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalhawk_dead_letters_total",
			Help: "Total number of messages moved to the dead letter stream per consumer and result",
		},
		[]string{"consumer", "result"},
	)

	// Classification metrics
	SignalsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalhawk_signals_classified_total",
			Help: "Total number of signals classified per category",
		},
		[]string{"category"},
	)

	// Ingest metrics
	StoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalhawk_store_writes_total",
			Help: "Total number of observation store writes per result",
		},
		[]string{"result"},
	)

	IndexWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalhawk_index_writes_total",
			Help: "Total number of alert index writes per result",
		},
		[]string{"result"},
	)

	// Decipherment metrics
	Decipherments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalhawk_decipherments_total",
			Help: "Total number of dark signal decipherments per result",
		},
		[]string{"result"},
	)

	KeyFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalhawk_key_fetches_total",
			Help: "Total number of cipher key document fetches per result",
		},
		[]string{"result"},
	)

	// Translation metrics
	Translations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalhawk_translations_total",
			Help: "Total number of translation passes per result",
		},
		[]string{"result"},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalhawk_notifications_total",
			Help: "Total number of webhook notifications per result",
		},
		[]string{"result"},
	)
)
