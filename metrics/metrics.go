package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pawchat"

var (
	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages appended to conversation ledgers",
		},
		[]string{"domain", "kind", "origin"}, // origin: local, remote
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Delivery status transitions applied by the simulator",
		},
		[]string{"status"},
	)

	PersistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Failed partition writes; the in-memory ledger stays authoritative",
		},
		[]string{"partition"},
	)

	Replies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Canned replies by outcome",
		},
		[]string{"outcome"}, // scheduled, fired, cancelled, failed
	)

	Recordings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_total",
			Help:      "Voice note capture sessions by outcome",
		},
		[]string{"outcome"}, // device_unavailable, discarded, previewed, sent, cancelled
	)

	Playbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playbacks_total",
			Help:      "Audio playbacks by outcome",
		},
		[]string{"outcome"}, // started, toggled, preempted, invalid, failed
	)

	WidgetSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "widget_sessions",
			Help:      "Connected widget sessions",
		},
	)
)
