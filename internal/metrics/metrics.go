// Package metrics holds the Prometheus collectors shared by the transport,
// dispatcher, request client and synchronizer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "txsync"

var (
	ChannelMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "channel_mode",
		Help:      "Current transport mode (1 for the active mode, 0 otherwise)",
	}, []string{"mode"})

	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnect_attempts_total",
		Help:      "Live channel reconnects scheduled",
	})

	PollingFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polling_fallback_total",
		Help:      "Sessions that exhausted live reconnects and switched to polling",
	})

	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polls_total",
		Help:      "Polling fallback requests by result",
	}, []string{"result"})

	EnvelopesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "envelopes_dropped_total",
		Help:      "Inbound envelopes dropped by reason",
	}, []string{"reason"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Events published through the dispatcher by topic",
	}, []string{"topic"})

	HandlerPanicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handler_panics_total",
		Help:      "Subscriber callbacks that panicked during publish",
	}, []string{"topic"})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Outbound HTTP attempts by method and outcome",
	}, []string{"method", "outcome"})

	RequestRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "request_retries_total",
		Help:      "Retries scheduled after transport-level failures",
	}, []string{"method"})

	DedupHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "request_dedup_hits_total",
		Help:      "Requests served by an already in-flight identical request",
	})

	StateRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_refresh_total",
		Help:      "Transmission state refreshes by result",
	}, []string{"result"})

	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actions_total",
		Help:      "User-triggered transmission actions by action and result",
	}, []string{"action", "result"})
)

var modes = []string{"DISCONNECTED", "LIVE", "RECONNECTING", "POLLING"}

// SetChannelMode marks mode as the only active transport mode.
func SetChannelMode(mode string) {
	for _, m := range modes {
		value := 0.0
		if m == mode {
			value = 1
		}
		ChannelMode.WithLabelValues(m).Set(value)
	}
}
