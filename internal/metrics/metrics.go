// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection

var (
	connectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wagate_connection_state",
			Help: "1 for the current connection state, 0 for the others",
		},
		[]string{"state"},
	)

	disconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagate_disconnects_total",
			Help: "Connection closes by disconnect reason",
		},
		[]string{"reason"},
	)

	reconnectsScheduledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wagate_reconnects_scheduled_total",
			Help: "Reconnect timers scheduled by the supervisor",
		},
	)

	sessionResetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagate_session_resets_total",
			Help: "Session resets by trigger",
		},
		[]string{"cause"}, // cause: reason, max_attempts, api, load_failed
	)
)

// Messages

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagate_messages_total",
			Help: "Inbound messages by ingest outcome",
		},
		[]string{"outcome"}, // outcome: accepted, stale, self, empty
	)

	triggerDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagate_trigger_dispatch_total",
			Help: "Trigger dispatches by prefix and status",
		},
		[]string{"prefix", "status"}, // status: replied, silent, error
	)
)

// Webhook

var (
	webhookAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagate_webhook_attempts_total",
			Help: "Webhook delivery attempts by result",
		},
		[]string{"result"}, // result: success, retryable, terminal
	)

	webhookDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wagate_webhook_duration_seconds",
			Help:    "Webhook POST duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)
)

var states = []string{"idle", "connecting", "open", "closed"}

// SetConnectionState marks state as the active connection state.
func SetConnectionState(state string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		connectionState.WithLabelValues(s).Set(v)
	}
}

func RecordDisconnect(reason string) {
	disconnectsTotal.WithLabelValues(reason).Inc()
}

func RecordReconnectScheduled() {
	reconnectsScheduledTotal.Inc()
}

func RecordSessionReset(cause string) {
	sessionResetsTotal.WithLabelValues(cause).Inc()
}

func RecordMessage(outcome string) {
	messagesTotal.WithLabelValues(outcome).Inc()
}

func RecordTriggerDispatch(prefix, status string) {
	triggerDispatchTotal.WithLabelValues(prefix, status).Inc()
}

func RecordWebhookAttempt(result string, durationMS int) {
	webhookAttemptsTotal.WithLabelValues(result).Inc()
	if durationMS > 0 {
		webhookDurationSeconds.Observe(float64(durationMS) / 1000.0)
	}
}
