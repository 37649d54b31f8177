package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionStateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edumate_rt_connection_state",
			Help: "1 for the current connection state of the messaging client, 0 for the others.",
		},
		[]string{"state"},
	)

	ConnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edumate_rt_connect_attempts_total",
			Help: "Dial attempts by transport and outcome (success, error, auth_error).",
		},
		[]string{"transport", "outcome"},
	)

	ReconnectsScheduledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edumate_rt_reconnects_scheduled_total",
			Help: "Reconnects scheduled, by trigger (backoff, server_disconnect).",
		},
		[]string{"trigger"},
	)

	ReconnectAttemptsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edumate_rt_reconnect_attempts",
			Help: "Consecutive failed connect attempts since the last successful connect.",
		},
	)

	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edumate_rt_messages_sent_total",
			Help: "Outbound sends by kind (direct, group) and outcome (ack, error, not_connected).",
		},
		[]string{"kind", "outcome"},
	)

	CommandsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edumate_rt_commands_emitted_total",
			Help: "Fire-and-forget commands by event name and outcome (sent, skipped, error).",
		},
		[]string{"event", "outcome"},
	)

	InboundEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edumate_rt_inbound_events_total",
			Help: "Inbound events received from the messaging backend, by event name.",
		},
		[]string{"event"},
	)

	ListenerPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edumate_rt_listener_panics_total",
			Help: "Listener callbacks that panicked during fan-out, by category.",
		},
		[]string{"category"},
	)

	NotificationsShownTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edumate_rt_notifications_shown_total",
			Help: "System notifications displayed for inbound messages.",
		},
	)
)

var connectionStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

// SetConnectionState marks state as the current one.
func SetConnectionState(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		ConnectionStateGauge.WithLabelValues(s).Set(v)
	}
}

// IncrementConnectAttempt records the outcome of one dial.
func IncrementConnectAttempt(transport, outcome string) {
	ConnectAttemptsTotal.WithLabelValues(transport, outcome).Inc()
}

// IncrementReconnectScheduled records a scheduled reconnect.
func IncrementReconnectScheduled(trigger string) {
	ReconnectsScheduledTotal.WithLabelValues(trigger).Inc()
}

// SetReconnectAttempts mirrors the transport's attempt counter.
func SetReconnectAttempts(n int) {
	ReconnectAttemptsGauge.Set(float64(n))
}

// IncrementMessagesSent records an outbound send.
func IncrementMessagesSent(kind, outcome string) {
	MessagesSentTotal.WithLabelValues(kind, outcome).Inc()
}

// IncrementCommandsEmitted records a fire-and-forget command.
func IncrementCommandsEmitted(event, outcome string) {
	CommandsEmittedTotal.WithLabelValues(event, outcome).Inc()
}

// IncrementInboundEvents records an inbound event.
func IncrementInboundEvents(event string) {
	InboundEventsTotal.WithLabelValues(event).Inc()
}

// IncrementListenerPanics records a recovered listener panic.
func IncrementListenerPanics(category string) {
	ListenerPanicsTotal.WithLabelValues(category).Inc()
}

// IncrementNotificationsShown records a displayed notification.
func IncrementNotificationsShown() {
	NotificationsShownTotal.Inc()
}
