package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	namespace = "sharedoc"
	subsystem = "client"

	framesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_sent_total",
			Help:      "Frames sent by action",
		},
		[]string{"action"},
	)

	framesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_received_total",
			Help:      "Frames received by action",
		},
		[]string{"action"},
	)

	stateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Connection state transitions by destination state",
		},
		[]string{"state"},
	)

	protocolErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "protocol_errors_total",
			Help:      "Errors raised while handling inbound frames",
		},
	)

	opsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ops_submitted_total",
			Help:      "Local ops submitted, before compose",
		},
	)

	opsAcked = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ops_acked_total",
			Help:      "Outstanding ops acknowledged by the server",
		},
	)

	opsRetried = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ops_retried_total",
			Help:      "Outstanding ops resent after the resend threshold",
		},
	)

	opsDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ops_discarded_total",
			Help:      "Local ops reduced to no-ops by a concurrent create or delete",
		},
	)

	remoteOpsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "remote_ops_applied_total",
			Help:      "Remote ops transformed and applied",
		},
	)

	transportReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transport_reconnects_total",
			Help:      "Websocket dial attempts after the first",
		},
	)
)
