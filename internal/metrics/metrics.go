// Package metrics holds the prometheus collectors shared by the relay, the
// signaling coordinator and the websocket transport.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sessions
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_sessions_active",
		Help: "Current number of connected websocket sessions",
	})

	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_online_users",
		Help: "Identities currently registered in the presence directory",
	})

	SessionsEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "huddle_sessions_evicted_total",
		Help: "Sessions disconnected because their outbound buffer was full",
	})

	// Relay
	MessagesPersistedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_messages_persisted_total",
		Help: "Chat messages handed to the store, by kind and outcome",
	}, []string{"kind", "status"})

	MessagesDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_messages_deleted_total",
		Help: "Delete requests by outcome",
	}, []string{"status"})

	PersistDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "huddle_store_duration_seconds",
		Help:    "Latency of message store operations",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"op"}) // "save", "list", "delete"

	// Signaling
	SignalsForwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_signals_forwarded_total",
		Help: "Call-control messages forwarded to their target",
	}, []string{"action"})

	SignalsUnroutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_signals_unrouted_total",
		Help: "Call-control messages whose target was not registered",
	}, []string{"action"})

	// Transport
	InboundRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_inbound_rejected_total",
		Help: "Inbound frames answered with a protocol error",
	}, []string{"code"})
)
