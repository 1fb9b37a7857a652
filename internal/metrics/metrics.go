// Package metrics registers the Prometheus collectors exported by the chat
// server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_active",
		Help: "The current number of live WebSocket sessions.",
	})
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_connections_total",
		Help: "The total number of WebSocket sessions accepted.",
	})
	EvictedConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_connections_evicted_total",
		Help: "Sessions closed because their send buffer was full.",
	})

	// Room metrics
	MessagesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_persisted_total",
		Help: "Chat messages written to the message store.",
	}, []string{"room"})
	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_broadcasts_total",
		Help: "Fan-out operations performed, by event.",
	}, []string{"event"})
	DroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_dropped_total",
		Help: "Inbound events discarded without effect, by reason.",
	}, []string{"reason"})

	// Store metrics
	StoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_store_failures_total",
		Help: "Failed store calls, by operation.",
	}, []string{"operation"})
)

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
