// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RealtimeConnectionsActive tracks open realtime connections by transport.
	RealtimeConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Number of open realtime connections",
		},
		[]string{"transport"},
	)

	// OnlineUsers tracks the size of the presence registry.
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_online_users",
			Help: "Number of users with a registered connection",
		},
	)

	// EventsDelivered tracks events handed to connections.
	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_delivered_total",
			Help: "Events queued for delivery to a connection",
		},
		[]string{"event"},
	)

	// EventsDropped tracks events that could not be delivered.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_dropped_total",
			Help: "Events dropped because the recipient was offline or slow",
		},
		[]string{"event", "reason"},
	)

	// RelayPublished tracks events mirrored to NATS.
	RelayPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_relay_published_total",
			Help: "Events mirrored to the NATS event stream",
		},
		[]string{"event", "status"},
	)

	// ConversationsTotal tracks conversations created.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
		[]string{"kind"},
	)

	// MessagesTotal tracks messages sent.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages sent",
		},
		[]string{"kind"},
	)

	// StoriesTotal tracks stories posted.
	StoriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stories_total",
			Help: "Total stories posted",
		},
		[]string{"type"},
	)

	// ReaperRuns tracks reaper passes.
	ReaperRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reaper_runs_total",
			Help: "Reaper passes by task and outcome",
		},
		[]string{"task", "status"},
	)

	// ReaperRemoved tracks records removed by the reaper.
	ReaperRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reaper_removed_total",
			Help: "Records removed by the reaper",
		},
		[]string{"task"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// IncrementConnections increments the open connection count for transport.
func IncrementConnections(transport string) {
	RealtimeConnectionsActive.WithLabelValues(transport).Inc()
}

// DecrementConnections decrements the open connection count for transport.
func DecrementConnections(transport string) {
	RealtimeConnectionsActive.WithLabelValues(transport).Dec()
}

// RecordReaperRun records the outcome of one reaper task.
func RecordReaperRun(task string, removed int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ReaperRuns.WithLabelValues(task, status).Inc()
	ReaperRemoved.WithLabelValues(task).Add(float64(removed))
}
