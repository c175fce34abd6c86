package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_api_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_api_request_duration_seconds",
			Help:    "Duration of HTTP API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Chat operations, shared by both transports
	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_appended_total",
			Help: "Total number of messages appended, by transport and kind",
		},
		[]string{"transport", "kind"},
	)

	ChatOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_operation_errors_total",
			Help: "Total number of failed chat operations, by operation and error category",
		},
		[]string{"operation", "category"},
	)

	// Gateway
	GatewayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_gateway_connections",
			Help: "Current number of open gateway connections",
		},
	)

	GatewayAuthenticated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_gateway_authenticated_connections",
			Help: "Current number of authenticated gateway connections",
		},
	)

	GatewayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_gateway_events_total",
			Help: "Total number of gateway events, by direction and event name",
		},
		[]string{"direction", "event"},
	)

	GatewayDroppedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_gateway_dropped_frames_total",
			Help: "Total number of outbound frames dropped because a client send buffer was full",
		},
	)

	// Directory enrichment
	DirectoryLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_directory_lookups_total",
			Help: "Total number of directory lookups, by entity and result",
		},
		[]string{"entity", "result"}, // result: hit, miss, not_found, error
	)

	// Event bus
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_published_total",
			Help: "Total number of events published to the bus",
		},
		[]string{"type", "status"},
	)

	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_consumed_total",
			Help: "Total number of events consumed from the bus",
		},
		[]string{"type", "result"}, // result: delivered, skipped_self, invalid
	)
)

// RecordAPIRequest records one HTTP request.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordMessageAppended counts an appended message.
func RecordMessageAppended(transport, kind string) {
	MessagesAppended.WithLabelValues(transport, kind).Inc()
}

// RecordOperationError counts a failed chat operation.
func RecordOperationError(operation, category string) {
	ChatOperationErrors.WithLabelValues(operation, category).Inc()
}

// RecordGatewayEvent counts an inbound ("in") or outbound ("out") event.
func RecordGatewayEvent(direction, event string) {
	GatewayEvents.WithLabelValues(direction, event).Inc()
}

// RecordDirectoryLookup counts a directory lookup result.
func RecordDirectoryLookup(entity, result string) {
	DirectoryLookups.WithLabelValues(entity, result).Inc()
}

// RecordEventPublished counts a publish attempt.
func RecordEventPublished(eventType string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	EventsPublished.WithLabelValues(eventType, status).Inc()
}

// RecordEventConsumed counts a consumed event.
func RecordEventConsumed(eventType, result string) {
	EventsConsumed.WithLabelValues(eventType, result).Inc()
}
