package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-level Prometheus metrics of a service. Every
// instance owns its registry so several can coexist in one test binary.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec

	// History Metrics
	historyWritesTotal  *prometheus.CounterVec
	historyDroppedTotal prometheus.Counter
	historyQueueDepth   prometheus.Gauge

	// Push Notification Metrics
	pushNotificationsTotal  *prometheus.CounterVec
	pushNotificationsFailed *prometheus.CounterVec

	// Redis Metrics
	redisDegraded     prometheus.Gauge
	redisHealthChecks *prometheus.CounterVec

	// Calls and rooms
	Calls *CallMetrics
	Rooms *RoomMetrics
}

// NewMetrics creates and registers all metrics on a fresh registry
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	labels := prometheus.Labels{"service": serviceName}
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of active signaling WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket frames relayed",
				ConstLabels: labels,
			},
			[]string{"kind", "direction"},
		),
		websocketErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_errors_total",
				Help:        "Total number of WebSocket errors",
				ConstLabels: labels,
			},
			[]string{"error"},
		),

		historyWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_history_writes_total",
				Help:        "Total number of call history writes",
				ConstLabels: labels,
			},
			[]string{"op", "result"},
		),
		historyDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "call_history_dropped_total",
				Help:        "Call history writes dropped because the queue was full",
				ConstLabels: labels,
			},
		),
		historyQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "call_history_queue_depth",
				Help:        "Call history writes waiting for the worker",
				ConstLabels: labels,
			},
		),

		pushNotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_total",
				Help:        "Total number of incoming-call push notifications",
				ConstLabels: labels,
			},
			[]string{"provider", "result"},
		),
		pushNotificationsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_failed_total",
				Help:        "Total number of failed push notifications",
				ConstLabels: labels,
			},
			[]string{"provider"},
		),

		redisDegraded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "redis_degraded_mode",
				Help:        "Indicates if Redis is in degraded mode (1 = degraded, 0 = healthy)",
				ConstLabels: labels,
			},
		),
		redisHealthChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "redis_health_check_total",
				Help:        "Total number of Redis health checks",
				ConstLabels: labels,
			},
			[]string{"result"},
		),
	}
	m.Calls = newCallMetrics(factory, labels)
	m.Rooms = newRoomMetrics(factory, labels)
	return m
}

// GetRegistry returns the registry the metrics are registered on
func (m *Metrics) GetRegistry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// HTTP Metrics Methods

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the number of in-flight HTTP requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the number of in-flight HTTP requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Dec()
}

// WebSocket Metrics Methods

// WebSocketOpened counts a new signaling connection
func (m *Metrics) WebSocketOpened() {
	if m == nil {
		return
	}
	m.websocketConnections.Inc()
}

// WebSocketClosed releases a signaling connection
func (m *Metrics) WebSocketClosed() {
	if m == nil {
		return
	}
	m.websocketConnections.Dec()
}

// RecordWebSocketMessage records a relayed frame; direction is in or out
func (m *Metrics) RecordWebSocketMessage(kind, direction string) {
	if m == nil {
		return
	}
	m.websocketMessagesTotal.WithLabelValues(kind, direction).Inc()
}

// RecordWebSocketError records a WebSocket error
func (m *Metrics) RecordWebSocketError(err string) {
	if m == nil {
		return
	}
	m.websocketErrorsTotal.WithLabelValues(err).Inc()
}

// History Metrics Methods

// RecordHistoryWrite records one history write; op is append or complete
func (m *Metrics) RecordHistoryWrite(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.historyWritesTotal.WithLabelValues(op, result).Inc()
}

// RecordHistoryDropped counts a write lost to a full queue
func (m *Metrics) RecordHistoryDropped() {
	if m == nil {
		return
	}
	m.historyDroppedTotal.Inc()
}

// SetHistoryQueueDepth reports the pending history writes
func (m *Metrics) SetHistoryQueueDepth(n int) {
	if m == nil {
		return
	}
	m.historyQueueDepth.Set(float64(n))
}

// Push Notification Metrics Methods

// RecordPushNotification records an incoming-call push; result is sent,
// suppressed or failed
func (m *Metrics) RecordPushNotification(provider, result string) {
	if m == nil {
		return
	}
	m.pushNotificationsTotal.WithLabelValues(provider, result).Inc()
	if result == "failed" {
		m.pushNotificationsFailed.WithLabelValues(provider).Inc()
	}
}

// Redis Metrics Methods

// SetRedisDegraded reports whether Redis is unreachable
func (m *Metrics) SetRedisDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.redisDegraded.Set(1)
		return
	}
	m.redisDegraded.Set(0)
}

// RecordRedisHealthCheck records one ping of Redis
func (m *Metrics) RecordRedisHealthCheck(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.redisHealthChecks.WithLabelValues(result).Inc()
}
