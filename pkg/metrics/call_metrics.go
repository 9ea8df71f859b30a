package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CallMetrics tracks 1:1 calls. A nil *CallMetrics records nothing.
type CallMetrics struct {
	callsStarted      *prometheus.CounterVec
	callsEnded        *prometheus.CounterVec
	callsDuration     *prometheus.HistogramVec
	callsBusy         prometheus.Counter
	negotiationFailed prometheus.Counter
	signalsSent       *prometheus.CounterVec
}

func newCallMetrics(factory promauto.Factory, labels prometheus.Labels) *CallMetrics {
	return &CallMetrics{
		callsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "calls_started_total",
			Help:        "Total number of outgoing calls that started ringing",
			ConstLabels: labels,
		}, []string{"type"}),
		callsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "calls_ended_total",
			Help:        "Total number of calls by final status",
			ConstLabels: labels,
		}, []string{"status"}),
		callsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "calls_duration_seconds",
			Help:        "Connected call duration in seconds",
			ConstLabels: labels,
			Buckets:     []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"status"}),
		callsBusy: factory.NewCounter(prometheus.CounterOpts{
			Name:        "calls_busy_total",
			Help:        "Total number of calls turned away because the callee was busy",
			ConstLabels: labels,
		}),
		negotiationFailed: factory.NewCounter(prometheus.CounterOpts{
			Name:        "calls_negotiation_failed_total",
			Help:        "Total number of offer/answer exchanges that failed",
			ConstLabels: labels,
		}),
		signalsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "call_signals_sent_total",
			Help:        "Total number of call signals published",
			ConstLabels: labels,
		}, []string{"type"}),
	}
}

// NewCallMetrics registers call metrics on reg
func NewCallMetrics(reg prometheus.Registerer, serviceName string) *CallMetrics {
	return newCallMetrics(promauto.With(reg), prometheus.Labels{"service": serviceName})
}

// CallStarted counts an outgoing call
func (m *CallMetrics) CallStarted(callType string) {
	if m == nil {
		return
	}
	m.callsStarted.WithLabelValues(callType).Inc()
}

// CallEnded records the final status of a call and its connected duration
func (m *CallMetrics) CallEnded(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.callsEnded.WithLabelValues(status).Inc()
	if d > 0 {
		m.callsDuration.WithLabelValues(status).Observe(d.Seconds())
	}
}

// CallBusy counts an automatic busy reply
func (m *CallMetrics) CallBusy() {
	if m == nil {
		return
	}
	m.callsBusy.Inc()
}

// NegotiationFailed counts a broken offer/answer exchange
func (m *CallMetrics) NegotiationFailed() {
	if m == nil {
		return
	}
	m.negotiationFailed.Inc()
}

// SignalSent counts a published signal by type
func (m *CallMetrics) SignalSent(signalType string) {
	if m == nil {
		return
	}
	m.signalsSent.WithLabelValues(signalType).Inc()
}

// RoomMetrics tracks group rooms. A nil *RoomMetrics records nothing.
type RoomMetrics struct {
	participants prometheus.Gauge
	joins        prometheus.Counter
	events       *prometheus.CounterVec
}

func newRoomMetrics(factory promauto.Factory, labels prometheus.Labels) *RoomMetrics {
	return &RoomMetrics{
		participants: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "room_participants",
			Help:        "Remote participants currently connected across rooms",
			ConstLabels: labels,
		}),
		joins: factory.NewCounter(prometheus.CounterOpts{
			Name:        "room_joins_total",
			Help:        "Total number of rooms joined",
			ConstLabels: labels,
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "room_events_total",
			Help:        "Total number of room events broadcast",
			ConstLabels: labels,
		}, []string{"type"}),
	}
}

// Joined counts a local join
func (m *RoomMetrics) Joined() {
	if m == nil {
		return
	}
	m.joins.Inc()
}

// ParticipantAdded increments the participant gauge
func (m *RoomMetrics) ParticipantAdded() {
	if m == nil {
		return
	}
	m.participants.Inc()
}

// ParticipantRemoved decrements the participant gauge
func (m *RoomMetrics) ParticipantRemoved() {
	if m == nil {
		return
	}
	m.participants.Dec()
}

// EventSent counts a broadcast room event
func (m *RoomMetrics) EventSent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}
