package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsUsesOwnRegistry(t *testing.T) {
	a := NewMetrics("call-service")
	b := NewMetrics("call-service")
	require.NotNil(t, a.GetRegistry())
	assert.NotSame(t, a.GetRegistry(), b.GetRegistry())
}

func TestCallMetrics(t *testing.T) {
	m := NewMetrics("test")

	m.Calls.CallStarted("video")
	m.Calls.CallEnded("completed", 5*time.Second)
	m.Calls.CallEnded("missed", 0)
	m.Calls.CallBusy()
	m.Calls.SignalSent("offer-request")
	m.Calls.SignalSent("offer-request")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.callsStarted.WithLabelValues("video")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.callsEnded.WithLabelValues("missed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.callsBusy))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Calls.signalsSent.WithLabelValues("offer-request")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var calls *CallMetrics
	var rooms *RoomMetrics
	var m *Metrics

	assert.NotPanics(t, func() {
		calls.CallStarted("voice")
		calls.CallEnded("completed", time.Second)
		calls.SignalSent("ended")
		rooms.Joined()
		rooms.ParticipantAdded()
		m.WebSocketOpened()
		m.RecordHistoryWrite("append", errors.New("boom"))
		m.RecordPushNotification("mock", "sent")
	})
	assert.Nil(t, m.GetRegistry())
}

func TestHistoryAndPushMetrics(t *testing.T) {
	m := NewMetrics("test")

	m.RecordHistoryWrite("append", nil)
	m.RecordHistoryWrite("complete", errors.New("db down"))
	m.RecordHistoryDropped()
	m.RecordPushNotification("fcm", "failed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.historyWritesTotal.WithLabelValues("append", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.historyWritesTotal.WithLabelValues("complete", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.historyDroppedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pushNotificationsFailed.WithLabelValues("fcm")))
}
