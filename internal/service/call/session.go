package call

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"duet-backend/internal/domain"
	"duet-backend/internal/rtc"
)

// session owns everything belonging to one call. It is created when a call
// starts or rings and discarded as a whole when it ends.
type session struct {
	peer     domain.Identity
	callType domain.CallType
	outgoing bool

	historyID       uuid.UUID
	historyRecorded bool
	createdAt       time.Time

	// pending is the offer-request shown to the user while ringing
	pending *domain.CallSignal
	// early holds candidates trickled before the connection exists
	early []domain.ICECandidate

	local  *rtc.Stream
	screen *rtc.Stream
	camera rtc.Track
	conn   *rtc.Connection
	remote *rtc.Stream

	ringTimer *clock.Timer
	ticker    *clock.Ticker
	tickStop  chan struct{}

	signaled    bool
	connected   bool
	connectedAt time.Time
	sharing     bool
	ended       bool
}

// entry builds the history row for this session from self's point of view
func (s *session) entry(self uuid.UUID, status domain.CallStatus, duration int) domain.CallHistoryEntry {
	e := domain.CallHistoryEntry{
		ID:              s.historyID,
		CallType:        s.callType,
		Status:          status,
		DurationSeconds: duration,
		CreatedAt:       s.createdAt,
	}
	if s.outgoing {
		e.CallerID, e.CalleeID = self, s.peer.UserID
	} else {
		e.CallerID, e.CalleeID = s.peer.UserID, self
	}
	return e
}

// stopTimers clears the ring timer and the duration ticker
func (s *session) stopTimers() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.tickStop)
		s.ticker = nil
	}
}

// outcome describes how a session ends
type outcome struct {
	// status overrides the computed history status when set
	status domain.CallStatus
	notice string
	// sendEnded tells the peer to hang up
	sendEnded bool
	// sendRejected declines a ringing call
	sendRejected bool
	reason       string
}
