package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType is the media kind requested for a call
type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type
func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

// IsVideo reports whether the call wants a camera track
func (t CallType) IsVideo() bool {
	return t == CallTypeVideo
}

// CallTypeFor maps the isVideo flag used by the UI to a CallType
func CallTypeFor(isVideo bool) CallType {
	if isVideo {
		return CallTypeVideo
	}
	return CallTypeVoice
}

// CallStatus is the outcome recorded in call history
type CallStatus string

const (
	CallStatusOutgoing  CallStatus = "outgoing"
	CallStatusIncoming  CallStatus = "incoming"
	CallStatusCompleted CallStatus = "completed"
	CallStatusMissed    CallStatus = "missed"
	CallStatusRejected  CallStatus = "rejected"
)

// CallHistoryEntry is one row of the call_history table.
// Each endpoint writes its own row: created when the call starts and
// updated once with the final status and duration.
type CallHistoryEntry struct {
	ID              uuid.UUID  `json:"id"`
	CallerID        uuid.UUID  `json:"caller_id"`
	CalleeID        uuid.UUID  `json:"callee_id"`
	CallType        CallType   `json:"call_type"`
	Status          CallStatus `json:"status"`
	DurationSeconds int        `json:"duration_seconds"`
	CreatedAt       time.Time  `json:"created_at"`
}

// CallState is a state of the 1:1 call lifecycle
type CallState string

const (
	CallStateIdle            CallState = "idle"
	CallStateOutgoingRinging CallState = "outgoing-ringing"
	CallStateIncomingRinging CallState = "incoming-ringing"
	CallStateConnecting      CallState = "connecting"
	CallStateActive          CallState = "active"
	CallStateEnded           CallState = "ended"
)

// Identity names a call endpoint
type Identity struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
}
