package call

import (
	"time"

	"duet-backend/internal/domain"
	"duet-backend/internal/rtc"
)

// EventType tells the UI what changed
type EventType string

const (
	EventIncoming     EventType = "incoming"
	EventState        EventType = "state"
	EventNotice       EventType = "notice"
	EventTick         EventType = "tick"
	EventRemoteStream EventType = "remote-stream"
)

// User-facing notices. Every fatal condition produces exactly one.
const (
	NoticeDeclined     = "Call declined"
	NoticeBusy         = "User is busy"
	NoticeNoAnswer     = "No answer"
	NoticeMissed       = "Missed call"
	NoticeEnded        = "Call ended"
	NoticeMediaFailed  = "Media access failed"
	NoticeCallFailed   = "Call failed"
	NoticeScreenFailed = "Screen sharing unavailable"
)

// Event is emitted on the channel returned by Service.Events
type Event struct {
	Type     EventType
	State    domain.CallState
	Peer     domain.Identity
	Notice   string
	Duration time.Duration
	Incoming *domain.CallSignal
	Stream   *rtc.Stream
}
