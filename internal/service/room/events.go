package room

import (
	"duet-backend/internal/domain"
	"duet-backend/internal/rtc"
)

// EventType tells the UI what changed in the room
type EventType string

const (
	EventJoined            EventType = "joined"
	EventLeft              EventType = "left"
	EventParticipantJoined EventType = "participant-joined"
	EventParticipantLeft   EventType = "participant-left"
	EventRemoteStream      EventType = "remote-stream"
	EventChat              EventType = "chat"
	EventScreenShare       EventType = "screen-share"
	EventNotice            EventType = "notice"
)

// NoticeScreenFailed is shown when a screen capture cannot be started
const NoticeScreenFailed = "Screen sharing unavailable"

// Event is emitted on the channel returned by Service.Events
type Event struct {
	Type        EventType
	RoomID      string
	Participant domain.Identity
	Stream      *rtc.Stream
	Chat        *domain.ChatMessage
	Sharing     bool
	Notice      string
}

// Participant is a snapshot of one remote member
type Participant struct {
	Identity  domain.Identity
	IsVideo   bool
	Stream    *rtc.Stream
	Sharing   bool
	Connected bool
}
