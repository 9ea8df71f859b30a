package ws

import (
	"encoding/json"

	"duet-backend/internal/domain"
	"duet-backend/pkg/response"
)

// Frame types exchanged with the browser
const (
	FrameSignal     = "signal"
	FrameRoomJoin   = "room-join"
	FrameRoomJoined = "room-joined"
	FrameRoomEvent  = "room-event"
	FrameRoomLeave  = "room-leave"
	FrameError      = "error"
)

// Frame is one websocket message. Signal is set for signal frames, Event for
// room-event frames and RoomID for room-join and room-leave.
type Frame struct {
	Type   string                `json:"type"`
	Signal *domain.CallSignal    `json:"signal,omitempty"`
	RoomID string                `json:"roomId,omitempty"`
	Room   *domain.Room          `json:"room,omitempty"`
	Event  *domain.RoomEvent     `json:"event,omitempty"`
	Error  *response.ErrorDetail `json:"error,omitempty"`
}

func validRoomEvent(t domain.RoomEventType) bool {
	switch t {
	case domain.RoomEventJoin, domain.RoomEventLeave, domain.RoomEventOffer, domain.RoomEventAnswer,
		domain.RoomEventICECandidate, domain.RoomEventChat, domain.RoomEventScreenShare:
		return true
	}
	return false
}

func encodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}
