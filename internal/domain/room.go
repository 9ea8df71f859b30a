package domain

import (
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"duet-backend/pkg/constants"
	"duet-backend/pkg/sanitize"
)

var (
	// ErrRoomNotFound is returned by room directories for unknown or expired rooms
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomNameTooLong rejects names over constants.MaxRoomNameLength characters
	ErrRoomNameTooLong = errors.New("room name too long")
)

// DefaultRoomName is used when a room is created without a name
const DefaultRoomName = "Group call"

// Room is a group call joined by id
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsVideo   bool      `json:"isVideo"`
	CreatedBy uuid.UUID `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewRoom builds a room with a fresh id. The name is trimmed.
func NewRoom(name string, isVideo bool, createdBy uuid.UUID, now time.Time) (*Room, error) {
	name = sanitize.Name(name)
	if name == "" {
		name = DefaultRoomName
	}
	if utf8.RuneCountInString(name) > constants.MaxRoomNameLength {
		return nil, ErrRoomNameTooLong
	}
	return &Room{
		ID:        uuid.NewString(),
		Name:      name,
		IsVideo:   isVideo,
		CreatedBy: createdBy,
		CreatedAt: now.UTC(),
	}, nil
}

// RoomEventType names a message on a room channel
type RoomEventType string

const (
	RoomEventJoin         RoomEventType = "join"
	RoomEventLeave        RoomEventType = "leave"
	RoomEventOffer        RoomEventType = "offer"
	RoomEventAnswer       RoomEventType = "answer"
	RoomEventICECandidate RoomEventType = "ice-candidate"
	RoomEventChat         RoomEventType = "chat"
	RoomEventScreenShare  RoomEventType = "screen-share"
)

// RoomEvent is broadcast to every member of a room. Offer, answer and
// ice-candidate events are addressed with To; everyone else ignores them.
type RoomEvent struct {
	Type     RoomEventType   `json:"type"`
	RoomID   string          `json:"roomId"`
	From     uuid.UUID       `json:"from"`
	FromName string          `json:"fromName,omitempty"`
	To       uuid.UUID       `json:"to"`
	IsVideo  bool            `json:"isVideo,omitempty"`
	Sharing  bool            `json:"sharing,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Chat     *ChatMessage    `json:"chat,omitempty"`
}

// Targeted reports whether the event is addressed to a single member
func (e RoomEvent) Targeted() bool {
	return e.To != uuid.Nil
}

// ChatMessage is an ephemeral in-call text message. It is never persisted.
type ChatMessage struct {
	ID       string    `json:"id"`
	From     uuid.UUID `json:"from"`
	FromName string    `json:"fromName"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sentAt"`
}
