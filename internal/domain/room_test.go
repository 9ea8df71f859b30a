package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoom(t *testing.T) {
	creator := uuid.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	room, err := NewRoom("  Standup  ", true, creator, now)
	require.NoError(t, err)
	assert.Equal(t, "Standup", room.Name)
	assert.True(t, room.IsVideo)
	assert.Equal(t, creator, room.CreatedBy)
	assert.Equal(t, time.UTC, room.CreatedAt.Location())
	_, err = uuid.Parse(room.ID)
	assert.NoError(t, err)

	room, err = NewRoom("", false, creator, now)
	require.NoError(t, err)
	assert.Equal(t, DefaultRoomName, room.Name)

	_, err = NewRoom(strings.Repeat("é", 101), false, creator, now)
	assert.ErrorIs(t, err, ErrRoomNameTooLong)
}

func TestRoomEventTargeted(t *testing.T) {
	assert.False(t, RoomEvent{Type: RoomEventJoin}.Targeted())
	assert.True(t, RoomEvent{Type: RoomEventOffer, To: uuid.New()}.Targeted())
}
