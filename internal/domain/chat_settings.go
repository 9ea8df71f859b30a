package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatSettings is the per-conversation configuration a user keeps for a peer.
// Call signaling only reads it to decide whether to ring with a push.
type ChatSettings struct {
	OwnerID             uuid.UUID  `json:"owner_id"`
	PeerID              uuid.UUID  `json:"peer_id"`
	Muted               bool       `json:"muted"`
	MutedUntil          *time.Time `json:"muted_until,omitempty"`
	Wallpaper           string     `json:"wallpaper,omitempty"`
	DisappearingSeconds int        `json:"disappearing_seconds"`
}

// IsMuted reports whether notifications from the peer are silenced at now.
// A mute with an expiry in the past no longer applies.
func (s *ChatSettings) IsMuted(now time.Time) bool {
	if s == nil || !s.Muted {
		return false
	}
	if s.MutedUntil == nil {
		return true
	}
	return now.Before(*s.MutedUntil)
}
