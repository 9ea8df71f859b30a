package rtc

import (
	"context"

	"duet-backend/internal/domain"
)

// ConnectionState mirrors RTCPeerConnectionState
type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// PeerConnection is the platform primitive. Callbacks registered through
// PeerHandlers may fire on any goroutine.
type PeerConnection interface {
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	// CreateAnswer creates an answer and applies it as the local description.
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetRemoteDescription(sd domain.SessionDescription) error
	AddICECandidate(c domain.ICECandidate) error
	// ReplaceTrack swaps the track on the sender of the given kind without renegotiation.
	ReplaceTrack(kind TrackKind, t Track) error
	Close() error
}

// PeerHandlers receives primitive events
type PeerHandlers struct {
	OnTrack        func(t Track, streamID string)
	OnICECandidate func(c domain.ICECandidate)
	OnStateChange  func(s ConnectionState)
}

// PeerConfig is passed to the factory for every new primitive
type PeerConfig struct {
	ICEServers []string
}

// Factory builds primitives with the local tracks attached
type Factory interface {
	NewPeerConnection(cfg PeerConfig, local *Stream, h PeerHandlers) (PeerConnection, error)
}
