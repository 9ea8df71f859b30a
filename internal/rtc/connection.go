package rtc

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"duet-backend/internal/domain"
)

// Handlers receives connection events. All callbacks are optional and may
// fire on any goroutine; none fire after Close.
type Handlers struct {
	// OnRemoteStream fires whenever a remote track is added to the remote stream.
	OnRemoteStream func(s *Stream)
	OnICECandidate func(c domain.ICECandidate)
	OnStateChange  func(s ConnectionState)
}

// Connection is one negotiated peer connection. Remote ICE candidates that
// arrive before the remote description are held and applied right after it.
type Connection struct {
	pc     PeerConnection
	h      Handlers
	log    *zap.Logger
	remote *Stream

	// opMu serializes calls into the primitive
	opMu sync.Mutex

	mu        sync.Mutex
	state     ConnectionState
	remoteSet bool
	pending   []domain.ICECandidate
	video     Track
	closed    bool
}

func newConnection(h Handlers, log *zap.Logger) *Connection {
	return &Connection{
		h:      h,
		log:    log,
		remote: NewStream(""),
		state:  StateNew,
	}
}

// CreateOffer creates and applies the local offer
func (c *Connection) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.isClosed() {
		return domain.SessionDescription{}, fmt.Errorf("create offer: connection closed")
	}
	sd, err := c.pc.CreateOffer(ctx)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	return sd, nil
}

// CreateAnswer creates and applies the local answer. The remote offer must be set.
func (c *Connection) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.isClosed() {
		return domain.SessionDescription{}, fmt.Errorf("create answer: connection closed")
	}
	sd, err := c.pc.CreateAnswer(ctx)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	return sd, nil
}

// SetRemoteDescription applies sd and flushes buffered candidates
func (c *Connection) SetRemoteDescription(sd domain.SessionDescription) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.isClosed() {
		return fmt.Errorf("set remote description: connection closed")
	}
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.log.Warn("Failed to apply buffered ICE candidate", zap.Error(err))
		}
	}
	if len(pending) > 0 {
		c.log.Debug("Flushed buffered ICE candidates", zap.Int("count", len(pending)))
	}
	return nil
}

// AddICECandidate applies cand, or holds it until the remote description is set
func (c *Connection) AddICECandidate(cand domain.ICECandidate) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if !c.remoteSet {
		c.pending = append(c.pending, cand)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.pc.AddICECandidate(cand); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// PendingCandidates returns how many remote candidates are waiting for the remote description
func (c *Connection) PendingCandidates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// RemoteDescriptionSet reports whether an offer or answer from the peer was applied
func (c *Connection) RemoteDescriptionSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteSet
}

// OutgoingVideo returns the track currently sent on the video sender
func (c *Connection) OutgoingVideo() Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.video
}

// RemoteStream collects the tracks received from the peer
func (c *Connection) RemoteStream() *Stream {
	return c.remote
}

// State returns the last observed connection state
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Closed reports whether Close was called
func (c *Connection) Closed() bool {
	return c.isClosed()
}

// Close closes the primitive. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateClosed
	c.pending = nil
	c.mu.Unlock()

	if c.pc == nil {
		return nil
	}
	return c.pc.Close()
}

func (c *Connection) replaceVideo(t Track) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.isClosed() {
		return fmt.Errorf("replace track: connection closed")
	}
	if err := c.pc.ReplaceTrack(KindVideo, t); err != nil {
		return fmt.Errorf("replace track: %w", err)
	}
	c.mu.Lock()
	c.video = t
	c.mu.Unlock()
	return nil
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) peerHandlers() PeerHandlers {
	return PeerHandlers{
		OnTrack:        c.handleTrack,
		OnICECandidate: c.handleCandidate,
		OnStateChange:  c.handleState,
	}
}

func (c *Connection) handleTrack(t Track, _ string) {
	if c.isClosed() {
		t.Stop()
		return
	}
	c.remote.AddTrack(t)
	if c.h.OnRemoteStream != nil {
		c.h.OnRemoteStream(c.remote)
	}
}

func (c *Connection) handleCandidate(cand domain.ICECandidate) {
	if c.isClosed() || c.h.OnICECandidate == nil {
		return
	}
	c.h.OnICECandidate(cand)
}

func (c *Connection) handleState(s ConnectionState) {
	c.mu.Lock()
	if c.closed || c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.log.Debug("Peer connection state changed", zap.String("state", string(s)))
	if c.h.OnStateChange != nil {
		c.h.OnStateChange(s)
	}
}
