package rtctest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"duet-backend/internal/domain"
	"duet-backend/internal/rtc"
)

const sdpPrefix = "fake-sdp "

// Network is an rtc.Factory whose connections find each other through the
// session descriptions they exchange. A pair reports connected as soon as
// both sides hold a local and a remote description.
type Network struct {
	mu      sync.Mutex
	seq     int
	conns   map[string]*PeerConn
	order   []*PeerConn
	failNew error
}

// NewNetwork creates an empty network
func NewNetwork() *Network {
	return &Network{conns: make(map[string]*PeerConn)}
}

// FailNewConnections makes NewPeerConnection return err (nil restores it)
func (n *Network) FailNewConnections(err error) {
	n.mu.Lock()
	n.failNew = err
	n.mu.Unlock()
}

// Conns returns every connection created, in creation order
func (n *Network) Conns() []*PeerConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*PeerConn, len(n.order))
	copy(out, n.order)
	return out
}

// Open returns connections that have not been closed
func (n *Network) Open() []*PeerConn {
	var out []*PeerConn
	for _, c := range n.Conns() {
		if !c.IsClosed() {
			out = append(out, c)
		}
	}
	return out
}

// Between finds the open connection that sends local and receives from remote
func (n *Network) Between(local, remote *rtc.Stream) *PeerConn {
	for _, c := range n.Open() {
		if c.local != local {
			continue
		}
		if p := c.Peer(); p != nil && p.local == remote {
			return c
		}
	}
	return nil
}

func (n *Network) NewPeerConnection(cfg rtc.PeerConfig, local *rtc.Stream, h rtc.PeerHandlers) (rtc.PeerConnection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failNew != nil {
		return nil, n.failNew
	}
	n.seq++
	pc := &PeerConn{
		id:      fmt.Sprintf("pc%d", n.seq),
		net:     n,
		cfg:     cfg,
		local:   local,
		h:       h,
		senders: make(map[rtc.TrackKind]rtc.Track),
	}
	for _, t := range local.Tracks() {
		pc.senders[t.Kind()] = t
	}
	n.conns[pc.id] = pc
	n.order = append(n.order, pc)
	return pc, nil
}

func (n *Network) lookup(id string) *PeerConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conns[id]
}

// PeerConn is a fake rtc.PeerConnection
type PeerConn struct {
	id    string
	net   *Network
	cfg   rtc.PeerConfig
	local *rtc.Stream
	h     rtc.PeerHandlers

	mu         sync.Mutex
	senders    map[rtc.TrackKind]rtc.Track
	localDesc  *domain.SessionDescription
	remoteDesc *domain.SessionDescription
	peer       *PeerConn
	candidates []domain.ICECandidate
	offers     int
	answers    int
	replaced   int
	connected  bool
	closed     bool
}

// Config returns the configuration the connection was created with
func (p *PeerConn) Config() rtc.PeerConfig { return p.cfg }

// LocalStream returns the stream whose tracks were attached at creation
func (p *PeerConn) LocalStream() *rtc.Stream { return p.local }

func (p *PeerConn) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return domain.SessionDescription{}, errors.New("connection closed")
	}
	p.offers++
	sd := domain.SessionDescription{Type: "offer", SDP: sdpPrefix + p.id}
	p.localDesc = &sd
	p.mu.Unlock()

	p.afterLocalDescription()
	return sd, nil
}

func (p *PeerConn) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return domain.SessionDescription{}, errors.New("connection closed")
	}
	if p.remoteDesc == nil || p.remoteDesc.Type != "offer" {
		p.mu.Unlock()
		return domain.SessionDescription{}, errors.New("no remote offer")
	}
	p.answers++
	sd := domain.SessionDescription{Type: "answer", SDP: sdpPrefix + p.id}
	p.localDesc = &sd
	p.mu.Unlock()

	p.afterLocalDescription()
	return sd, nil
}

func (p *PeerConn) SetRemoteDescription(sd domain.SessionDescription) error {
	if !strings.HasPrefix(sd.SDP, sdpPrefix) {
		return fmt.Errorf("malformed sdp %q", sd.SDP)
	}
	peer := p.net.lookup(strings.TrimPrefix(sd.SDP, sdpPrefix))
	if peer == nil {
		return fmt.Errorf("unknown peer in sdp %q", sd.SDP)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("connection closed")
	}
	p.remoteDesc = &sd
	p.peer = peer
	p.mu.Unlock()

	p.maybeConnect()
	return nil
}

func (p *PeerConn) AddICECandidate(c domain.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteDesc == nil {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *PeerConn) ReplaceTrack(kind rtc.TrackKind, t rtc.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.senders[kind]; !ok {
		return fmt.Errorf("no %s sender", kind)
	}
	p.senders[kind] = t
	p.replaced++
	return nil
}

func (p *PeerConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Fail reports the failed state to the owner
func (p *PeerConn) Fail() {
	if p.h.OnStateChange != nil {
		p.h.OnStateChange(rtc.StateFailed)
	}
}

// Disconnect reports the disconnected state to the owner
func (p *PeerConn) Disconnect() {
	if p.h.OnStateChange != nil {
		p.h.OnStateChange(rtc.StateDisconnected)
	}
}

// Sender returns the track currently sent for kind
func (p *PeerConn) Sender(kind rtc.TrackKind) rtc.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.senders[kind]
}

// ReceivedVideo is the video track the linked peer is currently sending
func (p *PeerConn) ReceivedVideo() rtc.Track {
	peer := p.Peer()
	if peer == nil {
		return nil
	}
	return peer.Sender(rtc.KindVideo)
}

// Peer returns the connection on the other side, once known
func (p *PeerConn) Peer() *PeerConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer
}

// Candidates returns the remote candidates applied so far
func (p *PeerConn) Candidates() []domain.ICECandidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ICECandidate, len(p.candidates))
	copy(out, p.candidates)
	return out
}

func (p *PeerConn) Offers() int   { p.mu.Lock(); defer p.mu.Unlock(); return p.offers }
func (p *PeerConn) Answers() int  { p.mu.Lock(); defer p.mu.Unlock(); return p.answers }
func (p *PeerConn) Replaced() int { p.mu.Lock(); defer p.mu.Unlock(); return p.replaced }

func (p *PeerConn) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *PeerConn) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *PeerConn) afterLocalDescription() {
	if p.h.OnICECandidate != nil {
		cand := domain.ICECandidate{Candidate: "candidate:" + p.id + " 1 udp 2130706431 127.0.0.1 9 typ host"}
		go p.h.OnICECandidate(cand)
	}
	p.maybeConnect()
}

func (p *PeerConn) maybeConnect() {
	p.mu.Lock()
	if p.connected || p.closed || p.localDesc == nil || p.remoteDesc == nil {
		p.mu.Unlock()
		return
	}
	p.connected = true
	peer := p.peer
	p.mu.Unlock()

	var remote []rtc.Track
	for _, t := range peer.local.Tracks() {
		remote = append(remote, &Track{
			BaseTrack: rtc.NewBaseTrack(t.ID(), t.Kind(), nil),
			Label:     "remote",
		})
	}

	go func() {
		if p.h.OnTrack != nil {
			for _, t := range remote {
				p.h.OnTrack(t, peer.local.ID())
			}
		}
		if p.h.OnStateChange != nil {
			p.h.OnStateChange(rtc.StateConnecting)
			p.h.OnStateChange(rtc.StateConnected)
		}
	}()
}
