package rtc

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	apperrors "duet-backend/pkg/errors"
	"duet-backend/pkg/logger"
)

// Manager creates connections and captures local media. It holds no per-call
// state; sessions own the connections and streams it hands out.
type Manager struct {
	source     MediaSource
	factory    Factory
	iceServers []string
	log        *zap.Logger
}

// NewManager requires at least two independent STUN servers
func NewManager(source MediaSource, factory Factory, iceServers []string, log *zap.Logger) (*Manager, error) {
	if len(iceServers) < 2 {
		return nil, fmt.Errorf("at least two STUN servers are required, got %d", len(iceServers))
	}
	servers := make([]string, len(iceServers))
	copy(servers, iceServers)
	return &Manager{
		source:     source,
		factory:    factory,
		iceServers: servers,
		log:        logger.OrDefault(log).Named("rtc"),
	}, nil
}

// ICEServers returns the configured STUN servers
func (m *Manager) ICEServers() []string {
	out := make([]string, len(m.iceServers))
	copy(out, m.iceServers)
	return out
}

// AcquireLocalMedia opens the microphone, and the camera when wantVideo is set.
// Denied permission or a missing device yields a MEDIA_ACCESS_FAILED error.
func (m *Manager) AcquireLocalMedia(ctx context.Context, wantVideo bool) (*Stream, error) {
	stream, err := m.source.GetUserMedia(ctx, Constraints{Audio: true, Video: wantVideo})
	if err != nil {
		m.log.Warn("Local media acquisition failed", zap.Bool("video", wantVideo), zap.Error(err))
		return nil, apperrors.MediaAccessError(err)
	}
	if stream.AudioTrack() == nil || (wantVideo && stream.VideoTrack() == nil) {
		stream.Stop()
		return nil, apperrors.MediaAccessError(fmt.Errorf("requested device missing from capture"))
	}
	return stream, nil
}

// AcquireScreen opens a screen capture with exactly one video track
func (m *Manager) AcquireScreen(ctx context.Context) (*Stream, error) {
	stream, err := m.source.GetDisplayMedia(ctx)
	if err != nil {
		m.log.Info("Screen capture unavailable", zap.Error(err))
		return nil, apperrors.ScreenShareError(err)
	}
	if stream.VideoTrack() == nil {
		stream.Stop()
		return nil, apperrors.ScreenShareError(fmt.Errorf("screen capture has no video track"))
	}
	return stream, nil
}

// CreateConnection creates a peer connection with every local track attached
func (m *Manager) CreateConnection(local *Stream, h Handlers) (*Connection, error) {
	conn := newConnection(h, m.log)
	pc, err := m.factory.NewPeerConnection(PeerConfig{ICEServers: m.ICEServers()}, local, conn.peerHandlers())
	if err != nil {
		return nil, apperrors.NegotiationError(err)
	}
	conn.pc = pc
	conn.video = local.VideoTrack()
	return conn, nil
}

// ReplaceOutgoingVideoTrack swaps the outgoing video without renegotiation
func (m *Manager) ReplaceOutgoingVideoTrack(conn *Connection, t Track) error {
	if conn == nil {
		return fmt.Errorf("replace track: no connection")
	}
	return conn.replaceVideo(t)
}

// Teardown closes conn and stops every track on the given streams and on
// the connection's remote stream. Nil arguments and repeated calls are fine.
func (m *Manager) Teardown(conn *Connection, streams ...*Stream) {
	if conn != nil {
		if err := conn.Close(); err != nil {
			m.log.Debug("Peer connection close returned error", zap.Error(err))
		}
		conn.RemoteStream().Stop()
	}
	for _, s := range streams {
		s.Stop()
	}
}
