package rtc_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"duet-backend/internal/domain"
	"duet-backend/internal/rtc"
	"duet-backend/internal/rtc/rtctest"
	apperrors "duet-backend/pkg/errors"
)

var stunServers = []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}

func newManager(t *testing.T) (*rtc.Manager, *rtctest.Source, *rtctest.Network) {
	t.Helper()
	source := rtctest.NewSource()
	network := rtctest.NewNetwork()
	m, err := rtc.NewManager(source, network, stunServers, zap.NewNop())
	require.NoError(t, err)
	return m, source, network
}

func TestNewManagerRequiresTwoSTUNServers(t *testing.T) {
	_, err := rtc.NewManager(rtctest.NewSource(), rtctest.NewNetwork(), stunServers[:1], nil)
	assert.Error(t, err)
}

func TestAcquireLocalMedia(t *testing.T) {
	m, source, _ := newManager(t)
	ctx := context.Background()

	voice, err := m.AcquireLocalMedia(ctx, false)
	require.NoError(t, err)
	assert.NotNil(t, voice.AudioTrack())
	assert.Nil(t, voice.VideoTrack())

	video, err := m.AcquireLocalMedia(ctx, true)
	require.NoError(t, err)
	assert.NotNil(t, video.VideoTrack())

	source.DenyUserMedia(rtctest.ErrPermissionDenied)
	_, err = m.AcquireLocalMedia(ctx, true)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMediaAccess))
	assert.ErrorIs(t, err, rtctest.ErrPermissionDenied)
}

func TestAcquireLocalMediaMissingCamera(t *testing.T) {
	m, source, _ := newManager(t)
	source.RemoveCamera()

	_, err := m.AcquireLocalMedia(context.Background(), true)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMediaAccess))
	assert.Zero(t, source.LiveTracks(), "partial capture must be released")
}

func TestAcquireScreen(t *testing.T) {
	m, source, _ := newManager(t)

	screen, err := m.AcquireScreen(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, screen.VideoTrack())

	source.DenyDisplayMedia(errors.New("picker dismissed"))
	_, err = m.AcquireScreen(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeScreenShare))
}

func TestCreateConnectionPassesSTUNServers(t *testing.T) {
	m, _, network := newManager(t)
	local, err := m.AcquireLocalMedia(context.Background(), true)
	require.NoError(t, err)

	conn, err := m.CreateConnection(local, rtc.Handlers{})
	require.NoError(t, err)

	require.Len(t, network.Conns(), 1)
	assert.Equal(t, stunServers, network.Conns()[0].Config().ICEServers)
	assert.Equal(t, local.VideoTrack(), conn.OutgoingVideo())
	assert.Equal(t, rtc.StateNew, conn.State())
}

func TestCreateConnectionFactoryFailure(t *testing.T) {
	m, _, network := newManager(t)
	network.FailNewConnections(errors.New("boom"))

	_, err := m.CreateConnection(rtc.NewStream(""), rtc.Handlers{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNegotiation))
}

// pair negotiates two connections the way two endpoints would over signaling
func pair(t *testing.T, m *rtc.Manager, video bool) (a, b *rtc.Connection, aLocal, bLocal *rtc.Stream) {
	t.Helper()
	ctx := context.Background()
	var err error

	aLocal, err = m.AcquireLocalMedia(ctx, video)
	require.NoError(t, err)
	bLocal, err = m.AcquireLocalMedia(ctx, video)
	require.NoError(t, err)

	a, err = m.CreateConnection(aLocal, rtc.Handlers{})
	require.NoError(t, err)
	b, err = m.CreateConnection(bLocal, rtc.Handlers{})
	require.NoError(t, err)

	offer, err := a.CreateOffer(ctx)
	require.NoError(t, err)
	require.NoError(t, b.SetRemoteDescription(offer))
	answer, err := b.CreateAnswer(ctx)
	require.NoError(t, err)
	require.NoError(t, a.SetRemoteDescription(answer))
	return a, b, aLocal, bLocal
}

func TestConnectionBuffersEarlyCandidates(t *testing.T) {
	m, _, network := newManager(t)
	ctx := context.Background()

	aLocal, _ := m.AcquireLocalMedia(ctx, false)
	bLocal, _ := m.AcquireLocalMedia(ctx, false)
	a, err := m.CreateConnection(aLocal, rtc.Handlers{})
	require.NoError(t, err)
	b, err := m.CreateConnection(bLocal, rtc.Handlers{})
	require.NoError(t, err)

	offer, err := a.CreateOffer(ctx)
	require.NoError(t, err)

	// Candidates overtake the offer
	early := domain.ICECandidate{Candidate: "candidate:early 1 udp 1 10.0.0.2 4000 typ host"}
	require.NoError(t, b.AddICECandidate(early))
	require.NoError(t, b.AddICECandidate(early))
	assert.Equal(t, 2, b.PendingCandidates())
	assert.Empty(t, network.Conns()[1].Candidates())

	require.NoError(t, b.SetRemoteDescription(offer))
	assert.Zero(t, b.PendingCandidates())
	assert.Len(t, network.Conns()[1].Candidates(), 2)

	late := domain.ICECandidate{Candidate: "candidate:late 1 udp 1 10.0.0.2 4001 typ host"}
	require.NoError(t, b.AddICECandidate(late))
	assert.Len(t, network.Conns()[1].Candidates(), 3)
}

func TestConnectionEvents(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	var (
		mu         sync.Mutex
		states     []rtc.ConnectionState
		candidates int
		remote     *rtc.Stream
	)
	handlers := rtc.Handlers{
		OnRemoteStream: func(s *rtc.Stream) { mu.Lock(); remote = s; mu.Unlock() },
		OnICECandidate: func(domain.ICECandidate) { mu.Lock(); candidates++; mu.Unlock() },
		OnStateChange:  func(s rtc.ConnectionState) { mu.Lock(); states = append(states, s); mu.Unlock() },
	}

	aLocal, _ := m.AcquireLocalMedia(ctx, true)
	bLocal, _ := m.AcquireLocalMedia(ctx, true)
	a, err := m.CreateConnection(aLocal, handlers)
	require.NoError(t, err)
	b, err := m.CreateConnection(bLocal, rtc.Handlers{})
	require.NoError(t, err)

	offer, _ := a.CreateOffer(ctx)
	require.NoError(t, b.SetRemoteDescription(offer))
	answer, _ := b.CreateAnswer(ctx)
	require.NoError(t, a.SetRemoteDescription(answer))

	assert.Eventually(t, func() bool { return a.State() == rtc.StateConnected }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return remote != nil && remote.AudioTrack() != nil && remote.VideoTrack() != nil && candidates == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []rtc.ConnectionState{rtc.StateConnecting, rtc.StateConnected}, states)
	mu.Unlock()
	assert.Same(t, a.RemoteStream(), remote)
}

func TestReplaceOutgoingVideoTrack(t *testing.T) {
	m, _, network := newManager(t)
	a, _, aLocal, _ := pair(t, m, true)

	screen, err := m.AcquireScreen(context.Background())
	require.NoError(t, err)

	bSide := network.Conns()[1]
	offersBefore := network.Conns()[0].Offers()

	require.NoError(t, m.ReplaceOutgoingVideoTrack(a, screen.VideoTrack()))
	assert.Equal(t, screen.VideoTrack(), a.OutgoingVideo())
	assert.Equal(t, screen.VideoTrack(), bSide.ReceivedVideo())

	require.NoError(t, m.ReplaceOutgoingVideoTrack(a, aLocal.VideoTrack()))
	assert.Equal(t, aLocal.VideoTrack(), bSide.ReceivedVideo())
	assert.Equal(t, offersBefore, network.Conns()[0].Offers(), "track swap must not renegotiate")
}

func TestReplaceTrackWithoutVideoSender(t *testing.T) {
	m, _, _ := newManager(t)
	a, _, _, _ := pair(t, m, false)

	err := m.ReplaceOutgoingVideoTrack(a, rtctest.NewTrack(rtc.KindVideo, "screen"))
	assert.Error(t, err)
	assert.Nil(t, a.OutgoingVideo())
}

func TestTeardownIsIdempotent(t *testing.T) {
	m, source, network := newManager(t)
	a, b, aLocal, bLocal := pair(t, m, true)
	screen, _ := m.AcquireScreen(context.Background())
	require.Eventually(t, func() bool {
		return a.State() == rtc.StateConnected && b.State() == rtc.StateConnected
	}, time.Second, 5*time.Millisecond)

	m.Teardown(a, aLocal, screen)
	m.Teardown(a, aLocal, screen)
	m.Teardown(nil, nil)
	m.Teardown(b, bLocal)

	assert.True(t, a.Closed())
	assert.Equal(t, rtc.StateClosed, a.State())
	assert.Zero(t, source.LiveTracks())
	assert.Empty(t, network.Open())
	assert.Zero(t, a.RemoteStream().LiveTracks())

	_, err := a.CreateOffer(context.Background())
	assert.Error(t, err)
	assert.NoError(t, a.AddICECandidate(domain.ICECandidate{Candidate: "x"}), "late candidates are dropped quietly")
}

func TestTrackLifecycle(t *testing.T) {
	track := rtctest.NewTrack(rtc.KindVideo, "screen")
	ended := 0
	track.OnEnded(func() { ended++ })

	assert.True(t, track.Enabled())
	track.SetEnabled(false)
	assert.False(t, track.Enabled())

	track.End()
	track.End()
	track.Stop()
	assert.Equal(t, rtc.ReadyStateEnded, track.ReadyState())
	assert.Equal(t, 1, ended)

	stopped := rtctest.NewTrack(rtc.KindAudio, "mic")
	stopped.OnEnded(func() { ended++ })
	stopped.Stop()
	assert.Equal(t, 1, ended, "local stop does not fire ended")
}
