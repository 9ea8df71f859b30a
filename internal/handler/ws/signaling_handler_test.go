package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duet-backend/internal/domain"
	"duet-backend/internal/middleware"
	"duet-backend/internal/signaling"
	"duet-backend/pkg/jwt"
	"duet-backend/pkg/metrics"
)

const testOrigin = "http://app.test"

func init() {
	gin.SetMode(gin.TestMode)
}

type memoryRooms struct {
	mu      sync.Mutex
	rooms   map[string]*domain.Room
	members map[string]map[uuid.UUID]bool
}

func newMemoryRooms() *memoryRooms {
	return &memoryRooms{
		rooms:   make(map[string]*domain.Room),
		members: make(map[string]map[uuid.UUID]bool),
	}
}

func (m *memoryRooms) add(room *domain.Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.ID] = room
}

func (m *memoryRooms) Get(_ context.Context, id string) (*domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memoryRooms) AddMember(_ context.Context, id string, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[id] == nil {
		m.members[id] = make(map[uuid.UUID]bool)
	}
	m.members[id][userID] = true
	return int64(len(m.members[id])), nil
}

func (m *memoryRooms) RemoveMember(_ context.Context, id string, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members[id], userID)
	return nil
}

func (m *memoryRooms) count(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.members[id])
}

type recordingNotifier struct {
	calls chan domain.CallSignal
}

func (n *recordingNotifier) NotifyIncomingCall(_ context.Context, sig domain.CallSignal) {
	n.calls <- sig
}

type harness struct {
	t        *testing.T
	hub      *SignalingHub
	server   *httptest.Server
	manager  *jwt.JWTManager
	rooms    *memoryRooms
	notifier *recordingNotifier
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	cfg.AllowedOrigins = map[string]bool{testOrigin: true}

	h := &harness{
		t:        t,
		manager:  jwt.NewJWTManager("test-secret", time.Minute),
		rooms:    newMemoryRooms(),
		notifier: &recordingNotifier{calls: make(chan domain.CallSignal, 8)},
	}
	h.hub = NewSignalingHub(signaling.NewMemoryTransport(nil, nil), cfg,
		WithRooms(h.rooms),
		WithNotifier(h.notifier),
		WithMetrics(metrics.NewMetrics("test")))

	r := gin.New()
	r.GET("/v1/calls/ws", middleware.AuthMiddleware(h.manager), h.hub.ServeWS)
	h.server = httptest.NewServer(r)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.hub.Shutdown(ctx)
		h.server.Close()
	})
	return h
}

func (h *harness) dial(user domain.Identity, origin string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/v1/calls/ws"
	if user.UserID != uuid.Nil {
		token, err := h.manager.GenerateAccessToken(user.UserID, user.Name)
		require.NoError(h.t, err)
		url += "?token=" + token
	}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

type client struct {
	id   domain.Identity
	conn *websocket.Conn
}

func (h *harness) connect(name string) *client {
	h.t.Helper()
	id := domain.Identity{UserID: uuid.New(), Name: name}
	conn, _, err := h.dial(id, testOrigin)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = conn.Close() })
	return &client{id: id, conn: conn}
}

func (c *client) write(t *testing.T, f Frame) {
	t.Helper()
	require.NoError(t, c.conn.WriteJSON(f))
}

func (c *client) read(t *testing.T) Frame {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, c.conn.ReadJSON(&f))
	return f
}

func (c *client) readError(t *testing.T) string {
	t.Helper()
	f := c.read(t)
	require.Equal(t, FrameError, f.Type)
	require.NotNil(t, f.Error)
	return f.Error.Code
}

func (c *client) join(t *testing.T, roomID string) Frame {
	t.Helper()
	c.write(t, Frame{Type: FrameRoomJoin, RoomID: roomID})
	return c.read(t)
}

func TestRelaysSignalStampedWithSender(t *testing.T) {
	h := newHarness(t, Config{})
	alice := h.connect("Alice")
	bob := h.connect("Bob")

	alice.write(t, Frame{Type: FrameSignal, Signal: &domain.CallSignal{
		Type:     domain.SignalOfferRequest,
		From:     uuid.New(),
		To:       bob.id.UserID,
		CallType: domain.CallTypeVideo,
	}})

	f := bob.read(t)
	require.Equal(t, FrameSignal, f.Type)
	require.NotNil(t, f.Signal)
	assert.Equal(t, domain.SignalOfferRequest, f.Signal.Type)
	assert.Equal(t, alice.id.UserID, f.Signal.From)
	assert.Equal(t, "Alice", f.Signal.CallerName)

	select {
	case sig := <-h.notifier.calls:
		assert.Equal(t, bob.id.UserID, sig.To)
		assert.Equal(t, alice.id.UserID, sig.From)
	case <-time.After(2 * time.Second):
		t.Fatal("incoming call was not notified")
	}

	answer, err := domain.NewSignal(bob.id.UserID, alice.id.UserID, domain.CallTypeVideo, domain.Accepted{})
	require.NoError(t, err)
	bob.write(t, Frame{Type: FrameSignal, Signal: &answer})

	f = alice.read(t)
	assert.Equal(t, domain.SignalAccepted, f.Signal.Type)
	assert.Equal(t, bob.id.UserID, f.Signal.From)
	assert.Empty(t, h.notifier.calls)
}

func TestRejectsInvalidFrames(t *testing.T) {
	h := newHarness(t, Config{})
	alice := h.connect("Alice")

	alice.write(t, Frame{Type: FrameSignal})
	assert.Equal(t, "VALIDATION_ERROR", alice.readError(t))

	alice.write(t, Frame{Type: FrameSignal, Signal: &domain.CallSignal{
		Type: domain.SignalOfferRequest, To: alice.id.UserID, CallType: domain.CallTypeVoice,
	}})
	assert.Equal(t, "VALIDATION_ERROR", alice.readError(t))

	alice.write(t, Frame{Type: FrameSignal, Signal: &domain.CallSignal{Type: "wave", To: uuid.New()}})
	assert.Equal(t, "VALIDATION_ERROR", alice.readError(t))

	alice.write(t, Frame{Type: "dance"})
	assert.Equal(t, "VALIDATION_ERROR", alice.readError(t))

	require.NoError(t, alice.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "VALIDATION_ERROR", alice.readError(t))

	alice.write(t, Frame{Type: FrameRoomEvent, Event: &domain.RoomEvent{Type: domain.RoomEventChat}})
	assert.Equal(t, "INVALID_STATE", alice.readError(t))
}

func TestRoomEventsReachOtherMembers(t *testing.T) {
	h := newHarness(t, Config{MaxRoomSize: 8})
	roomID := uuid.NewString()
	h.rooms.add(&domain.Room{ID: roomID, Name: "Standup", IsVideo: true})

	alice := h.connect("Alice")
	bob := h.connect("Bob")
	carol := h.connect("Carol")
	for _, c := range []*client{alice, bob, carol} {
		f := c.join(t, roomID)
		require.Equal(t, FrameRoomJoined, f.Type)
		require.NotNil(t, f.Room)
		assert.Equal(t, "Standup", f.Room.Name)
	}
	assert.Equal(t, 3, h.rooms.count(roomID))

	alice.write(t, Frame{Type: FrameRoomEvent, Event: &domain.RoomEvent{Type: domain.RoomEventJoin, IsVideo: true}})
	for _, c := range []*client{bob, carol} {
		f := c.read(t)
		require.Equal(t, FrameRoomEvent, f.Type)
		assert.Equal(t, domain.RoomEventJoin, f.Event.Type)
		assert.Equal(t, alice.id.UserID, f.Event.From)
		assert.Equal(t, "Alice", f.Event.FromName)
		assert.Equal(t, roomID, f.Event.RoomID)
	}

	bob.write(t, Frame{Type: FrameRoomEvent, Event: &domain.RoomEvent{Type: domain.RoomEventOffer, To: alice.id.UserID}})
	f := alice.read(t)
	assert.Equal(t, domain.RoomEventOffer, f.Event.Type)
	assert.Equal(t, bob.id.UserID, f.Event.From)

	alice.write(t, Frame{Type: FrameRoomEvent, Event: &domain.RoomEvent{
		Type: domain.RoomEventChat,
		Chat: &domain.ChatMessage{ID: "m1", From: uuid.New(), FromName: "Mallory", Text: "hi"},
	}})
	// The offer addressed to Alice never reached Carol
	f = carol.read(t)
	require.Equal(t, domain.RoomEventChat, f.Event.Type)
	assert.Equal(t, alice.id.UserID, f.Event.Chat.From)
	assert.Equal(t, "Alice", f.Event.Chat.FromName)
	assert.Equal(t, "hi", f.Event.Chat.Text)
}

func TestRoomJoinErrors(t *testing.T) {
	h := newHarness(t, Config{MaxRoomSize: 1})
	roomID := uuid.NewString()
	h.rooms.add(&domain.Room{ID: roomID, Name: "Tiny"})

	alice := h.connect("Alice")
	bob := h.connect("Bob")

	bob.write(t, Frame{Type: FrameRoomJoin})
	assert.Equal(t, "VALIDATION_ERROR", bob.readError(t))

	bob.write(t, Frame{Type: FrameRoomJoin, RoomID: uuid.NewString()})
	assert.Equal(t, "ROOM_NOT_FOUND", bob.readError(t))

	require.Equal(t, FrameRoomJoined, alice.join(t, roomID).Type)
	bob.write(t, Frame{Type: FrameRoomJoin, RoomID: roomID})
	assert.Equal(t, "ROOM_FULL", bob.readError(t))
	assert.Equal(t, 1, h.rooms.count(roomID))
}

func TestDisconnectAnnouncesLeave(t *testing.T) {
	h := newHarness(t, Config{})
	roomID := uuid.NewString()
	h.rooms.add(&domain.Room{ID: roomID})

	alice := h.connect("Alice")
	bob := h.connect("Bob")
	alice.join(t, roomID)
	bob.join(t, roomID)
	require.Equal(t, 2, h.rooms.count(roomID))

	require.NoError(t, bob.conn.Close())

	f := alice.read(t)
	require.Equal(t, FrameRoomEvent, f.Type)
	assert.Equal(t, domain.RoomEventLeave, f.Event.Type)
	assert.Equal(t, bob.id.UserID, f.Event.From)
	require.Eventually(t, func() bool {
		return h.rooms.count(roomID) == 1 && h.hub.Connections() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRoomLeaveStopsDelivery(t *testing.T) {
	h := newHarness(t, Config{})
	roomID := uuid.NewString()
	h.rooms.add(&domain.Room{ID: roomID})

	alice := h.connect("Alice")
	bob := h.connect("Bob")
	alice.join(t, roomID)
	bob.join(t, roomID)

	bob.write(t, Frame{Type: FrameRoomLeave, RoomID: roomID})
	require.Eventually(t, func() bool { return h.rooms.count(roomID) == 1 }, 2*time.Second, 10*time.Millisecond)

	alice.write(t, Frame{Type: FrameRoomEvent, Event: &domain.RoomEvent{Type: domain.RoomEventScreenShare, Sharing: true}})

	bob.write(t, Frame{Type: FrameRoomEvent, Event: &domain.RoomEvent{Type: domain.RoomEventChat}})
	assert.Equal(t, "INVALID_STATE", bob.readError(t))
}

func TestHandshakeRejections(t *testing.T) {
	h := newHarness(t, Config{MaxConnections: 1})

	_, resp, err := h.dial(domain.Identity{}, testOrigin)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = h.dial(domain.Identity{UserID: uuid.New(), Name: "Eve"}, "https://evil.test")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	alice := h.connect("Alice")
	_, resp, err = h.dial(domain.Identity{UserID: uuid.New(), Name: "Bob"}, testOrigin)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, alice.conn.Close())
	require.Eventually(t, func() bool {
		conn, _, err := h.dial(domain.Identity{UserID: uuid.New(), Name: "Bob"}, testOrigin)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestShutdownClosesConnections(t *testing.T) {
	h := newHarness(t, Config{})
	alice := h.connect("Alice")
	require.Eventually(t, func() bool { return h.hub.Connections() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.hub.Shutdown(ctx))

	assert.Equal(t, 0, h.hub.Connections())
	require.NoError(t, alice.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := alice.conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
