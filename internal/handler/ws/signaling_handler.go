package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"duet-backend/internal/domain"
	"duet-backend/internal/middleware"
	"duet-backend/internal/signaling"
	"duet-backend/pkg/constants"
	apperrors "duet-backend/pkg/errors"
	"duet-backend/pkg/logger"
	"duet-backend/pkg/metrics"
	"duet-backend/pkg/response"
	"duet-backend/pkg/sanitize"
)

// RoomDirectory tracks which users are in which room
type RoomDirectory interface {
	Get(ctx context.Context, id string) (*domain.Room, error)
	AddMember(ctx context.Context, id string, userID uuid.UUID) (int64, error)
	RemoveMember(ctx context.Context, id string, userID uuid.UUID) error
}

// IncomingCallNotifier is told about every offer-request relayed
type IncomingCallNotifier interface {
	NotifyIncomingCall(ctx context.Context, sig domain.CallSignal)
}

// Config for the signaling hub
type Config struct {
	// MaxConnections bounds concurrent websockets; 0 means 1000
	MaxConnections int
	// MaxRoomSize refuses room-join beyond this many members; 0 means no limit
	MaxRoomSize    int
	AllowedOrigins map[string]bool
}

// Option configures a SignalingHub
type Option func(*SignalingHub)

// WithRooms enables room membership checks
func WithRooms(d RoomDirectory) Option {
	return func(h *SignalingHub) { h.rooms = d }
}

// WithNotifier pushes incoming calls to the callee's devices
func WithNotifier(n IncomingCallNotifier) Option {
	return func(h *SignalingHub) { h.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *SignalingHub) { h.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(h *SignalingHub) { h.log = l }
}

// SignalingHub bridges browser websockets and the signaling transport. Each
// connection is subscribed to its user's call channel and, after room-join,
// to one room channel.
type SignalingHub struct {
	transport signaling.Transport
	rooms     RoomDirectory
	notifier  IncomingCallNotifier
	metrics   *metrics.Metrics
	log       *zap.Logger
	cfg       Config
	upgrader  websocket.Upgrader

	// Concurrency limit: one slot per open connection
	semaphore chan struct{}

	mu      sync.Mutex
	clients map[*SignalingClient]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// SignalingClient represents a WebSocket client for signaling
type SignalingClient struct {
	hub    *SignalingHub
	conn   *websocket.Conn
	send   chan []byte
	user   domain.Identity
	calls  *signaling.Subscription[domain.CallSignal]
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	log    *zap.Logger

	mu     sync.Mutex
	room   *signaling.Subscription[domain.RoomEvent]
	roomID string
}

// NewSignalingHub creates a new signaling hub
func NewSignalingHub(transport signaling.Transport, cfg Config, opts ...Option) *SignalingHub {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1000
	}
	h := &SignalingHub{
		transport: transport,
		cfg:       cfg,
		semaphore: make(chan struct{}, cfg.MaxConnections),
		clients:   make(map[*SignalingClient]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logger.OrDefault(h.log).Named("signaling-ws")
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Require an explicit, allowed origin
			return origin != "" && cfg.AllowedOrigins[origin]
		},
	}
	return h
}

// ServeWS handles GET /v1/calls/ws
func (h *SignalingHub) ServeWS(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "Unauthorized")
		return
	}

	select {
	case h.semaphore <- struct{}{}:
	default:
		h.log.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.cfg.MaxConnections))
		h.metrics.RecordWebSocketError("capacity")
		response.ServiceUnavailable(c, "Server at capacity, please try again later")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls, err := h.transport.Subscribe(ctx, user.UserID)
	if err != nil {
		cancel()
		<-h.semaphore
		h.log.Error("Failed to subscribe call channel", zap.String("user_id", user.UserID.String()), zap.Error(err))
		response.FromError(c, apperrors.SignalingError(err))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		calls.Close()
		cancel()
		<-h.semaphore
		h.metrics.RecordWebSocketError("upgrade")
		h.log.Warn("WebSocket upgrade failed", zap.String("user_id", user.UserID.String()), zap.Error(err))
		return
	}

	client := &SignalingClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, constants.WebSocketSendBuffer),
		user:   user,
		calls:  calls,
		ctx:    ctx,
		cancel: cancel,
		log:    h.log.With(zap.String("user_id", user.UserID.String())),
	}
	if !h.register(client) {
		client.close()
		return
	}
	h.metrics.WebSocketOpened()
	client.log.Debug("Signaling connection opened")

	go client.writePump()
	go client.forwardSignals()
	go client.readPump()
}

func (h *SignalingHub) register(c *SignalingClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *SignalingHub) unregister(c *SignalingClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		h.metrics.WebSocketClosed()
		h.wg.Done()
	}
}

// Connections returns the number of open websockets
func (h *SignalingHub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every connection and waits for them to finish, or for ctx
func (h *SignalingHub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*SignalingClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close tears the client down once; safe from any goroutine
func (c *SignalingClient) close() {
	c.once.Do(func() {
		c.leaveRoom(true)
		c.cancel()
		c.calls.Close()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
		<-c.hub.semaphore
		c.hub.unregister(c)
		c.log.Debug("Signaling connection closed")
	})
}

// readPump reads frames from the browser
func (c *SignalingClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(constants.WebSocketMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("WebSocket connection closed", zap.Error(err))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.hub.metrics.RecordWebSocketError("malformed")
			c.sendError(apperrors.ValidationError("invalid frame"))
			continue
		}
		c.handle(frame)
	}
}

// writePump writes queued frames and keeps the connection alive
func (c *SignalingClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.metrics.RecordWebSocketError("write")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// forwardSignals relays the user's call channel to the browser. The
// connection is closed when the subscription ends so the browser reconnects.
func (c *SignalingClient) forwardSignals() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.calls.Done():
			c.close()
			return
		case sig := <-c.calls.C():
			c.enqueue(Frame{Type: FrameSignal, Signal: &sig})
			c.hub.metrics.RecordWebSocketMessage(FrameSignal, "out")
		}
	}
}

// forwardRoom relays room events addressed to this user. The user's own
// events and events targeted at other members are not echoed.
func (c *SignalingClient) forwardRoom(sub *signaling.Subscription[domain.RoomEvent]) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-sub.Done():
			return
		case ev := <-sub.C():
			if ev.From == c.user.UserID || (ev.Targeted() && ev.To != c.user.UserID) {
				continue
			}
			c.enqueue(Frame{Type: FrameRoomEvent, RoomID: ev.RoomID, Event: &ev})
			c.hub.metrics.RecordWebSocketMessage(FrameRoomEvent, "out")
		}
	}
}

// enqueue hands a frame to the writer. A browser that cannot keep up is
// disconnected.
func (c *SignalingClient) enqueue(f Frame) {
	raw, err := encodeFrame(f)
	if err != nil {
		c.log.Error("Failed to encode frame", zap.String("frame_type", f.Type), zap.Error(err))
		return
	}
	select {
	case <-c.ctx.Done():
	case c.send <- raw:
	default:
		c.log.Warn("Closing slow signaling connection")
		c.hub.metrics.RecordWebSocketError("slow_consumer")
		go c.close()
	}
}

func (c *SignalingClient) sendError(err error) {
	appErr := apperrors.GetAppError(err)
	c.enqueue(Frame{Type: FrameError, Error: &response.ErrorDetail{Code: string(appErr.Code), Message: appErr.Message}})
}

func (c *SignalingClient) handle(f Frame) {
	c.hub.metrics.RecordWebSocketMessage(f.Type, "in")
	switch f.Type {
	case FrameSignal:
		c.handleSignal(f.Signal)
	case FrameRoomJoin:
		c.handleRoomJoin(f.RoomID)
	case FrameRoomEvent:
		c.handleRoomEvent(f.Event)
	case FrameRoomLeave:
		c.leaveRoom(false)
	default:
		c.sendError(apperrors.ValidationError("unknown frame type"))
	}
}

// handleSignal publishes a 1:1 signal on the recipient's channel. The sender
// is always the authenticated user.
func (c *SignalingClient) handleSignal(sig *domain.CallSignal) {
	if sig == nil {
		c.sendError(apperrors.ValidationError("signal frame without signal"))
		return
	}
	out := *sig
	out.From = c.user.UserID
	if out.Type == domain.SignalOfferRequest && out.CallerName == "" {
		out.CallerName = c.user.Name
	}
	if err := out.Validate(); err != nil {
		c.sendError(apperrors.ValidationError(err.Error()))
		return
	}
	if out.To == c.user.UserID {
		c.sendError(apperrors.ValidationError("cannot signal yourself"))
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, constants.WebSocketWriteWait)
	defer cancel()
	if err := c.hub.transport.Send(ctx, out); err != nil {
		c.log.Warn("Failed to relay signal",
			zap.String("signal_type", string(out.Type)),
			zap.String("peer_id", out.To.String()),
			zap.Error(err))
		c.sendError(apperrors.SignalingError(err))
		return
	}

	if out.Type == domain.SignalOfferRequest && c.hub.notifier != nil {
		c.hub.notify(out)
	}
}

func (h *SignalingHub) notify(sig domain.CallSignal) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		h.notifier.NotifyIncomingCall(context.Background(), sig)
	}()
}

// handleRoomJoin subscribes the connection to a room channel. A connection
// is in at most one room; joining another leaves the first.
func (c *SignalingClient) handleRoomJoin(roomID string) {
	if roomID == "" {
		c.sendError(apperrors.ValidationError("roomId is required"))
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, constants.WebSocketWriteWait)
	defer cancel()

	room := &domain.Room{ID: roomID}
	if d := c.hub.rooms; d != nil {
		r, err := d.Get(ctx, roomID)
		if err != nil {
			if errors.Is(err, domain.ErrRoomNotFound) {
				c.sendError(apperrors.RoomNotFoundError())
				return
			}
			c.log.Warn("Room lookup failed", zap.String("room_id", roomID), zap.Error(err))
			c.sendError(apperrors.ServiceUnavailableError("Room directory unavailable"))
			return
		}
		room = r
	}

	c.mu.Lock()
	same := c.roomID == roomID
	c.mu.Unlock()
	if same {
		c.enqueue(Frame{Type: FrameRoomJoined, RoomID: roomID, Room: room})
		return
	}
	c.leaveRoom(true)

	if d := c.hub.rooms; d != nil {
		count, err := d.AddMember(ctx, roomID, c.user.UserID)
		if err != nil {
			c.log.Warn("Failed to add room member", zap.String("room_id", roomID), zap.Error(err))
			c.sendError(apperrors.ServiceUnavailableError("Room directory unavailable"))
			return
		}
		if max := c.hub.cfg.MaxRoomSize; max > 0 && count > int64(max) {
			_ = d.RemoveMember(ctx, roomID, c.user.UserID)
			c.sendError(apperrors.RoomFullError())
			return
		}
	}

	sub, err := c.hub.transport.SubscribeRoom(c.ctx, roomID)
	if err != nil {
		c.releaseMembership(roomID)
		c.sendError(apperrors.SignalingError(err))
		return
	}

	c.mu.Lock()
	c.room, c.roomID = sub, roomID
	c.mu.Unlock()
	go c.forwardRoom(sub)

	c.log.Info("Joined room", zap.String("room_id", roomID))
	c.enqueue(Frame{Type: FrameRoomJoined, RoomID: roomID, Room: room})
}

// handleRoomEvent broadcasts an event on the joined room, stamped with the
// authenticated sender
func (c *SignalingClient) handleRoomEvent(ev *domain.RoomEvent) {
	if ev == nil || !validRoomEvent(ev.Type) {
		c.sendError(apperrors.ValidationError("invalid room event"))
		return
	}
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()
	if roomID == "" || (ev.RoomID != "" && ev.RoomID != roomID) {
		c.sendError(apperrors.InvalidStateError("join the room first"))
		return
	}

	out := *ev
	out.RoomID = roomID
	out.From = c.user.UserID
	if out.FromName == "" {
		out.FromName = c.user.Name
	}
	if out.Chat != nil {
		chat := *out.Chat
		chat.From = c.user.UserID
		chat.FromName = out.FromName
		chat.Text = sanitize.Text(chat.Text)
		out.Chat = &chat
	}

	ctx, cancel := context.WithTimeout(c.ctx, constants.WebSocketWriteWait)
	defer cancel()
	if err := c.hub.transport.Broadcast(ctx, out); err != nil {
		c.log.Warn("Failed to broadcast room event",
			zap.String("room_id", roomID),
			zap.String("event", string(out.Type)),
			zap.Error(err))
		c.sendError(apperrors.SignalingError(err))
	}
}

// leaveRoom drops the room subscription. When announce is set the other
// members are told the user left, for connections that vanish mid-call.
func (c *SignalingClient) leaveRoom(announce bool) {
	c.mu.Lock()
	sub, roomID := c.room, c.roomID
	c.room, c.roomID = nil, ""
	c.mu.Unlock()
	if sub == nil {
		return
	}
	sub.Close()

	if announce {
		ctx, cancel := context.WithTimeout(context.Background(), constants.WebSocketWriteWait)
		err := c.hub.transport.Broadcast(ctx, domain.RoomEvent{
			Type:     domain.RoomEventLeave,
			RoomID:   roomID,
			From:     c.user.UserID,
			FromName: c.user.Name,
		})
		cancel()
		if err != nil {
			c.log.Warn("Failed to announce leave", zap.String("room_id", roomID), zap.Error(err))
		}
	}
	c.releaseMembership(roomID)
	c.log.Info("Left room", zap.String("room_id", roomID))
}

func (c *SignalingClient) releaseMembership(roomID string) {
	if c.hub.rooms == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), constants.WebSocketWriteWait)
	defer cancel()
	if err := c.hub.rooms.RemoveMember(ctx, roomID, c.user.UserID); err != nil {
		c.log.Warn("Failed to remove room member", zap.String("room_id", roomID), zap.Error(err))
	}
}
