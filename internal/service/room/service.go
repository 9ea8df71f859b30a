// Package room coordinates group calls as a full mesh: every member keeps one
// peer connection to every other member, all fed by the same local media.
package room

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"duet-backend/internal/domain"
	"duet-backend/internal/rtc"
	"duet-backend/internal/signaling"
	apperrors "duet-backend/pkg/errors"
	"duet-backend/pkg/logger"
	"duet-backend/pkg/metrics"
)

// Directory registers rooms and counts their members
type Directory interface {
	Create(ctx context.Context, room *domain.Room) error
	// Get returns domain.ErrRoomNotFound for unknown rooms
	Get(ctx context.Context, id string) (*domain.Room, error)
	// AddMember returns the member count after adding userID
	AddMember(ctx context.Context, id string, userID uuid.UUID) (int64, error)
	RemoveMember(ctx context.Context, id string, userID uuid.UUID) error
}

// Config bounds the mesh
type Config struct {
	// MaxParticipants includes the local member
	MaxParticipants int
	EventBuffer     int
}

func (c *Config) setDefaults() {
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = 8
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
}

// Option configures a Service
type Option func(*Service)

// WithDirectory registers rooms and enforces MaxParticipants across members
func WithDirectory(d Directory) Option {
	return func(s *Service) { s.directory = d }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics records joins, participants and sent events
func WithMetrics(m *metrics.RoomMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNow replaces the clock used for chat timestamps
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is one member's view of a group call. A member is in at most one
// room at a time.
type Service struct {
	self      domain.Identity
	transport signaling.Transport
	media     *rtc.Manager
	directory Directory
	cfg       Config
	log       *zap.Logger
	metrics   *metrics.RoomMetrics
	now       func() time.Time
	events    chan Event

	mu      sync.Mutex
	joining bool
	sess    *roomSession
}

// NewService creates a member that is not in any room
func NewService(self domain.Identity, transport signaling.Transport, media *rtc.Manager, cfg Config, opts ...Option) *Service {
	cfg.setDefaults()
	s := &Service{
		self:      self,
		transport: transport,
		media:     media,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrDefault(s.log).With(zap.String("user_id", self.UserID.String()))
	s.events = make(chan Event, cfg.EventBuffer)
	return s
}

// Events delivers UI events. Events are dropped when nobody reads.
func (s *Service) Events() <-chan Event {
	return s.events
}

// CreateRoom registers a new room and joins it
func (s *Service) CreateRoom(ctx context.Context, name string, isVideo bool) (string, error) {
	room, err := domain.NewRoom(name, isVideo, s.self.UserID, s.now())
	if err != nil {
		return "", apperrors.ValidationError(err.Error())
	}
	if s.directory != nil {
		if err := s.directory.Create(ctx, room); err != nil {
			return "", directoryError(err)
		}
	}
	if err := s.join(ctx, room, isVideo); err != nil {
		return "", err
	}
	return room.ID, nil
}

// JoinRoom enters an existing room. Members already there connect to us.
func (s *Service) JoinRoom(ctx context.Context, roomID string, isVideo bool) error {
	room := &domain.Room{ID: roomID, IsVideo: isVideo}
	if s.directory != nil {
		r, err := s.directory.Get(ctx, roomID)
		if errors.Is(err, domain.ErrRoomNotFound) {
			return apperrors.RoomNotFoundError()
		}
		if err != nil {
			return directoryError(err)
		}
		room = r
	}
	return s.join(ctx, room, isVideo)
}

func (s *Service) join(ctx context.Context, room *domain.Room, isVideo bool) error {
	s.mu.Lock()
	if s.sess != nil || s.joining {
		s.mu.Unlock()
		return apperrors.AlreadyInRoomError()
	}
	s.joining = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.joining = false
		s.mu.Unlock()
	}()

	log := s.log.With(zap.String("room_id", room.ID))

	if s.directory != nil {
		count, err := s.directory.AddMember(ctx, room.ID, s.self.UserID)
		if err != nil {
			return directoryError(err)
		}
		if count > int64(s.cfg.MaxParticipants) {
			s.releaseMembership(room.ID)
			log.Info("Room is full", zap.Int64("members", count))
			return apperrors.RoomFullError()
		}
	}

	local, err := s.media.AcquireLocalMedia(ctx, isVideo)
	if err != nil {
		s.releaseMembership(room.ID)
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := s.transport.SubscribeRoom(runCtx, room.ID)
	if err != nil {
		cancel()
		local.Stop()
		s.releaseMembership(room.ID)
		return apperrors.SignalingError(err)
	}

	sess := &roomSession{
		room:    *room,
		isVideo: isVideo,
		local:   local,
		camera:  local.VideoTrack(),
		peers:   make(map[uuid.UUID]*participant),
		early:   make(map[uuid.UUID][]domain.ICECandidate),
		sub:     sub,
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		log:     log,
	}

	s.mu.Lock()
	s.sess = sess
	s.emit(Event{Type: EventJoined, RoomID: room.ID, Participant: s.self})
	s.mu.Unlock()

	go s.run(sess)
	s.metrics.Joined()

	if err := s.broadcast(sess, domain.RoomEvent{Type: domain.RoomEventJoin, IsVideo: isVideo}); err != nil {
		log.Warn("Failed to announce join", zap.Error(err))
	}
	log.Info("Joined room", zap.Bool("video", isVideo))
	return nil
}

// LeaveRoom announces the departure and releases every connection and
// stream. Leaving when not in a room does nothing.
func (s *Service) LeaveRoom(ctx context.Context) {
	s.mu.Lock()
	sess := s.sess
	if sess == nil {
		s.mu.Unlock()
		return
	}
	s.sess = nil
	sess.left = true
	conns := sess.connections()
	local, screen := sess.local, sess.screen
	sess.screen = nil
	sess.sharing = false
	removed := len(sess.peers)
	sess.peers = make(map[uuid.UUID]*participant)
	sess.order = nil
	s.mu.Unlock()

	if err := s.publish(ctx, sess, domain.RoomEvent{Type: domain.RoomEventLeave}); err != nil {
		sess.log.Warn("Failed to announce leave", zap.Error(err))
	}

	sess.cancel()
	sess.sub.Close()
	<-sess.done

	for _, c := range conns {
		s.media.Teardown(c)
	}
	s.media.Teardown(nil, local, screen)
	for i := 0; i < removed; i++ {
		s.metrics.ParticipantRemoved()
	}
	s.releaseMembership(sess.room.ID)

	s.mu.Lock()
	s.emit(Event{Type: EventLeft, RoomID: sess.room.ID, Participant: s.self})
	s.mu.Unlock()
	sess.log.Info("Left room")
}

// Room returns the room the member is in
func (s *Service) Room() (domain.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return domain.Room{}, false
	}
	return s.sess.room, true
}

// Participants lists remote members in the order they appeared. The local
// member is never included.
func (s *Service) Participants() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil
	}
	out := make([]Participant, 0, len(s.sess.order))
	for _, id := range s.sess.order {
		p := s.sess.peers[id]
		out = append(out, Participant{
			Identity:  p.identity,
			IsVideo:   p.isVideo,
			Stream:    p.stream,
			Sharing:   p.sharing,
			Connected: p.connected,
		})
	}
	return out
}

// Messages returns the in-room chat in receipt order
func (s *Service) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil
	}
	out := make([]domain.ChatMessage, len(s.sess.chat))
	copy(out, s.sess.chat)
	return out
}

// Sharer returns who is shown as sharing a screen: the local member first,
// then the earliest remote sharer.
func (s *Service) Sharer() (domain.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return domain.Identity{}, false
	}
	if s.sess.sharing {
		return s.self, true
	}
	for _, id := range s.sess.order {
		if p := s.sess.peers[id]; p.sharing {
			return p.identity, true
		}
	}
	return domain.Identity{}, false
}

// LocalStream returns the captured microphone/camera stream
func (s *Service) LocalStream() *rtc.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil
	}
	return s.sess.local
}

// broadcast publishes ev on the room while the session is live
func (s *Service) broadcast(sess *roomSession, ev domain.RoomEvent) error {
	s.mu.Lock()
	live := s.live(sess)
	s.mu.Unlock()
	if !live {
		return nil
	}
	return s.publish(sess.ctx, sess, ev)
}

func (s *Service) publish(ctx context.Context, sess *roomSession, ev domain.RoomEvent) error {
	ev.RoomID = sess.room.ID
	ev.From = s.self.UserID
	ev.FromName = s.self.Name
	if err := s.transport.Broadcast(ctx, ev); err != nil {
		return apperrors.SignalingError(err)
	}
	s.metrics.EventSent(string(ev.Type))
	return nil
}

func (s *Service) releaseMembership(roomID string) {
	if s.directory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.directory.RemoveMember(ctx, roomID, s.self.UserID); err != nil {
		s.log.Warn("Failed to release room membership",
			zap.String("room_id", roomID),
			zap.Error(err))
	}
}

func (s *Service) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Debug("Room event dropped, nobody is reading", zap.String("type", string(ev.Type)))
	}
}

// live reports whether sess is still the member's room. Must be called with mu held.
func (s *Service) live(sess *roomSession) bool {
	return s.sess == sess && !sess.left
}

func directoryError(err error) error {
	return apperrors.WrapWithStatus(apperrors.ErrCodeServiceUnavail, "Room directory unavailable", http.StatusServiceUnavailable, err)
}
