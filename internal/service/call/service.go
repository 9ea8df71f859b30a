// Package call implements the 1:1 call lifecycle: ringing, negotiation,
// the active call and teardown, driven by signals and local user actions.
package call

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"duet-backend/internal/domain"
	"duet-backend/internal/rtc"
	"duet-backend/internal/signaling"
	apperrors "duet-backend/pkg/errors"
	"duet-backend/pkg/logger"
	"duet-backend/pkg/metrics"
)

// HistoryRecorder persists call outcomes. Calls are fire-and-forget: the call
// never waits for or depends on the write.
type HistoryRecorder interface {
	Append(ctx context.Context, entry domain.CallHistoryEntry)
	Complete(ctx context.Context, id uuid.UUID, status domain.CallStatus, durationSeconds int)
}

// Notifier is told about every call that starts ringing locally
type Notifier interface {
	NotifyIncomingCall(ctx context.Context, sig domain.CallSignal)
}

// Config tunes timeouts
type Config struct {
	// RingTimeout ends an unanswered call
	RingTimeout time.Duration
	// TickInterval is how often EventTick reports the duration
	TickInterval time.Duration
	// EventBuffer is the capacity of the events channel
	EventBuffer int
}

func (c *Config) setDefaults() {
	if c.RingTimeout <= 0 {
		c.RingTimeout = 30 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces the wall clock, e.g. with clock.NewMock in tests
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithNotifier sets the incoming-call notifier
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics records call outcomes
func WithMetrics(m *metrics.CallMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service is one endpoint's call state machine. At most one call exists at a
// time; every exported method is safe for concurrent use.
type Service struct {
	self      domain.Identity
	transport signaling.Transport
	media     *rtc.Manager
	history   HistoryRecorder
	notifier  Notifier
	clock     clock.Clock
	cfg       Config
	log       *zap.Logger
	metrics   *metrics.CallMetrics
	events    chan Event

	mu    sync.Mutex
	state domain.CallState
	sess  *session
}

// NewService creates an idle endpoint for self
func NewService(self domain.Identity, transport signaling.Transport, media *rtc.Manager, history HistoryRecorder, cfg Config, opts ...Option) *Service {
	cfg.setDefaults()
	s := &Service{
		self:      self,
		transport: transport,
		media:     media,
		history:   history,
		clock:     clock.New(),
		cfg:       cfg,
		state:     domain.CallStateIdle,
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

// Self returns the local identity
func (s *Service) Self() domain.Identity {
	return s.self
}

// State returns the current call state
func (s *Service) State() domain.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Peer returns the counterpart of the current call
func (s *Service) Peer() (domain.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return domain.Identity{}, false
	}
	return s.sess.peer, true
}

// Incoming returns the ringing offer-request, if any
func (s *Service) Incoming() *domain.CallSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || s.state != domain.CallStateIncomingRinging || s.sess.pending == nil {
		return nil
	}
	sig := *s.sess.pending
	return &sig
}

// Duration is the time since the media path connected
func (s *Service) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || !s.sess.connected {
		return 0
	}
	return s.clock.Since(s.sess.connectedAt)
}

// Connected reports whether the media path of the current call is up
func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess != nil && s.sess.connected
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

// RemoteStream returns the tracks received from the peer
func (s *Service) RemoteStream() *rtc.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil
	}
	return s.sess.remote
}

// Connection returns the peer connection of the current call
func (s *Service) Connection() *rtc.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil
	}
	return s.sess.conn
}

// Run consumes signals addressed to this endpoint until ctx is done, then
// ends any call and releases the subscription.
func (s *Service) Run(ctx context.Context) error {
	sub, err := s.transport.Subscribe(ctx, s.self.UserID)
	if err != nil {
		return apperrors.SignalingError(err)
	}
	defer sub.Close()
	s.log.Info("Call endpoint listening")

	for {
		select {
		case <-ctx.Done():
			s.EndCall(context.WithoutCancel(ctx))
			return nil
		case <-sub.Done():
			s.EndCall(context.WithoutCancel(ctx))
			return nil
		case sig := <-sub.C():
			s.HandleSignal(ctx, sig)
		}
	}
}

func (s *Service) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Debug("Event dropped, nobody is reading", zap.String("type", string(ev.Type)))
	}
}

func (s *Service) setState(state domain.CallState, peer domain.Identity) {
	s.state = state
	s.emit(Event{Type: EventState, State: state, Peer: peer})
}

func (s *Service) notice(text string, peer domain.Identity) {
	if text == "" {
		return
	}
	s.emit(Event{Type: EventNotice, Notice: text, Peer: peer})
}

// send publishes a signal to the session peer. Must not be called with mu held.
func (s *Service) send(ctx context.Context, sess *session, payload domain.SignalPayload) error {
	sig, err := domain.NewSignal(s.self.UserID, sess.peer.UserID, sess.callType, payload)
	if err != nil {
		return err
	}
	if _, ok := payload.(domain.OfferRequest); ok {
		sig.CallerName = s.self.Name
	}
	if err := s.transport.Send(ctx, sig); err != nil {
		s.log.Warn("Failed to send signal",
			zap.String("type", string(sig.Type)),
			zap.String("peer_id", sess.peer.UserID.String()),
			zap.Error(err))
		return apperrors.SignalingError(err)
	}
	s.metrics.SignalSent(string(sig.Type))
	return nil
}

// finish ends sess once. Teardown, history and signals happen outside mu.
func (s *Service) finish(ctx context.Context, sess *session, out outcome) {
	s.mu.Lock()
	if sess.ended {
		s.mu.Unlock()
		return
	}
	sess.ended = true
	sess.stopTimers()

	duration := 0
	if sess.connected {
		duration = int(s.clock.Since(sess.connectedAt) / time.Second)
	}
	status := out.status
	if status == "" {
		switch {
		case !sess.connected:
			status = domain.CallStatusMissed
		case sess.outgoing:
			status = domain.CallStatusCompleted
		default:
			status = domain.CallStatusIncoming
		}
	}
	if status == domain.CallStatusMissed || status == domain.CallStatusRejected {
		duration = 0
	}

	if s.sess == sess {
		s.sess = nil
		s.notice(out.notice, sess.peer)
		s.setState(domain.CallStateEnded, sess.peer)
		s.setState(domain.CallStateIdle, sess.peer)
	}
	conn, local, screen := sess.conn, sess.local, sess.screen
	recorded := sess.historyRecorded
	signaled := sess.signaled
	sess.historyRecorded = true
	s.mu.Unlock()

	s.media.Teardown(conn, local, screen)

	switch {
	case out.sendRejected:
		_ = s.send(ctx, sess, domain.Rejected{Reason: out.reason})
	case out.sendEnded && signaled:
		_ = s.send(ctx, sess, domain.Ended{})
	}

	switch {
	case recorded:
		s.history.Complete(ctx, sess.historyID, status, duration)
	case sess.outgoing && !signaled:
		// The callee never heard of this call
	default:
		s.history.Append(ctx, sess.entry(s.self.UserID, status, duration))
	}
	s.metrics.CallEnded(string(status), time.Duration(duration)*time.Second)

	s.log.Info("Call finished",
		zap.String("peer_id", sess.peer.UserID.String()),
		zap.String("status", string(status)),
		zap.Int("duration_seconds", duration))
}

// current returns the session if it is still the live one
func (s *Service) current(sess *session) bool {
	return s.sess == sess && !sess.ended
}
