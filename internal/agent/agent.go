// Package agent runs a headless call endpoint: it answers incoming calls on
// its own and can sit in a group room.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"duet-backend/internal/domain"
	"duet-backend/internal/service/call"
	"duet-backend/internal/service/room"
	"duet-backend/pkg/logger"
)

// Config says how the agent behaves
type Config struct {
	AutoAnswer  bool
	AnswerDelay time.Duration
	// RoomID is joined on start when set
	RoomID string
	Video  bool
}

// Option configures an Agent
type Option func(*Agent)

// WithClock replaces the clock that times the answer delay
func WithClock(c clock.Clock) Option {
	return func(a *Agent) { a.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) { a.log = l }
}

// WithRoom lets the agent join cfg.RoomID
func WithRoom(r *room.Service) Option {
	return func(a *Agent) { a.rooms = r }
}

// Agent drives a call.Service, and optionally a room.Service, without a UI
type Agent struct {
	calls *call.Service
	rooms *room.Service
	cfg   Config
	clock clock.Clock
	log   *zap.Logger

	mu     sync.Mutex
	gen    int
	answer *clock.Timer
}

// New creates an agent around calls
func New(calls *call.Service, cfg Config, opts ...Option) *Agent {
	a := &Agent{
		calls: calls,
		cfg:   cfg,
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = logger.OrDefault(a.log).Named("agent")
	return a
}

// Run listens for calls until ctx is done. The room, if any, is left and
// any call is ended before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	runErr := make(chan error, 1)
	go func() { runErr <- a.calls.Run(ctx) }()

	if a.rooms != nil && a.cfg.RoomID != "" {
		if err := a.rooms.JoinRoom(ctx, a.cfg.RoomID, a.cfg.Video); err != nil {
			a.log.Error("Failed to join room",
				zap.String("room_id", a.cfg.RoomID),
				zap.Error(err))
		} else {
			defer a.rooms.LeaveRoom(context.WithoutCancel(ctx))
		}
	}

	var roomEvents <-chan room.Event
	if a.rooms != nil {
		roomEvents = a.rooms.Events()
	}

	for {
		select {
		case err := <-runErr:
			a.cancelAnswer()
			return err
		case ev := <-a.calls.Events():
			a.onCallEvent(ctx, ev)
		case ev := <-roomEvents:
			a.onRoomEvent(ev)
		}
	}
}

func (a *Agent) onCallEvent(ctx context.Context, ev call.Event) {
	switch ev.Type {
	case call.EventIncoming:
		a.log.Info("Incoming call",
			zap.String("peer_id", ev.Peer.UserID.String()),
			zap.String("peer_name", ev.Peer.Name))
		if a.cfg.AutoAnswer {
			a.scheduleAnswer(ctx)
		}
	case call.EventState:
		a.log.Info("Call state changed",
			zap.String("state", string(ev.State)),
			zap.String("peer_id", ev.Peer.UserID.String()))
		if ev.State != domain.CallStateIncomingRinging {
			a.cancelAnswer()
		}
	case call.EventNotice:
		a.log.Info("Call notice", zap.String("notice", ev.Notice))
	case call.EventRemoteStream:
		a.log.Info("Receiving remote media", zap.String("peer_id", ev.Peer.UserID.String()))
	}
}

// scheduleAnswer accepts the ringing call after AnswerDelay. A newer call or
// any state change away from ringing voids the pending answer.
func (a *Agent) scheduleAnswer(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.answer != nil {
		a.answer.Stop()
	}
	a.gen++
	gen := a.gen
	a.answer = a.clock.AfterFunc(a.cfg.AnswerDelay, func() {
		a.mu.Lock()
		current := gen == a.gen
		a.answer = nil
		a.mu.Unlock()
		if !current || ctx.Err() != nil {
			return
		}
		if err := a.calls.Accept(ctx); err != nil {
			a.log.Warn("Auto-answer failed", zap.Error(err))
		}
	})
}

func (a *Agent) cancelAnswer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.answer != nil {
		a.answer.Stop()
		a.answer = nil
	}
	a.gen++
}

func (a *Agent) onRoomEvent(ev room.Event) {
	fields := []zap.Field{zap.String("room_id", ev.RoomID)}
	if ev.Participant.UserID != uuid.Nil {
		fields = append(fields,
			zap.String("participant_id", ev.Participant.UserID.String()),
			zap.String("participant_name", ev.Participant.Name))
	}
	switch ev.Type {
	case room.EventChat:
		if ev.Chat != nil {
			fields = append(fields, zap.String("text", ev.Chat.Text))
		}
	case room.EventNotice:
		fields = append(fields, zap.String("notice", ev.Notice))
	case room.EventScreenShare:
		fields = append(fields, zap.Bool("sharing", ev.Sharing))
	}
	a.log.Info("Room event "+string(ev.Type), fields...)
}
