// Package notify decides whether an incoming call should ring the callee's
// devices and sends the push when it should.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"duet-backend/internal/domain"
	"duet-backend/pkg/cache"
	"duet-backend/pkg/logger"
	"duet-backend/pkg/metrics"
	"duet-backend/pkg/push"
)

// SettingsRepository reads a user's per-peer chat settings
type SettingsRepository interface {
	Get(ctx context.Context, owner, peer uuid.UUID) (*domain.ChatSettings, error)
}

// Pusher delivers the incoming-call push
type Pusher interface {
	SendIncomingCall(ctx context.Context, call push.IncomingCall) (int, error)
	ProviderName() string
}

// Result of one notification attempt
const (
	ResultSent       = "sent"
	ResultSuppressed = "suppressed"
	ResultFailed     = "failed"
)

// Service sends incoming-call pushes unless the callee muted the caller
type Service struct {
	settings SettingsRepository
	pusher   Pusher
	metrics  *metrics.Metrics
	now      func() time.Time
	timeout  time.Duration
	cached   *cache.Cache[settingsKey, *domain.ChatSettings]
}

type settingsKey struct {
	owner, peer uuid.UUID
}

// Option configures a Service
type Option func(*Service)

// WithSettingsCache keeps chat settings for ttl, so a mute takes up to ttl
// to apply
func WithSettingsCache(ttl time.Duration, maxSize int) Option {
	return func(s *Service) { s.cached = cache.New[settingsKey, *domain.ChatSettings](ttl, maxSize) }
}

// NewService creates a notification service. m may be nil.
func NewService(settings SettingsRepository, pusher Pusher, m *metrics.Metrics, opts ...Option) *Service {
	s := &Service{
		settings: settings,
		pusher:   pusher,
		metrics:  m,
		now:      time.Now,
		timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NotifyIncomingCall pushes an offer-request to the callee's devices. A
// settings lookup that fails does not stop the push.
func (s *Service) NotifyIncomingCall(ctx context.Context, sig domain.CallSignal) {
	s.Notify(ctx, sig)
}

// Notify is NotifyIncomingCall that reports what happened
func (s *Service) Notify(ctx context.Context, sig domain.CallSignal) string {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log := logger.FromContext(ctx).With(
		zap.String("user_id", sig.To.String()),
		zap.String("peer_id", sig.From.String()))

	settings, err := s.lookup(ctx, sig.To, sig.From)
	if err != nil {
		log.Warn("Failed to read chat settings, notifying anyway", zap.Error(err))
	} else if settings.IsMuted(s.now()) {
		log.Debug("Incoming call notification suppressed by mute")
		s.record(ResultSuppressed)
		return ResultSuppressed
	}

	callType := sig.CallType
	if !callType.Valid() {
		callType = domain.CallTypeVoice
	}
	_, err = s.pusher.SendIncomingCall(ctx, push.IncomingCall{
		CallerID:   sig.From,
		CallerName: sig.CallerName,
		CalleeID:   sig.To,
		CallType:   string(callType),
	})
	if err != nil {
		log.Error("Failed to send incoming call notification", zap.Error(err))
		s.record(ResultFailed)
		return ResultFailed
	}
	s.record(ResultSent)
	return ResultSent
}

func (s *Service) lookup(ctx context.Context, owner, peer uuid.UUID) (*domain.ChatSettings, error) {
	key := settingsKey{owner: owner, peer: peer}
	if s.cached != nil {
		if settings, ok := s.cached.Get(key); ok {
			return settings, nil
		}
	}
	settings, err := s.settings.Get(ctx, owner, peer)
	if err != nil {
		return nil, err
	}
	if s.cached != nil {
		s.cached.Set(key, settings)
	}
	return settings, nil
}

func (s *Service) record(result string) {
	s.metrics.RecordPushNotification(s.pusher.ProviderName(), result)
}
