// Package push delivers incoming-call notifications to registered devices.
package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"duet-backend/pkg/logger"
)

// Provider sends one notification to a set of device tokens
type Provider interface {
	Name() string
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// IncomingCall describes a call that just started ringing
type IncomingCall struct {
	CallerID   uuid.UUID
	CallerName string
	CalleeID   uuid.UUID
	CallType   string
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"
	TokenTypeAPNs TokenType = "apns"
)

// Token is a device registration of a user
type Token struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	Platform  string    `json:"platform,omitempty"` // ios, android, web
	Active    bool      `json:"active"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository stores push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	GetByToken(ctx context.Context, token string) (*Token, error)
	MarkInactive(ctx context.Context, token string) error
	Delete(ctx context.Context, token string) error
}

// Service handles push notification operations
type Service struct {
	provider Provider
	repo     TokenRepository
}

// NewService creates a new push notification service
func NewService(provider Provider, repo TokenRepository) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
	}
}

// ProviderName returns the name of the configured provider
func (s *Service) ProviderName() string {
	return s.provider.Name()
}

// RegisterToken registers a device token for a user, reactivating it when it
// is already known
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	existing, err := s.repo.GetByToken(ctx, token.Token)
	if err == nil && existing != nil {
		existing.UserID = token.UserID
		existing.Platform = token.Platform
		existing.Active = true
		return s.repo.Store(ctx, existing)
	}
	token.Active = true
	return s.repo.Store(ctx, token)
}

// ErrTokenNotFound is returned when a token is unknown or owned by another user
var ErrTokenNotFound = errors.New("push token not found")

// UnregisterToken removes a device token owned by userID
func (s *Service) UnregisterToken(ctx context.Context, userID uuid.UUID, token string) error {
	existing, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return err
	}
	if existing == nil || existing.UserID != userID {
		return ErrTokenNotFound
	}
	return s.repo.Delete(ctx, token)
}

// SendIncomingCall rings every active device of the callee. It returns the
// number of devices reached.
func (s *Service) SendIncomingCall(ctx context.Context, call IncomingCall) (int, error) {
	notification := &Notification{
		Title:    "Incoming call",
		Body:     fmt.Sprintf("%s is calling you", callerLabel(call.CallerName)),
		Priority: "high",
		Sound:    "default",
		Category: "INCOMING_CALL",
		Data: map[string]string{
			"type":        "call",
			"caller_id":   call.CallerID.String(),
			"caller_name": call.CallerName,
			"call_type":   call.CallType,
		},
	}

	tokens, err := s.activeTokens(ctx, call.CalleeID)
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		logger.Debug("No active push tokens for callee",
			zap.String("user_id", call.CalleeID.String()))
		return 0, nil
	}

	result, err := s.provider.Send(ctx, notification, tokens)
	if err != nil {
		return 0, fmt.Errorf("failed to send call notification: %w", err)
	}

	logger.Info("Call notification sent",
		zap.String("user_id", call.CalleeID.String()),
		zap.String("provider", s.provider.Name()),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount))

	if len(result.InvalidTokens) > 0 {
		s.handleInvalidTokens(ctx, result.InvalidTokens)
	}
	return result.SuccessCount, nil
}

func (s *Service) activeTokens(ctx context.Context, userID uuid.UUID) ([]string, error) {
	tokens, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get push tokens: %w", err)
	}
	var out []string
	for _, t := range tokens {
		if t.Active {
			out = append(out, t.Token)
		}
	}
	return out, nil
}

// handleInvalidTokens marks tokens the provider refused as inactive
func (s *Service) handleInvalidTokens(ctx context.Context, invalidTokens []string) {
	for _, tok := range invalidTokens {
		if err := s.repo.MarkInactive(ctx, tok); err != nil {
			logger.Warn("Failed to mark token as inactive",
				zap.String("token", maskPushToken(tok)),
				zap.Error(err))
		}
	}
}

func callerLabel(name string) string {
	if name == "" {
		return "Someone"
	}
	return name
}

// maskPushToken returns a safe masked version of a push token for logging
func maskPushToken(token string) string {
	if len(token) <= 16 {
		return "********"
	}
	return token[:8] + "..." + token[len(token)-8:]
}
