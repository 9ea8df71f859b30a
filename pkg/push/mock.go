package push

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"duet-backend/pkg/logger"
)

// MockProvider records notifications instead of sending them. Tokens listed
// in Invalid are reported back as invalid.
type MockProvider struct {
	mu      sync.Mutex
	sent    []*Notification
	Invalid map[string]bool
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, notification)

	result := &SendResult{}
	for _, tok := range tokens {
		if m.Invalid[tok] {
			result.FailureCount++
			result.InvalidTokens = append(result.InvalidTokens, tok)
			continue
		}
		result.SuccessCount++
	}

	logger.Debug("MockProvider: notification recorded",
		zap.String("title", notification.Title),
		zap.Int("token_count", len(tokens)))
	return result, nil
}

// Sent returns the notifications recorded so far
func (m *MockProvider) Sent() []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Notification, len(m.sent))
	copy(out, m.sent)
	return out
}
