package push

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"go.uber.org/zap"

	"duet-backend/pkg/logger"
)

// APNsConfig contains token-based configuration for APNs
type APNsConfig struct {
	KeyPath    string // Path to .p8 private key file
	KeyID      string
	TeamID     string
	BundleID   string
	Production bool
}

// APNsProvider sends through Apple Push Notification Service
type APNsProvider struct {
	client   *apns2.Client
	bundleID string
}

// NewAPNsProvider creates a token-authenticated APNs client
func NewAPNsProvider(config *APNsConfig) (*APNsProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("APNs config is required")
	}
	if config.BundleID == "" {
		return nil, fmt.Errorf("BundleID is required")
	}
	if config.KeyPath == "" || config.KeyID == "" || config.TeamID == "" {
		return nil, fmt.Errorf("KeyPath, KeyID and TeamID are required")
	}

	authKey, err := token.AuthKeyFromFile(config.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}
	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   config.KeyID,
		TeamID:  config.TeamID,
	})
	if config.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	logger.Info("APNs provider initialized",
		zap.String("bundle_id", config.BundleID),
		zap.Bool("production", config.Production))
	return &APNsProvider{client: client, bundleID: config.BundleID}, nil
}

func (a *APNsProvider) Name() string { return "apns" }

func (a *APNsProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	result := &SendResult{}
	for _, deviceToken := range tokens {
		resp, err := a.client.PushWithContext(ctx, buildAPNsNotification(notification, deviceToken, a.bundleID))
		if err != nil {
			result.FailureCount++
			result.Errors = append(result.Errors, err)
			continue
		}
		if resp.Sent() {
			result.SuccessCount++
			continue
		}

		result.FailureCount++
		result.Errors = append(result.Errors, fmt.Errorf("APNs error: %s", resp.Reason))
		if invalidAPNsToken(resp) {
			result.InvalidTokens = append(result.InvalidTokens, deviceToken)
		}
		logger.Warn("APNs notification failed",
			zap.Int("status_code", resp.StatusCode),
			zap.String("reason", resp.Reason),
			zap.String("token_prefix", maskPushToken(deviceToken)))
	}
	return result, nil
}

func buildAPNsNotification(n *Notification, deviceToken, topic string) *apns2.Notification {
	p := payload.NewPayload().
		AlertTitle(n.Title).
		AlertBody(n.Body)
	if n.Sound != "" {
		p.Sound(n.Sound)
	}
	if n.Category != "" {
		p.Category(n.Category)
	}
	for key, value := range n.Data {
		p.Custom(key, value)
	}

	priority := apns2.PriorityLow
	if n.Priority == "high" {
		priority = apns2.PriorityHigh
	}
	return &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       topic,
		Payload:     p,
		Priority:    priority,
	}
}

func invalidAPNsToken(resp *apns2.Response) bool {
	return resp.StatusCode == http.StatusGone ||
		resp.Reason == apns2.ReasonUnregistered ||
		resp.Reason == apns2.ReasonBadDeviceToken ||
		resp.Reason == apns2.ReasonDeviceTokenNotForTopic
}
