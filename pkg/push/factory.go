package push

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"duet-backend/pkg/config"
	"duet-backend/pkg/logger"
)

// ProviderType names a push backend
type ProviderType string

const (
	ProviderTypeMock ProviderType = "mock"
	ProviderTypeFCM  ProviderType = "fcm"
	ProviderTypeAPNs ProviderType = "apns"
)

// NewProvider creates the provider selected by cfg.Provider. Unknown values
// fall back to the mock provider.
func NewProvider(ctx context.Context, cfg config.PushConfig) (Provider, error) {
	switch ProviderType(cfg.Provider) {
	case ProviderTypeFCM:
		if cfg.FirebaseProjectID == "" {
			return nil, fmt.Errorf("FIREBASE_PROJECT_ID is required for the fcm push provider")
		}
		return NewFCMProvider(ctx, &FCMConfig{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsPath: cfg.FirebaseCredsPath,
		})
	case ProviderTypeAPNs:
		return NewAPNsProvider(&APNsConfig{
			KeyPath:    cfg.APNsKeyPath,
			KeyID:      cfg.APNsKeyID,
			TeamID:     cfg.APNsTeamID,
			BundleID:   cfg.APNsBundleID,
			Production: cfg.APNsProduction,
		})
	case ProviderTypeMock:
		return &MockProvider{}, nil
	default:
		logger.Warn("Unknown push provider type, falling back to mock",
			zap.String("provider_type", cfg.Provider))
		return &MockProvider{}, nil
	}
}
