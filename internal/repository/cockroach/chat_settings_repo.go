package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"duet-backend/internal/domain"
)

// ChatSettingsRepository reads per-conversation preferences
type ChatSettingsRepository struct {
	pool *pgxpool.Pool
}

// NewChatSettingsRepository creates a new chat settings repository
func NewChatSettingsRepository(pool *pgxpool.Pool) *ChatSettingsRepository {
	return &ChatSettingsRepository{pool: pool}
}

// Get returns owner's settings for the conversation with peer. A missing row
// yields the defaults.
func (r *ChatSettingsRepository) Get(ctx context.Context, owner, peer uuid.UUID) (*domain.ChatSettings, error) {
	query := `
		SELECT muted, muted_until, wallpaper, disappearing_seconds
		FROM chat_settings
		WHERE owner_id = $1 AND peer_id = $2
	`

	s := &domain.ChatSettings{OwnerID: owner, PeerID: peer}
	err := r.pool.QueryRow(ctx, query, owner, peer).Scan(
		&s.Muted,
		&s.MutedUntil,
		&s.Wallpaper,
		&s.DisappearingSeconds,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to get chat settings: %w", err)
	}
	return s, nil
}

// Upsert stores owner's settings for peer
func (r *ChatSettingsRepository) Upsert(ctx context.Context, s *domain.ChatSettings) error {
	query := `
		UPSERT INTO chat_settings (owner_id, peer_id, muted, muted_until, wallpaper, disappearing_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		s.OwnerID,
		s.PeerID,
		s.Muted,
		s.MutedUntil,
		s.Wallpaper,
		s.DisappearingSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chat settings: %w", err)
	}
	return nil
}
