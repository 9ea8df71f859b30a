package cockroach

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS call_history (
		id UUID PRIMARY KEY,
		caller_id UUID NOT NULL,
		callee_id UUID NOT NULL,
		call_type STRING NOT NULL CHECK (call_type IN ('voice', 'video')),
		status STRING NOT NULL CHECK (status IN ('outgoing', 'incoming', 'completed', 'missed', 'rejected')),
		duration_seconds INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS call_history_caller_idx ON call_history (caller_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS call_history_callee_idx ON call_history (callee_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS chat_settings (
		owner_id UUID NOT NULL,
		peer_id UUID NOT NULL,
		muted BOOL NOT NULL DEFAULT false,
		muted_until TIMESTAMPTZ,
		wallpaper STRING NOT NULL DEFAULT '',
		disappearing_seconds INT NOT NULL DEFAULT 0,
		PRIMARY KEY (owner_id, peer_id)
	)`,
}

// Migrate creates the tables used by the call service
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
