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

// ErrCallNotFound is returned when a history row does not exist
var ErrCallNotFound = errors.New("call history entry not found")

// CallHistoryRepository handles call_history rows
type CallHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewCallHistoryRepository creates a new call history repository
func NewCallHistoryRepository(pool *pgxpool.Pool) *CallHistoryRepository {
	return &CallHistoryRepository{pool: pool}
}

// Insert stores a new entry. Inserting the same id twice is a no-op.
func (r *CallHistoryRepository) Insert(ctx context.Context, e *domain.CallHistoryEntry) error {
	query := `
		INSERT INTO call_history (
			id, caller_id, callee_id, call_type, status, duration_seconds, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		e.ID,
		e.CallerID,
		e.CalleeID,
		e.CallType,
		e.Status,
		e.DurationSeconds,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert call history: %w", err)
	}
	return nil
}

// UpdateOutcome sets the final status and duration of an entry
func (r *CallHistoryRepository) UpdateOutcome(ctx context.Context, id uuid.UUID, status domain.CallStatus, durationSeconds int) error {
	query := `
		UPDATE call_history
		SET status = $2, duration_seconds = $3
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, status, durationSeconds)
	if err != nil {
		return fmt.Errorf("failed to update call history: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCallNotFound
	}
	return nil
}

// GetByID retrieves one entry
func (r *CallHistoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.CallHistoryEntry, error) {
	query := `
		SELECT id, caller_id, callee_id, call_type, status, duration_seconds, created_at
		FROM call_history
		WHERE id = $1
	`

	e := &domain.CallHistoryEntry{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&e.ID,
		&e.CallerID,
		&e.CalleeID,
		&e.CallType,
		&e.Status,
		&e.DurationSeconds,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to get call history: %w", err)
	}
	return e, nil
}

// ListByUser returns the entries where userID is caller or callee, newest first
func (r *CallHistoryRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallHistoryEntry, error) {
	query := `
		SELECT id, caller_id, callee_id, call_type, status, duration_seconds, created_at
		FROM call_history
		WHERE caller_id = $1 OR callee_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list call history: %w", err)
	}
	defer rows.Close()

	var entries []*domain.CallHistoryEntry
	for rows.Next() {
		e := &domain.CallHistoryEntry{}
		if err := rows.Scan(
			&e.ID,
			&e.CallerID,
			&e.CalleeID,
			&e.CallType,
			&e.Status,
			&e.DurationSeconds,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan call history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate call history: %w", err)
	}
	return entries, nil
}
