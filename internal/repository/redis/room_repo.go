package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"duet-backend/internal/domain"
)

// RoomRepository is the room directory. A room and its member set expire
// together once nobody has joined for ttl.
type RoomRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRoomRepository creates a room directory whose entries live for ttl
func NewRoomRepository(client *redis.Client, ttl time.Duration) *RoomRepository {
	return &RoomRepository{client: client, ttl: ttl}
}

func roomKey(id string) string {
	return fmt.Sprintf("room:%s", id)
}

func roomMembersKey(id string) string {
	return fmt.Sprintf("room:%s:members", id)
}

// Create registers a new room
func (r *RoomRepository) Create(ctx context.Context, room *domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}
	ok, err := r.client.SetNX(ctx, roomKey(room.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	if !ok {
		return fmt.Errorf("room %s already exists", room.ID)
	}
	return nil
}

// Get returns domain.ErrRoomNotFound for unknown or expired rooms
func (r *RoomRepository) Get(ctx context.Context, id string) (*domain.Room, error) {
	data, err := r.client.Get(ctx, roomKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return &room, nil
}

// AddMember adds userID to the room and refreshes the room's expiry. It
// returns the member count including userID.
func (r *RoomRepository) AddMember(ctx context.Context, id string, userID uuid.UUID) (int64, error) {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, roomMembersKey(id), userID.String())
	count := pipe.SCard(ctx, roomMembersKey(id))
	pipe.Expire(ctx, roomMembersKey(id), r.ttl)
	pipe.Expire(ctx, roomKey(id), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to add room member: %w", err)
	}
	return count.Val(), nil
}

// RemoveMember removes userID from the room
func (r *RoomRepository) RemoveMember(ctx context.Context, id string, userID uuid.UUID) error {
	if err := r.client.SRem(ctx, roomMembersKey(id), userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove room member: %w", err)
	}
	return nil
}

// Members returns the ids of everyone currently in the room
func (r *RoomRepository) Members(ctx context.Context, id string) ([]uuid.UUID, error) {
	raw, err := r.client.SMembers(ctx, roomMembersKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room members: %w", err)
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
