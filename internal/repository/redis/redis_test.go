package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duet-backend/internal/domain"
	"duet-backend/pkg/push"
)

// testClient connects to a live Redis when REDIS_TEST_ADDR is set
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRoomRepository(t *testing.T) {
	client := testClient(t)
	repo := NewRoomRepository(client, time.Minute)
	ctx := context.Background()

	room := &domain.Room{
		ID:        uuid.NewString(),
		Name:      "standup",
		IsVideo:   true,
		CreatedBy: uuid.New(),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	t.Cleanup(func() { client.Del(ctx, roomKey(room.ID), roomMembersKey(room.ID)) })

	require.NoError(t, repo.Create(ctx, room))
	assert.Error(t, repo.Create(ctx, room), "ids are unique")

	got, err := repo.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, room.Name, got.Name)
	assert.True(t, got.IsVideo)
	assert.True(t, room.CreatedAt.Equal(got.CreatedAt))

	_, err = repo.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	alice, bob := uuid.New(), uuid.New()
	n, err := repo.AddMember(ctx, room.ID, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = repo.AddMember(ctx, room.ID, bob)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	n, err = repo.AddMember(ctx, room.ID, bob)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "adding twice does not count twice")

	require.NoError(t, repo.RemoveMember(ctx, room.ID, alice))
	members, err := repo.Members(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bob}, members)

	ttl, err := client.TTL(ctx, roomKey(room.ID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestPushTokenRepository(t *testing.T) {
	client := testClient(t)
	repo := NewPushTokenRepository(client)
	ctx := context.Background()

	alice, bob := uuid.New(), uuid.New()
	tokenValue := "device-" + uuid.NewString()
	t.Cleanup(func() {
		client.Del(ctx, pushTokenKey(tokenValue), userTokensKey(alice), userTokensKey(bob))
	})

	require.NoError(t, repo.Store(ctx, &push.Token{UserID: alice, Token: tokenValue, Type: push.TokenTypeFCM, Active: true}))

	tokens, err := repo.GetByUserID(ctx, alice)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.True(t, tokens[0].Active)
	assert.NotEqual(t, uuid.Nil, tokens[0].ID)

	require.NoError(t, repo.MarkInactive(ctx, tokenValue))
	tok, err := repo.GetByToken(ctx, tokenValue)
	require.NoError(t, err)
	assert.False(t, tok.Active)

	// Moving the device to another user removes it from the first
	require.NoError(t, repo.Store(ctx, &push.Token{UserID: bob, Token: tokenValue, Active: true}))
	tokens, err = repo.GetByUserID(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, tokens)

	require.NoError(t, repo.Delete(ctx, tokenValue))
	tok, err = repo.GetByToken(ctx, tokenValue)
	require.NoError(t, err)
	assert.Nil(t, tok)
	require.NoError(t, repo.Delete(ctx, tokenValue))
}
