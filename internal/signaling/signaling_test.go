package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duet-backend/internal/domain"
	"duet-backend/pkg/sealbox"
)

func receive[T any](t *testing.T, sub *Subscription[T]) T {
	t.Helper()
	select {
	case v := <-sub.C():
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	var zero T
	return zero
}

func assertNothing[T any](t *testing.T, sub *Subscription[T]) {
	t.Helper()
	select {
	case v := <-sub.C():
		t.Fatalf("unexpected message %+v", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func offer(t *testing.T, from, to uuid.UUID) domain.CallSignal {
	sig, err := domain.NewSignal(from, to, domain.CallTypeVideo, domain.SDPOffer{
		Description: domain.SessionDescription{Type: "offer", SDP: "v=0"},
	})
	require.NoError(t, err)
	return sig
}

func TestMemoryTransportDeliversToRecipientOnly(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTransport(nil, nil)
	alice, bob := uuid.New(), uuid.New()

	bobSub, err := tr.Subscribe(ctx, bob)
	require.NoError(t, err)
	defer bobSub.Close()
	aliceSub, err := tr.Subscribe(ctx, alice)
	require.NoError(t, err)
	defer aliceSub.Close()

	sig := offer(t, alice, bob)
	require.NoError(t, tr.Send(ctx, sig))

	got := receive(t, bobSub)
	assert.Equal(t, sig, got)
	assertNothing(t, aliceSub)
}

func TestMemoryTransportPreservesOrder(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTransport(nil, nil)
	alice, bob := uuid.New(), uuid.New()

	sub, err := tr.Subscribe(ctx, bob)
	require.NoError(t, err)
	defer sub.Close()

	types := []domain.SignalPayload{domain.Accepted{}, domain.Ended{}, domain.Rejected{}}
	for _, p := range types {
		sig, err := domain.NewSignal(alice, bob, domain.CallTypeVoice, p)
		require.NoError(t, err)
		require.NoError(t, tr.Send(ctx, sig))
	}
	assert.Equal(t, domain.SignalAccepted, receive(t, sub).Type)
	assert.Equal(t, domain.SignalEnded, receive(t, sub).Type)
	assert.Equal(t, domain.SignalRejected, receive(t, sub).Type)
}

func TestMemoryTransportRejectsInvalidSignal(t *testing.T) {
	tr := NewMemoryTransport(nil, nil)
	err := tr.Send(context.Background(), domain.CallSignal{Type: domain.SignalEnded})
	assert.Error(t, err)
}

func TestSubscriptionCloseReleasesTopic(t *testing.T) {
	tr := NewMemoryTransport(nil, nil)
	bob := uuid.New()

	sub, err := tr.Subscribe(context.Background(), bob)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Subscribers(UserChannel(bob)))

	sub.Close()
	sub.Close()
	assert.Zero(t, tr.Subscribers(UserChannel(bob)))

	// Sending to nobody is not an error
	assert.NoError(t, tr.Send(context.Background(), offer(t, uuid.New(), bob)))
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	tr := NewMemoryTransport(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	bob := uuid.New()

	sub, err := tr.Subscribe(ctx, bob)
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
	assert.Eventually(t, func() bool { return tr.Subscribers(UserChannel(bob)) == 0 }, time.Second, 5*time.Millisecond)
}

func TestRoomBroadcastReachesEveryMember(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTransport(nil, nil)

	a, err := tr.SubscribeRoom(ctx, "room-1")
	require.NoError(t, err)
	defer a.Close()
	b, err := tr.SubscribeRoom(ctx, "room-1")
	require.NoError(t, err)
	defer b.Close()
	other, err := tr.SubscribeRoom(ctx, "room-2")
	require.NoError(t, err)
	defer other.Close()

	ev := domain.RoomEvent{Type: domain.RoomEventJoin, RoomID: "room-1", From: uuid.New(), FromName: "Ana", IsVideo: true}
	require.NoError(t, tr.Broadcast(ctx, ev))

	assert.Equal(t, ev, receive(t, a))
	assert.Equal(t, ev, receive(t, b))
	assertNothing(t, other)

	assert.Error(t, tr.Broadcast(ctx, domain.RoomEvent{Type: domain.RoomEventJoin}))
}

func TestRoomTopicsNeverReachUserChannels(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTransport(nil, nil)
	bob := uuid.New()
	hijack := UserChannel(bob)

	assert.NotEqual(t, hijack, RoomChannel(hijack))

	sub, err := tr.Subscribe(ctx, bob)
	require.NoError(t, err)
	defer sub.Close()
	rs, err := tr.SubscribeRoom(ctx, hijack)
	require.NoError(t, err)
	defer rs.Close()
	assert.Equal(t, 1, tr.Subscribers(UserChannel(bob)))

	ev := domain.RoomEvent{Type: domain.RoomEventJoin, RoomID: hijack, From: uuid.New(), FromName: "Eve"}
	require.NoError(t, tr.Broadcast(ctx, ev))

	assert.Equal(t, ev, receive(t, rs))
	assertNothing(t, sub)
}

func TestCodecEnvelopeShape(t *testing.T) {
	c := NewCodec(nil)
	from := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	to := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	raw, err := c.EncodeSignal(domain.CallSignal{Type: domain.SignalEnded, From: from, To: to, CallType: domain.CallTypeVoice})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "broadcast",
		"event": "call-signal",
		"payload": {
			"type": "ended",
			"from": "11111111-1111-1111-1111-111111111111",
			"to": "22222222-2222-2222-2222-222222222222",
			"callType": "voice"
		}
	}`, string(raw))

	_, err = c.DecodeRoomEvent(raw)
	assert.Error(t, err, "a call-signal frame is not a room event")
}

func TestCodecSealsData(t *testing.T) {
	box, err := sealbox.New(bytes.Repeat([]byte{1}, sealbox.KeySize))
	require.NoError(t, err)
	sealed := NewCodec(box)
	plain := NewCodec(nil)

	sig := offer(t, uuid.New(), uuid.New())
	raw, err := sealed.EncodeSignal(sig)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "v=0")

	got, err := sealed.DecodeSignal(raw)
	require.NoError(t, err)
	assert.JSONEq(t, string(sig.Data), string(got.Data))

	// Without the key the routing fields are still readable
	routed, err := plain.DecodeSignal(raw)
	require.NoError(t, err)
	assert.Equal(t, sig.To, routed.To)
	var s string
	assert.NoError(t, json.Unmarshal(routed.Data, &s))

	// A plain frame cannot be opened by a sealing codec
	plainRaw, err := plain.EncodeSignal(sig)
	require.NoError(t, err)
	_, err = sealed.DecodeSignal(plainRaw)
	assert.Error(t, err)
}

func TestMemoryTransportWithCipher(t *testing.T) {
	box, err := sealbox.New(bytes.Repeat([]byte{9}, sealbox.KeySize))
	require.NoError(t, err)
	ctx := context.Background()
	tr := NewMemoryTransport(box, nil)
	bob := uuid.New()

	sub, err := tr.Subscribe(ctx, bob)
	require.NoError(t, err)
	defer sub.Close()

	sig := offer(t, uuid.New(), bob)
	require.NoError(t, tr.Send(ctx, sig))
	got := receive(t, sub)
	payload, err := got.Decode()
	require.NoError(t, err)
	assert.Equal(t, "v=0", payload.(domain.SDPOffer).Description.SDP)
}

// TestRedisTransport runs against a live Redis when REDIS_TEST_ADDR is set
func TestRedisTransport(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	tr := NewRedisTransport(client, nil, nil)

	bob := uuid.New()
	sub, err := tr.Subscribe(ctx, bob)
	require.NoError(t, err)
	defer sub.Close()

	sig := offer(t, uuid.New(), bob)
	require.NoError(t, tr.Send(ctx, sig))
	assert.Equal(t, sig, receive(t, sub))

	room := "room-" + uuid.NewString()
	rs, err := tr.SubscribeRoom(ctx, room)
	require.NoError(t, err)
	defer rs.Close()
	ev := domain.RoomEvent{Type: domain.RoomEventLeave, RoomID: room, From: bob}
	require.NoError(t, tr.Broadcast(ctx, ev))
	assert.Equal(t, ev, receive(t, rs))
}

func TestCipherFromKey(t *testing.T) {
	c, err := CipherFromKey(nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = CipherFromKey(bytes.Repeat([]byte{3}, sealbox.KeySize))
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = CipherFromKey([]byte("short"))
	assert.Error(t, err)
}
