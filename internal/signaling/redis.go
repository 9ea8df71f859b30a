package signaling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"duet-backend/internal/domain"
	"duet-backend/pkg/logger"
)

// RedisTransport publishes frames on Redis pub/sub channels
type RedisTransport struct {
	client *redis.Client
	codec  *Codec
	log    *zap.Logger
	buffer int
}

// NewRedisTransport creates a transport on client; cipher may be nil
func NewRedisTransport(client *redis.Client, cipher Cipher, log *zap.Logger) *RedisTransport {
	return &RedisTransport{
		client: client,
		codec:  NewCodec(cipher),
		log:    logger.OrDefault(log).Named("signaling"),
		buffer: defaultBuffer,
	}
}

func (t *RedisTransport) Subscribe(ctx context.Context, userID uuid.UUID) (*Subscription[domain.CallSignal], error) {
	channel := UserChannel(userID)
	pubsub, err := t.open(ctx, channel)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := newSubscription[domain.CallSignal](t.buffer, func() {
		cancel()
		_ = pubsub.Close()
	})

	go func() {
		defer sub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				sig, err := t.codec.DecodeSignal([]byte(msg.Payload))
				if err != nil {
					t.log.Warn("Failed to decode signal from Redis",
						zap.String("channel", channel),
						zap.Error(err))
					continue
				}
				if sig.To != userID {
					continue
				}
				if !sub.deliver(ctx, sig) {
					return
				}
			}
		}
	}()

	return sub, nil
}

func (t *RedisTransport) SubscribeRoom(ctx context.Context, roomID string) (*Subscription[domain.RoomEvent], error) {
	channel := RoomChannel(roomID)
	pubsub, err := t.open(ctx, channel)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := newSubscription[domain.RoomEvent](t.buffer, func() {
		cancel()
		_ = pubsub.Close()
	})

	go func() {
		defer sub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := t.codec.DecodeRoomEvent([]byte(msg.Payload))
				if err != nil {
					t.log.Warn("Failed to decode room event from Redis",
						zap.String("channel", channel),
						zap.Error(err))
					continue
				}
				if !sub.deliver(ctx, ev) {
					return
				}
			}
		}
	}()

	return sub, nil
}

func (t *RedisTransport) Send(ctx context.Context, sig domain.CallSignal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	raw, err := t.codec.EncodeSignal(sig)
	if err != nil {
		return err
	}
	if err := t.client.Publish(ctx, UserChannel(sig.To), raw).Err(); err != nil {
		return fmt.Errorf("failed to publish signal: %w", err)
	}
	return nil
}

func (t *RedisTransport) Broadcast(ctx context.Context, ev domain.RoomEvent) error {
	if ev.RoomID == "" {
		return fmt.Errorf("room event %s has no room id", ev.Type)
	}
	raw, err := t.codec.EncodeRoomEvent(ev)
	if err != nil {
		return err
	}
	if err := t.client.Publish(ctx, RoomChannel(ev.RoomID), raw).Err(); err != nil {
		return fmt.Errorf("failed to publish room event: %w", err)
	}
	return nil
}

// open subscribes and waits for the confirmation so no message published
// after return is missed
func (t *RedisTransport) open(ctx context.Context, channel string) (*redis.PubSub, error) {
	pubsub := t.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	return pubsub, nil
}
