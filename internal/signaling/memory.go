package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"duet-backend/internal/domain"
	"duet-backend/pkg/logger"
)

const defaultBuffer = 64

type memorySubscriber struct {
	deliver func(raw []byte)
}

// MemoryTransport is an in-process bus with the same topic and filtering
// rules as RedisTransport. Messages go through the codec so subscribers
// never share memory with the sender.
type MemoryTransport struct {
	codec *Codec
	log   *zap.Logger

	mu     sync.RWMutex
	topics map[string]map[*memorySubscriber]struct{}
}

// NewMemoryTransport creates an empty bus
func NewMemoryTransport(cipher Cipher, log *zap.Logger) *MemoryTransport {
	return &MemoryTransport{
		codec:  NewCodec(cipher),
		log:    logger.OrDefault(log).Named("signaling"),
		topics: make(map[string]map[*memorySubscriber]struct{}),
	}
}

func (t *MemoryTransport) Subscribe(ctx context.Context, userID uuid.UUID) (*Subscription[domain.CallSignal], error) {
	sub := newSubscription[domain.CallSignal](defaultBuffer, nil)
	ms := &memorySubscriber{}
	ms.deliver = func(raw []byte) {
		sig, err := t.codec.DecodeSignal(raw)
		if err != nil {
			t.log.Warn("Dropping undecodable signal", zap.Error(err))
			return
		}
		if sig.To != userID {
			return
		}
		if !sub.offer(sig) {
			t.log.Warn("Subscriber buffer full, dropping signal",
				zap.String("user_id", userID.String()),
				zap.String("type", string(sig.Type)))
		}
	}
	sub.release = t.attach(UserChannel(userID), ms)
	go closeOnDone(ctx, sub.Close, sub.Done())
	return sub, nil
}

func (t *MemoryTransport) SubscribeRoom(ctx context.Context, roomID string) (*Subscription[domain.RoomEvent], error) {
	sub := newSubscription[domain.RoomEvent](defaultBuffer, nil)
	ms := &memorySubscriber{}
	ms.deliver = func(raw []byte) {
		ev, err := t.codec.DecodeRoomEvent(raw)
		if err != nil {
			t.log.Warn("Dropping undecodable room event", zap.Error(err))
			return
		}
		if !sub.offer(ev) {
			t.log.Warn("Subscriber buffer full, dropping room event",
				zap.String("room_id", roomID),
				zap.String("type", string(ev.Type)))
		}
	}
	sub.release = t.attach(RoomChannel(roomID), ms)
	go closeOnDone(ctx, sub.Close, sub.Done())
	return sub, nil
}

func (t *MemoryTransport) Send(ctx context.Context, sig domain.CallSignal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	raw, err := t.codec.EncodeSignal(sig)
	if err != nil {
		return err
	}
	t.publish(UserChannel(sig.To), raw)
	return nil
}

func (t *MemoryTransport) Broadcast(ctx context.Context, ev domain.RoomEvent) error {
	if ev.RoomID == "" {
		return fmt.Errorf("room event %s has no room id", ev.Type)
	}
	raw, err := t.codec.EncodeRoomEvent(ev)
	if err != nil {
		return err
	}
	t.publish(RoomChannel(ev.RoomID), raw)
	return nil
}

// Subscribers counts open subscriptions on a topic
func (t *MemoryTransport) Subscribers(topic string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.topics[topic])
}

func (t *MemoryTransport) attach(topic string, ms *memorySubscriber) func() {
	t.mu.Lock()
	if t.topics[topic] == nil {
		t.topics[topic] = make(map[*memorySubscriber]struct{})
	}
	t.topics[topic][ms] = struct{}{}
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.topics[topic], ms)
		if len(t.topics[topic]) == 0 {
			delete(t.topics, topic)
		}
	}
}

// publish hands raw to every subscriber of topic in publish order
func (t *MemoryTransport) publish(topic string, raw []byte) {
	t.mu.RLock()
	subs := make([]*memorySubscriber, 0, len(t.topics[topic]))
	for ms := range t.topics[topic] {
		subs = append(subs, ms)
	}
	t.mu.RUnlock()

	for _, ms := range subs {
		ms.deliver(raw)
	}
}

func closeOnDone(ctx context.Context, closeFn func(), done <-chan struct{}) {
	select {
	case <-ctx.Done():
		closeFn()
	case <-done:
	}
}
