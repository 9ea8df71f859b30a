// Package signaling carries call-control messages between endpoints over a
// topic-based publish/subscribe channel: one topic per user for 1:1 calls and
// one topic per room for group calls. Delivery is best-effort.
package signaling

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"duet-backend/internal/domain"
)

// Transport is the channel used by the call and room services
type Transport interface {
	// Subscribe delivers every signal addressed to userID until the
	// subscription is closed or ctx is done.
	Subscribe(ctx context.Context, userID uuid.UUID) (*Subscription[domain.CallSignal], error)
	// Send publishes sig on the recipient's channel. No acknowledgment, no retry.
	Send(ctx context.Context, sig domain.CallSignal) error
	// SubscribeRoom delivers every event published on the room, including the subscriber's own.
	SubscribeRoom(ctx context.Context, roomID string) (*Subscription[domain.RoomEvent], error)
	// Broadcast publishes ev on ev.RoomID
	Broadcast(ctx context.Context, ev domain.RoomEvent) error
}

// Subscription is a long-lived channel resource. Close must be called when the
// owner is done; it is safe to call more than once.
type Subscription[T any] struct {
	ch      chan T
	done    chan struct{}
	once    sync.Once
	release func()
}

func newSubscription[T any](buffer int, release func()) *Subscription[T] {
	return &Subscription[T]{
		ch:      make(chan T, buffer),
		done:    make(chan struct{}),
		release: release,
	}
}

// C returns the delivery channel. It is never closed; select on Done as well.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Done is closed when the subscription is closed
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Close releases the underlying channel
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.release != nil {
			s.release()
		}
	})
}

// deliver hands v to the subscriber, giving up when the subscription closes
// or ctx is done. It reports whether v was delivered.
func (s *Subscription[T]) deliver(ctx context.Context, v T) bool {
	select {
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case s.ch <- v:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// offer hands v over without blocking. A full buffer drops v.
func (s *Subscription[T]) offer(v T) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- v:
		return true
	default:
		return false
	}
}

// UserChannel is the topic for 1:1 signals addressed to userID
func UserChannel(userID uuid.UUID) string {
	return "calls:" + userID.String()
}

// RoomChannel is the topic for a room. The prefix keeps room ids out of the
// calls: namespace.
func RoomChannel(roomID string) string {
	return "room:" + roomID
}
