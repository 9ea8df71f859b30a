// Package rtc wraps a peer-connection primitive and local media capture with
// the lifecycle shared by 1:1 calls and group rooms.
package rtc

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// TrackKind is audio or video
type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// ReadyState mirrors MediaStreamTrack.readyState
type ReadyState string

const (
	ReadyStateLive  ReadyState = "live"
	ReadyStateEnded ReadyState = "ended"
)

// Track is one local or remote media track.
type Track interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	ReadyState() ReadyState
	// Stop ends the track and releases the underlying device. Safe to call twice.
	Stop()
	// OnEnded registers fn to run once when the track ends for any reason.
	OnEnded(fn func())
}

// BaseTrack implements the lifecycle half of Track. Concrete tracks embed it
// and pass a release func that frees their device or reader.
type BaseTrack struct {
	id   string
	kind TrackKind

	mu      sync.Mutex
	enabled bool
	ended   bool
	onEnded []func()
	release func()
}

// NewBaseTrack creates a live, enabled track.
func NewBaseTrack(id string, kind TrackKind, release func()) *BaseTrack {
	if id == "" {
		id = uuid.NewString()
	}
	return &BaseTrack{id: id, kind: kind, enabled: true, release: release}
}

func (t *BaseTrack) ID() string      { return t.id }
func (t *BaseTrack) Kind() TrackKind { return t.kind }

func (t *BaseTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *BaseTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *BaseTrack) ReadyState() ReadyState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return ReadyStateEnded
	}
	return ReadyStateLive
}

// Stop ends the track without firing OnEnded handlers, matching the browser
// where a local stop() does not dispatch "ended".
func (t *BaseTrack) Stop() {
	t.finish(false)
}

// End marks the track ended from the source side (device unplugged, remote
// stream closed, the "stop sharing" button) and fires OnEnded handlers.
func (t *BaseTrack) End() {
	t.finish(true)
}

func (t *BaseTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = append(t.onEnded, fn)
}

func (t *BaseTrack) finish(notify bool) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	release := t.release
	handlers := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()

	if release != nil {
		release()
	}
	if notify {
		for _, fn := range handlers {
			fn()
		}
	}
}

// Stream groups the tracks of one capture or one remote peer.
type Stream struct {
	id string

	mu     sync.RWMutex
	tracks []Track
}

// NewStream creates a stream holding tracks.
func NewStream(id string, tracks ...Track) *Stream {
	if id == "" {
		id = uuid.NewString()
	}
	return &Stream{id: id, tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

// Tracks returns a copy of all tracks
func (s *Stream) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// AddTrack appends t unless a track with the same id is already present
func (s *Stream) AddTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tracks {
		if existing.ID() == t.ID() {
			return
		}
	}
	s.tracks = append(s.tracks, t)
}

// AudioTrack returns the first audio track or nil
func (s *Stream) AudioTrack() Track { return s.first(KindAudio) }

// VideoTrack returns the first video track or nil
func (s *Stream) VideoTrack() Track { return s.first(KindVideo) }

func (s *Stream) first(kind TrackKind) Track {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// Stop stops every track. Nil streams are ignored.
func (s *Stream) Stop() {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// LiveTracks counts tracks still in the live state
func (s *Stream) LiveTracks() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, t := range s.Tracks() {
		if t.ReadyState() == ReadyStateLive {
			n++
		}
	}
	return n
}

// Constraints select which devices GetUserMedia opens
type Constraints struct {
	Audio bool
	Video bool
}

// MediaSource captures local media. Implementations return an error when
// permission is denied or no device exists.
type MediaSource interface {
	GetUserMedia(ctx context.Context, c Constraints) (*Stream, error)
	GetDisplayMedia(ctx context.Context) (*Stream, error)
}
