// Package rtctest provides in-memory media sources and peer connections for
// tests of code built on package rtc.
package rtctest

import (
	"context"
	"errors"
	"sync"

	"duet-backend/internal/rtc"
)

// ErrPermissionDenied is returned while a device is disabled on a Source
var ErrPermissionDenied = errors.New("permission denied")

// Track is a fake capture track
type Track struct {
	*rtc.BaseTrack
	Label string
}

// NewTrack creates a live track
func NewTrack(kind rtc.TrackKind, label string) *Track {
	return &Track{BaseTrack: rtc.NewBaseTrack("", kind, nil), Label: label}
}

// Source is an rtc.MediaSource that hands out fake tracks and remembers them.
type Source struct {
	mu         sync.Mutex
	userErr    error
	displayErr error
	noCamera   bool
	gate       chan struct{}
	waiting    int
	issued     []*rtc.Stream
}

// NewSource returns a source with microphone, camera and screen available
func NewSource() *Source {
	return &Source{}
}

// DenyUserMedia makes GetUserMedia fail with err (nil restores it)
func (s *Source) DenyUserMedia(err error) {
	s.mu.Lock()
	s.userErr = err
	s.mu.Unlock()
}

// DenyDisplayMedia makes GetDisplayMedia fail with err (nil restores it)
func (s *Source) DenyDisplayMedia(err error) {
	s.mu.Lock()
	s.displayErr = err
	s.mu.Unlock()
}

// RemoveCamera makes video captures come back without a camera track
func (s *Source) RemoveCamera() {
	s.mu.Lock()
	s.noCamera = true
	s.mu.Unlock()
}

// Hold blocks GetUserMedia until Release is called
func (s *Source) Hold() {
	s.mu.Lock()
	s.gate = make(chan struct{})
	s.mu.Unlock()
}

// Release unblocks every capture waiting on Hold
func (s *Source) Release() {
	s.mu.Lock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
	s.mu.Unlock()
}

// Waiting is the number of captures blocked by Hold
func (s *Source) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}

func (s *Source) GetUserMedia(ctx context.Context, c rtc.Constraints) (*rtc.Stream, error) {
	s.mu.Lock()
	gate := s.gate
	if gate != nil {
		s.waiting++
	}
	s.mu.Unlock()

	if gate != nil {
		<-gate
		s.mu.Lock()
		s.waiting--
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userErr != nil {
		return nil, s.userErr
	}

	var tracks []rtc.Track
	if c.Audio {
		tracks = append(tracks, NewTrack(rtc.KindAudio, "microphone"))
	}
	if c.Video && !s.noCamera {
		tracks = append(tracks, NewTrack(rtc.KindVideo, "camera"))
	}
	stream := rtc.NewStream("", tracks...)
	s.issued = append(s.issued, stream)
	return stream, nil
}

func (s *Source) GetDisplayMedia(ctx context.Context) (*rtc.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.displayErr != nil {
		return nil, s.displayErr
	}
	stream := rtc.NewStream("", NewTrack(rtc.KindVideo, "screen"))
	s.issued = append(s.issued, stream)
	return stream, nil
}

// Issued returns every stream handed out so far
func (s *Source) Issued() []*rtc.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*rtc.Stream, len(s.issued))
	copy(out, s.issued)
	return out
}

// LiveTracks counts issued tracks that have not been stopped
func (s *Source) LiveTracks() int {
	n := 0
	for _, stream := range s.Issued() {
		n += stream.LiveTracks()
	}
	return n
}
