package pion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"duet-backend/internal/rtc"
)

// ErrDeviceUnavailable is returned for a device switched off in Devices
var ErrDeviceUnavailable = errors.New("device unavailable")

// Devices says which capture devices a SampleSource pretends to have
type Devices struct {
	Microphone bool
	Camera     bool
	Screen     bool
}

// SampleSource is an rtc.MediaSource producing pion sample tracks
type SampleSource struct {
	mu      sync.Mutex
	devices Devices
}

// NewSampleSource returns a source with the given devices
func NewSampleSource(d Devices) *SampleSource {
	return &SampleSource{devices: d}
}

// SetDevices plugs or unplugs devices, e.g. to reproduce a denied permission
func (s *SampleSource) SetDevices(d Devices) {
	s.mu.Lock()
	s.devices = d
	s.mu.Unlock()
}

func (s *SampleSource) current() Devices {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices
}

func (s *SampleSource) GetUserMedia(ctx context.Context, c rtc.Constraints) (*rtc.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := s.current()
	if c.Audio && !d.Microphone {
		return nil, fmt.Errorf("microphone: %w", ErrDeviceUnavailable)
	}
	if c.Video && !d.Camera {
		return nil, fmt.Errorf("camera: %w", ErrDeviceUnavailable)
	}

	streamID := uuid.NewString()
	var tracks []rtc.Track
	if c.Audio {
		t, err := newLocalTrack(rtc.KindAudio, "microphone", streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if c.Video {
		t, err := newLocalTrack(rtc.KindVideo, "camera", streamID)
		if err != nil {
			rtc.NewStream(streamID, tracks...).Stop()
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return rtc.NewStream(streamID, tracks...), nil
}

func (s *SampleSource) GetDisplayMedia(ctx context.Context) (*rtc.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.current().Screen {
		return nil, fmt.Errorf("screen: %w", ErrDeviceUnavailable)
	}
	streamID := uuid.NewString()
	t, err := newLocalTrack(rtc.KindVideo, "screen", streamID)
	if err != nil {
		return nil, err
	}
	return rtc.NewStream(streamID, t), nil
}
