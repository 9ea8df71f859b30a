package pion

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"duet-backend/internal/rtc"
)

const audioFrame = 20 * time.Millisecond

// opusSilence is a single Opus frame that decodes to 20ms of silence
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var (
	opusCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	vp8Codec  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// LocalTrack is a sample track a headless endpoint sends. Audio tracks emit
// Opus silence until stopped; video tracks carry whatever WriteSample is given.
type LocalTrack struct {
	*rtc.BaseTrack
	Label string
	local *webrtc.TrackLocalStaticSample
}

func newLocalTrack(kind rtc.TrackKind, label, streamID string) (*LocalTrack, error) {
	codec := opusCodec
	if kind == rtc.KindVideo {
		codec = vp8Codec
	}
	id := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", kind, err)
	}

	done := make(chan struct{})
	t := &LocalTrack{
		BaseTrack: rtc.NewBaseTrack(id, kind, func() { close(done) }),
		Label:     label,
		local:     local,
	}
	if kind == rtc.KindAudio {
		go t.pumpSilence(done)
	}
	return t, nil
}

// WriteSample sends one encoded frame while the track is live and enabled
func (t *LocalTrack) WriteSample(data []byte, d time.Duration) error {
	if t.ReadyState() != rtc.ReadyStateLive || !t.Enabled() {
		return nil
	}
	return t.local.WriteSample(media.Sample{Data: data, Duration: d})
}

func (t *LocalTrack) pumpSilence(done <-chan struct{}) {
	ticker := time.NewTicker(audioFrame)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			// A disabled microphone still sends silence
			_ = t.local.WriteSample(media.Sample{Data: opusSilence, Duration: audioFrame})
		}
	}
}

// RemoteTrack is a track received from the peer. It ends when the peer
// stops sending or the connection closes.
type RemoteTrack struct {
	*rtc.BaseTrack
	Codec   string
	packets atomic.Int64
}

func newRemoteTrack(remote *webrtc.TrackRemote) *RemoteTrack {
	kind := rtc.KindAudio
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		kind = rtc.KindVideo
	}
	t := &RemoteTrack{
		BaseTrack: rtc.NewBaseTrack(remote.ID(), kind, nil),
		Codec:     remote.Codec().MimeType,
	}
	go t.read(remote)
	return t
}

// Packets is the number of RTP packets received so far
func (t *RemoteTrack) Packets() int64 {
	return t.packets.Load()
}

func (t *RemoteTrack) read(remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := remote.Read(buf); err != nil {
			t.End()
			return
		}
		t.packets.Add(1)
	}
}
