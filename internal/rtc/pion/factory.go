// Package pion implements the rtc primitives on top of pion/webrtc so that a
// headless process can take part in calls.
package pion

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"duet-backend/internal/rtc"
	"duet-backend/pkg/logger"
)

// Options tune ICE liveness
type Options struct {
	ICEDisconnectedTimeout time.Duration
	ICEFailedTimeout       time.Duration
	ICEKeepaliveInterval   time.Duration
}

// Factory creates pion peer connections sharing one API instance
type Factory struct {
	api *webrtc.API
	log *zap.Logger
}

// NewFactory registers the default codecs and interceptors (NACK, RTCP reports)
func NewFactory(opts Options, log *zap.Logger) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	if opts.ICEDisconnectedTimeout <= 0 {
		opts.ICEDisconnectedTimeout = 5 * time.Second
	}
	if opts.ICEFailedTimeout <= 0 {
		opts.ICEFailedTimeout = 25 * time.Second
	}
	if opts.ICEKeepaliveInterval <= 0 {
		opts.ICEKeepaliveInterval = 2 * time.Second
	}
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(opts.ICEDisconnectedTimeout, opts.ICEFailedTimeout, opts.ICEKeepaliveInterval)

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		),
		log: logger.OrDefault(log).Named("pion"),
	}, nil
}

// NewPeerConnection attaches every local track of the stream. Tracks must come
// from a SampleSource. Kinds the stream lacks get a receive-only transceiver
// so the remote side can still send them.
func (f *Factory) NewPeerConnection(cfg rtc.PeerConfig, local *rtc.Stream, h rtc.PeerHandlers) (rtc.PeerConnection, error) {
	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &peerConnection{
		pc:      pc,
		log:     f.log,
		senders: make(map[rtc.TrackKind]*webrtc.RTPSender),
	}

	for _, t := range local.Tracks() {
		lt, ok := t.(*LocalTrack)
		if !ok {
			_ = pc.Close()
			return nil, fmt.Errorf("track %s is not a pion sample track", t.ID())
		}
		sender, err := pc.AddTrack(lt.local)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("failed to add %s track: %w", t.Kind(), err)
		}
		p.senders[t.Kind()] = sender
		go drainRTCP(sender)
	}
	for _, kind := range []rtc.TrackKind{rtc.KindAudio, rtc.KindVideo} {
		if _, ok := p.senders[kind]; ok {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(codecType(kind), webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			f.log.Warn("Failed to add receive-only transceiver", zap.String("kind", string(kind)), zap.Error(err))
		}
	}

	p.wire(h)
	return p, nil
}

// drainRTCP reads incoming RTCP so interceptors keep working
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func codecType(kind rtc.TrackKind) webrtc.RTPCodecType {
	if kind == rtc.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}
