package pion

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"duet-backend/internal/domain"
	"duet-backend/internal/rtc"
)

type peerConnection struct {
	pc      *webrtc.PeerConnection
	log     *zap.Logger
	senders map[rtc.TrackKind]*webrtc.RTPSender
}

func (p *peerConnection) wire(h rtc.PeerHandlers) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil || h.OnICECandidate == nil {
			return
		}
		cand := c.ToJSON()
		h.OnICECandidate(domain.ICECandidate{
			Candidate:        cand.Candidate,
			SDPMid:           cand.SDPMid,
			SDPMLineIndex:    cand.SDPMLineIndex,
			UsernameFragment: cand.UsernameFragment,
		})
	})

	p.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		track := newRemoteTrack(remote)
		p.log.Debug("Remote track received",
			zap.String("kind", remote.Kind().String()),
			zap.String("codec", remote.Codec().MimeType))
		if h.OnTrack != nil {
			h.OnTrack(track, remote.StreamID())
		}
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if h.OnStateChange != nil {
			h.OnStateChange(connectionState(s))
		}
	})
}

func (p *peerConnection) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (p *peerConnection) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (p *peerConnection) SetRemoteDescription(sd domain.SessionDescription) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(sd.Type),
		SDP:  sd.SDP,
	})
}

func (p *peerConnection) AddICECandidate(c domain.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (p *peerConnection) ReplaceTrack(kind rtc.TrackKind, t rtc.Track) error {
	sender, ok := p.senders[kind]
	if !ok {
		return fmt.Errorf("no %s sender on this connection", kind)
	}
	if t == nil {
		return sender.ReplaceTrack(nil)
	}
	lt, ok := t.(*LocalTrack)
	if !ok {
		return fmt.Errorf("track %s is not a pion sample track", t.ID())
	}
	return sender.ReplaceTrack(lt.local)
}

func (p *peerConnection) Close() error {
	return p.pc.Close()
}

func connectionState(s webrtc.PeerConnectionState) rtc.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return rtc.StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return rtc.StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return rtc.StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return rtc.StateFailed
	case webrtc.PeerConnectionStateClosed:
		return rtc.StateClosed
	default:
		return rtc.StateNew
	}
}
