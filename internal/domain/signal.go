package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SignalType identifies a call-control or negotiation message
type SignalType string

const (
	SignalOfferRequest SignalType = "offer-request"
	SignalAccepted     SignalType = "accepted"
	SignalRejected     SignalType = "rejected"
	SignalEnded        SignalType = "ended"
	SignalSDPOffer     SignalType = "sdp-offer"
	SignalSDPAnswer    SignalType = "sdp-answer"
	SignalICECandidate SignalType = "ice-candidate"
)

// RejectReasonBusy is sent when the callee is already in another call
const RejectReasonBusy = "busy"

// CallSignal is a transient message exchanged between two endpoints.
// It is never persisted.
type CallSignal struct {
	Type       SignalType      `json:"type"`
	From       uuid.UUID       `json:"from"`
	To         uuid.UUID       `json:"to"`
	CallType   CallType        `json:"callType"`
	Data       json.RawMessage `json:"data,omitempty"`
	CallerName string          `json:"callerName,omitempty"`
}

// SessionDescription is an SDP offer or answer
type SessionDescription struct {
	Type string `json:"type"` // offer, answer
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors the browser RTCIceCandidateInit shape
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// SignalPayload is the decoded form of a CallSignal. The set of
// implementations is closed: one per SignalType.
type SignalPayload interface {
	signalType() SignalType
}

// OfferRequest rings the callee. Offer is set when the caller pre-negotiated.
type OfferRequest struct {
	Offer *SessionDescription
}

// Accepted tells the caller the callee picked up
type Accepted struct{}

// Rejected tells the caller the callee declined
type Rejected struct {
	Reason string `json:"reason,omitempty"`
}

// Ended hangs up an established or ringing call
type Ended struct{}

// SDPOffer carries the caller's session description
type SDPOffer struct {
	Description SessionDescription
}

// SDPAnswer carries the callee's session description
type SDPAnswer struct {
	Description SessionDescription
}

// RemoteCandidate carries one trickled ICE candidate
type RemoteCandidate struct {
	Candidate ICECandidate
}

func (OfferRequest) signalType() SignalType    { return SignalOfferRequest }
func (Accepted) signalType() SignalType        { return SignalAccepted }
func (Rejected) signalType() SignalType        { return SignalRejected }
func (Ended) signalType() SignalType           { return SignalEnded }
func (SDPOffer) signalType() SignalType        { return SignalSDPOffer }
func (SDPAnswer) signalType() SignalType       { return SignalSDPAnswer }
func (RemoteCandidate) signalType() SignalType { return SignalICECandidate }

// NewSignal builds a signal of the payload's type, encoding its data field
func NewSignal(from, to uuid.UUID, callType CallType, payload SignalPayload) (CallSignal, error) {
	sig := CallSignal{
		Type:     payload.signalType(),
		From:     from,
		To:       to,
		CallType: callType,
	}

	var data any
	switch p := payload.(type) {
	case OfferRequest:
		if p.Offer != nil {
			data = p.Offer
		}
	case Rejected:
		if p.Reason != "" {
			data = p
		}
	case SDPOffer:
		data = p.Description
	case SDPAnswer:
		data = p.Description
	case RemoteCandidate:
		data = p.Candidate
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return CallSignal{}, fmt.Errorf("failed to encode %s data: %w", sig.Type, err)
		}
		sig.Data = raw
	}
	return sig, nil
}

// Validate checks addressing and type before a signal is published
func (s CallSignal) Validate() error {
	switch s.Type {
	case SignalOfferRequest, SignalAccepted, SignalRejected, SignalEnded,
		SignalSDPOffer, SignalSDPAnswer, SignalICECandidate:
	default:
		return fmt.Errorf("unknown signal type %q", s.Type)
	}
	if s.To == uuid.Nil {
		return fmt.Errorf("signal %s has no recipient", s.Type)
	}
	if s.Type == SignalOfferRequest && !s.CallType.Valid() {
		return fmt.Errorf("offer-request has invalid call type %q", s.CallType)
	}
	return nil
}

// Decode parses the data field according to the signal type
func (s CallSignal) Decode() (SignalPayload, error) {
	switch s.Type {
	case SignalOfferRequest:
		if len(s.Data) == 0 || string(s.Data) == "null" {
			return OfferRequest{}, nil
		}
		var sd SessionDescription
		if err := json.Unmarshal(s.Data, &sd); err != nil {
			return nil, fmt.Errorf("failed to decode offer-request data: %w", err)
		}
		if sd.SDP == "" {
			return OfferRequest{}, nil
		}
		return OfferRequest{Offer: &sd}, nil
	case SignalAccepted:
		return Accepted{}, nil
	case SignalRejected:
		var r Rejected
		if len(s.Data) > 0 {
			if err := json.Unmarshal(s.Data, &r); err != nil {
				return nil, fmt.Errorf("failed to decode rejected data: %w", err)
			}
		}
		return r, nil
	case SignalEnded:
		return Ended{}, nil
	case SignalSDPOffer, SignalSDPAnswer:
		var sd SessionDescription
		if err := json.Unmarshal(s.Data, &sd); err != nil {
			return nil, fmt.Errorf("failed to decode %s data: %w", s.Type, err)
		}
		if sd.SDP == "" {
			return nil, fmt.Errorf("%s carries an empty session description", s.Type)
		}
		if s.Type == SignalSDPOffer {
			return SDPOffer{Description: sd}, nil
		}
		return SDPAnswer{Description: sd}, nil
	case SignalICECandidate:
		var c ICECandidate
		if err := json.Unmarshal(s.Data, &c); err != nil {
			return nil, fmt.Errorf("failed to decode ice-candidate data: %w", err)
		}
		return RemoteCandidate{Candidate: c}, nil
	default:
		return nil, fmt.Errorf("unknown signal type %q", s.Type)
	}
}
