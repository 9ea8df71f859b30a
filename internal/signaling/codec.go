package signaling

import (
	"encoding/json"
	"fmt"

	"duet-backend/internal/domain"
	"duet-backend/pkg/sealbox"
)

// Envelope is the realtime broadcast frame every message travels in
type Envelope struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

const (
	envelopeBroadcast = "broadcast"
	EventCallSignal   = "call-signal"
	EventRoomEvent    = "room-event"
)

// Cipher seals the data field of signals and room events. The rest of the
// message stays readable so routing works without the key.
type Cipher interface {
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// CipherFromKey returns a sealbox cipher for key, or nil when key is empty
func CipherFromKey(key []byte) (Cipher, error) {
	if len(key) == 0 {
		return nil, nil
	}
	box, err := sealbox.New(key)
	if err != nil {
		return nil, err
	}
	return box, nil
}

// Codec converts messages to and from wire frames
type Codec struct {
	cipher Cipher
}

// NewCodec returns a codec; cipher may be nil
func NewCodec(cipher Cipher) *Codec {
	return &Codec{cipher: cipher}
}

// EncodeSignal frames sig, sealing its data when a cipher is set
func (c *Codec) EncodeSignal(sig domain.CallSignal) ([]byte, error) {
	data, err := c.seal(sig.Data)
	if err != nil {
		return nil, err
	}
	sig.Data = data
	return c.frame(EventCallSignal, sig)
}

// DecodeSignal parses a frame produced by EncodeSignal
func (c *Codec) DecodeSignal(raw []byte) (domain.CallSignal, error) {
	var sig domain.CallSignal
	if err := c.unframe(raw, EventCallSignal, &sig); err != nil {
		return sig, err
	}
	data, err := c.open(sig.Data)
	if err != nil {
		return sig, err
	}
	sig.Data = data
	return sig, nil
}

// EncodeRoomEvent frames ev, sealing its data when a cipher is set
func (c *Codec) EncodeRoomEvent(ev domain.RoomEvent) ([]byte, error) {
	data, err := c.seal(ev.Data)
	if err != nil {
		return nil, err
	}
	ev.Data = data
	return c.frame(EventRoomEvent, ev)
}

// DecodeRoomEvent parses a frame produced by EncodeRoomEvent
func (c *Codec) DecodeRoomEvent(raw []byte) (domain.RoomEvent, error) {
	var ev domain.RoomEvent
	if err := c.unframe(raw, EventRoomEvent, &ev); err != nil {
		return ev, err
	}
	data, err := c.open(ev.Data)
	if err != nil {
		return ev, err
	}
	ev.Data = data
	return ev, nil
}

func (c *Codec) frame(event string, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Type: envelopeBroadcast, Event: event, Payload: payload})
}

func (c *Codec) unframe(raw []byte, event string, v any) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Type != envelopeBroadcast || env.Event != event {
		return fmt.Errorf("unexpected frame %s/%s, want %s", env.Type, env.Event, event)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", event, err)
	}
	return nil
}

// seal turns data into a JSON string holding the base64 sealed box
func (c *Codec) seal(data json.RawMessage) (json.RawMessage, error) {
	if c.cipher == nil || len(data) == 0 {
		return data, nil
	}
	sealed, err := c.cipher.Seal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to seal data: %w", err)
	}
	return json.Marshal(sealed)
}

func (c *Codec) open(data json.RawMessage) (json.RawMessage, error) {
	if c.cipher == nil || len(data) == 0 {
		return data, nil
	}
	var sealed []byte
	if err := json.Unmarshal(data, &sealed); err != nil {
		return nil, fmt.Errorf("data is not sealed: %w", err)
	}
	plain, err := c.cipher.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open data: %w", err)
	}
	return plain, nil
}
