package room

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"duet-backend/internal/domain"
	"duet-backend/internal/rtc"
	apperrors "duet-backend/pkg/errors"
)

func (s *Service) run(sess *roomSession) {
	defer close(sess.done)
	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-sess.sub.Done():
			return
		case ev := <-sess.sub.C():
			s.handle(sess, ev)
		}
	}
}

// handle applies one room event. Our own events and events addressed to
// somebody else are ignored.
func (s *Service) handle(sess *roomSession, ev domain.RoomEvent) {
	if ev.From == s.self.UserID || ev.From == uuid.Nil {
		return
	}
	if ev.Targeted() && ev.To != s.self.UserID {
		return
	}

	switch ev.Type {
	case domain.RoomEventJoin:
		s.onJoin(sess, ev)
	case domain.RoomEventOffer:
		s.onOffer(sess, ev)
	case domain.RoomEventAnswer:
		s.onAnswer(sess, ev)
	case domain.RoomEventICECandidate:
		s.onCandidate(sess, ev)
	case domain.RoomEventLeave:
		s.removeParticipant(sess, ev.From, 0)
	case domain.RoomEventChat:
		s.onChat(sess, ev)
	case domain.RoomEventScreenShare:
		s.onScreenShare(sess, ev)
	default:
		sess.log.Debug("Ignoring unknown room event", zap.String("type", string(ev.Type)))
	}
}

// onJoin connects to a new member: existing members always make the offer
func (s *Service) onJoin(sess *roomSession, ev domain.RoomEvent) {
	if !s.addParticipant(sess, ev) {
		return
	}
	conn, err := s.connect(sess, ev.From)
	if err != nil {
		s.meshFailed(sess, ev.From, err)
		return
	}
	offer, err := conn.CreateOffer(sess.ctx)
	if err != nil {
		s.meshFailed(sess, ev.From, err)
		return
	}

	s.mu.Lock()
	if p := sess.peers[ev.From]; p != nil && p.conn == conn {
		p.offered = true
	}
	sharing := sess.sharing
	s.mu.Unlock()
	err = s.sendTo(sess, ev.From, domain.RoomEventOffer, offer, func(out *domain.RoomEvent) {
		out.IsVideo = sess.isVideo
		out.Sharing = sharing
	})
	if err != nil {
		s.meshFailed(sess, ev.From, err)
	}
}

// onOffer answers a member that is connecting to us
func (s *Service) onOffer(sess *roomSession, ev domain.RoomEvent) {
	var sd domain.SessionDescription
	if err := json.Unmarshal(ev.Data, &sd); err != nil || sd.SDP == "" {
		sess.log.Warn("Dropping malformed offer", zap.String("peer_id", ev.From.String()))
		return
	}
	if s.keepOwnOffer(sess, ev.From) {
		sess.log.Debug("Both sides offered, keeping ours", zap.String("peer_id", ev.From.String()))
		return
	}
	if !s.addParticipant(sess, ev) {
		return
	}

	conn, err := s.connect(sess, ev.From)
	if err != nil {
		s.meshFailed(sess, ev.From, err)
		return
	}
	if err := conn.SetRemoteDescription(sd); err != nil {
		s.meshFailed(sess, ev.From, err)
		return
	}
	answer, err := conn.CreateAnswer(sess.ctx)
	if err != nil {
		s.meshFailed(sess, ev.From, err)
		return
	}
	if err := s.sendTo(sess, ev.From, domain.RoomEventAnswer, answer, nil); err != nil {
		s.meshFailed(sess, ev.From, err)
	}
}

// keepOwnOffer settles two members offering to each other at once, as
// happens when both join together: the lower user id keeps its offer and
// the other side answers it.
func (s *Service) keepOwnOffer(sess *roomSession, from uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := sess.peers[from]
	if p == nil || p.conn == nil || !p.offered {
		return false
	}
	return s.self.UserID.String() < from.String()
}

func (s *Service) onAnswer(sess *roomSession, ev domain.RoomEvent) {
	var sd domain.SessionDescription
	if err := json.Unmarshal(ev.Data, &sd); err != nil || sd.SDP == "" {
		sess.log.Warn("Dropping malformed answer", zap.String("peer_id", ev.From.String()))
		return
	}
	s.mu.Lock()
	p := sess.peers[ev.From]
	if !s.live(sess) || p == nil || p.conn == nil || !p.offered {
		s.mu.Unlock()
		return
	}
	conn, gen := p.conn, p.gen
	p.offered = false
	s.mu.Unlock()

	if err := conn.SetRemoteDescription(sd); err != nil {
		s.removeParticipant(sess, ev.From, gen)
		sess.log.Warn("Failed to apply answer", zap.String("peer_id", ev.From.String()), zap.Error(err))
	}
}

func (s *Service) onCandidate(sess *roomSession, ev domain.RoomEvent) {
	var c domain.ICECandidate
	if err := json.Unmarshal(ev.Data, &c); err != nil {
		sess.log.Debug("Dropping malformed candidate", zap.Error(err))
		return
	}
	s.mu.Lock()
	if !s.live(sess) {
		s.mu.Unlock()
		return
	}
	p := sess.peers[ev.From]
	if p == nil || p.conn == nil {
		kept := sess.bufferCandidate(ev.From, c, s.cfg.MaxParticipants-1)
		s.mu.Unlock()
		if !kept {
			sess.log.Debug("Dropping early candidate", zap.String("peer_id", ev.From.String()))
		}
		return
	}
	conn := p.conn
	s.mu.Unlock()

	if err := conn.AddICECandidate(c); err != nil {
		sess.log.Debug("Failed to add remote candidate", zap.Error(err))
	}
}

func (s *Service) onChat(sess *roomSession, ev domain.RoomEvent) {
	if ev.Chat == nil || ev.Chat.Text == "" {
		return
	}
	msg := *ev.Chat
	msg.From = ev.From
	if msg.FromName == "" {
		msg.FromName = ev.FromName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live(sess) {
		return
	}
	sess.chat = append(sess.chat, msg)
	s.emit(Event{Type: EventChat, RoomID: sess.room.ID, Participant: identityOf(ev), Chat: &msg})
}

func (s *Service) onScreenShare(sess *roomSession, ev domain.RoomEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := sess.peers[ev.From]
	if !s.live(sess) || p == nil {
		return
	}
	p.sharing = ev.Sharing
	s.emit(Event{Type: EventScreenShare, RoomID: sess.room.ID, Participant: p.identity, Sharing: ev.Sharing})
}

// addParticipant records a member the first time it shows up. It reports
// false when the member cannot be taken into the mesh.
func (s *Service) addParticipant(sess *roomSession, ev domain.RoomEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live(sess) {
		return false
	}
	if p, ok := sess.peers[ev.From]; ok {
		p.identity.Name = nameOr(ev.FromName, p.identity.Name)
		p.isVideo = ev.IsVideo
		if ev.Type == domain.RoomEventOffer {
			p.sharing = ev.Sharing
		}
		return true
	}
	if len(sess.peers)+1 >= s.cfg.MaxParticipants {
		sess.log.Warn("Mesh is full, ignoring member", zap.String("peer_id", ev.From.String()))
		return false
	}

	p := &participant{
		identity: identityOf(ev),
		isVideo:  ev.IsVideo,
	}
	if ev.Type == domain.RoomEventOffer {
		p.sharing = ev.Sharing
	}
	sess.peers[ev.From] = p
	sess.order = append(sess.order, ev.From)
	s.metrics.ParticipantAdded()
	s.emit(Event{Type: EventParticipantJoined, RoomID: sess.room.ID, Participant: p.identity})
	return true
}

// connect gives member id a fresh connection carrying the local tracks.
// Any previous connection to it is closed.
func (s *Service) connect(sess *roomSession, id uuid.UUID) (*rtc.Connection, error) {
	s.mu.Lock()
	p := sess.peers[id]
	if !s.live(sess) || p == nil {
		s.mu.Unlock()
		return nil, apperrors.CancelledError()
	}
	p.gen++
	gen := p.gen
	old := p.conn
	p.conn, p.stream, p.connected, p.offered = nil, nil, false, false
	local := sess.local
	video := sess.outgoingVideo()
	s.mu.Unlock()

	if old != nil {
		s.media.Teardown(old)
	}

	conn, err := s.media.CreateConnection(local, s.linkHandlers(sess, id, gen))
	if err != nil {
		return nil, err
	}
	if video != nil && video != sess.camera {
		if err := s.media.ReplaceOutgoingVideoTrack(conn, video); err != nil {
			sess.log.Warn("Failed to send screen to new member", zap.Error(err))
		}
	}

	s.mu.Lock()
	p = sess.peers[id]
	if !s.live(sess) || p == nil || p.gen != gen {
		s.mu.Unlock()
		s.media.Teardown(conn)
		return nil, apperrors.CancelledError()
	}
	p.conn = conn
	early := sess.early[id]
	delete(sess.early, id)
	current := sess.outgoingVideo()
	s.mu.Unlock()

	// Screen sharing may have been toggled while the connection was built.
	if current != nil && current != video {
		if err := s.media.ReplaceOutgoingVideoTrack(conn, current); err != nil {
			sess.log.Warn("Failed to update outgoing video", zap.Error(err))
		}
	}
	for _, c := range early {
		if err := conn.AddICECandidate(c); err != nil {
			sess.log.Debug("Failed to add early candidate", zap.Error(err))
		}
	}
	return conn, nil
}

// linkHandlers routes callbacks of one connection generation to member id
func (s *Service) linkHandlers(sess *roomSession, id uuid.UUID, gen int) rtc.Handlers {
	return rtc.Handlers{
		OnICECandidate: func(c domain.ICECandidate) {
			if s.link(sess, id, gen) == nil {
				return
			}
			if err := s.sendTo(sess, id, domain.RoomEventICECandidate, c, nil); err != nil {
				sess.log.Debug("Failed to send candidate", zap.Error(err))
			}
		},
		OnRemoteStream: func(st *rtc.Stream) {
			s.mu.Lock()
			defer s.mu.Unlock()
			p := s.linkLocked(sess, id, gen)
			if p == nil {
				return
			}
			p.stream = st
			s.emit(Event{Type: EventRemoteStream, RoomID: sess.room.ID, Participant: p.identity, Stream: st})
		},
		OnStateChange: func(st rtc.ConnectionState) {
			switch st {
			case rtc.StateConnected:
				s.mu.Lock()
				if p := s.linkLocked(sess, id, gen); p != nil {
					p.connected = true
				}
				s.mu.Unlock()
			case rtc.StateFailed:
				sess.log.Warn("Mesh connection failed", zap.String("peer_id", id.String()))
				go s.removeParticipant(sess, id, gen)
			}
		},
	}
}

func (s *Service) link(sess *roomSession, id uuid.UUID, gen int) *participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linkLocked(sess, id, gen)
}

func (s *Service) linkLocked(sess *roomSession, id uuid.UUID, gen int) *participant {
	p := sess.peers[id]
	if !s.live(sess) || p == nil || p.gen != gen {
		return nil
	}
	return p
}

// removeParticipant drops member id and closes its connection. gen 0
// removes whatever connection is current; otherwise only that generation.
func (s *Service) removeParticipant(sess *roomSession, id uuid.UUID, gen int) {
	s.mu.Lock()
	p := sess.peers[id]
	if !s.live(sess) || p == nil || (gen != 0 && p.gen != gen) {
		s.mu.Unlock()
		return
	}
	delete(sess.peers, id)
	delete(sess.early, id)
	for i, pid := range sess.order {
		if pid == id {
			sess.order = append(sess.order[:i], sess.order[i+1:]...)
			break
		}
	}
	conn := p.conn
	s.emit(Event{Type: EventParticipantLeft, RoomID: sess.room.ID, Participant: p.identity})
	s.mu.Unlock()

	s.media.Teardown(conn)
	s.metrics.ParticipantRemoved()
	sess.log.Info("Participant left", zap.String("peer_id", id.String()))
}

// meshFailed removes a member whose connection could not be set up. The
// rest of the room is unaffected.
func (s *Service) meshFailed(sess *roomSession, id uuid.UUID, err error) {
	if apperrors.HasCode(err, apperrors.ErrCodeCallCancelled) {
		return
	}
	sess.log.Warn("Mesh connection setup failed",
		zap.String("peer_id", id.String()),
		zap.Error(err))
	s.removeParticipant(sess, id, 0)
}

// sendTo publishes a targeted event whose data is v
func (s *Service) sendTo(sess *roomSession, to uuid.UUID, typ domain.RoomEventType, v any, decorate func(*domain.RoomEvent)) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", typ, err)
	}
	ev := domain.RoomEvent{Type: typ, To: to, Data: data}
	if decorate != nil {
		decorate(&ev)
	}
	return s.broadcast(sess, ev)
}

func identityOf(ev domain.RoomEvent) domain.Identity {
	return domain.Identity{UserID: ev.From, Name: ev.FromName}
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
