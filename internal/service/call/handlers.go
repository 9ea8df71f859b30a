package call

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"duet-backend/internal/domain"
	"duet-backend/internal/rtc"
)

// maxEarlyCandidates bounds the candidates kept for a call whose connection
// does not exist yet
const maxEarlyCandidates = 64

// HandleSignal applies one signal received from the transport. Signals that
// do not belong to the current call are dropped.
func (s *Service) HandleSignal(ctx context.Context, sig domain.CallSignal) {
	if sig.To != s.self.UserID {
		return
	}
	payload, err := sig.Decode()
	if err != nil {
		s.log.Warn("Dropping malformed signal",
			zap.String("signal_type", string(sig.Type)),
			zap.String("peer_id", sig.From.String()),
			zap.Error(err))
		return
	}

	if p, ok := payload.(domain.OfferRequest); ok {
		s.onOfferRequest(ctx, sig, p)
		return
	}

	sess := s.sessionWith(sig.From)
	if sess == nil {
		s.log.Debug("Dropping signal for no call",
			zap.String("signal_type", string(sig.Type)),
			zap.String("peer_id", sig.From.String()))
		return
	}

	switch p := payload.(type) {
	case domain.Accepted:
		s.onAccepted(ctx, sess)
	case domain.Rejected:
		s.onRejected(ctx, sess, p)
	case domain.Ended:
		s.onEnded(ctx, sess)
	case domain.SDPOffer:
		s.onSDPOffer(ctx, sess, p)
	case domain.SDPAnswer:
		s.onSDPAnswer(ctx, sess, p)
	case domain.RemoteCandidate:
		s.onCandidate(sess, p.Candidate)
	}
}

// sessionWith returns the live session whose peer is id
func (s *Service) sessionWith(id uuid.UUID) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || s.sess.ended || s.sess.peer.UserID != id {
		return nil
	}
	return s.sess
}

func (s *Service) onOfferRequest(ctx context.Context, sig domain.CallSignal, p domain.OfferRequest) {
	s.mu.Lock()
	if cur := s.sess; cur != nil {
		if cur.peer.UserID == sig.From && !cur.outgoing && s.state == domain.CallStateIncomingRinging {
			refreshed := sig
			cur.pending = &refreshed
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.rejectBusy(ctx, sig)
		return
	}

	callType := sig.CallType
	if !callType.Valid() {
		callType = domain.CallTypeVoice
	}
	pending := sig
	sess := &session{
		peer:      domain.Identity{UserID: sig.From, Name: sig.CallerName},
		callType:  callType,
		historyID: uuid.New(),
		createdAt: s.clock.Now(),
		pending:   &pending,
	}
	s.sess = sess
	sess.ringTimer = s.clock.AfterFunc(s.cfg.RingTimeout, func() { s.ringTimeout(sess) })
	s.setState(domain.CallStateIncomingRinging, sess.peer)
	incoming := sig
	s.emit(Event{Type: EventIncoming, Peer: sess.peer, Incoming: &incoming})
	s.mu.Unlock()

	s.log.Info("Incoming call",
		zap.String("peer_id", sig.From.String()),
		zap.String("call_type", string(callType)),
		zap.Bool("pre_negotiated", p.Offer != nil))

	if s.notifier != nil {
		go s.notifier.NotifyIncomingCall(context.WithoutCancel(ctx), sig)
	}
}

// rejectBusy turns away a caller while another call exists. The attempt is
// recorded as missed on this side.
func (s *Service) rejectBusy(ctx context.Context, sig domain.CallSignal) {
	callType := sig.CallType
	if !callType.Valid() {
		callType = domain.CallTypeVoice
	}
	reply, err := domain.NewSignal(s.self.UserID, sig.From, callType, domain.Rejected{Reason: domain.RejectReasonBusy})
	if err == nil {
		err = s.transport.Send(ctx, reply)
	}
	if err != nil {
		s.log.Warn("Failed to send busy reply", zap.String("peer_id", sig.From.String()), zap.Error(err))
	} else {
		s.metrics.SignalSent(string(reply.Type))
	}

	s.history.Append(ctx, domain.CallHistoryEntry{
		ID:        uuid.New(),
		CallerID:  sig.From,
		CalleeID:  s.self.UserID,
		CallType:  callType,
		Status:    domain.CallStatusMissed,
		CreatedAt: s.clock.Now(),
	})
	s.metrics.CallBusy()
	s.log.Info("Rejected call while busy", zap.String("peer_id", sig.From.String()))
}

func (s *Service) onAccepted(ctx context.Context, sess *session) {
	s.mu.Lock()
	if !s.current(sess) || !sess.outgoing || s.state != domain.CallStateOutgoingRinging {
		s.mu.Unlock()
		s.dropOutOfState(domain.SignalAccepted, sess)
		return
	}
	if sess.ringTimer != nil {
		sess.ringTimer.Stop()
		sess.ringTimer = nil
	}
	s.setState(domain.CallStateConnecting, sess.peer)
	conn := sess.conn
	s.mu.Unlock()

	offer, err := conn.CreateOffer(ctx)
	if err != nil {
		s.negotiationFailed(ctx, sess, err)
		return
	}
	if err := s.send(ctx, sess, domain.SDPOffer{Description: offer}); err != nil {
		s.negotiationFailed(ctx, sess, err)
	}
}

func (s *Service) onRejected(ctx context.Context, sess *session, p domain.Rejected) {
	s.mu.Lock()
	ringing := s.current(sess) && sess.outgoing && s.state == domain.CallStateOutgoingRinging
	s.mu.Unlock()
	if !ringing {
		s.dropOutOfState(domain.SignalRejected, sess)
		return
	}
	notice := NoticeDeclined
	if p.Reason == domain.RejectReasonBusy {
		notice = NoticeBusy
	}
	s.finish(ctx, sess, outcome{status: domain.CallStatusRejected, notice: notice})
}

func (s *Service) onEnded(ctx context.Context, sess *session) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	// A caller still capturing media has not rung anyone yet
	if state == domain.CallStateIdle {
		s.dropOutOfState(domain.SignalEnded, sess)
		return
	}
	if state == domain.CallStateIncomingRinging {
		s.finish(ctx, sess, outcome{status: domain.CallStatusMissed, notice: NoticeMissed})
		return
	}
	s.finish(ctx, sess, outcome{notice: NoticeEnded})
}

func (s *Service) onSDPOffer(ctx context.Context, sess *session, p domain.SDPOffer) {
	s.answer(ctx, sess, p.Description)
}

// answer applies the caller's offer and replies with our answer. The callee
// is active once the answer is on its way.
func (s *Service) answer(ctx context.Context, sess *session, offer domain.SessionDescription) {
	conn := s.negotiating(sess, false)
	if conn == nil {
		s.dropOutOfState(domain.SignalSDPOffer, sess)
		return
	}

	if err := conn.SetRemoteDescription(offer); err != nil {
		s.negotiationFailed(ctx, sess, err)
		return
	}
	ans, err := conn.CreateAnswer(ctx)
	if err != nil {
		s.negotiationFailed(ctx, sess, err)
		return
	}
	if err := s.send(ctx, sess, domain.SDPAnswer{Description: ans}); err != nil {
		s.negotiationFailed(ctx, sess, err)
		return
	}

	s.mu.Lock()
	if s.current(sess) {
		s.activate(sess)
	}
	s.mu.Unlock()
}

func (s *Service) onSDPAnswer(ctx context.Context, sess *session, p domain.SDPAnswer) {
	conn := s.negotiating(sess, true)
	if conn == nil {
		s.dropOutOfState(domain.SignalSDPAnswer, sess)
		return
	}

	if err := conn.SetRemoteDescription(p.Description); err != nil {
		s.negotiationFailed(ctx, sess, err)
		return
	}

	s.mu.Lock()
	if s.current(sess) {
		s.activate(sess)
	}
	s.mu.Unlock()
}

func (s *Service) onCandidate(sess *session, c domain.ICECandidate) {
	s.mu.Lock()
	if !s.current(sess) {
		s.mu.Unlock()
		return
	}
	conn := sess.conn
	if conn == nil {
		// Only a ringing or accepting callee hears from its peer before
		// the connection exists
		if !sess.outgoing && len(sess.early) < maxEarlyCandidates {
			sess.early = append(sess.early, c)
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := conn.AddICECandidate(c); err != nil {
		s.log.Debug("Failed to add remote candidate", zap.Error(err))
	}
}

// negotiating returns the connection of sess when it is connecting on the
// given side and the connection exists. SDP arriving at any other point
// belongs to no exchange in progress.
func (s *Service) negotiating(sess *session, outgoing bool) *rtc.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(sess) || sess.outgoing != outgoing || s.state != domain.CallStateConnecting {
		return nil
	}
	return sess.conn
}

func (s *Service) dropOutOfState(typ domain.SignalType, sess *session) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	s.log.Debug("Dropping signal out of state",
		zap.String("signal_type", string(typ)),
		zap.String("peer_id", sess.peer.UserID.String()),
		zap.String("state", string(state)))
}

// activate moves a connecting call to active. Must be called with mu held.
func (s *Service) activate(sess *session) {
	if s.state == domain.CallStateConnecting {
		s.setState(domain.CallStateActive, sess.peer)
	}
}

// connectionHandlers routes connection callbacks to sess. Callbacks for a
// session that has ended are ignored.
func (s *Service) connectionHandlers(sess *session) rtc.Handlers {
	return rtc.Handlers{
		OnICECandidate: func(c domain.ICECandidate) {
			s.mu.Lock()
			live := s.current(sess)
			s.mu.Unlock()
			if live {
				_ = s.send(context.Background(), sess, domain.RemoteCandidate{Candidate: c})
			}
		},
		OnRemoteStream: func(st *rtc.Stream) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if !s.current(sess) {
				return
			}
			sess.remote = st
			s.emit(Event{Type: EventRemoteStream, Peer: sess.peer, Stream: st})
		},
		OnStateChange: func(st rtc.ConnectionState) {
			switch st {
			case rtc.StateConnected:
				s.markConnected(sess)
			case rtc.StateFailed:
				go s.connectionFailed(sess)
			}
		},
	}
}

// markConnected starts the duration counter
func (s *Service) markConnected(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(sess) || sess.connected {
		return
	}
	sess.connected = true
	sess.connectedAt = s.clock.Now()
	s.activate(sess)

	sess.ticker = s.clock.Ticker(s.cfg.TickInterval)
	sess.tickStop = make(chan struct{})
	go s.tick(sess, sess.ticker, sess.tickStop)
	s.log.Info("Media connected", zap.String("peer_id", sess.peer.UserID.String()))
}

func (s *Service) tick(sess *session, t *clock.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.mu.Lock()
			if !s.current(sess) {
				s.mu.Unlock()
				return
			}
			s.emit(Event{Type: EventTick, Peer: sess.peer, Duration: s.clock.Since(sess.connectedAt)})
			s.mu.Unlock()
		}
	}
}

// connectionFailed ends the call after the media path broke. A call that was
// connected keeps its duration.
func (s *Service) connectionFailed(sess *session) {
	s.mu.Lock()
	connected := sess.connected
	s.mu.Unlock()

	ctx := context.Background()
	s.log.Warn("Peer connection failed",
		zap.String("peer_id", sess.peer.UserID.String()),
		zap.Bool("was_connected", connected))
	if connected {
		s.finish(ctx, sess, outcome{notice: NoticeEnded, sendEnded: true})
		return
	}
	s.finish(ctx, sess, outcome{status: domain.CallStatusMissed, notice: NoticeCallFailed, sendEnded: true})
}

func (s *Service) negotiationFailed(ctx context.Context, sess *session, err error) {
	s.log.Warn("Negotiation failed",
		zap.String("peer_id", sess.peer.UserID.String()),
		zap.Error(err))
	s.metrics.NegotiationFailed()
	s.finish(ctx, sess, outcome{status: domain.CallStatusMissed, notice: NoticeCallFailed, sendEnded: true})
}
