package call

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"duet-backend/internal/domain"
	"duet-backend/internal/rtc"
	apperrors "duet-backend/pkg/errors"
)

// StartCall rings peer. Local media is captured first; if that fails no
// signal is sent and the endpoint stays idle.
func (s *Service) StartCall(ctx context.Context, peer domain.Identity, isVideo bool) error {
	if peer.UserID == uuid.Nil || peer.UserID == s.self.UserID {
		return apperrors.ValidationError("invalid callee")
	}

	s.mu.Lock()
	if s.sess != nil {
		s.mu.Unlock()
		return apperrors.BusyError()
	}
	sess := &session{
		peer:      peer,
		callType:  domain.CallTypeFor(isVideo),
		outgoing:  true,
		historyID: uuid.New(),
		createdAt: s.clock.Now(),
	}
	s.sess = sess
	s.mu.Unlock()

	local, conn, err := s.prepareMedia(ctx, sess)
	if err != nil {
		s.abandon(sess, err)
		return err
	}

	s.mu.Lock()
	if !s.current(sess) {
		s.mu.Unlock()
		s.media.Teardown(conn, local)
		return apperrors.CancelledError()
	}
	sess.local, sess.conn, sess.camera = local, conn, local.VideoTrack()
	sess.signaled = true
	sess.historyRecorded = true
	sess.ringTimer = s.clock.AfterFunc(s.cfg.RingTimeout, func() { s.ringTimeout(sess) })
	s.setState(domain.CallStateOutgoingRinging, peer)
	s.mu.Unlock()

	s.history.Append(ctx, sess.entry(s.self.UserID, domain.CallStatusOutgoing, 0))
	s.metrics.CallStarted(string(sess.callType))
	s.log.Info("Outgoing call",
		zap.String("peer_id", peer.UserID.String()),
		zap.String("call_type", string(sess.callType)))

	if err := s.send(ctx, sess, domain.OfferRequest{}); err != nil {
		s.finish(ctx, sess, outcome{status: domain.CallStatusMissed, notice: NoticeCallFailed})
		return err
	}
	return nil
}

// Accept answers the ringing call
func (s *Service) Accept(ctx context.Context) error {
	s.mu.Lock()
	sess := s.sess
	if sess == nil {
		s.mu.Unlock()
		return apperrors.CallNotFoundError()
	}
	if s.state != domain.CallStateIncomingRinging {
		s.mu.Unlock()
		return apperrors.InvalidStateError("no call is ringing")
	}
	if sess.ringTimer != nil {
		sess.ringTimer.Stop()
		sess.ringTimer = nil
	}
	var offer *domain.SessionDescription
	if sess.pending != nil {
		if p, err := sess.pending.Decode(); err == nil {
			offer = p.(domain.OfferRequest).Offer
		}
	}
	s.setState(domain.CallStateConnecting, sess.peer)
	s.mu.Unlock()

	local, conn, err := s.prepareMedia(ctx, sess)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeCallCancelled) {
			return err
		}
		notice := NoticeCallFailed
		if apperrors.HasCode(err, apperrors.ErrCodeMediaAccess) {
			notice = NoticeMediaFailed
		}
		s.finish(ctx, sess, outcome{status: domain.CallStatusMissed, notice: notice, sendRejected: true})
		return err
	}

	s.mu.Lock()
	if !s.current(sess) {
		s.mu.Unlock()
		s.media.Teardown(conn, local)
		return apperrors.CancelledError()
	}
	sess.local, sess.conn, sess.camera = local, conn, local.VideoTrack()
	sess.signaled = true
	sess.historyRecorded = true
	sess.pending = nil
	early := sess.early
	sess.early = nil
	s.mu.Unlock()

	s.history.Append(ctx, sess.entry(s.self.UserID, domain.CallStatusIncoming, 0))
	for _, c := range early {
		_ = conn.AddICECandidate(c)
	}

	if err := s.send(ctx, sess, domain.Accepted{}); err != nil {
		s.finish(ctx, sess, outcome{notice: NoticeCallFailed})
		return err
	}
	if offer != nil {
		s.answer(ctx, sess, *offer)
	}
	return nil
}

// Reject declines the ringing call. Outside ringing it behaves like EndCall.
func (s *Service) Reject(ctx context.Context) {
	s.mu.Lock()
	sess := s.sess
	ringing := sess != nil && s.state == domain.CallStateIncomingRinging
	s.mu.Unlock()

	if !ringing {
		s.EndCall(ctx)
		return
	}
	s.finish(ctx, sess, outcome{status: domain.CallStatusMissed, sendRejected: true})
}

// EndCall hangs up whatever call exists. It is a no-op when idle and safe
// to call repeatedly.
func (s *Service) EndCall(ctx context.Context) {
	s.mu.Lock()
	sess := s.sess
	if sess == nil {
		s.mu.Unlock()
		return
	}
	out := outcome{notice: NoticeEnded, sendEnded: true}
	switch {
	case s.state == domain.CallStateIncomingRinging:
		out = outcome{status: domain.CallStatusMissed, sendRejected: true}
	case !sess.outgoing && !sess.signaled:
		// Hung up while accepting: the caller is still ringing
		out = outcome{status: domain.CallStatusMissed, notice: NoticeEnded, sendRejected: true}
	case s.state == domain.CallStateOutgoingRinging:
		out.status = domain.CallStatusMissed
	}
	s.mu.Unlock()

	s.finish(ctx, sess, out)
}

// prepareMedia captures local media and creates the connection for sess
// without holding mu. A session cancelled meanwhile releases everything.
func (s *Service) prepareMedia(ctx context.Context, sess *session) (*rtc.Stream, *rtc.Connection, error) {
	local, err := s.media.AcquireLocalMedia(ctx, sess.callType.IsVideo())

	s.mu.Lock()
	cancelled := !s.current(sess)
	s.mu.Unlock()
	if cancelled {
		if local != nil {
			local.Stop()
		}
		return nil, nil, apperrors.CancelledError()
	}
	if err != nil {
		return nil, nil, err
	}

	conn, err := s.media.CreateConnection(local, s.connectionHandlers(sess))
	if err != nil {
		local.Stop()
		return nil, nil, err
	}
	return local, conn, nil
}

// abandon drops a session that never got media. No signal was sent and
// nothing is recorded for an outgoing call that never rang.
func (s *Service) abandon(sess *session, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.ended = true
	if s.sess != sess {
		return
	}
	s.sess = nil
	if apperrors.HasCode(err, apperrors.ErrCodeMediaAccess) {
		s.notice(NoticeMediaFailed, sess.peer)
	} else if !apperrors.HasCode(err, apperrors.ErrCodeCallCancelled) {
		s.notice(NoticeCallFailed, sess.peer)
	}
	s.state = domain.CallStateIdle
}

func (s *Service) ringTimeout(sess *session) {
	s.mu.Lock()
	if !s.current(sess) {
		s.mu.Unlock()
		return
	}
	state := s.state
	s.mu.Unlock()

	ctx := context.Background()
	switch state {
	case domain.CallStateOutgoingRinging:
		s.log.Info("Outgoing call unanswered", zap.String("peer_id", sess.peer.UserID.String()))
		s.finish(ctx, sess, outcome{status: domain.CallStatusMissed, notice: NoticeNoAnswer, sendEnded: true})
	case domain.CallStateIncomingRinging:
		s.finish(ctx, sess, outcome{status: domain.CallStatusMissed, notice: NoticeMissed})
	}
}
