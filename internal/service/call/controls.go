package call

import (
	"context"

	"go.uber.org/zap"

	"duet-backend/internal/domain"
	"duet-backend/internal/rtc"
	apperrors "duet-backend/pkg/errors"
)

// ToggleMute flips the microphone and reports whether it is now muted.
// Nothing is signaled; the peer simply receives silence.
func (s *Service) ToggleMute() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || s.sess.local == nil {
		return false, apperrors.InvalidStateError("no call in progress")
	}
	t := s.sess.local.AudioTrack()
	if t == nil {
		return false, apperrors.InvalidStateError("call has no microphone")
	}
	t.SetEnabled(!t.Enabled())
	return !t.Enabled(), nil
}

// ToggleVideo flips the camera and reports whether it is now enabled
func (s *Service) ToggleVideo() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || s.sess.camera == nil {
		return false, apperrors.InvalidStateError("no video call in progress")
	}
	s.sess.camera.SetEnabled(!s.sess.camera.Enabled())
	return s.sess.camera.Enabled(), nil
}

// Muted reports whether the microphone is disabled
func (s *Service) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || s.sess.local == nil || s.sess.local.AudioTrack() == nil {
		return false
	}
	return !s.sess.local.AudioTrack().Enabled()
}

// ScreenSharing reports whether the screen replaces the camera
func (s *Service) ScreenSharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess != nil && s.sess.sharing
}

// ToggleScreenShare swaps the outgoing camera track for a screen capture, or
// back. The swap happens in place on the existing connection. A capture that
// cannot be opened leaves the call untouched.
func (s *Service) ToggleScreenShare(ctx context.Context) error {
	s.mu.Lock()
	sess := s.sess
	if sess == nil || s.state != domain.CallStateActive || sess.conn == nil {
		s.mu.Unlock()
		return apperrors.InvalidStateError("screen sharing needs an active call")
	}
	if sess.sharing {
		s.mu.Unlock()
		s.stopSharing(sess)
		return nil
	}
	if sess.camera == nil {
		s.mu.Unlock()
		return apperrors.InvalidStateError("screen sharing needs a video call")
	}
	conn, peer := sess.conn, sess.peer
	s.mu.Unlock()

	screen, err := s.media.AcquireScreen(ctx)
	if err != nil {
		s.mu.Lock()
		if s.current(sess) {
			s.notice(NoticeScreenFailed, peer)
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if !s.current(sess) || sess.sharing {
		s.mu.Unlock()
		screen.Stop()
		return apperrors.CancelledError()
	}
	sess.screen = screen
	sess.sharing = true
	s.mu.Unlock()

	track := screen.VideoTrack()
	if err := s.media.ReplaceOutgoingVideoTrack(conn, track); err != nil {
		s.mu.Lock()
		if sess.screen == screen {
			sess.screen = nil
			sess.sharing = false
		}
		if s.current(sess) {
			s.notice(NoticeScreenFailed, peer)
		}
		s.mu.Unlock()
		screen.Stop()
		return apperrors.ScreenShareError(err)
	}
	track.OnEnded(func() { s.stopSharing(sess) })

	s.log.Info("Screen sharing started", zap.String("peer_id", peer.UserID.String()))
	return nil
}

// stopSharing restores the camera and releases the screen capture. It runs
// for the local toggle and for the capture ending on its own.
func (s *Service) stopSharing(sess *session) {
	s.mu.Lock()
	if !sess.sharing {
		s.mu.Unlock()
		return
	}
	sess.sharing = false
	screen, camera, conn := sess.screen, sess.camera, sess.conn
	sess.screen = nil
	live := s.current(sess)
	s.mu.Unlock()

	if live && camera != nil {
		if err := s.media.ReplaceOutgoingVideoTrack(conn, camera); err != nil {
			s.log.Warn("Failed to restore camera track", zap.Error(err))
		}
	}
	stopStream(screen)
	s.log.Info("Screen sharing stopped", zap.String("peer_id", sess.peer.UserID.String()))
}

func stopStream(st *rtc.Stream) {
	if st != nil {
		st.Stop()
	}
}
