package room

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"duet-backend/internal/domain"
	"duet-backend/internal/rtc"
	apperrors "duet-backend/pkg/errors"
	"duet-backend/pkg/sanitize"
)

// MaxChatLength bounds one in-room chat message, in bytes
const MaxChatLength = 2000

// ToggleMute flips the microphone for every member and reports whether it
// is now muted.
func (s *Service) ToggleMute() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || s.sess.local.AudioTrack() == nil {
		return false, apperrors.InvalidStateError("not in a room")
	}
	t := s.sess.local.AudioTrack()
	t.SetEnabled(!t.Enabled())
	return !t.Enabled(), nil
}

// ToggleVideo flips the camera and reports whether it is now enabled
func (s *Service) ToggleVideo() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || s.sess.camera == nil {
		return false, apperrors.InvalidStateError("not in a video room")
	}
	s.sess.camera.SetEnabled(!s.sess.camera.Enabled())
	return s.sess.camera.Enabled(), nil
}

// ToggleScreenShare sends a screen capture instead of the camera to every
// member, or goes back to the camera. A capture that cannot be opened leaves
// the room as it was.
func (s *Service) ToggleScreenShare(ctx context.Context) error {
	s.mu.Lock()
	sess := s.sess
	if sess == nil {
		s.mu.Unlock()
		return apperrors.InvalidStateError("not in a room")
	}
	if sess.sharing {
		s.mu.Unlock()
		s.stopSharing(sess)
		return nil
	}
	if sess.camera == nil {
		s.mu.Unlock()
		return apperrors.InvalidStateError("screen sharing needs a video room")
	}
	s.mu.Unlock()

	screen, err := s.media.AcquireScreen(ctx)
	if err != nil {
		s.mu.Lock()
		if s.live(sess) {
			s.emit(Event{Type: EventNotice, RoomID: sess.room.ID, Notice: NoticeScreenFailed})
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if !s.live(sess) || sess.sharing {
		s.mu.Unlock()
		screen.Stop()
		return apperrors.CancelledError()
	}
	sess.screen = screen
	sess.sharing = true
	conns := sess.connections()
	s.emit(Event{Type: EventScreenShare, RoomID: sess.room.ID, Participant: s.self, Sharing: true})
	s.mu.Unlock()

	track := screen.VideoTrack()
	s.replaceVideo(sess, conns, track)
	track.OnEnded(func() { s.stopSharing(sess) })

	if err := s.broadcast(sess, domain.RoomEvent{Type: domain.RoomEventScreenShare, Sharing: true}); err != nil {
		sess.log.Warn("Failed to announce screen sharing", zap.Error(err))
	}
	sess.log.Info("Screen sharing started", zap.Int("connections", len(conns)))
	return nil
}

// stopSharing restores the camera on every connection
func (s *Service) stopSharing(sess *roomSession) {
	s.mu.Lock()
	if !sess.sharing {
		s.mu.Unlock()
		return
	}
	sess.sharing = false
	screen := sess.screen
	sess.screen = nil
	live := s.live(sess)
	var conns []*rtc.Connection
	if live {
		conns = sess.connections()
		s.emit(Event{Type: EventScreenShare, RoomID: sess.room.ID, Participant: s.self})
	}
	s.mu.Unlock()

	s.replaceVideo(sess, conns, sess.camera)
	if screen != nil {
		screen.Stop()
	}
	if live {
		if err := s.broadcast(sess, domain.RoomEvent{Type: domain.RoomEventScreenShare}); err != nil {
			sess.log.Warn("Failed to announce end of screen sharing", zap.Error(err))
		}
	}
	sess.log.Info("Screen sharing stopped")
}

// replaceVideo swaps the outgoing video on each connection. One connection
// failing does not stop the others.
func (s *Service) replaceVideo(sess *roomSession, conns []*rtc.Connection, t rtc.Track) {
	for _, c := range conns {
		if err := s.media.ReplaceOutgoingVideoTrack(c, t); err != nil {
			sess.log.Warn("Failed to replace outgoing video", zap.Error(err))
		}
	}
}

// SendChat broadcasts a text message to the room. Messages are not stored
// anywhere and may be lost.
func (s *Service) SendChat(ctx context.Context, text string) (domain.ChatMessage, error) {
	text = sanitize.Text(text)
	if text == "" {
		return domain.ChatMessage{}, apperrors.ValidationError("message is empty")
	}
	if len(text) > MaxChatLength {
		return domain.ChatMessage{}, apperrors.ValidationError("message is too long")
	}

	s.mu.Lock()
	sess := s.sess
	if sess == nil {
		s.mu.Unlock()
		return domain.ChatMessage{}, apperrors.InvalidStateError("not in a room")
	}
	msg := domain.ChatMessage{
		ID:       uuid.NewString(),
		From:     s.self.UserID,
		FromName: s.self.Name,
		Text:     text,
		SentAt:   s.now().UTC(),
	}
	sess.chat = append(sess.chat, msg)
	s.emit(Event{Type: EventChat, RoomID: sess.room.ID, Participant: s.self, Chat: &msg})
	s.mu.Unlock()

	if err := s.publish(ctx, sess, domain.RoomEvent{Type: domain.RoomEventChat, Chat: &msg}); err != nil {
		return msg, err
	}
	return msg, nil
}
