package room

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"duet-backend/internal/domain"
	"duet-backend/internal/rtc"
	"duet-backend/internal/signaling"
)

// roomSession owns everything belonging to one stay in a room
type roomSession struct {
	room    domain.Room
	isVideo bool

	local   *rtc.Stream
	camera  rtc.Track
	screen  *rtc.Stream
	sharing bool

	peers map[uuid.UUID]*participant
	order []uuid.UUID
	// early holds candidates from members whose offer has not arrived yet
	early map[uuid.UUID][]domain.ICECandidate
	chat  []domain.ChatMessage

	sub    *signaling.Subscription[domain.RoomEvent]
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	log    *zap.Logger
	left   bool
}

// participant is one remote member and the connection to it. gen changes
// every time the connection is replaced so that callbacks of an old
// connection can be told apart.
type participant struct {
	identity  domain.Identity
	isVideo   bool
	conn      *rtc.Connection
	stream    *rtc.Stream
	sharing   bool
	connected bool
	// offered is set when our offer on conn awaits an answer
	offered bool
	gen     int
}

func (r *roomSession) connections() []*rtc.Connection {
	var out []*rtc.Connection
	for _, id := range r.order {
		if c := r.peers[id].conn; c != nil {
			out = append(out, c)
		}
	}
	return out
}

// outgoingVideo is the track every connection should be sending
func (r *roomSession) outgoingVideo() rtc.Track {
	if r.sharing && r.screen != nil {
		return r.screen.VideoTrack()
	}
	return r.camera
}

// maxEarlyCandidates bounds the candidates kept per member before its
// connection exists
const maxEarlyCandidates = 64

// bufferCandidate keeps c until the connection to from exists. At most
// maxSenders members are buffered for at a time. It reports whether c was kept.
func (r *roomSession) bufferCandidate(from uuid.UUID, c domain.ICECandidate, maxSenders int) bool {
	pending, ok := r.early[from]
	if !ok && len(r.early) >= maxSenders {
		return false
	}
	if len(pending) >= maxEarlyCandidates {
		return false
	}
	r.early[from] = append(pending, c)
	return true
}
