package room

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"duet-backend/internal/domain"
)

func candidate(n int) domain.ICECandidate {
	return domain.ICECandidate{Candidate: fmt.Sprintf("candidate:%d 1 udp 1 192.0.2.1 %d typ host", n, 5000+n)}
}

func TestBufferCandidateBoundsPerMember(t *testing.T) {
	sess := &roomSession{early: make(map[uuid.UUID][]domain.ICECandidate)}
	from := uuid.New()

	for i := 0; i < maxEarlyCandidates; i++ {
		assert.True(t, sess.bufferCandidate(from, candidate(i), 7))
	}
	assert.False(t, sess.bufferCandidate(from, candidate(maxEarlyCandidates), 7))
	assert.Len(t, sess.early[from], maxEarlyCandidates)
}

func TestBufferCandidateBoundsMembers(t *testing.T) {
	sess := &roomSession{early: make(map[uuid.UUID][]domain.ICECandidate)}
	first, second, third := uuid.New(), uuid.New(), uuid.New()

	assert.True(t, sess.bufferCandidate(first, candidate(1), 2))
	assert.True(t, sess.bufferCandidate(second, candidate(2), 2))
	assert.False(t, sess.bufferCandidate(third, candidate(3), 2))
	// Members already buffered for keep their slot
	assert.True(t, sess.bufferCandidate(first, candidate(4), 2))

	assert.Len(t, sess.early, 2)
	assert.NotContains(t, sess.early, third)
	assert.Len(t, sess.early[first], 2)
}
