// Package history writes call outcomes to the call_history table without
// making the call wait on the database.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"duet-backend/internal/domain"
	"duet-backend/pkg/logger"
	"duet-backend/pkg/metrics"
)

// Repository is the storage behind the recorder
type Repository interface {
	Insert(ctx context.Context, e *domain.CallHistoryEntry) error
	UpdateOutcome(ctx context.Context, id uuid.UUID, status domain.CallStatus, durationSeconds int) error
}

const (
	opAppend   = "append"
	opComplete = "complete"
)

type job struct {
	op       string
	entry    domain.CallHistoryEntry
	id       uuid.UUID
	status   domain.CallStatus
	duration int
	flushed  chan struct{}
}

// Recorder queues history writes for a single background worker, so writes
// for one call land in the order they were made. A full queue drops the
// write. Failures are logged and counted but never reach the caller.
type Recorder struct {
	repo         Repository
	metrics      *metrics.Metrics
	log          *zap.Logger
	writeTimeout time.Duration

	jobs chan job
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

// Option configures a Recorder
type Option func(*Recorder)

// WithMetrics counts writes, failures and drops
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Recorder) { r.log = l }
}

// WithWriteTimeout bounds each database write
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.writeTimeout = d }
}

// NewRecorder starts the worker. queueSize <= 0 uses 256.
func NewRecorder(repo Repository, queueSize int, opts ...Option) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	r := &Recorder{
		repo:         repo,
		writeTimeout: 5 * time.Second,
		jobs:         make(chan job, queueSize),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.OrDefault(r.log).Named("history")
	go r.run()
	return r
}

// Append queues the insert of a new row
func (r *Recorder) Append(ctx context.Context, entry domain.CallHistoryEntry) {
	r.enqueue(job{op: opAppend, entry: entry, id: entry.ID})
}

// Complete queues the final status and duration of an existing row
func (r *Recorder) Complete(ctx context.Context, id uuid.UUID, status domain.CallStatus, durationSeconds int) {
	r.enqueue(job{op: opComplete, id: id, status: status, duration: durationSeconds})
}

func (r *Recorder) enqueue(j job) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.log.Warn("History write after close dropped",
			zap.String("op", j.op),
			zap.String("call_id", j.id.String()))
		r.metrics.RecordHistoryDropped()
		return
	}

	select {
	case r.jobs <- j:
		r.metrics.SetHistoryQueueDepth(len(r.jobs))
	default:
		r.log.Warn("History queue full, write dropped",
			zap.String("op", j.op),
			zap.String("call_id", j.id.String()))
		r.metrics.RecordHistoryDropped()
	}
}

// Flush waits until every write queued before the call has been attempted,
// or ctx is done.
func (r *Recorder) Flush(ctx context.Context) error {
	marker := job{flushed: make(chan struct{})}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil
	}
	select {
	case r.jobs <- marker:
		r.mu.RUnlock()
	case <-ctx.Done():
		r.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-marker.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes and waits for the queue to drain
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.jobs)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for j := range r.jobs {
		if j.flushed != nil {
			close(j.flushed)
			continue
		}
		r.write(j)
		r.metrics.SetHistoryQueueDepth(len(r.jobs))
	}
}

func (r *Recorder) write(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	var err error
	switch j.op {
	case opAppend:
		entry := j.entry
		err = r.repo.Insert(ctx, &entry)
	case opComplete:
		err = r.repo.UpdateOutcome(ctx, j.id, j.status, j.duration)
	}
	r.metrics.RecordHistoryWrite(j.op, err)

	if err != nil {
		r.log.Error("Failed to write call history",
			zap.String("op", j.op),
			zap.String("call_id", j.id.String()),
			zap.Error(err))
		return
	}
	r.log.Debug("Call history written",
		zap.String("op", j.op),
		zap.String("call_id", j.id.String()))
}
