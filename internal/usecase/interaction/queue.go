package interaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridcoord/internal/metrics"
)

// Recorder is the part of Service the queue drives.
type Recorder interface {
	Record(ctx context.Context, in RecordInput) (Result, error)
}

// Queue persists interactions off the request path. Delivery is at-most-once:
// a full queue drops the record, and records still queued when the process dies are lost.
type Queue struct {
	rec        Recorder
	jobs       chan RecordInput
	workers    int
	jobTimeout time.Duration
	logger     *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewQueue creates a queue with a bounded buffer of size served by workers goroutines.
func NewQueue(rec Recorder, size, workers int, logger *zap.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		rec:        rec,
		jobs:       make(chan RecordInput, size),
		workers:    workers,
		jobTimeout: 30 * time.Second,
		logger:     logger,
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	for range q.workers {
		q.wg.Add(1)
		go q.work()
	}
	q.logger.Info("Persistence queue started", zap.Int("workers", q.workers), zap.Int("capacity", cap(q.jobs)))
}

// Enqueue hands a record to the workers without blocking. It reports false when the record was dropped.
func (q *Queue) Enqueue(in RecordInput) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop(in, "queue stopped")
		return false
	}
	select {
	case q.jobs <- in:
		return true
	default:
		q.drop(in, "queue full")
		return false
	}
}

// Stop stops accepting records and waits for queued ones to be written or ctx to expire.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("Persistence queue drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain persistence queue (%d pending): %w", len(q.jobs), ctx.Err())
	}
}

// Len returns the number of queued records.
func (q *Queue) Len() int { return len(q.jobs) }

func (q *Queue) work() {
	defer q.wg.Done()
	for in := range q.jobs {
		q.handle(in)
	}
}

func (q *Queue) handle(in RecordInput) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Persistence worker panicked", zap.String("interaction_id", in.ID), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), q.jobTimeout)
	defer cancel()

	res, err := q.rec.Record(ctx, in)
	if err != nil {
		q.logger.Warn("Failed to persist interaction", zap.String("interaction_id", in.ID), zap.Error(err))
		return
	}
	q.logger.Debug("Interaction persisted",
		zap.String("interaction_id", in.ID),
		zap.Float64("value_score", res.Interaction.ValueScore()),
		zap.Bool("promoted", res.Promoted),
	)
}

func (q *Queue) drop(in RecordInput, reason string) {
	metrics.PersistenceDroppedTotal.Inc()
	q.logger.Warn("Interaction record dropped", zap.String("interaction_id", in.ID), zap.String("reason", reason))
}
