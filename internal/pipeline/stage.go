package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Stage is one pipeline stage: a bounded queue drained by a worker pool.
// Submit applies the caller-runs overflow policy: when the queue is full,
// the submitting goroutine executes the handler itself, throttling
// upstream producers proportionally to downstream saturation instead of
// growing memory or dropping work.
type Stage[T any] struct {
	name    string
	queue   *BoundedQueue[T]
	workers int
	handler func(T)
	logger  *slog.Logger

	wg sync.WaitGroup

	processed  atomic.Int64
	callerRuns atomic.Int64
	active     atomic.Int64
}

// StageStats is the read-only view of one stage.
type StageStats struct {
	Name          string
	QueueDepth    int
	QueueCapacity int
	Workers       int
	ActiveWorkers int
	Processed     int64
	CallerRuns    int64
}

// NewStage creates a stage. handler must be safe for concurrent calls:
// it runs on pool workers and, under overflow, on submitting goroutines.
func NewStage[T any](name string, queueSize, workers int, handler func(T), logger *slog.Logger) *Stage[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	return &Stage[T]{
		name:    name,
		queue:   NewBoundedQueue[T](queueSize),
		workers: workers,
		handler: handler,
		logger:  logger.With("stage", name),
	}
}

// Start launches the worker pool.
func (s *Stage[T]) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.work()
	}

	// Close the queue on cancellation so workers drain and exit.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		s.queue.Close()
	}()

	s.logger.Debug("stage started",
		"workers", s.workers,
		"queue_capacity", s.queue.Cap(),
	)
}

// Stop closes the queue and waits for workers to drain, bounded by ctx.
func (s *Stage[T]) Stop(ctx context.Context) error {
	s.queue.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("stage stop timed out")
		return ctx.Err()
	}
}

// Submit hands an item to the stage. On overflow the caller runs the
// handler synchronously. Returns false only when the stage is stopped.
func (s *Stage[T]) Submit(item T) bool {
	if s.queue.TrySend(item) {
		return true
	}
	if s.queue.Closed() {
		return false
	}

	// Caller-runs: the producer pays for the backlog.
	s.callerRuns.Add(1)
	s.run(item)
	return true
}

// SubmitWait hands an item to the stage, blocking while the queue is
// full. Used where caller-runs would reorder work. Returns false when
// the stage is stopped.
func (s *Stage[T]) SubmitWait(item T) bool {
	return s.queue.Send(item)
}

// Stats returns a snapshot of the stage.
func (s *Stage[T]) Stats() StageStats {
	qs := s.queue.Stats()
	return StageStats{
		Name:          s.name,
		QueueDepth:    qs.Depth,
		QueueCapacity: qs.Capacity,
		Workers:       s.workers,
		ActiveWorkers: int(s.active.Load()),
		Processed:     s.processed.Load(),
		CallerRuns:    s.callerRuns.Load(),
	}
}

func (s *Stage[T]) work() {
	defer s.wg.Done()
	for {
		item, ok := s.queue.Receive()
		if !ok {
			return
		}
		s.run(item)
	}
}

func (s *Stage[T]) run(item T) {
	s.active.Add(1)
	s.handler(item)
	s.active.Add(-1)
	s.processed.Add(1)
}
