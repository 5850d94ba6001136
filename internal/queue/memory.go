package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Memory is an in-process queue: a bounded channel drained by a fixed pool of
// workers. Tasks still buffered when Stop is called are dropped.
//
// WORKER LIFECYCLE:
// NewMemory only allocates; no goroutine runs until Start, which spawns the
// pool exactly once (sync.Once). Each worker loops on a select over two
// channels: tasks delivers work, done closes on Stop. Stop then happens in
// two phases. First it flips stopped under mu so Enqueue starts returning
// ErrStopped, and closes done so idle workers exit. Then it waits on the
// WaitGroup for running tasks. If ctx expires before they finish, cancel
// fires on baseCtx, the context every handler runs under, and Stop waits
// once more for the handlers to notice. Whatever is still buffered is
// counted off the depth gauge and dropped.
type Memory struct {
	tasks   chan Task
	workers int
	handle  Handler
	logger  *slog.Logger
	depth   Depth

	mu      sync.Mutex
	stopped bool

	baseCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
	start   sync.Once
}

func NewMemory(size, workers int, handle Handler, depth Depth, logger *slog.Logger) *Memory {
	if size <= 0 {
		size = 100
	}
	if workers <= 0 {
		workers = 1
	}
	if depth == nil {
		depth = noDepth{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Memory{
		tasks:   make(chan Task, size),
		workers: workers,
		handle:  handle,
		logger:  logger,
		depth:   depth,
		baseCtx: ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Enqueue never blocks: a full buffer is reported as ErrFull.
func (q *Memory) Enqueue(_ context.Context, t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrStopped
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
	select {
	case q.tasks <- t:
		q.depth.QueueDepth(1)
		return nil
	default:
		return ErrFull
	}
}

func (q *Memory) Start() {
	q.start.Do(func() {
		q.logger.Info("starting analysis workers", slog.String("queue", "memory"), slog.Int("workers", q.workers))
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.worker(i)
		}
	})
}

// Stop stops accepting tasks and waits for in-flight tasks to finish. When
// ctx expires first, in-flight tasks are cancelled.
func (q *Memory) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	q.mu.Unlock()

	q.logger.Info("shutting down analysis workers")
	close(q.done)

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		q.cancel()
		<-finished
		err = ctx.Err()
	}
	q.cancel()

	if n := len(q.tasks); n > 0 {
		q.logger.Warn("dropping queued analysis tasks", slog.Int("count", n))
		q.depth.QueueDepth(-float64(n))
	}
	return err
}

func (q *Memory) worker(id int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case t := <-q.tasks:
			q.depth.QueueDepth(-1)
			run(q.baseCtx, q.handle, t, q.logger.With(slog.Int("worker", id)))
		}
	}
}

// run executes one task, logging its outcome and recovering from panics so a
// bad task cannot take a worker down.
func run(ctx context.Context, handle Handler, t Task, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("analysis task panicked", slog.String("repository_id", t.RepositoryID), slog.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := handle(ctx, t); err != nil {
		logger.Warn("analysis task failed",
			slog.String("repository_id", t.RepositoryID),
			slog.String("reason", t.Reason),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("analysis task completed",
		slog.String("repository_id", t.RepositoryID),
		slog.String("reason", t.Reason),
		slog.Duration("took", time.Since(start)),
	)
}
