// Package scheduler runs the periodic repository resync.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Syncer is implemented by *service.RepositoryService.
type Syncer interface {
	SyncAll(ctx context.Context) (int, error)
}

// Scheduler fires Syncer.SyncAll on a cron expression. A run that is still
// going when the next one is due makes the next one skip.
type Scheduler struct {
	cron    *cron.Cron
	syncer  Syncer
	timeout time.Duration
	logger  *slog.Logger
}

// New parses expr, which may be a five-field cron line or a descriptor such as
// "@every 6h" or "@daily". Each run is bounded by timeout.
func New(expr string, syncer Syncer, timeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger))),
		syncer:  syncer,
		timeout: timeout,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(expr, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", expr, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("repository resync scheduled", slog.Time("next", s.Next()))
}

// Stop prevents further runs and waits for a running one, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next is when the resync fires next; zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunOnce performs one resync and logs the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.syncer.SyncAll(ctx)
	if err != nil {
		s.logger.Warn("scheduled resync finished with errors",
			slog.Int("repositories", n),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("scheduled resync finished",
		slog.Int("repositories", n),
		slog.Duration("duration", time.Since(start)),
	)
}
