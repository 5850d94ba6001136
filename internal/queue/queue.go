// Package queue hands analysis tasks from the webhook receiver to background
// workers.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrFull    = errors.New("queue: full")
	ErrStopped = errors.New("queue: stopped")
)

// Task asks for one analysis run on behalf of the repository's owner.
type Task struct {
	RepositoryID string    `json:"repository_id"`
	UserID       string    `json:"user_id"`
	Reason       string    `json:"reason"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// Handler runs one task. Returned errors are logged; tasks are not retried.
type Handler func(ctx context.Context, t Task) error

type Queue interface {
	Enqueue(ctx context.Context, t Task) error
}

// Runner is a Queue whose workers are started and stopped with the server.
type Runner interface {
	Queue
	Start()
	Stop(ctx context.Context) error
}

// Depth is the subset of metrics.Metrics the queues report to.
type Depth interface {
	QueueDepth(delta float64)
}

type noDepth struct{}

func (noDepth) QueueDepth(float64) {}
