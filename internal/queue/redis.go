package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const DefaultRedisKey = "repo-analyser:analysis-tasks"

// Redis keeps tasks in a Redis list (LPUSH / BRPOP), so tasks survive a
// restart and workers can run in a different process from the receiver.
type Redis struct {
	client  *redis.Client
	key     string
	workers int
	handle  Handler
	logger  *slog.Logger
	depth   Depth

	// poll bounds each BRPOP so workers notice Stop.
	poll time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	start   sync.Once
	stop    sync.Once
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("queue: parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func NewRedis(client *redis.Client, key string, workers int, handle Handler, depth Depth, logger *slog.Logger) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	if workers <= 0 {
		workers = 1
	}
	if depth == nil {
		depth = noDepth{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Redis{
		client:  client,
		key:     key,
		workers: workers,
		handle:  handle,
		logger:  logger,
		depth:   depth,
		poll:    2 * time.Second,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

func (q *Redis) Enqueue(ctx context.Context, t Task) error {
	if q.baseCtx.Err() != nil {
		return ErrStopped
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("queue: encoding task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("queue: pushing task: %w", err)
	}
	q.depth.QueueDepth(1)
	return nil
}

// Start launches the workers. A receiver-only process never calls it.
func (q *Redis) Start() {
	q.start.Do(func() {
		q.logger.Info("starting analysis workers", slog.String("queue", "redis"), slog.String("key", q.key), slog.Int("workers", q.workers))
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.worker(i)
		}
	})
}

// Stop cancels pending BRPOPs and in-flight tasks and waits for workers.
// Tasks still in the list stay there for the next process.
func (q *Redis) Stop(ctx context.Context) error {
	q.stop.Do(q.cancel)

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Redis) worker(id int) {
	defer q.wg.Done()
	logger := q.logger.With(slog.Int("worker", id))
	for q.baseCtx.Err() == nil {
		t, err := q.pop()
		if err != nil {
			if errors.Is(err, redis.Nil) || q.baseCtx.Err() != nil {
				continue
			}
			logger.Error("reading analysis queue", slog.String("error", err.Error()))
			select {
			case <-time.After(time.Second):
			case <-q.baseCtx.Done():
			}
			continue
		}
		q.depth.QueueDepth(-1)
		run(q.baseCtx, q.handle, t, logger)
	}
}

func (q *Redis) pop() (Task, error) {
	// BRPOP returns [key, value].
	res, err := q.client.BRPop(q.baseCtx, q.poll, q.key).Result()
	if err != nil {
		return Task{}, err
	}
	if len(res) != 2 {
		return Task{}, fmt.Errorf("queue: unexpected BRPOP reply of %d elements", len(res))
	}
	var t Task
	if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
		return Task{}, fmt.Errorf("queue: decoding task: %w", err)
	}
	return t, nil
}
