package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Manager enqueues background tasks. Handlers depend on this rather than
// on the asynq client so tests can record tasks instead.
type Manager interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client is the asynq backed Manager.
type Client struct {
	inner *asynq.Client
	log   *slog.Logger
}

var _ Manager = (*Client)(nil)

// NewManager connects a Client to the queue's Redis.
func NewManager(redisOpt asynq.RedisConnOpt, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{inner: asynq.NewClient(redisOpt), log: log}
}

// Enqueue submits task. Tasks carry fixed IDs where a duplicate would
// notify someone twice, so an ID conflict means the work is already queued
// and is not an error; the returned info is nil in that case.
func (c *Client) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := c.inner.EnqueueContext(ctx, task, opts...)
	switch {
	case errors.Is(err, asynq.ErrTaskIDConflict), errors.Is(err, asynq.ErrDuplicateTask):
		c.log.DebugContext(ctx, "task already queued", slog.String("task_type", task.Type()))
		return nil, nil
	case err != nil:
		return nil, err
	}

	c.log.DebugContext(ctx, "task enqueued",
		slog.String("task_type", info.Type),
		slog.String("task_id", info.ID),
		slog.String("queue", info.Queue),
	)
	return info, nil
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.inner.Close()
}
