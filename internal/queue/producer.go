package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type Producer interface {
	Enqueue(ctx context.Context, task ReplyTask) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

// NewRedisProducer writes tasks to the priority streams derived from stream.
func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, task ReplyTask) error {
	attempt := task.Attempt
	if attempt <= 0 {
		attempt = 1
	}
	priority := normalizePriority(task.Priority)

	fields := map[string]any{
		"job_id":          task.JobID,
		"conversation_id": task.ConversationID,
		"priority":        int(priority),
		"attempt":         attempt,
	}
	if task.TraceID != nil && *task.TraceID != "" {
		fields["trace_id"] = *task.TraceID
	}

	stream := StreamName(p.stream, priority)
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue reply task: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued reply task",
		"job_id", task.JobID,
		"conversation_id", task.ConversationID,
		"priority", int(priority),
		"stream", stream,
		"attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
