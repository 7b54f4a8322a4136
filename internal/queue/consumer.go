package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"brokerdesk.sg/relay/common/logger"
	"brokerdesk.sg/relay/internal/model"
)

type ConsumerConfig struct {
	Stream       string        // Base stream name; one stream per priority is derived from it
	Group        string        // Redis consumer group name
	Consumer     string        // Redis consumer name
	DLQStream    string        // Dead letter queue stream for failed messages
	BatchSize    int64         // Number of messages to process per batch
	Block        time.Duration // How long to block/poll for new messages
	RequeueDelay time.Duration // Delay before retrying failed messages
}

type Message struct {
	ID             string
	Stream         string
	JobID          int64
	ConversationID int64
	Priority       model.Priority
	Attempt        int
	TraceID        string
	Raw            redis.XMessage
}

type RedisConsumer struct {
	client  *redis.Client
	cfg     ConsumerConfig
	streams []string
}

func NewRedisConsumer(client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}

	consumer := &RedisConsumer{
		client:  client,
		cfg:     cfg,
		streams: StreamNames(cfg.Stream),
	}

	if err := consumer.ensureGroups(context.Background()); err != nil { //nolint:contextcheck
		return nil, err
	}

	return consumer, nil
}

// Streams returns the per-priority streams read by this consumer, highest
// priority first.
func (c *RedisConsumer) Streams() []string {
	return c.streams
}

func (c *RedisConsumer) Group() string {
	return c.cfg.Group
}

func (c *RedisConsumer) ensureGroups(ctx context.Context) error {
	// Start from "0" so entries written before the group existed are not lost.
	for _, stream := range c.streams {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.cfg.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("creating consumer group on %s: %w", stream, err)
		}
	}
	return nil
}

// Read returns the next batch. Higher priority streams are drained first; only
// when every stream is empty does it block, on all of them at once.
func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "brokerdesk.queue.consumer",
	})

	for _, stream := range c.streams {
		messages, err := c.read(ctx, []string{stream}, -1)
		if err != nil {
			return nil, err
		}
		if len(messages) > 0 {
			return messages, nil
		}
	}

	messages, err := c.read(ctx, c.streams, c.cfg.Block)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Priority > messages[j].Priority
	})
	return messages, nil
}

func (c *RedisConsumer) read(ctx context.Context, streams []string, block time.Duration) ([]Message, error) {
	args := make([]string, 0, len(streams)*2)
	args = append(args, streams...)
	for range streams {
		// > = entries never delivered to this group. Unacked ones belong to the reclaimer.
		args = append(args, ">")
	}

	result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  args,
		Count:    c.cfg.BatchSize,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range result {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(stream.Stream, msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse message",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", stream.Stream)
				_ = c.Ack(ctx, Message{ID: msg.ID, Stream: stream.Stream, Raw: msg})
				continue
			}
			messages = append(messages, parsed)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read messages from stream",
			"count", len(messages),
			"consumer", c.cfg.Consumer)
	}
	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, msg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", msg.Stream, err)
	}

	slog.DebugContext(ctx, "message acknowledged", "stream", msg.Stream)
	return nil
}

func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	return c.RequeueWithAttempt(ctx, msg, msg.Attempt+1, errMsg)
}

// RequeueWithAttempt appends a copy of msg to the tail of its priority stream
// carrying the given attempt, then acks msg. Both happen in one MULTI so the
// task is never absent from the stream; if the delay is cut short, msg stays
// pending for the reclaimer.
func (c *RedisConsumer) RequeueWithAttempt(ctx context.Context, msg Message, attempt int, errMsg string) error {
	if attempt <= 0 {
		attempt = msg.Attempt
		if attempt <= 0 {
			attempt = 1
		}
	}

	values := messageValues(msg, attempt)
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if c.cfg.RequeueDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RequeueDelay):
		}
	}

	stream := msg.Stream
	if stream == "" {
		stream = StreamName(c.cfg.Stream, normalizePriority(msg.Priority))
	}
	if err := c.moveTo(ctx, msg, stream, values); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}

	slog.InfoContext(ctx, "message requeued for retry",
		"next_attempt", attempt,
		"reason", errMsg)
	return nil
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	values := messageValues(msg, msg.Attempt)
	values["error"] = errMsg
	values["source_stream"] = msg.Stream

	if err := c.moveTo(ctx, msg, c.cfg.DLQStream, values); err != nil {
		return fmt.Errorf("dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "message sent to DLQ",
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

// moveTo adds values to stream and acks msg atomically.
func (c *RedisConsumer) moveTo(ctx context.Context, msg Message, stream string, values map[string]any) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values})
		if msg.Stream != "" && msg.ID != "" {
			pipe.XAck(ctx, msg.Stream, c.cfg.Group, msg.ID)
		}
		return nil
	})
	return err
}

func ParseMessage(stream string, msg redis.XMessage) (Message, error) {
	jobID, err := parseInt64(msg.Values, "job_id")
	if err != nil {
		return Message{}, err
	}
	conversationID, err := parseInt64(msg.Values, "conversation_id")
	if err != nil {
		return Message{}, err
	}
	priority, err := parseOptionalInt(msg.Values, "priority")
	if err != nil {
		return Message{}, err
	}
	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}
	traceID, err := parseOptionalString(msg.Values, "trace_id")
	if err != nil {
		return Message{}, err
	}

	return Message{
		ID:             msg.ID,
		Stream:         stream,
		JobID:          jobID,
		ConversationID: conversationID,
		Priority:       normalizePriority(model.Priority(priority)),
		Attempt:        attempt,
		TraceID:        traceID,
		Raw:            msg,
	}, nil
}

func parseInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	num, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}

func messageValues(msg Message, attempt int) map[string]any {
	values := map[string]any{
		"job_id":          msg.JobID,
		"conversation_id": msg.ConversationID,
		"priority":        int(normalizePriority(msg.Priority)),
		"attempt":         attempt,
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	return values
}
