package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"brokerdesk.sg/relay/common/logger"
	"brokerdesk.sg/relay/common/metrics"
	"brokerdesk.sg/relay/internal/queue"
)

// Processor handles one queue message. A nil error means the message can be
// acked.
type Processor interface {
	Process(ctx context.Context, msg queue.Message) error
	MarkFailed(ctx context.Context, jobID int64, reason string)
}

type Config struct {
	MaxAttempts int
}

type Worker struct {
	consumer  Consumer
	processor Processor
	cfg       Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, processor Processor, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Worker{
		consumer:  consumer,
		processor: processor,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "brokerdesk.worker"})
	slog.InfoContext(ctx, "worker started", "max_attempts", w.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
				case <-w.stopCh:
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		w.ProcessMessage(ctx, msg)
	}
	return nil
}

// ProcessMessage runs one message and settles it on the queue: ack on
// success, requeue or dead-letter on failure. Exported so the reclaimer
// shares the same handling.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) {
	msgID := msg.ID
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID:      &msgID,
		JobID:          &msg.JobID,
		ConversationID: &msg.ConversationID,
	})

	slog.InfoContext(ctx, "processing message",
		"stream", msg.Stream,
		"priority", msg.Priority,
		"attempt", msg.Attempt)

	err := w.processMessageSafe(ctx, msg)
	switch {
	case err == nil:
		if ackErr := w.consumer.Ack(ctx, msg); ackErr != nil {
			// Log but don't fail - message will be reclaimed but that's safe
			slog.WarnContext(ctx, "failed to ACK message", "error", ackErr)
		}
	case errors.Is(err, ErrConversationBusy):
		slog.InfoContext(ctx, "conversation busy, requeuing")
		metrics.JobsTotal.WithLabelValues("requeued").Inc()
		if requeueErr := w.consumer.RequeueWithAttempt(ctx, msg, msg.Attempt, err.Error()); requeueErr != nil {
			slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
		}
	default:
		slog.ErrorContext(ctx, "message processing failed", "error", err)
		w.handleFailedMessage(ctx, msg, err)
	}
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.processor.Process(ctx, msg)
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ", "attempts", msg.Attempt)
		metrics.JobsTotal.WithLabelValues("dlq").Inc()
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		w.processor.MarkFailed(ctx, msg.JobID, err.Error())
		return
	}

	slog.WarnContext(ctx, "requeuing failed message", "attempt", msg.Attempt)
	metrics.JobsTotal.WithLabelValues("requeued").Inc()
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
