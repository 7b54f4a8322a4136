package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"brokerdesk.sg/relay/common/id"
	"brokerdesk.sg/relay/common/logger"
	"brokerdesk.sg/relay/common/metrics"
	"brokerdesk.sg/relay/internal/chatwoot"
	"brokerdesk.sg/relay/internal/model"
	"brokerdesk.sg/relay/internal/queue"
	"brokerdesk.sg/relay/internal/responder"
	"brokerdesk.sg/relay/internal/store"
)

// ErrConversationBusy means another worker holds the conversation. That
// worker will also drain this job; the message is requeued only as a
// safety net.
var ErrConversationBusy = errors.New("conversation is being processed by another worker")

var errLeaseLost = fmt.Errorf("%w: lease taken over", ErrConversationBusy)

type ProcessorConfig struct {
	MaxAttempts  int
	JobTimeout   time.Duration
	SendTimeout  time.Duration
	ClaimTTL     time.Duration
	HistoryLimit int
	FallbackText string
}

// ReplyProcessor answers every open job of a conversation, oldest first,
// while holding the conversation's processing lease.
type ReplyProcessor struct {
	stores    StoreProvider
	responder ResponseGenerator
	chat      ChatClient
	personas  PersonaSource
	cfg       ProcessorConfig
	now       func() time.Time
}

func NewReplyProcessor(stores StoreProvider, gen ResponseGenerator, chat ChatClient, personas PersonaSource, cfg ProcessorConfig) *ReplyProcessor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 45 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 2 * time.Minute
	}
	return &ReplyProcessor{
		stores:    stores,
		responder: gen,
		chat:      chat,
		personas:  personas,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Process handles the conversation named by msg. A nil error means msg can
// be acked.
func (p *ReplyProcessor) Process(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: &msg.ConversationID,
		JobID:          &msg.JobID,
		Component:      "brokerdesk.worker.processor",
	})

	job, err := p.stores.Jobs().GetByID(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "job not found, skipping")
			metrics.JobsTotal.WithLabelValues("skipped").Inc()
			return nil
		}
		return fmt.Errorf("loading job: %w", err)
	}
	if job.Status.Terminal() {
		slog.InfoContext(ctx, "job already finished, skipping", "status", job.Status)
		metrics.JobsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	conv, err := p.stores.Conversations().GetByID(ctx, job.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.ErrorContext(ctx, "conversation not found, failing job")
			p.markFailed(ctx, job.ID, "conversation not found")
			return nil
		}
		return fmt.Errorf("loading conversation: %w", err)
	}

	lease := &convLease{convID: conv.ID, token: id.New()}
	now := p.now()
	claimed, err := p.stores.Conversations().Claim(ctx, conv.ID, lease.token, now, now.Add(-p.cfg.ClaimTTL))
	if err != nil {
		return fmt.Errorf("claiming conversation: %w", err)
	}
	if !claimed {
		return ErrConversationBusy
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		p.keepLease(ctx, lease, stop)
	}()
	defer func() {
		close(stop)
		<-renewed
		err := p.stores.Conversations().Unclaim(context.WithoutCancel(ctx), conv.ID, lease.token)
		switch {
		case errors.Is(err, store.ErrNotFound):
			slog.WarnContext(ctx, "conversation lease was taken over before release")
		case err != nil:
			slog.ErrorContext(ctx, "failed to release conversation lease", "error", err)
		}
	}()

	return p.drain(ctx, conv, lease)
}

// convLease is one claim on a conversation. lost is set once a renewal finds
// another token holding it; the holder then stops touching its jobs.
type convLease struct {
	convID int64
	token  int64
	lost   atomic.Bool
}

// keepLease renews the lease every third of the claim TTL until stop closes,
// so a long drain is never mistaken for a dead worker.
func (p *ReplyProcessor) keepLease(ctx context.Context, lease *convLease, stop <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.ClaimTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.checkLease(ctx, lease); err != nil {
				return
			}
		}
	}
}

// checkLease renews the lease and returns errLeaseLost when it is no longer
// held. A renewal that cannot reach the store counts as lost.
func (p *ReplyProcessor) checkLease(ctx context.Context, lease *convLease) error {
	if lease.lost.Load() {
		return errLeaseLost
	}
	held, err := p.stores.Conversations().Renew(context.WithoutCancel(ctx), lease.convID, lease.token, p.now())
	if err != nil {
		slog.WarnContext(ctx, "failed to renew conversation lease", "error", err)
	}
	if err != nil || !held {
		lease.lost.Store(true)
		return errLeaseLost
	}
	return nil
}

// drain processes open jobs in seq order. A job that fails without running
// out of attempts stops the drain so later messages are not answered first.
func (p *ReplyProcessor) drain(ctx context.Context, conv *model.Conversation, lease *convLease) error {
	persona := p.persona(conv)

	jobs, err := p.stores.Jobs().ListOpen(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("listing open jobs: %w", err)
	}

	slog.InfoContext(ctx, "draining conversation", "open_jobs", len(jobs))

	for i := range jobs {
		if err := p.checkLease(ctx, lease); err != nil {
			return err
		}
		job := &jobs[i]
		jobErr := p.processJob(ctx, conv, persona, job, lease)
		if jobErr == nil {
			continue
		}
		if errors.Is(jobErr, ErrConversationBusy) {
			return jobErr
		}
		if job.Attempts+1 >= p.cfg.MaxAttempts {
			slog.ErrorContext(ctx, "job out of attempts, marking failed",
				"error", jobErr,
				"failed_job_id", job.ID)
			p.markFailed(ctx, job.ID, jobErr.Error())
			metrics.JobsTotal.WithLabelValues("failed").Inc()
			continue
		}
		return jobErr
	}
	return nil
}

func (p *ReplyProcessor) processJob(ctx context.Context, conv *model.Conversation, persona model.BrokerPersona, job *model.QueuedMessageJob, lease *convLease) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{JobID: &job.ID})

	if job.Delivered() {
		return nil
	}

	now := p.now()
	started, err := p.stores.Jobs().MarkStarted(ctx, job.ID, now, now.Add(-p.cfg.ClaimTTL))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return p.notStartable(ctx, job.ID)
		}
		return fmt.Errorf("stamping worker start: %w", err)
	}
	if d, ok := started.Timing.QueueWait(); ok {
		metrics.ObserveStage("queue_wait", d)
	}

	text, usedFallback := "", false
	if started.ResponseText != nil {
		// Generated on an earlier attempt that failed to deliver.
		text, usedFallback = *started.ResponseText, started.UsedFallback
	} else {
		reply := p.generate(ctx, conv, persona, started)
		if err := p.checkLease(ctx, lease); err != nil {
			return err
		}
		generated, err := p.stores.Jobs().MarkGenerated(ctx, job.ID, p.now(), reply.Text, reply.UsedFallback)
		if err != nil {
			p.returnToPending(ctx, job.ID, err)
			return fmt.Errorf("stamping worker complete: %w", err)
		}
		text, usedFallback = *generated.ResponseText, generated.UsedFallback
		if d, ok := generated.Timing.GenerationDuration(); ok {
			metrics.ObserveStage("generate", d)
		}
	}

	if err := p.checkLease(ctx, lease); err != nil {
		return err
	}

	sent, sentText, sentFallback, err := p.deliver(ctx, conv.ID, text, usedFallback)
	if err != nil {
		p.returnToPending(ctx, job.ID, err)
		return fmt.Errorf("delivering reply for job %d: %w", job.ID, err)
	}

	done, err := p.stores.Jobs().MarkSent(ctx, job.ID, p.now(), sent.ID, sentText, sentFallback)
	if err != nil {
		// The reply went out; a redelivery would duplicate it, so only log.
		slog.ErrorContext(ctx, "failed to record delivery", "error", err, "outbound_message_id", sent.ID)
		return nil
	}

	p.observe(ctx, done)
	return nil
}

// notStartable explains a MarkStarted miss: a finished job is skipped, a job
// still running under another worker stops the drain.
func (p *ReplyProcessor) notStartable(ctx context.Context, jobID int64) error {
	current, err := p.stores.Jobs().GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("reloading job: %w", err)
	}
	if current.Status.Terminal() {
		return nil
	}
	slog.WarnContext(ctx, "job is running under another worker", "status", current.Status)
	return fmt.Errorf("job %d: %w", jobID, ErrConversationBusy)
}

func (p *ReplyProcessor) returnToPending(ctx context.Context, jobID int64, cause error) {
	if err := p.stores.Jobs().MarkPending(ctx, jobID, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "failed to return job to pending", "error", err)
	}
}

func (p *ReplyProcessor) generate(ctx context.Context, conv *model.Conversation, persona model.BrokerPersona, job *model.QueuedMessageJob) responder.Reply {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	return p.responder.GenerateResponse(ctx, responder.Request{
		Message:    job.UserMessage,
		Persona:    persona,
		BrokerName: conv.BrokerName,
		Lead:       conv.Lead,
		History:    p.history(ctx, conv.ID),
	})
}

func (p *ReplyProcessor) history(ctx context.Context, conversationID int64) []model.ConversationTurn {
	msgs, err := p.chat.ListMessages(ctx, conversationID)
	if err != nil {
		slog.WarnContext(ctx, "could not load conversation history", "error", err)
		return nil
	}
	return chatwoot.History(msgs, p.cfg.HistoryLimit)
}

// deliver sends text, and the fallback once if that fails. The send context
// is detached from the job deadline so a late reply can still go out.
func (p *ReplyProcessor) deliver(ctx context.Context, conversationID int64, text string, usedFallback bool) (*chatwoot.Message, string, bool, error) {
	send := func(content string) (*chatwoot.Message, error) {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.SendTimeout)
		defer cancel()
		return p.chat.SendMessage(sendCtx, conversationID, content)
	}

	msg, err := send(text)
	if err == nil {
		return msg, text, usedFallback, nil
	}
	if usedFallback || p.cfg.FallbackText == "" {
		return nil, "", false, err
	}

	slog.WarnContext(ctx, "reply delivery failed, sending fallback", "error", err)
	msg, fbErr := send(p.cfg.FallbackText)
	if fbErr != nil {
		return nil, "", false, errors.Join(err, fbErr)
	}
	return msg, p.cfg.FallbackText, true, nil
}

func (p *ReplyProcessor) persona(conv *model.Conversation) model.BrokerPersona {
	if persona, ok := p.personas.Get(conv.PersonaID); ok {
		return persona
	}
	return p.personas.SelectPersona(conv.LeadScore, conv.Lead)
}

func (p *ReplyProcessor) observe(ctx context.Context, job *model.QueuedMessageJob) {
	outcome := "sent"
	if job.UsedFallback {
		outcome = "fallback"
	}
	metrics.JobsTotal.WithLabelValues(outcome).Inc()

	if d, ok := job.Timing.TotalDuration(); ok {
		metrics.JobTotalDuration.WithLabelValues(strconv.Itoa(int(job.Priority))).Observe(d.Seconds())
	}
	if job.Timing.WorkerCompleteTimestamp != nil && job.Timing.ChatwootSendTimestamp != nil {
		metrics.ObserveStage("send", job.Timing.ChatwootSendTimestamp.Sub(*job.Timing.WorkerCompleteTimestamp))
	}

	attrs := []any{"outcome", outcome, "attempts", job.Attempts, "timing", job.Timing}
	if job.TotalDurationMs != nil {
		attrs = append(attrs, "total_duration_ms", *job.TotalDurationMs)
	}
	slog.InfoContext(ctx, "reply delivered", attrs...)
}

// MarkFailed records that a job was given up on.
func (p *ReplyProcessor) MarkFailed(ctx context.Context, jobID int64, reason string) {
	p.markFailed(ctx, jobID, reason)
}

func (p *ReplyProcessor) markFailed(ctx context.Context, jobID int64, reason string) {
	if err := p.stores.Jobs().MarkFailed(ctx, jobID, reason); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.ErrorContext(ctx, "failed to mark job failed", "error", err, "job_id", jobID)
	}
}
