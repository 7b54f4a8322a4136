package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"brokerdesk.sg/relay/common/id"
	"brokerdesk.sg/relay/common/logger"
	"brokerdesk.sg/relay/internal/chatwoot"
	"brokerdesk.sg/relay/internal/model"
	"brokerdesk.sg/relay/internal/queue"
	"brokerdesk.sg/relay/internal/store"
)

type IncomingMessage struct {
	ConversationID int64
	ContactID      int64
	Content        string
	MessageType    string
	Source         string
	// DedupeKey identifies the chat message across webhook retries.
	DedupeKey string
	// CustomAttributes rebuild the conversation when no local record exists.
	CustomAttributes map[string]any
	TraceID          *string
}

type IngestResult struct {
	Job        *model.QueuedMessageJob
	Enqueued   bool
	Duplicated bool
}

type MessageIngestService interface {
	// QueueIncomingMessage records the message as a job and enqueues it. It
	// returns as soon as the job is queued; the reply is produced by a worker.
	QueueIncomingMessage(ctx context.Context, msg IncomingMessage) (*IngestResult, error)
}

type messageIngestService struct {
	txRunner TxRunner
	queue    queue.Producer
	personas PersonaSelector
	logger   *slog.Logger
}

func NewMessageIngestService(txRunner TxRunner, queue queue.Producer, personas PersonaSelector, logger *slog.Logger) MessageIngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &messageIngestService{
		txRunner: txRunner,
		queue:    queue,
		personas: personas,
		logger:   logger,
	}
}

func (s *messageIngestService) QueueIncomingMessage(ctx context.Context, msg IncomingMessage) (*IngestResult, error) {
	if msg.ConversationID == 0 || strings.TrimSpace(msg.Content) == "" {
		return nil, fmt.Errorf("%w: conversation_id and content are required", ErrInvalidMessage)
	}
	if msg.MessageType == "" {
		msg.MessageType = model.MessageTypeIncoming
	}
	if msg.Source == "" {
		msg.Source = model.JobSourceAPI
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: &msg.ConversationID,
		ContactID:      &msg.ContactID,
	})

	var (
		job     *model.QueuedMessageJob
		created bool
	)
	if err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		conv, err := sp.Conversations().GetByID(ctx, msg.ConversationID)
		if errors.Is(err, store.ErrNotFound) {
			conv, err = sp.Conversations().Upsert(ctx, s.conversationFromAttributes(msg))
			if err != nil {
				return fmt.Errorf("creating conversation: %w", err)
			}
			s.logger.InfoContext(ctx, "conversation rebuilt from chat attributes",
				"persona", conv.PersonaID,
				"lead_score", conv.LeadScore)
		} else if err != nil {
			return fmt.Errorf("loading conversation: %w", err)
		}

		var dedupe *string
		if msg.DedupeKey != "" {
			dedupe = &msg.DedupeKey
		}
		job, created, err = sp.Jobs().Create(ctx, &model.QueuedMessageJob{
			ID:             id.New(),
			ConversationID: conv.ID,
			ContactID:      msg.ContactID,
			BrokerID:       conv.BrokerID,
			UserMessage:    msg.Content,
			MessageType:    msg.MessageType,
			Priority:       model.PriorityForSegment(conv.Segment),
			Source:         msg.Source,
			DedupeKey:      dedupe,
			Status:         model.JobStatusPending,
		})
		if err != nil {
			return fmt.Errorf("creating job: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{JobID: &job.ID})

	// A duplicate that never reached a worker may have missed the queue;
	// enqueueing it again is safe because workers skip finished jobs.
	if !created && (job.Status != model.JobStatusPending || job.Attempts > 0) {
		s.logger.InfoContext(ctx, "duplicate message deduped", "dedupe_key", msg.DedupeKey, "status", job.Status)
		return &IngestResult{Job: job, Duplicated: true}, nil
	}

	if err := s.queue.Enqueue(ctx, queue.ReplyTask{
		JobID:          job.ID,
		ConversationID: job.ConversationID,
		Priority:       job.Priority,
		TraceID:        msg.TraceID,
		Attempt:        1,
	}); err != nil {
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}

	return &IngestResult{Job: job, Enqueued: true, Duplicated: !created}, nil
}

func (s *messageIngestService) conversationFromAttributes(msg IncomingMessage) *model.Conversation {
	attrs := msg.CustomAttributes
	score := attrInt(attrs, chatwoot.AttrLeadScore)
	lead := model.LeadSnapshot{
		LoanType:     model.LoanType(attrString(attrs, chatwoot.AttrLoanType)),
		PropertyType: attrString(attrs, chatwoot.AttrPropertyType),
	}

	segment := model.Segment(attrString(attrs, chatwoot.AttrLeadSegment))
	switch segment {
	case model.SegmentCold, model.SegmentDeveloping, model.SegmentQualified, model.SegmentPremium:
	default:
		segment = model.SegmentFor(score)
	}

	p, ok := s.personas.Get(attrString(attrs, chatwoot.AttrBrokerPersona))
	if !ok {
		p = s.personas.SelectPersona(score, lead)
	}

	brokerName := attrString(attrs, chatwoot.AttrBrokerName)
	if brokerName == "" {
		brokerName = p.Name
	}

	return &model.Conversation{
		ID:         msg.ConversationID,
		ContactID:  msg.ContactID,
		BrokerName: brokerName,
		PersonaID:  p.ID,
		LeadScore:  score,
		Segment:    segment,
		Lead:       lead,
	}
}

func attrString(attrs map[string]any, key string) string {
	v, ok := attrs[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// attrInt accepts numbers and numeric strings. JSON numbers decode as float64.
func attrInt(attrs map[string]any, key string) int {
	switch v := attrs[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return int(n)
	default:
		return 0
	}
}
