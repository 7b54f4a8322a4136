package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"brokerdesk.sg/relay/common/logger"
	"brokerdesk.sg/relay/internal/chatwoot"
	"brokerdesk.sg/relay/internal/http/dto"
	"brokerdesk.sg/relay/internal/model"
	"brokerdesk.sg/relay/internal/service"
)

const (
	SignatureHeader = "X-Chatwoot-Signature"
	maxBodyBytes    = 1 << 20
)

type ChatwootWebhookHandler struct {
	ingest        service.MessageIngestService
	conversations service.ConversationService
	secret        string
	traceHeader   string
}

// NewChatwootWebhookHandler builds the handler. An empty secret accepts
// unsigned deliveries.
func NewChatwootWebhookHandler(ingest service.MessageIngestService, conversations service.ConversationService, secret, traceHeader string) *ChatwootWebhookHandler {
	return &ChatwootWebhookHandler{
		ingest:        ingest,
		conversations: conversations,
		secret:        secret,
		traceHeader:   traceHeader,
	}
}

// HandleEvent acknowledges as soon as the message is queued. The reply is
// produced by a worker, never inside the webhook request.
func (h *ChatwootWebhookHandler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	if !chatwoot.VerifySignature(h.secret, body, c.GetHeader(SignatureHeader)) {
		slog.WarnContext(ctx, "chatwoot webhook signature mismatch")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var event chatwoot.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	conversationID := event.ConversationID()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: &conversationID,
		Component:      "brokerdesk.http.webhook",
	})

	switch {
	case event.IsIncomingContactMessage():
		h.queueMessage(ctx, c, event)
	case event.IsResolved():
		released, err := h.conversations.Resolve(ctx, conversationID)
		if err != nil {
			slog.ErrorContext(ctx, "failed to release resolved conversation", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve conversation"})
			return
		}
		slog.InfoContext(ctx, "conversation resolved", "released", released)
		c.JSON(http.StatusOK, dto.WebhookAckResponse{Status: dto.WebhookStatusResolved, Released: released})
	default:
		slog.DebugContext(ctx, "chatwoot event ignored",
			"event", event.Event,
			"message_type", event.MessageType,
			"private", event.Private)
		c.JSON(http.StatusOK, dto.WebhookAckResponse{Status: dto.WebhookStatusIgnored})
	}
}

func (h *ChatwootWebhookHandler) queueMessage(ctx context.Context, c *gin.Context, event chatwoot.WebhookEvent) {
	msg := service.IncomingMessage{
		ConversationID:   event.ConversationID(),
		ContactID:        event.ContactID(),
		Content:          event.Content,
		MessageType:      model.MessageTypeIncoming,
		Source:           model.JobSourceChatwootWebhook,
		DedupeKey:        event.DedupeKey(),
		CustomAttributes: event.CustomAttributes(),
	}
	if traceID := h.traceID(c); traceID != "" {
		msg.TraceID = &traceID
	}

	result, err := h.ingest.QueueIncomingMessage(ctx, msg)
	if err != nil {
		if errors.Is(err, service.ErrInvalidMessage) {
			// Retrying an unanswerable message only repeats the failure.
			slog.InfoContext(ctx, "chatwoot message skipped", "reason", err.Error())
			c.JSON(http.StatusOK, dto.WebhookAckResponse{Status: dto.WebhookStatusIgnored})
			return
		}
		slog.ErrorContext(ctx, "failed to queue chatwoot message", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue message"})
		return
	}

	c.JSON(http.StatusAccepted, dto.WebhookAckResponse{
		Status:     dto.WebhookStatusQueued,
		JobID:      result.Job.ID,
		Enqueued:   result.Enqueued,
		Duplicated: result.Duplicated,
	})
}

func (h *ChatwootWebhookHandler) traceID(c *gin.Context) string {
	if h.traceHeader != "" {
		if v := c.GetHeader(h.traceHeader); v != "" {
			return v
		}
	}
	if spanCtx := trace.SpanContextFromContext(c.Request.Context()); spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}
