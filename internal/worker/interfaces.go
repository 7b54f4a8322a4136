package worker

import (
	"context"

	"brokerdesk.sg/relay/internal/chatwoot"
	"brokerdesk.sg/relay/internal/model"
	"brokerdesk.sg/relay/internal/queue"
	"brokerdesk.sg/relay/internal/responder"
	"brokerdesk.sg/relay/internal/store"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	RequeueWithAttempt(ctx context.Context, msg queue.Message, attempt int, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// Mirrors service.StoreProvider - defined here to avoid import cycles.
type StoreProvider interface {
	Jobs() store.JobStore
	Conversations() store.ConversationStore
}

// ResponseGenerator always returns text; failures come back as the fallback.
type ResponseGenerator interface {
	GenerateResponse(ctx context.Context, req responder.Request) responder.Reply
}

// ChatClient is the breaker-guarded chat backend.
type ChatClient interface {
	SendMessage(ctx context.Context, conversationID int64, content string) (*chatwoot.Message, error)
	ListMessages(ctx context.Context, conversationID int64) ([]chatwoot.Message, error)
}

type PersonaSource interface {
	Get(id string) (model.BrokerPersona, bool)
	SelectPersona(score int, s model.LeadSnapshot) model.BrokerPersona
}
