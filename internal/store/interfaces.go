package store

import (
	"context"
	"errors"
	"time"

	"brokerdesk.sg/relay/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// BrokerStore is the only writer of broker capacity fields. Reserve and
// Release are single conditional UPDATEs; no caller reads then writes.
type BrokerStore interface {
	GetByID(ctx context.Context, id int64) (*model.Broker, error)
	GetByName(ctx context.Context, name string) (*model.Broker, error)
	ListActive(ctx context.Context) ([]model.Broker, error)
	ListAvailable(ctx context.Context) ([]model.Broker, error)
	Upsert(ctx context.Context, broker *model.Broker) (*model.Broker, error)

	// Reserve takes one slot. ok is false when the broker was already full.
	Reserve(ctx context.Context, id int64) (broker *model.Broker, ok bool, err error)
	// Release gives back one slot, floored at zero.
	Release(ctx context.Context, id int64) (*model.Broker, error)
}

// ConversationStore holds the lead, persona and broker behind each chat
// conversation, plus the processing lease used by workers.
type ConversationStore interface {
	Upsert(ctx context.Context, conv *model.Conversation) (*model.Conversation, error)
	GetByID(ctx context.Context, id int64) (*model.Conversation, error)

	// Claim takes the processing lease under token when the conversation is
	// idle or the previous holder last renewed before staleBefore.
	Claim(ctx context.Context, id, token int64, now, staleBefore time.Time) (bool, error)
	// Renew extends the lease. held is false once another token owns it.
	Renew(ctx context.Context, id, token int64, now time.Time) (held bool, err error)
	// Unclaim returns the conversation to idle if token still holds it, and
	// ErrNotFound otherwise.
	Unclaim(ctx context.Context, id, token int64) error
	// MarkReleased stamps released_at once. released is false when it was
	// already set, so capacity is only given back once per conversation.
	MarkReleased(ctx context.Context, id int64, at time.Time) (conv *model.Conversation, released bool, err error)
}

// JobStore persists queued reply jobs. Timing columns are only ever set
// from NULL; re-stamping keeps the first value.
type JobStore interface {
	// Create inserts the job or, when its dedupe key already exists, returns
	// the existing one with created=false.
	Create(ctx context.Context, job *model.QueuedMessageJob) (saved *model.QueuedMessageJob, created bool, err error)
	GetByID(ctx context.Context, id int64) (*model.QueuedMessageJob, error)
	// ListOpen returns pending and running jobs of a conversation in seq order.
	ListOpen(ctx context.Context, conversationID int64) ([]model.QueuedMessageJob, error)

	// MarkStarted takes a pending job, or a running one untouched since
	// staleBefore whose worker is presumed dead. ErrNotFound otherwise.
	MarkStarted(ctx context.Context, id int64, at, staleBefore time.Time) (*model.QueuedMessageJob, error)
	MarkGenerated(ctx context.Context, id int64, at time.Time, response string, usedFallback bool) (*model.QueuedMessageJob, error)
	MarkSent(ctx context.Context, id int64, at time.Time, outboundMessageID int64, text string, usedFallback bool) (*model.QueuedMessageJob, error)
	// MarkPending and MarkFailed never touch a job whose reply was delivered.
	MarkPending(ctx context.Context, id int64, errMsg string) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

type LeadScoreAuditStore interface {
	Create(ctx context.Context, audit *model.LeadScoreAudit) error
	ListByLead(ctx context.Context, leadKey string, limit int32) ([]model.LeadScoreAudit, error)
}
