package model

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Priority classes. Higher values are dequeued first.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
)

// Priorities lists every class from highest to lowest.
var Priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityNormal || p == PriorityHigh
}

func PriorityForSegment(s Segment) Priority {
	switch s {
	case SegmentPremium:
		return PriorityHigh
	case SegmentQualified:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

const (
	MessageTypeIncoming = "incoming"

	JobSourceChatwootWebhook = "chatwoot_webhook"
	JobSourceAPI             = "api"
)

// TimingData holds the SLA stamps of a job. Each stamp is written once.
type TimingData struct {
	QueueAddTimestamp       *time.Time `json:"queueAddTimestamp,omitempty"`
	WorkerStartTimestamp    *time.Time `json:"workerStartTimestamp,omitempty"`
	WorkerCompleteTimestamp *time.Time `json:"workerCompleteTimestamp,omitempty"`
	ChatwootSendTimestamp   *time.Time `json:"chatwootSendTimestamp,omitempty"`
}

// TotalDuration is send minus enqueue. ok is false until both stamps exist.
func (t TimingData) TotalDuration() (d time.Duration, ok bool) {
	if t.QueueAddTimestamp == nil || t.ChatwootSendTimestamp == nil {
		return 0, false
	}
	d = t.ChatwootSendTimestamp.Sub(*t.QueueAddTimestamp)
	if d < 0 {
		d = 0
	}
	return d, true
}

func (t TimingData) GenerationDuration() (time.Duration, bool) {
	if t.WorkerStartTimestamp == nil || t.WorkerCompleteTimestamp == nil {
		return 0, false
	}
	return t.WorkerCompleteTimestamp.Sub(*t.WorkerStartTimestamp), true
}

func (t TimingData) QueueWait() (time.Duration, bool) {
	if t.QueueAddTimestamp == nil || t.WorkerStartTimestamp == nil {
		return 0, false
	}
	return t.WorkerStartTimestamp.Sub(*t.QueueAddTimestamp), true
}

// QueuedMessageJob is one inbound chat message waiting for an AI reply.
// Seq is assigned by the store and fixes the processing order within a
// conversation.
type QueuedMessageJob struct {
	ID                int64           `json:"id"`
	Seq               int64           `json:"seq"`
	ConversationID    int64           `json:"conversation_id"`
	ContactID         int64           `json:"contact_id"`
	BrokerID          *int64          `json:"broker_id,omitempty"`
	UserMessage       string          `json:"user_message"`
	MessageType       string          `json:"message_type"`
	Priority          Priority        `json:"priority"`
	Source            string          `json:"source"`
	DedupeKey         *string         `json:"dedupe_key,omitempty"`
	Status            JobStatus       `json:"status"`
	Attempts          int             `json:"attempts"`
	Timing            TimingData      `json:"timing_data"`
	TotalDurationMs   *int64          `json:"total_duration_ms,omitempty"`
	ResponseText      *string         `json:"response_text,omitempty"`
	OutboundMessageID *int64          `json:"outbound_message_id,omitempty"`
	UsedFallback      bool            `json:"used_fallback"`
	Error             *string         `json:"error,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Delivered reports whether a reply already went out for this job.
func (j QueuedMessageJob) Delivered() bool {
	return j.OutboundMessageID != nil
}
