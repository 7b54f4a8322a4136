package dto

type WebhookAckResponse struct {
	Status     string `json:"status"`
	JobID      int64  `json:"job_id,omitempty"`
	Enqueued   bool   `json:"enqueued,omitempty"`
	Duplicated bool   `json:"duplicated,omitempty"`
	Released   bool   `json:"released,omitempty"`
}

const (
	WebhookStatusQueued   = "queued"
	WebhookStatusResolved = "resolved"
	WebhookStatusIgnored  = "ignored"
)
