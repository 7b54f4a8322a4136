package queue

import (
	"fmt"

	"brokerdesk.sg/relay/internal/model"
)

// ReplyTask asks a worker to answer the pending jobs of one conversation.
// The job row in Postgres is the source of truth; the stream entry only
// carries enough to find it.
type ReplyTask struct {
	JobID          int64
	ConversationID int64
	Priority       model.Priority
	TraceID        *string
	Attempt        int
}

// StreamName returns the stream backing one priority class.
func StreamName(base string, p model.Priority) string {
	return fmt.Sprintf("%s:p%d", base, p)
}

// StreamNames lists the per-priority streams of base, highest priority first.
func StreamNames(base string) []string {
	names := make([]string, len(model.Priorities))
	for i, p := range model.Priorities {
		names[i] = StreamName(base, p)
	}
	return names
}

func normalizePriority(p model.Priority) model.Priority {
	if p.Valid() {
		return p
	}
	return model.PriorityNormal
}
