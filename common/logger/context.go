package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are added to every record logged with the carrying context.
type LogFields struct {
	ConversationID *int64  // Chat backend conversation ID
	ContactID      *int64  // Chat backend contact ID
	BrokerID       *int64  // Assigned broker
	JobID          *int64  // Queued message job
	MessageID      *string // Redis stream message ID
	RequestID      *string // HTTP request ID
	Component      string  // e.g. "brokerdesk.worker.processor"
}

// WithLogFields merges fields into the context. Newer non-nil/non-empty
// values win; cancellation is preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.ConversationID != nil {
		result.ConversationID = new.ConversationID
	}
	if new.ContactID != nil {
		result.ContactID = new.ContactID
	}
	if new.BrokerID != nil {
		result.BrokerID = new.BrokerID
	}
	if new.JobID != nil {
		result.JobID = new.JobID
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.RequestID != nil {
		result.RequestID = new.RequestID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{JobID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate cuts s to maxLen bytes, appending "..." if truncated. Used for
// message bodies, which must not be logged whole.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
