package chatwoot

import "time"

// Message types as returned by the REST API. Webhooks carry the same values
// as strings.
const (
	MessageTypeIncoming = 0
	MessageTypeOutgoing = 1
	MessageTypeActivity = 2
	MessageTypeTemplate = 3
)

// Custom attribute keys stashed on each conversation.
const (
	AttrLeadScore     = "lead_score"
	AttrLeadSegment   = "lead_segment"
	AttrBrokerName    = "broker_name"
	AttrBrokerPersona = "broker_persona"
	AttrLoanType      = "loan_type"
	AttrPropertyType  = "property_type"
)

type Contact struct {
	ID               int64          `json:"id"`
	Name             string         `json:"name"`
	Email            string         `json:"email"`
	PhoneNumber      string         `json:"phone_number"`
	Identifier       string         `json:"identifier"`
	CustomAttributes map[string]any `json:"custom_attributes"`
	ContactInboxes   []ContactInbox `json:"contact_inboxes"`
}

type ContactInbox struct {
	SourceID string `json:"source_id"`
	Inbox    struct {
		ID int64 `json:"id"`
	} `json:"inbox"`
}

// SourceID returns the contact's source id in inboxID, if any.
func (c Contact) SourceID(inboxID int64) string {
	for _, ci := range c.ContactInboxes {
		if ci.Inbox.ID == inboxID {
			return ci.SourceID
		}
	}
	if len(c.ContactInboxes) > 0 {
		return c.ContactInboxes[0].SourceID
	}
	return ""
}

type ContactInput struct {
	Name             string
	Email            string
	PhoneNumber      string
	Identifier       string
	CustomAttributes map[string]any
}

type Conversation struct {
	ID               int64          `json:"id"`
	AccountID        int64          `json:"account_id"`
	InboxID          int64          `json:"inbox_id"`
	Status           string         `json:"status"`
	CustomAttributes map[string]any `json:"custom_attributes"`
}

type ConversationInput struct {
	ContactID        int64
	SourceID         string
	CustomAttributes map[string]any
}

type Message struct {
	ID          int64  `json:"id"`
	Content     string `json:"content"`
	MessageType int    `json:"message_type"`
	Private     bool   `json:"private"`
	CreatedAt   int64  `json:"created_at"`
}

func (m Message) CreatedTime() time.Time {
	return time.Unix(m.CreatedAt, 0)
}
