package chatwoot

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

const (
	EventMessageCreated             = "message_created"
	EventConversationStatusChanged  = "conversation_status_changed"
	EventConversationResolvedStatus = "resolved"
)

// WebhookEvent is the subset of a webhook payload the pipeline reads.
type WebhookEvent struct {
	Event        string            `json:"event"`
	ID           int64             `json:"id"`
	Content      string            `json:"content"`
	MessageType  string            `json:"message_type"`
	Private      bool              `json:"private"`
	Status       string            `json:"status"`
	Sender       *WebhookSender    `json:"sender"`
	Conversation *WebhookConvo     `json:"conversation"`
	Account      *WebhookReference `json:"account"`
}

type WebhookSender struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // "contact" for customers; agents and bots differ
}

type WebhookConvo struct {
	ID               int64             `json:"id"`
	Status           string            `json:"status"`
	ContactInbox     *WebhookContactIn `json:"contact_inbox"`
	CustomAttributes map[string]any    `json:"custom_attributes"`
	Meta             *WebhookMeta      `json:"meta"`
}

type WebhookContactIn struct {
	ContactID int64 `json:"contact_id"`
}

type WebhookMeta struct {
	Sender *WebhookSender `json:"sender"`
}

type WebhookReference struct {
	ID int64 `json:"id"`
}

// IsIncomingContactMessage is true for a public message typed by the
// customer. Agent replies, private notes and our own bot output are not.
func (e WebhookEvent) IsIncomingContactMessage() bool {
	if e.Event != EventMessageCreated || e.MessageType != "incoming" || e.Private {
		return false
	}
	if e.Conversation == nil || strings.TrimSpace(e.Content) == "" {
		return false
	}
	return e.Sender == nil || e.Sender.Type == "" || strings.EqualFold(e.Sender.Type, "contact")
}

// IsResolved is true when a conversation was just marked resolved.
func (e WebhookEvent) IsResolved() bool {
	if e.Event != EventConversationStatusChanged {
		return false
	}
	status := e.Status
	if e.Conversation != nil && e.Conversation.Status != "" {
		status = e.Conversation.Status
	}
	return status == EventConversationResolvedStatus
}

// ConversationID prefers the nested conversation, which message events use.
func (e WebhookEvent) ConversationID() int64 {
	if e.Conversation != nil && e.Conversation.ID != 0 {
		return e.Conversation.ID
	}
	if e.Event == EventConversationStatusChanged {
		return e.ID
	}
	return 0
}

func (e WebhookEvent) ContactID() int64 {
	if e.Conversation != nil {
		if e.Conversation.ContactInbox != nil && e.Conversation.ContactInbox.ContactID != 0 {
			return e.Conversation.ContactInbox.ContactID
		}
		if e.Conversation.Meta != nil && e.Conversation.Meta.Sender != nil {
			return e.Conversation.Meta.Sender.ID
		}
	}
	if e.Sender != nil {
		return e.Sender.ID
	}
	return 0
}

// DedupeKey identifies one inbound chat message across webhook retries. It is
// empty when the payload carries no message id.
func (e WebhookEvent) DedupeKey() string {
	if e.ID == 0 {
		return ""
	}
	return "chatwoot:msg:" + strconv.FormatInt(e.ID, 10)
}

// CustomAttributes returns the conversation attributes, never nil.
func (e WebhookEvent) CustomAttributes() map[string]any {
	if e.Conversation == nil || e.Conversation.CustomAttributes == nil {
		return map[string]any{}
	}
	return e.Conversation.CustomAttributes
}

// VerifySignature checks an HMAC-SHA256 hex signature of body. An empty
// secret disables verification.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	return hmac.Equal([]byte(expected), []byte(signature))
}
