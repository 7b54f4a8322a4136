package model

import "time"

type ProcessingStatus string

const (
	ProcessingStatusIdle       ProcessingStatus = "idle"
	ProcessingStatusProcessing ProcessingStatus = "processing"
)

// Conversation links a chat-backend conversation to the lead, persona and
// broker it was assigned. ID is the chat backend's conversation id.
type Conversation struct {
	ID               int64            `json:"id"`
	ContactID        int64            `json:"contact_id"`
	BrokerID         *int64           `json:"broker_id,omitempty"`
	BrokerName       string           `json:"broker_name,omitempty"`
	PersonaID        string           `json:"persona_id"`
	LeadScore        int              `json:"lead_score"`
	Segment          Segment          `json:"segment"`
	Lead             LeadSnapshot     `json:"lead"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	ClaimedAt        *time.Time       `json:"claimed_at,omitempty"`
	ReleasedAt       *time.Time       `json:"released_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// ConversationTurn is one exchange used as prompt history.
type ConversationTurn struct {
	Role    string // user | assistant
	Content string
}

const (
	TurnRoleUser      = "user"
	TurnRoleAssistant = "assistant"
)
