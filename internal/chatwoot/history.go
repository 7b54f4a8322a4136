package chatwoot

import (
	"sort"
	"strings"

	"brokerdesk.sg/relay/internal/model"
)

// History turns backend messages into prompt turns, oldest first. Private
// notes, activity and template messages are dropped; only the last limit
// turns are kept when limit > 0.
func History(msgs []Message, limit int) []model.ConversationTurn {
	sorted := make([]Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt != sorted[j].CreatedAt {
			return sorted[i].CreatedAt < sorted[j].CreatedAt
		}
		return sorted[i].ID < sorted[j].ID
	})

	turns := make([]model.ConversationTurn, 0, len(sorted))
	for _, m := range sorted {
		if m.Private || strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.MessageType {
		case MessageTypeIncoming:
			turns = append(turns, model.ConversationTurn{Role: model.TurnRoleUser, Content: m.Content})
		case MessageTypeOutgoing:
			turns = append(turns, model.ConversationTurn{Role: model.TurnRoleAssistant, Content: m.Content})
		}
	}

	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns
}
