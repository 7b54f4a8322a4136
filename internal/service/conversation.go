package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"brokerdesk.sg/relay/internal/model"
	"brokerdesk.sg/relay/internal/store"
)

// ConversationService handles conversation lifecycle events from the chat
// backend.
type ConversationService interface {
	Get(ctx context.Context, id int64) (*model.Conversation, error)
	// Resolve releases the broker slot held by a finished conversation.
	// Unknown conversations are ignored.
	Resolve(ctx context.Context, id int64) (released bool, err error)
}

type conversationService struct {
	conversations store.ConversationStore
	availability  AvailabilityService
}

func NewConversationService(conversations store.ConversationStore, availability AvailabilityService) ConversationService {
	return &conversationService{
		conversations: conversations,
		availability:  availability,
	}
}

func (s *conversationService) Get(ctx context.Context, id int64) (*model.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	return conv, nil
}

func (s *conversationService) Resolve(ctx context.Context, id int64) (bool, error) {
	released, err := s.availability.ReleaseConversation(ctx, id)
	if errors.Is(err, ErrConversationNotFound) {
		slog.InfoContext(ctx, "resolved conversation has no local record", "conversation_id", id)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return released, nil
}
