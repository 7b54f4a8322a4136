package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"brokerdesk.sg/relay/common/logger"
	"brokerdesk.sg/relay/common/metrics"
	"brokerdesk.sg/relay/internal/model"
	"brokerdesk.sg/relay/internal/persona"
	"brokerdesk.sg/relay/internal/store"
)

// AvailabilityService owns broker capacity. Every workload change goes
// through the store's conditional updates, so concurrent assignments can
// never both take the last slot.
type AvailabilityService interface {
	// MarkBrokerBusy takes one slot. A full broker is left unchanged and
	// ErrBrokerAtCapacity is returned.
	MarkBrokerBusy(ctx context.Context, brokerID int64, conversationID *int64) (*model.Broker, error)
	// ReleaseBrokerCapacity gives back one slot. Failures are logged only.
	ReleaseBrokerCapacity(ctx context.Context, brokerID int64)
	// AssignBroker reserves the best available broker for a persona.
	AssignBroker(ctx context.Context, p model.BrokerPersona, leadKey string) (*model.Broker, error)
	// ReleaseConversation frees the conversation's broker slot once, no
	// matter how often it is called.
	ReleaseConversation(ctx context.Context, conversationID int64) (released bool, err error)
	ListBrokers(ctx context.Context) ([]model.Broker, error)
	// SyncBrokers upserts an active broker for every persona. Workloads of
	// existing brokers are kept.
	SyncBrokers(ctx context.Context, personas []model.BrokerPersona, maxChats int) (int, error)
}

const DefaultMaxConcurrentChats = 5

type availabilityService struct {
	brokers       store.BrokerStore
	conversations store.ConversationStore
	tie           persona.TieBreaker
	now           func() time.Time
}

func NewAvailabilityService(brokers store.BrokerStore, conversations store.ConversationStore, tie persona.TieBreaker) AvailabilityService {
	if tie == nil {
		tie = persona.HashTieBreaker{}
	}
	return &availabilityService{
		brokers:       brokers,
		conversations: conversations,
		tie:           tie,
		now:           time.Now,
	}
}

func (s *availabilityService) MarkBrokerBusy(ctx context.Context, brokerID int64, conversationID *int64) (*model.Broker, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		BrokerID:       &brokerID,
		ConversationID: conversationID,
	})

	broker, ok, err := s.brokers.Reserve(ctx, brokerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBrokerNotFound
		}
		metrics.BrokerReservations.WithLabelValues("reserve", "error").Inc()
		slog.ErrorContext(ctx, "broker reservation failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrCapacityReservation, err)
	}
	if !ok {
		metrics.BrokerReservations.WithLabelValues("reserve", "full").Inc()
		slog.InfoContext(ctx, "broker at capacity",
			"current_workload", broker.CurrentWorkload,
			"max_concurrent_chats", broker.MaxConcurrentChats)
		return broker, ErrBrokerAtCapacity
	}

	metrics.BrokerReservations.WithLabelValues("reserve", "ok").Inc()
	slog.InfoContext(ctx, "broker marked busy",
		"current_workload", broker.CurrentWorkload,
		"max_concurrent_chats", broker.MaxConcurrentChats,
		"is_available", broker.IsAvailable)
	return broker, nil
}

func (s *availabilityService) ReleaseBrokerCapacity(ctx context.Context, brokerID int64) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{BrokerID: &brokerID})

	broker, err := s.brokers.Release(ctx, brokerID)
	if err != nil {
		metrics.BrokerReservations.WithLabelValues("release", "error").Inc()
		slog.WarnContext(ctx, "broker release failed, workload may be overcounted", "error", err)
		return
	}

	metrics.BrokerReservations.WithLabelValues("release", "ok").Inc()
	slog.InfoContext(ctx, "broker capacity released",
		"current_workload", broker.CurrentWorkload,
		"active_conversations", broker.ActiveConversations)
}

// AssignBroker prefers brokers whose personality matches the persona, then
// the lowest load ratio. Brokers tied on both are ordered by the tie breaker
// keyed on the lead. A broker filled by a concurrent request is skipped.
func (s *availabilityService) AssignBroker(ctx context.Context, p model.BrokerPersona, leadKey string) (*model.Broker, error) {
	candidates, err := s.brokers.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing brokers: %w", ErrCapacityReservation, err)
	}

	for _, b := range rankBrokers(candidates, p.Type, leadKey, s.tie) {
		broker, err := s.MarkBrokerBusy(ctx, b.ID, nil)
		switch {
		case err == nil:
			return broker, nil
		case errors.Is(err, ErrBrokerAtCapacity), errors.Is(err, ErrBrokerNotFound):
			continue
		default:
			return nil, err
		}
	}

	slog.WarnContext(ctx, "no broker available",
		"persona", p.ID,
		"candidates", len(candidates))
	return nil, ErrNoBrokerAvailable
}

func rankBrokers(brokers []model.Broker, want model.PersonalityType, leadKey string, tie persona.TieBreaker) []model.Broker {
	ranked := make([]model.Broker, 0, len(brokers))
	for _, b := range brokers {
		if b.IsActive && b.HasCapacity() {
			ranked = append(ranked, b)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		mi, mj := ranked[i].PersonaType == want, ranked[j].PersonaType == want
		if mi != mj {
			return mi
		}
		if ri, rj := ranked[i].LoadRatio(), ranked[j].LoadRatio(); ri != rj {
			return ri < rj
		}
		return ranked[i].ID < ranked[j].ID
	})

	// Rotate the leading group of equals so the tie breaker picks who goes first.
	n := 1
	for n < len(ranked) &&
		(ranked[n].PersonaType == want) == (ranked[0].PersonaType == want) &&
		ranked[n].LoadRatio() == ranked[0].LoadRatio() {
		n++
	}
	if n > 1 {
		k := tie.Pick(leadKey, n)
		head := append(append([]model.Broker{}, ranked[k:n]...), ranked[:k]...)
		copy(ranked, head)
	}
	return ranked
}

func (s *availabilityService) ReleaseConversation(ctx context.Context, conversationID int64) (bool, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{ConversationID: &conversationID})

	conv, released, err := s.conversations.MarkReleased(ctx, conversationID, s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, ErrConversationNotFound
		}
		return false, fmt.Errorf("marking conversation released: %w", err)
	}
	if !released {
		slog.DebugContext(ctx, "conversation already released")
		return false, nil
	}
	if conv.BrokerID == nil {
		return true, nil
	}

	s.ReleaseBrokerCapacity(ctx, *conv.BrokerID)
	return true, nil
}

func (s *availabilityService) ListBrokers(ctx context.Context) ([]model.Broker, error) {
	brokers, err := s.brokers.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing brokers: %w", err)
	}
	return brokers, nil
}

func (s *availabilityService) SyncBrokers(ctx context.Context, personas []model.BrokerPersona, maxChats int) (int, error) {
	if maxChats <= 0 {
		maxChats = DefaultMaxConcurrentChats
	}

	synced := 0
	for _, p := range personas {
		_, err := s.brokers.Upsert(ctx, &model.Broker{
			Name:               p.Name,
			PersonaType:        p.Type,
			Specialties:        p.Specialties,
			MaxConcurrentChats: maxChats,
			IsActive:           true,
		})
		if err != nil {
			return synced, fmt.Errorf("syncing broker %s: %w", p.Name, err)
		}
		synced++
	}
	return synced, nil
}
