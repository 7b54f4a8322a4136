package service

import (
	"log/slog"

	"brokerdesk.sg/relay/internal/persona"
	"brokerdesk.sg/relay/internal/queue"
	"brokerdesk.sg/relay/internal/store"
)

type Services struct {
	stores   *store.Stores
	txRunner TxRunner
	scorer   Scorer
	personas PersonaSelector
	tie      persona.TieBreaker
	chat     LeadChat
	inboxID  int64
	producer queue.Producer
	logger   *slog.Logger
}

type Deps struct {
	Stores   *store.Stores
	TxRunner TxRunner
	Scorer   Scorer
	Personas PersonaSelector
	TieBreak persona.TieBreaker
	Chat     LeadChat
	InboxID  int64
	Producer queue.Producer
	Logger   *slog.Logger
}

func NewServices(d Deps) *Services {
	return &Services{
		stores:   d.Stores,
		txRunner: d.TxRunner,
		scorer:   d.Scorer,
		personas: d.Personas,
		tie:      d.TieBreak,
		chat:     d.Chat,
		inboxID:  d.InboxID,
		producer: d.Producer,
		logger:   d.Logger,
	}
}

func (s *Services) Availability() AvailabilityService {
	return NewAvailabilityService(s.stores.Brokers(), s.stores.Conversations(), s.tie)
}

func (s *Services) LeadIntake() LeadIntakeService {
	return NewLeadIntakeService(s.txRunner, s.scorer, s.personas, s.Availability(), s.chat, s.inboxID)
}

func (s *Services) MessageIngest() MessageIngestService {
	return NewMessageIngestService(s.txRunner, s.producer, s.personas, s.logger)
}

func (s *Services) Conversations() ConversationService {
	return NewConversationService(s.stores.Conversations(), s.Availability())
}
