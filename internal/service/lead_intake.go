package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"brokerdesk.sg/relay/common/id"
	"brokerdesk.sg/relay/common/logger"
	"brokerdesk.sg/relay/common/metrics"
	"brokerdesk.sg/relay/common/phone"
	"brokerdesk.sg/relay/internal/analysis"
	"brokerdesk.sg/relay/internal/chatwoot"
	"brokerdesk.sg/relay/internal/model"
)

const (
	MessageAssigned = "Thanks! %s will reach out to you on chat shortly."
	MessageDegraded = "Thanks! An advisor will contact you shortly."
)

type Scorer interface {
	Score(s model.LeadSnapshot, gate model.Gate) model.LeadScore
}

type PersonaSelector interface {
	SelectPersona(score int, s model.LeadSnapshot) model.BrokerPersona
	Get(id string) (model.BrokerPersona, bool)
}

// LeadChat is the part of the chat backend used when a lead is handed off.
type LeadChat interface {
	CreateContact(ctx context.Context, in chatwoot.ContactInput) (*chatwoot.Contact, error)
	CreateConversation(ctx context.Context, in chatwoot.ConversationInput) (*chatwoot.Conversation, error)
}

type Evaluation struct {
	Score    model.LeadScore     `json:"score"`
	Persona  model.BrokerPersona `json:"persona"`
	Analysis analysis.Estimate   `json:"analysis"`
}

type SubmitResult struct {
	Evaluation
	Broker         *model.Broker `json:"broker,omitempty"`
	BrokerName     string        `json:"broker_name"`
	ConversationID int64         `json:"conversation_id"`
	ContactID      int64         `json:"contact_id"`
	Degraded       bool          `json:"degraded"`
	Message        string        `json:"message"`
}

type LeadIntakeService interface {
	// Evaluate scores a snapshot and picks a persona without side effects
	// beyond metrics.
	Evaluate(ctx context.Context, s model.LeadSnapshot, gate model.Gate) Evaluation
	// Submit hands a lead off to a broker and the chat backend. When no
	// broker can be reserved the lead is still handed off, unassigned.
	Submit(ctx context.Context, s model.LeadSnapshot, gate model.Gate) (*SubmitResult, error)
}

type leadIntakeService struct {
	txRunner     TxRunner
	scorer       Scorer
	personas     PersonaSelector
	availability AvailabilityService
	chat         LeadChat
	inboxID      int64
}

func NewLeadIntakeService(txRunner TxRunner, scorer Scorer, personas PersonaSelector, availability AvailabilityService, chat LeadChat, inboxID int64) LeadIntakeService {
	return &leadIntakeService{
		txRunner:     txRunner,
		scorer:       scorer,
		personas:     personas,
		availability: availability,
		chat:         chat,
		inboxID:      inboxID,
	}
}

func (s *leadIntakeService) Evaluate(ctx context.Context, snap model.LeadSnapshot, gate model.Gate) Evaluation {
	gate = resolveGate(snap, gate)
	score := s.scorer.Score(snap, gate)
	p := s.personas.SelectPersona(score.Score, snap)

	metrics.LeadsScored.WithLabelValues(string(gate), string(score.Segment)).Inc()
	slog.DebugContext(ctx, "lead evaluated",
		"gate", gate,
		"score", score.Score,
		"segment", score.Segment,
		"persona", p.ID)

	return Evaluation{
		Score:    score,
		Persona:  p,
		Analysis: analysis.Analyze(snap),
	}
}

func (s *leadIntakeService) Submit(ctx context.Context, snap model.LeadSnapshot, gate model.Gate) (*SubmitResult, error) {
	if snap.Phone != "" {
		normalized, err := phone.Normalize(snap.Phone, phone.DefaultRegion)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPhone, err)
		}
		snap.Phone = normalized
	}

	eval := s.Evaluate(ctx, snap, gate)
	identifier := uuid.NewString()
	leadKey := snap.Identity()
	if leadKey == "" {
		leadKey = identifier
	}

	result := &SubmitResult{Evaluation: eval, BrokerName: eval.Persona.Name}

	broker, err := s.availability.AssignBroker(ctx, eval.Persona, leadKey)
	if err != nil {
		slog.WarnContext(ctx, "lead handed off without a broker", "error", err, "persona", eval.Persona.ID)
		result.Degraded = true
	} else {
		result.Broker = broker
		result.BrokerName = broker.Name
		ctx = logger.WithLogFields(ctx, logger.LogFields{BrokerID: &broker.ID})
	}

	attrs := map[string]any{
		chatwoot.AttrLeadScore:     eval.Score.Score,
		chatwoot.AttrLeadSegment:   string(eval.Score.Segment),
		chatwoot.AttrBrokerName:    result.BrokerName,
		chatwoot.AttrBrokerPersona: eval.Persona.ID,
		chatwoot.AttrLoanType:      string(snap.LoanType),
		chatwoot.AttrPropertyType:  snap.PropertyType,
	}

	conv, err := s.openConversation(ctx, snap, identifier, attrs)
	if err != nil {
		s.releaseBroker(ctx, result.Broker)
		return nil, err
	}
	result.ConversationID = conv.ID
	result.ContactID = conv.ContactID
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: &result.ConversationID,
		ContactID:      &result.ContactID,
	})

	record := &model.Conversation{
		ID:         conv.ID,
		ContactID:  conv.ContactID,
		BrokerName: result.BrokerName,
		PersonaID:  eval.Persona.ID,
		LeadScore:  eval.Score.Score,
		Segment:    eval.Score.Segment,
		Lead:       snap,
	}
	if result.Broker != nil {
		record.BrokerID = &result.Broker.ID
	}

	if err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		if _, err := sp.Conversations().Upsert(ctx, record); err != nil {
			return fmt.Errorf("saving conversation: %w", err)
		}
		audit := &model.LeadScoreAudit{
			ID:             id.New(),
			ConversationID: &record.ID,
			LeadKey:        leadKey,
			Gate:           eval.Score.Gate,
			Score:          eval.Score.Score,
			Segment:        eval.Score.Segment,
			Breakdown:      eval.Score.Breakdown,
			Version:        eval.Score.Version,
		}
		if err := sp.LeadScoreAudits().Create(ctx, audit); err != nil {
			return fmt.Errorf("saving score audit: %w", err)
		}
		return nil
	}); err != nil {
		s.releaseBroker(ctx, result.Broker)
		return nil, err
	}

	if result.Degraded {
		result.Message = MessageDegraded
	} else {
		result.Message = fmt.Sprintf(MessageAssigned, result.BrokerName)
	}

	slog.InfoContext(ctx, "lead submitted",
		"score", eval.Score.Score,
		"segment", eval.Score.Segment,
		"persona", eval.Persona.ID,
		"degraded", result.Degraded)
	return result, nil
}

type openedConversation struct {
	ID        int64
	ContactID int64
}

func (s *leadIntakeService) openConversation(ctx context.Context, snap model.LeadSnapshot, identifier string, attrs map[string]any) (*openedConversation, error) {
	contact, err := s.chat.CreateContact(ctx, chatwoot.ContactInput{
		Name:        snap.Name,
		Email:       snap.Email,
		PhoneNumber: snap.Phone,
		Identifier:  identifier,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat contact: %w", err)
	}

	conv, err := s.chat.CreateConversation(ctx, chatwoot.ConversationInput{
		ContactID:        contact.ID,
		SourceID:         contact.SourceID(s.inboxID),
		CustomAttributes: attrs,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat conversation: %w", err)
	}
	return &openedConversation{ID: conv.ID, ContactID: contact.ID}, nil
}

func (s *leadIntakeService) releaseBroker(ctx context.Context, b *model.Broker) {
	if b != nil {
		s.availability.ReleaseBrokerCapacity(context.WithoutCancel(ctx), b.ID)
	}
}

func resolveGate(snap model.LeadSnapshot, gate model.Gate) model.Gate {
	if gate.Valid() {
		return gate
	}
	if snap.Gate.Valid() {
		return snap.Gate
	}
	return model.GateG1
}
