package dto

import (
	"brokerdesk.sg/relay/internal/analysis"
	"brokerdesk.sg/relay/internal/model"
	"brokerdesk.sg/relay/internal/service"
)

type LeadRequest struct {
	// Gate overrides lead.gate when set.
	Gate model.Gate         `json:"gate" binding:"omitempty,gate"`
	Lead model.LeadSnapshot `json:"lead"`
}

type PersonaResponse struct {
	ID      string                `json:"id"`
	Name    string                `json:"name"`
	Title   string                `json:"title"`
	Type    model.PersonalityType `json:"type"`
	Urgency string                `json:"urgency"`
}

type LeadEvaluationResponse struct {
	Score     int                  `json:"score"`
	Segment   model.Segment        `json:"segment"`
	Gate      model.Gate           `json:"gate"`
	Breakdown model.ScoreBreakdown `json:"breakdown"`
	Version   string               `json:"version"`
	Persona   PersonaResponse      `json:"persona"`
	Analysis  analysis.Estimate    `json:"analysis"`
}

type LeadSubmitResponse struct {
	LeadEvaluationResponse
	BrokerName     string `json:"broker_name"`
	ConversationID int64  `json:"conversation_id"`
	ContactID      int64  `json:"contact_id"`
	Degraded       bool   `json:"degraded"`
	Message        string `json:"message"`
}

func ToLeadEvaluationResponse(e service.Evaluation) LeadEvaluationResponse {
	return LeadEvaluationResponse{
		Score:     e.Score.Score,
		Segment:   e.Score.Segment,
		Gate:      e.Score.Gate,
		Breakdown: e.Score.Breakdown,
		Version:   e.Score.Version,
		Persona: PersonaResponse{
			ID:      e.Persona.ID,
			Name:    e.Persona.Name,
			Title:   e.Persona.Title,
			Type:    e.Persona.Type,
			Urgency: e.Persona.Urgency,
		},
		Analysis: e.Analysis,
	}
}

func ToLeadSubmitResponse(r *service.SubmitResult) LeadSubmitResponse {
	return LeadSubmitResponse{
		LeadEvaluationResponse: ToLeadEvaluationResponse(r.Evaluation),
		BrokerName:             r.BrokerName,
		ConversationID:         r.ConversationID,
		ContactID:              r.ContactID,
		Degraded:               r.Degraded,
		Message:                r.Message,
	}
}
