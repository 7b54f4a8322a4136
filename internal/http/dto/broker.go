package dto

import "brokerdesk.sg/relay/internal/model"

type BrokerResponse struct {
	ID                 int64                 `json:"id"`
	Name               string                `json:"name"`
	PersonaType        model.PersonalityType `json:"persona_type"`
	Specialties        []string              `json:"specialties"`
	CurrentWorkload    int                   `json:"current_workload"`
	MaxConcurrentChats int                   `json:"max_concurrent_chats"`
	IsAvailable        bool                  `json:"is_available"`
	LoadRatio          float64               `json:"load_ratio"`
}

type ListBrokersResponse struct {
	Brokers []BrokerResponse `json:"brokers"`
}

func ToBrokerResponse(b model.Broker) BrokerResponse {
	specialties := b.Specialties
	if specialties == nil {
		specialties = []string{}
	}
	return BrokerResponse{
		ID:                 b.ID,
		Name:               b.Name,
		PersonaType:        b.PersonaType,
		Specialties:        specialties,
		CurrentWorkload:    b.CurrentWorkload,
		MaxConcurrentChats: b.MaxConcurrentChats,
		IsAvailable:        b.IsAvailable && b.HasCapacity(),
		LoadRatio:          b.LoadRatio(),
	}
}
