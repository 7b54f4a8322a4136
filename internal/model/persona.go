package model

type PersonalityType string

const (
	PersonalityAggressive   PersonalityType = "aggressive"
	PersonalityBalanced     PersonalityType = "balanced"
	PersonalityConservative PersonalityType = "conservative"
	PersonalityModern       PersonalityType = "modern"
	PersonalityExclusive    PersonalityType = "exclusive"
)

func (p PersonalityType) Valid() bool {
	switch p {
	case PersonalityAggressive, PersonalityBalanced, PersonalityConservative, PersonalityModern, PersonalityExclusive:
		return true
	}
	return false
}

// BrokerPersona is the communication profile attached to a conversation.
// Tone, Pacing and Focus are the only fields that reach the prompt builder.
type BrokerPersona struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Title       string          `json:"title" yaml:"title"`
	Type        PersonalityType `json:"type" yaml:"type"`
	Tone        string          `json:"tone" yaml:"tone"`
	Pacing      string          `json:"pacing" yaml:"pacing"`
	Focus       string          `json:"focus" yaml:"focus"`
	Urgency     string          `json:"urgency" yaml:"urgency"`
	Specialties []string        `json:"specialties,omitempty" yaml:"specialties"`
}

func (p BrokerPersona) HasSpecialty(s string) bool {
	for _, sp := range p.Specialties {
		if sp == s {
			return true
		}
	}
	return false
}
