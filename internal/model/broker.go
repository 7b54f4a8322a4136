package model

import "time"

// Broker is the capacity record for a human broker. Workload fields are only
// changed through the availability manager.
type Broker struct {
	ID                  int64           `json:"id"`
	Name                string          `json:"name"`
	PersonaType         PersonalityType `json:"persona_type"`
	Specialties         []string        `json:"specialties,omitempty"`
	CurrentWorkload     int             `json:"current_workload"`
	MaxConcurrentChats  int             `json:"max_concurrent_chats"`
	ActiveConversations int             `json:"active_conversations"`
	IsAvailable         bool            `json:"is_available"`
	IsActive            bool            `json:"is_active"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// LoadRatio is the fraction of capacity in use, 1 when the cap is unusable.
func (b Broker) LoadRatio() float64 {
	if b.MaxConcurrentChats <= 0 {
		return 1
	}
	return float64(b.CurrentWorkload) / float64(b.MaxConcurrentChats)
}

func (b Broker) HasCapacity() bool {
	return b.CurrentWorkload < b.MaxConcurrentChats
}

// Reserve returns the record after taking one slot. ok is false when the
// broker was already at capacity, in which case the record is unchanged.
// The SQL store applies the same transition atomically.
func (b Broker) Reserve() (next Broker, ok bool) {
	limit := b.MaxConcurrentChats
	if limit < 1 {
		limit = 1
	}
	if b.CurrentWorkload >= limit {
		b.CurrentWorkload = limit
		b.IsAvailable = false
		return b, false
	}
	b.CurrentWorkload++
	b.ActiveConversations++
	if b.ActiveConversations < 1 {
		b.ActiveConversations = 1
	}
	b.IsAvailable = b.CurrentWorkload < limit
	return b, true
}

// Release returns the record after giving back one slot, floored at zero so
// duplicate releases are no-ops.
func (b Broker) Release() Broker {
	b.CurrentWorkload--
	if b.CurrentWorkload < 0 {
		b.CurrentWorkload = 0
	}
	if b.CurrentWorkload > b.MaxConcurrentChats {
		b.CurrentWorkload = b.MaxConcurrentChats
	}
	b.ActiveConversations--
	if b.ActiveConversations < 0 {
		b.ActiveConversations = 0
	}
	b.IsAvailable = b.CurrentWorkload < b.MaxConcurrentChats
	return b
}
