package store

import "brokerdesk.sg/relay/core/db"

// Stores hands out stores bound to one querier: the pool, or a transaction
// inside db.WithTx.
type Stores struct {
	q db.Querier
}

func NewStores(q db.Querier) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Brokers() BrokerStore {
	return newBrokerStore(s.q)
}

func (s *Stores) Conversations() ConversationStore {
	return newConversationStore(s.q)
}

func (s *Stores) Jobs() JobStore {
	return newJobStore(s.q)
}

func (s *Stores) LeadScoreAudits() LeadScoreAuditStore {
	return newLeadScoreAuditStore(s.q)
}
