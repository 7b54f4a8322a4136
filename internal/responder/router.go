package responder

import (
	"errors"

	"brokerdesk.sg/relay/common/llm"
)

var ErrNoModel = errors.New("no model configured")

// Router picks the chat client for a tier. A missing tier borrows the
// nearest configured one, so a single model can serve every intent.
type Router struct {
	clients map[Tier]llm.ChatClient
}

func NewRouter(fast, standard, reasoning llm.ChatClient) *Router {
	clients := make(map[Tier]llm.ChatClient, 3)
	if fast != nil {
		clients[TierFast] = fast
	}
	if standard != nil {
		clients[TierStandard] = standard
	}
	if reasoning != nil {
		clients[TierReasoning] = reasoning
	}
	return &Router{clients: clients}
}

var tierFallbacks = map[Tier][]Tier{
	TierFast:      {TierFast, TierStandard, TierReasoning},
	TierStandard:  {TierStandard, TierReasoning, TierFast},
	TierReasoning: {TierReasoning, TierStandard, TierFast},
}

// Client returns the client serving want and the tier it actually belongs to.
func (r *Router) Client(want Tier) (llm.ChatClient, Tier, error) {
	order, ok := tierFallbacks[want]
	if !ok {
		order = tierFallbacks[TierStandard]
	}
	for _, t := range order {
		if c, ok := r.clients[t]; ok {
			return c, t, nil
		}
	}
	return nil, "", ErrNoModel
}
