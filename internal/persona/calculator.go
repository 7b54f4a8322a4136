// Package persona maps a lead score to the broker persona that fronts the
// conversation. Bands and pools are configuration; see personas.yaml.
package persona

import (
	"fmt"
	"sort"

	"brokerdesk.sg/relay/internal/model"
)

type Calculator struct {
	bands    []Band
	personas map[string]model.BrokerPersona
	tie      TieBreaker
}

// NewCalculator validates cfg and builds a calculator. A nil tie breaker
// defaults to HashTieBreaker.
func NewCalculator(cfg Config, tie TieBreaker) (*Calculator, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if tie == nil {
		tie = HashTieBreaker{}
	}

	personas := make(map[string]model.BrokerPersona, len(cfg.Personas))
	for _, p := range cfg.Personas {
		personas[p.ID] = p
	}

	return &Calculator{
		bands:    cfg.Bands,
		personas: personas,
		tie:      tie,
	}, nil
}

// SelectPersona returns the persona for score. Scores below every band use the
// lowest band.
func (c *Calculator) SelectPersona(score int, s model.LeadSnapshot) model.BrokerPersona {
	band := c.bandFor(score)

	candidates := make([]model.BrokerPersona, 0, len(band.Pool))
	for _, id := range band.Pool {
		if p, ok := c.personas[id]; ok && p.HasSpecialty(string(s.LoanType)) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		for _, id := range band.Pool {
			candidates = append(candidates, c.personas[id])
		}
	}

	key := fmt.Sprintf("%d|%s", score, s.Identity())
	return candidates[c.tie.Pick(key, len(candidates))]
}

// Get looks up a persona by id, used when a conversation is rehydrated.
func (c *Calculator) Get(id string) (model.BrokerPersona, bool) {
	p, ok := c.personas[id]
	return p, ok
}

// Personas returns every configured persona ordered by id.
func (c *Calculator) Personas() []model.BrokerPersona {
	out := make([]model.BrokerPersona, 0, len(c.personas))
	for _, p := range c.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Calculator) bandFor(score int) Band {
	for _, b := range c.bands {
		if score >= b.MinScore {
			return b
		}
	}
	return c.bands[len(c.bands)-1]
}
