// Package scoring turns a lead snapshot into a 0-100 score and segment. The
// engine is pure: same snapshot and gate, same result.
package scoring

import (
	"math"
	"strings"

	"brokerdesk.sg/relay/internal/analysis"
	"brokerdesk.sg/relay/internal/model"
)

type Engine struct {
	w Weights
}

func NewEngine(w Weights) *Engine {
	return &Engine{w: w}
}

// Default returns an engine with DefaultWeights.
func Default() *Engine {
	return NewEngine(DefaultWeights())
}

// Score never fails. Unknown gates are scored as G1.
func (e *Engine) Score(s model.LeadSnapshot, gate model.Gate) model.LeadScore {
	if !gate.Valid() {
		gate = model.GateG1
	}

	b := model.ScoreBreakdown{
		Completeness: e.completeness(s, gate),
		Finance:      e.finance(s, gate),
		Urgency:      e.urgency(s),
		Engagement:   clamp(e.w.Engagement[gate], 0, 100),
	}
	total := clamp(b.Sum(), 0, 100)

	return model.LeadScore{
		Score:     total,
		Segment:   model.SegmentFor(total),
		Gate:      gate,
		Breakdown: b,
		Version:   Version,
	}
}

func (e *Engine) completeness(s model.LeadSnapshot, gate model.Gate) int {
	required := e.w.requiredFields(gate, s.LoanType)
	if len(required) == 0 {
		return 0
	}

	present := 0
	for _, f := range required {
		if s.Has(f) {
			present++
		}
	}
	points := int(math.Round(float64(present) / float64(len(required)) * float64(e.w.CompletenessMax)))

	if gate == model.GateG2 {
		for _, f := range e.w.Bonus[s.LoanType] {
			if s.Has(f) {
				points += e.w.FieldBonus
			}
		}
	}
	return clamp(points, 0, e.w.CompletenessMax)
}

func (e *Engine) finance(s model.LeadSnapshot, gate model.Gate) int {
	points := e.w.FinanceMax

	switch gate {
	case model.GateG1:
		points -= e.w.G1Penalty

	case model.GateG2:
		if ltv, ok := analysis.LTV(s); ok {
			switch {
			case ltv < e.w.LowLTV:
				points += e.w.G2LowLTVBonus
			case ltv > e.w.HighLTV:
				points -= e.w.G2HighLTVPenalty
			}
		} else {
			points -= e.w.G2Incomplete
		}

	case model.GateG3:
		tdsr, ok := analysis.TDSR(s)
		if !ok {
			points -= e.w.NoIncomePenalty
			break
		}
		if tdsr > e.w.TDSRSoftLimit {
			points -= e.w.TDSRSoftPenalty
		}
		if tdsr > e.w.TDSRHardLimit {
			points -= e.w.TDSRHardPenalty
		}
	}

	return clamp(points, 0, e.w.FinanceMax)
}

// urgency reads the first populated of urgency, purchaseTimeline and
// lockInStatus. No blending.
func (e *Engine) urgency(s model.LeadSnapshot) int {
	for _, raw := range []string{s.Urgency, s.PurchaseTimeline, s.LockInStatus} {
		key := normalizeUrgency(raw)
		if key == "" {
			continue
		}
		if v, ok := e.w.UrgencyMap[key]; ok {
			return clamp(v, 0, e.w.UrgencyMax)
		}
		break
	}
	return clamp(e.w.UrgencyDefault, 0, e.w.UrgencyMax)
}

func normalizeUrgency(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
