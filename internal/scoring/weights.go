package scoring

import "brokerdesk.sg/relay/internal/model"

// Version identifies the point values below. Bump it when changing them so
// audit rows can be compared.
const Version = "2026-g3.4"

// Weights holds every tunable point value of the scoring model.
type Weights struct {
	CompletenessMax int
	// FieldBonus is awarded per loan-type-specific field present at G2.
	FieldBonus int

	FinanceMax       int
	G1Penalty        int
	G2Incomplete     int
	G2LowLTVBonus    int
	G2HighLTVPenalty int
	LowLTV           float64
	HighLTV          float64
	NoIncomePenalty  int
	TDSRSoftLimit    float64
	TDSRSoftPenalty  int
	TDSRHardLimit    float64
	TDSRHardPenalty  int

	UrgencyMax     int
	UrgencyDefault int
	UrgencyMap     map[string]int

	Engagement map[model.Gate]int

	Required map[model.Gate]map[model.LoanType][]string
	Bonus    map[model.LoanType][]string
}

var g1Required = []string{
	model.FieldName, model.FieldEmail, model.FieldPhone,
	model.FieldLoanType, model.FieldPropertyCategory, model.FieldPropertyType,
}

var g2Required = map[model.LoanType][]string{
	model.LoanTypeNewPurchase: {
		model.FieldName, model.FieldEmail, model.FieldPhone, model.FieldLoanType,
		model.FieldPropertyCategory, model.FieldPropertyType,
		model.FieldPropertyPrice, model.FieldCombinedAge,
	},
	model.LoanTypeRefinance: {
		model.FieldName, model.FieldEmail, model.FieldPhone, model.FieldLoanType,
		model.FieldPropertyType, model.FieldPropertyValue,
		model.FieldOutstandingLoan, model.FieldLockInStatus,
	},
	model.LoanTypeCommercial: {
		model.FieldName, model.FieldEmail, model.FieldPhone, model.FieldLoanType,
		model.FieldPropertyCategory, model.FieldPropertyType,
		model.FieldPropertyPrice, model.FieldLoanAmount,
	},
	model.LoanTypeCashEquity: {
		model.FieldName, model.FieldEmail, model.FieldPhone, model.FieldLoanType,
		model.FieldPropertyType, model.FieldPropertyValue, model.FieldOutstandingLoan,
	},
}

func withIncome(fields []string) []string {
	out := make([]string, 0, len(fields)+2)
	out = append(out, fields...)
	return append(out, model.FieldMonthlyIncome, model.FieldEmploymentType)
}

func DefaultWeights() Weights {
	g1 := make(map[model.LoanType][]string, len(g2Required))
	g3 := make(map[model.LoanType][]string, len(g2Required))
	for lt, fields := range g2Required {
		g1[lt] = g1Required
		g3[lt] = withIncome(fields)
	}

	// A G1 lead starts from 26 points before completeness (finance 40-25,
	// default urgency 8, engagement 3), so a loan type plus one contact field
	// scores 36. That is still Cold; the floor is not tuned below 25.
	return Weights{
		CompletenessMax: 30,
		FieldBonus:      2,

		FinanceMax:       40,
		G1Penalty:        25,
		G2Incomplete:     5,
		G2LowLTVBonus:    5,
		G2HighLTVPenalty: 10,
		LowLTV:           0.60,
		HighLTV:          0.80,
		NoIncomePenalty:  20,
		TDSRSoftLimit:    0.55,
		TDSRSoftPenalty:  15,
		TDSRHardLimit:    0.65,
		TDSRHardPenalty:  25,

		UrgencyMax:     20,
		UrgencyDefault: 8,
		UrgencyMap: map[string]int{
			"immediate":       20,
			"this_month":      20,
			"next_month":      15,
			"ending_soon":     15,
			"next_3_months":   12,
			"within_6_months": 8,
			"6_months_plus":   5,
		},

		Engagement: map[model.Gate]int{
			model.GateG1: 3,
			model.GateG2: 7,
			model.GateG3: 10,
		},

		Required: map[model.Gate]map[model.LoanType][]string{
			model.GateG1: g1,
			model.GateG2: g2Required,
			model.GateG3: g3,
		},
		Bonus: map[model.LoanType][]string{
			model.LoanTypeRefinance:   {model.FieldOutstandingLoan, model.FieldLockInStatus},
			model.LoanTypeNewPurchase: {model.FieldPurchaseTimeline, model.FieldLoanAmount},
			model.LoanTypeCommercial:  {model.FieldLoanAmount, model.FieldUrgency},
			model.LoanTypeCashEquity:  {model.FieldCurrentBank, model.FieldInterestRate},
		},
	}
}

// requiredFields falls back to the new purchase list for unknown loan types.
func (w Weights) requiredFields(gate model.Gate, lt model.LoanType) []string {
	byType, ok := w.Required[gate]
	if !ok {
		byType = w.Required[model.GateG1]
	}
	if fields, ok := byType[lt]; ok {
		return fields
	}
	return byType[model.LoanTypeNewPurchase]
}
