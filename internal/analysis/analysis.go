// Package analysis computes the instant affordability and savings figures shown
// to a lead after each form step. All functions are pure.
package analysis

import (
	"math"
	"strings"

	"brokerdesk.sg/relay/internal/model"
)

const (
	// Regulatory servicing ceilings, as a share of gross monthly income.
	TDSRLimit = 0.55
	MSRLimit  = 0.30

	// StressRate is the annual rate (percent) used when testing affordability.
	StressRate = 4.0

	DefaultTenureYears = 25
	MaxTenureYears     = 35

	// DefaultLTV is assumed when only a purchase price is known.
	DefaultLTV = 0.75

	// ReferenceRate is the package rate (percent) quoted for refinance savings.
	ReferenceRate = 2.6
)

// MonthlyInstallment is the amortised monthly repayment for principal at an
// annual percentage rate over the given years.
func MonthlyInstallment(principal, annualRatePct float64, years int) float64 {
	if principal <= 0 || years <= 0 {
		return 0
	}
	n := float64(years * 12)
	r := annualRatePct / 100 / 12
	if r <= 0 {
		return principal / n
	}
	f := math.Pow(1+r, n)
	return principal * r * f / (f - 1)
}

// PrincipalFor inverts MonthlyInstallment: the loan a given monthly payment
// can service.
func PrincipalFor(payment, annualRatePct float64, years int) float64 {
	if payment <= 0 || years <= 0 {
		return 0
	}
	n := float64(years * 12)
	r := annualRatePct / 100 / 12
	if r <= 0 {
		return payment * n
	}
	return payment * (1 - math.Pow(1+r, -n)) / r
}

// TenureYears normalises the tenure field to [1, MaxTenureYears], defaulting
// when absent.
func TenureYears(s model.LeadSnapshot) int {
	t := int(math.Round(s.Tenure.Float()))
	switch {
	case t <= 0:
		return DefaultTenureYears
	case t > MaxTenureYears:
		return MaxTenureYears
	default:
		return t
	}
}

// LoanFor picks the loan figure the lead is asking about: the requested
// amount, the outstanding balance for refinancing, or a default share of the
// purchase price.
func LoanFor(s model.LeadSnapshot) float64 {
	if s.LoanAmount.Present() && s.LoanAmount > 0 {
		return s.LoanAmount.Float()
	}
	if s.LoanType == model.LoanTypeRefinance && s.OutstandingLoan > 0 {
		return s.OutstandingLoan.Float()
	}
	if s.PropertyPrice > 0 {
		return s.PropertyPrice.Float() * DefaultLTV
	}
	if s.OutstandingLoan > 0 {
		return s.OutstandingLoan.Float()
	}
	return 0
}

// PropertyWorth is the valuation if known, else the purchase price.
func PropertyWorth(s model.LeadSnapshot) float64 {
	if s.PropertyValue > 0 {
		return s.PropertyValue.Float()
	}
	if s.PropertyPrice > 0 {
		return s.PropertyPrice.Float()
	}
	return 0
}

// LTV is outstanding balance over valuation for refinancing leads. ok is false
// when either side is missing.
func LTV(s model.LeadSnapshot) (ltv float64, ok bool) {
	if s.PropertyValue <= 0 || s.OutstandingLoan <= 0 {
		return 0, false
	}
	return s.OutstandingLoan.Float() / s.PropertyValue.Float(), true
}

// TDSR is existing monthly debt plus the stressed installment of the
// prospective loan, over monthly income. ok is false without income.
func TDSR(s model.LeadSnapshot) (tdsr float64, ok bool) {
	if s.MonthlyIncome <= 0 {
		return 0, false
	}
	installment := MonthlyInstallment(LoanFor(s), StressRate, TenureYears(s))
	debt := math.Max(s.ExistingDebt.Float(), 0)
	return (debt + installment) / s.MonthlyIncome.Float(), true
}

// MSR is the stressed installment over income. Only HDB and EC purchases are
// bound by it.
func MSR(s model.LeadSnapshot) (msr float64, ok bool) {
	if s.MonthlyIncome <= 0 {
		return 0, false
	}
	installment := MonthlyInstallment(LoanFor(s), StressRate, TenureYears(s))
	return installment / s.MonthlyIncome.Float(), true
}

func msrApplies(s model.LeadSnapshot) bool {
	t := strings.ToLower(s.PropertyType)
	return strings.Contains(t, "hdb") || t == "ec" || strings.Contains(t, "executive")
}

// MaxLoan is the largest loan the income supports under TDSR, and MSR where it
// applies.
func MaxLoan(s model.LeadSnapshot) float64 {
	income := s.MonthlyIncome.Float()
	if income <= 0 {
		return 0
	}
	years := TenureYears(s)
	budget := income*TDSRLimit - math.Max(s.ExistingDebt.Float(), 0)
	if msrApplies(s) {
		budget = math.Min(budget, income*MSRLimit)
	}
	if budget <= 0 {
		return 0
	}
	return PrincipalFor(budget, StressRate, years)
}

// RefinanceSavings is the monthly saving from moving the outstanding balance
// from the current rate to ReferenceRate. Never negative.
func RefinanceSavings(s model.LeadSnapshot) float64 {
	if s.OutstandingLoan <= 0 || s.InterestRate <= 0 {
		return 0
	}
	years := TenureYears(s)
	current := MonthlyInstallment(s.OutstandingLoan.Float(), s.InterestRate.Float(), years)
	next := MonthlyInstallment(s.OutstandingLoan.Float(), ReferenceRate, years)
	return math.Max(current-next, 0)
}

// Estimate is the instant analysis block returned with a lead evaluation.
type Estimate struct {
	LoanAmount         float64  `json:"loanAmount"`
	MonthlyInstallment float64  `json:"monthlyInstallment"`
	StressInstallment  float64  `json:"stressInstallment"`
	MaxLoan            float64  `json:"maxLoan,omitempty"`
	TDSR               *float64 `json:"tdsr,omitempty"`
	MSR                *float64 `json:"msr,omitempty"`
	LTV                *float64 `json:"ltv,omitempty"`
	MonthlySavings     float64  `json:"monthlySavings,omitempty"`
	TenureYears        int      `json:"tenureYears"`
	WithinTDSR         *bool    `json:"withinTdsr,omitempty"`
}

// Analyze computes the estimate for a snapshot. Missing inputs leave the
// corresponding figures empty.
func Analyze(s model.LeadSnapshot) Estimate {
	years := TenureYears(s)
	loan := LoanFor(s)
	rate := ReferenceRate
	if s.InterestRate > 0 {
		rate = s.InterestRate.Float()
	}

	e := Estimate{
		LoanAmount:         round2(loan),
		MonthlyInstallment: round2(MonthlyInstallment(loan, rate, years)),
		StressInstallment:  round2(MonthlyInstallment(loan, StressRate, years)),
		MaxLoan:            round2(MaxLoan(s)),
		MonthlySavings:     round2(RefinanceSavings(s)),
		TenureYears:        years,
	}
	if v, ok := TDSR(s); ok {
		v = round4(v)
		within := v <= TDSRLimit
		e.TDSR = &v
		e.WithinTDSR = &within
	}
	if v, ok := MSR(s); ok && msrApplies(s) {
		v = round4(v)
		e.MSR = &v
	}
	if v, ok := LTV(s); ok {
		v = round4(v)
		e.LTV = &v
	}
	return e
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
