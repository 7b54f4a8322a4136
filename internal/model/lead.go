package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

type Gate string

const (
	GateG1 Gate = "G1"
	GateG2 Gate = "G2"
	GateG3 Gate = "G3"
)

func (g Gate) Valid() bool {
	switch g {
	case GateG1, GateG2, GateG3:
		return true
	}
	return false
}

type LoanType string

const (
	LoanTypeNewPurchase LoanType = "new_purchase"
	LoanTypeRefinance   LoanType = "refinance"
	LoanTypeCommercial  LoanType = "commercial"
	LoanTypeCashEquity  LoanType = "cash_equity"
)

func (t LoanType) Valid() bool {
	switch t {
	case LoanTypeNewPurchase, LoanTypeRefinance, LoanTypeCommercial, LoanTypeCashEquity:
		return true
	}
	return false
}

// Amount is a numeric form field. Forms post numbers, numeric strings such as
// "S$500,000", or nothing at all. Anything that does not parse becomes 0.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*a = 0
			return nil
		}
		*a = ParseAmount(s)
		return nil
	}

	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		*a = 0
		return nil
	}
	*a = Amount(f)
	return nil
}

func (a Amount) Float() float64 {
	return float64(a)
}

func (a Amount) Present() bool {
	return a != 0
}

// ParseAmount coerces a free-form numeric string to an Amount, returning 0 for
// anything malformed.
func ParseAmount(s string) Amount {
	cleaned := strings.NewReplacer(",", "", "$", "", "S", "", " ", "", "%", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return Amount(f)
}

// LeadSnapshot is the form state captured at one gate submission. A newer
// snapshot supersedes an older one; snapshots are never edited in place.
type LeadSnapshot struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`

	LoanType         LoanType `json:"loanType,omitempty"`
	PropertyCategory string   `json:"propertyCategory,omitempty"`
	PropertyType     string   `json:"propertyType,omitempty"`

	PropertyPrice   Amount `json:"propertyPrice,omitempty"`
	PropertyValue   Amount `json:"propertyValue,omitempty"`
	LoanAmount      Amount `json:"loanAmount,omitempty"`
	MonthlyIncome   Amount `json:"monthlyIncome,omitempty"`
	ExistingDebt    Amount `json:"existingDebt,omitempty"`
	InterestRate    Amount `json:"interestRate,omitempty"`
	Tenure          Amount `json:"tenure,omitempty"`
	OutstandingLoan Amount `json:"outstandingLoan,omitempty"`
	CombinedAge     Amount `json:"combinedAge,omitempty"`

	Urgency          string `json:"urgency,omitempty"`
	PurchaseTimeline string `json:"purchaseTimeline,omitempty"`
	LockInStatus     string `json:"lockInStatus,omitempty"`
	CurrentBank      string `json:"currentBank,omitempty"`
	EmploymentType   string `json:"employmentType,omitempty"`

	Gate        Gate      `json:"gate,omitempty"`
	SubmittedAt time.Time `json:"submittedAt,omitempty"`
}

// Field names used by completeness checks. They match the JSON keys.
const (
	FieldName             = "name"
	FieldEmail            = "email"
	FieldPhone            = "phone"
	FieldLoanType         = "loanType"
	FieldPropertyCategory = "propertyCategory"
	FieldPropertyType     = "propertyType"
	FieldPropertyPrice    = "propertyPrice"
	FieldPropertyValue    = "propertyValue"
	FieldLoanAmount       = "loanAmount"
	FieldMonthlyIncome    = "monthlyIncome"
	FieldExistingDebt     = "existingDebt"
	FieldInterestRate     = "interestRate"
	FieldTenure           = "tenure"
	FieldOutstandingLoan  = "outstandingLoan"
	FieldCombinedAge      = "combinedAge"
	FieldUrgency          = "urgency"
	FieldPurchaseTimeline = "purchaseTimeline"
	FieldLockInStatus     = "lockInStatus"
	FieldCurrentBank      = "currentBank"
	FieldEmploymentType   = "employmentType"
)

// Has reports whether a field carries a value. Empty strings and zero
// amounts count as absent.
func (s LeadSnapshot) Has(field string) bool {
	switch field {
	case FieldName:
		return strings.TrimSpace(s.Name) != ""
	case FieldEmail:
		return strings.TrimSpace(s.Email) != ""
	case FieldPhone:
		return strings.TrimSpace(s.Phone) != ""
	case FieldLoanType:
		return strings.TrimSpace(string(s.LoanType)) != ""
	case FieldPropertyCategory:
		return strings.TrimSpace(s.PropertyCategory) != ""
	case FieldPropertyType:
		return strings.TrimSpace(s.PropertyType) != ""
	case FieldPropertyPrice:
		return s.PropertyPrice.Present()
	case FieldPropertyValue:
		return s.PropertyValue.Present()
	case FieldLoanAmount:
		return s.LoanAmount.Present()
	case FieldMonthlyIncome:
		return s.MonthlyIncome.Present()
	case FieldExistingDebt:
		return s.ExistingDebt.Present()
	case FieldInterestRate:
		return s.InterestRate.Present()
	case FieldTenure:
		return s.Tenure.Present()
	case FieldOutstandingLoan:
		return s.OutstandingLoan.Present()
	case FieldCombinedAge:
		return s.CombinedAge.Present()
	case FieldUrgency:
		return strings.TrimSpace(s.Urgency) != ""
	case FieldPurchaseTimeline:
		return strings.TrimSpace(s.PurchaseTimeline) != ""
	case FieldLockInStatus:
		return strings.TrimSpace(s.LockInStatus) != ""
	case FieldCurrentBank:
		return strings.TrimSpace(s.CurrentBank) != ""
	case FieldEmploymentType:
		return strings.TrimSpace(s.EmploymentType) != ""
	default:
		return false
	}
}

// Identity returns a stable key for the lead, used wherever a per-lead
// deterministic choice is needed. It never leaves the process.
func (s LeadSnapshot) Identity() string {
	if email := strings.ToLower(strings.TrimSpace(s.Email)); email != "" {
		return email
	}
	if phone := strings.TrimSpace(s.Phone); phone != "" {
		return phone
	}
	return strings.ToLower(strings.TrimSpace(s.Name))
}
