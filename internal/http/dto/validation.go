package dto

import (
	"fmt"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"brokerdesk.sg/relay/internal/model"
)

// RegisterValidators adds the gate tag and the lead snapshot rules to gin's
// binding validator. Unknown loan types and gates are rejected; absent ones
// are allowed since early gates carry almost nothing.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	if err := v.RegisterValidation("gate", validateGate); err != nil {
		return fmt.Errorf("registering gate validator: %w", err)
	}
	v.RegisterStructValidation(validateLeadSnapshot, model.LeadSnapshot{})
	return nil
}

func validateGate(fl validator.FieldLevel) bool {
	return model.Gate(fl.Field().String()).Valid()
}

func validateLeadSnapshot(sl validator.StructLevel) {
	snap, ok := sl.Current().Interface().(model.LeadSnapshot)
	if !ok {
		return
	}
	if snap.LoanType != "" && !snap.LoanType.Valid() {
		sl.ReportError(snap.LoanType, model.FieldLoanType, "LoanType", "loantype", "")
	}
	if snap.Gate != "" && !snap.Gate.Valid() {
		sl.ReportError(snap.Gate, "gate", "Gate", "gate", "")
	}
	if snap.PropertyPrice < 0 || snap.PropertyValue < 0 || snap.LoanAmount < 0 ||
		snap.MonthlyIncome < 0 || snap.ExistingDebt < 0 || snap.OutstandingLoan < 0 {
		sl.ReportError(snap, "lead", "Lead", "nonnegative", "")
	}
}
