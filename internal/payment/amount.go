package payment

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/walletbot/internal/apperr"
)

// ValidationReason says which amount rule was violated.
type ValidationReason string

const (
	ReasonFormat      ValidationReason = "format"
	ReasonNotPositive ValidationReason = "not_positive"
	ReasonPrecision   ValidationReason = "precision"
	ReasonMinimum     ValidationReason = "minimum"
	ReasonStep        ValidationReason = "step"
)

// ValidationError reports a rejected custom amount.
type ValidationError struct {
	Reason ValidationReason
	Rule   AmountRule
	Input  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid amount %q: %s", e.Input, e.Reason)
}

// ErrorKind classifies the error for the dispatcher.
func (e *ValidationError) ErrorKind() apperr.Kind { return apperr.KindValidation }

// Code is used as the err_code log field.
func (e *ValidationError) Code() string {
	return "VALIDATION_" + strings.ToUpper(string(e.Reason))
}

// AmountRule constrains user-entered deposit amounts.
type AmountRule struct {
	Minimum decimal.Decimal
	Step    decimal.Decimal
	// Scale is the number of decimal places the currency's minimal unit allows.
	Scale int32
}

// DefaultAmountRule is a minimum of 100 in steps of 50 with kopeck precision.
var DefaultAmountRule = AmountRule{
	Minimum: decimal.NewFromInt(100),
	Step:    decimal.NewFromInt(50),
	Scale:   2,
}

var amountPattern = regexp.MustCompile(`^\d+([.,]\d+)?$`)

// Parse validates text against the rule. Checks run in a fixed order so
// that an amount below the minimum is reported as such even if it also
// violates the step.
func (r AmountRule) Parse(text string) (decimal.Decimal, error) {
	input := strings.TrimSpace(text)
	fail := func(reason ValidationReason) (decimal.Decimal, error) {
		return decimal.Zero, &ValidationError{Reason: reason, Rule: r, Input: input}
	}
	normalized := strings.ReplaceAll(strings.ReplaceAll(input, " ", ""), ",", ".")
	if !amountPattern.MatchString(normalized) {
		return fail(ReasonFormat)
	}
	amount, err := decimal.NewFromString(normalized)
	if err != nil {
		return fail(ReasonFormat)
	}
	if !amount.IsPositive() {
		return fail(ReasonNotPositive)
	}
	if !amount.Equal(amount.Truncate(r.Scale)) {
		return fail(ReasonPrecision)
	}
	if amount.LessThan(r.Minimum) {
		return fail(ReasonMinimum)
	}
	if r.Step.IsPositive() && !amount.Mod(r.Step).IsZero() {
		return fail(ReasonStep)
	}
	return amount, nil
}

// Check validates an amount that is already parsed, such as one taken
// from a fixed-amount button.
func (r AmountRule) Check(amount decimal.Decimal) error {
	_, err := r.Parse(amount.String())
	return err
}
