package margin

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/payment-engine/billing"
)

// MarginData is the input to ValidateMarginData. Only the field matching
// Type needs to be set.
type MarginData struct {
	Type       billing.MarginType
	Percentage *decimal.Decimal
	Amount     *decimal.Decimal
}

// Data returns the validation input for a margin configuration.
func (c Config) Data() MarginData {
	v := c.Value
	switch c.Type {
	case billing.MarginFixed:
		return MarginData{Type: c.Type, Amount: &v}
	case billing.MarginVariable:
		return MarginData{Type: c.Type, Percentage: &v}
	}
	return MarginData{Type: c.Type}
}

var maxPercentage = decimal.NewFromInt(100)

// ValidateMarginData collects every violation instead of stopping at the
// first one. An empty result means the data is valid.
func ValidateMarginData(d MarginData) []string {
	var problems []string
	if !d.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unknown margin type %q", d.Type))
	}

	switch d.Type {
	case billing.MarginVariable:
		if d.Percentage == nil {
			problems = append(problems, "margin percentage is required for VARIABLE margins")
		} else if d.Percentage.IsNegative() || d.Percentage.GreaterThan(maxPercentage) {
			problems = append(problems, fmt.Sprintf("margin percentage must be between 0 and 100, got %s", d.Percentage))
		}
	case billing.MarginFixed:
		if d.Amount == nil {
			problems = append(problems, "margin amount is required for FIXED margins")
		} else if d.Amount.IsNegative() {
			problems = append(problems, fmt.Sprintf("margin amount cannot be negative, got %s", d.Amount))
		}
	}

	// Values supplied alongside the required one are still range-checked.
	if d.Type != billing.MarginVariable && d.Percentage != nil && d.Percentage.IsNegative() {
		problems = append(problems, fmt.Sprintf("margin percentage cannot be negative, got %s", d.Percentage))
	}
	if d.Type != billing.MarginFixed && d.Amount != nil && d.Amount.IsNegative() {
		problems = append(problems, fmt.Sprintf("margin amount cannot be negative, got %s", d.Amount))
	}

	return problems
}
