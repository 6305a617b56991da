/*
Package margin computes, persists and corrects the platform's margin on an
invoice.

PURPOSE:
  A contract carries a margin configuration (FIXED amount, VARIABLE
  percentage, or CUSTOM to be set later). When an invoice is finalized the
  calculator turns that configuration into a breakdown, the service persists
  it as the invoice's single MarginRecord, and admins may later override it.

FILES:
  calculator.go: Pure Calculate(config, invoiceAmount) -> Breakdown
  validation.go: ValidateMarginData pre-check
  service.go:    CreateForInvoice, Override, History, ListByContract

DERIVABILITY:
  For every record not waiting on a CUSTOM value:
    marginAmount == invoiceAmount * marginPercentage / 100
  within rounding. Amounts round half-up to the currency minor unit,
  percentages to billing.PercentPlaces.

SEE ALSO:
  - billing/money.go: Percent / PercentOf helpers
  - workflow/: What happens to the invoice total afterwards
*/
package margin

import (
	"github.com/shopspring/decimal"
	"github.com/warp/payment-engine/billing"
)

// =============================================================================
// CONFIG & BREAKDOWN
// =============================================================================

// Config is a contract's margin configuration.
type Config struct {
	Type  billing.MarginType
	Value decimal.Decimal // absolute amount for FIXED, percentage for VARIABLE
}

// ConfigFor extracts the margin configuration of a contract.
func ConfigFor(c *billing.Contract) Config {
	return Config{Type: c.MarginType, Value: c.Margin}
}

type Breakdown struct {
	Type             billing.MarginType
	Percentage       decimal.Decimal
	Amount           billing.Money
	CalculatedMargin billing.Money
	InvoiceAmount    billing.Money
	TotalWithMargin  billing.Money
}

// =============================================================================
// CALCULATE
// =============================================================================

// Calculate derives the margin for an invoice amount. It has no side
// effects and accepts any numeric input; range checks belong to
// ValidateMarginData.
func Calculate(cfg Config, invoiceAmount billing.Money) Breakdown {
	amount := invoiceAmount.Zero()
	pct := decimal.Zero

	switch cfg.Type {
	case billing.MarginFixed:
		amount = billing.NewMoney(cfg.Value, invoiceAmount.Currency).Round()
		pct = amount.PercentOf(invoiceAmount)
	case billing.MarginVariable:
		pct = cfg.Value
		amount = invoiceAmount.Percent(pct)
	case billing.MarginCustom:
		// Supplied later through an override.
	}

	return Breakdown{
		Type:             cfg.Type,
		Percentage:       pct,
		Amount:           amount,
		CalculatedMargin: amount,
		InvoiceAmount:    invoiceAmount,
		TotalWithMargin:  invoiceAmount.Add(amount),
	}
}
