package workflow

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payment-engine/billing"
)

// FICARate is the combined Social Security and Medicare rate. It is not
// configurable.
var FICARate = decimal.RequireFromString("0.0765")

// Withholding is the breakdown of an internally processed payroll payment.
type Withholding struct {
	Gross   billing.Money
	Federal billing.Money
	State   billing.Money
	FICA    billing.Money
	Total   billing.Money
	Net     billing.Money

	FederalRate decimal.Decimal
	StateRate   decimal.Decimal
}

// ComputeWithholding rounds each component to the minor unit before
// summing, then takes net as the remainder, so
// Federal + State + FICA + Net == Gross exactly.
func ComputeWithholding(gross billing.Money, federalRate, stateRate decimal.Decimal) Withholding {
	federal := gross.Mul(federalRate).Round()
	state := gross.Mul(stateRate).Round()
	fica := gross.Mul(FICARate).Round()
	total := federal.Add(state).Add(fica)

	return Withholding{
		Gross:       gross,
		Federal:     federal,
		State:       state,
		FICA:        fica,
		Total:       total,
		Net:         gross.Sub(total),
		FederalRate: federalRate,
		StateRate:   stateRate,
	}
}

// Metadata renders the breakdown as decimal strings for a payment record.
func (w Withholding) Metadata() map[string]string {
	return map[string]string{
		"grossAmount":      w.Gross.String(),
		"federalTax":       w.Federal.String(),
		"stateTax":         w.State.String(),
		"fica":             w.FICA.String(),
		"totalWithholding": w.Total.String(),
		"netAmount":        w.Net.String(),
		"federalTaxRate":   w.FederalRate.String(),
		"stateTaxRate":     w.StateRate.String(),
		"ficaRate":         FICARate.String(),
	}
}
