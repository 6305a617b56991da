package workflow_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/payment-engine/billing"
	"github.com/warp/payment-engine/workflow"
)

func usd(s string) billing.Money {
	return billing.MustParseMoney(s, billing.USD)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestComputeWithholding_DefaultRates(t *testing.T) {
	// GIVEN: Gross 1000 with 22% federal, 5% state, 7.65% FICA
	// THEN: withholding is 346.50 and net is 653.50

	w := workflow.ComputeWithholding(usd("1000"), dec("0.22"), dec("0.05"))

	assert.Equal(t, "220.00", w.Federal.String())
	assert.Equal(t, "50.00", w.State.String())
	assert.Equal(t, "76.50", w.FICA.String())
	assert.Equal(t, "346.50", w.Total.String())
	assert.Equal(t, "653.50", w.Net.String())
}

func TestComputeWithholding_ComponentsSumToGross(t *testing.T) {
	// Property: federal + state + fica + net == gross to the cent, even when
	// each component needs rounding.
	grosses := []string{"0", "0.01", "0.99", "1", "333.33", "1000", "1234.57", "99999.99"}
	rates := [][2]string{{"0.22", "0.05"}, {"0.1", "0"}, {"0.333", "0.0425"}, {"0", "0"}}

	for _, g := range grosses {
		for _, r := range rates {
			w := workflow.ComputeWithholding(usd(g), dec(r[0]), dec(r[1]))
			sum := w.Federal.Add(w.State).Add(w.FICA).Add(w.Net)
			assert.True(t, sum.Equal(w.Gross), "gross %s rates %v: components sum to %s", g, r, sum)
			assert.Equal(t, w.Net.Value.Round(2), w.Net.Value, "net must stay at cent precision")
		}
	}
}

func TestComputeWithholding_Metadata(t *testing.T) {
	w := workflow.ComputeWithholding(usd("1000"), dec("0.22"), dec("0.05"))
	md := w.Metadata()

	assert.Equal(t, "1000.00", md["grossAmount"])
	assert.Equal(t, "346.50", md["totalWithholding"])
	assert.Equal(t, "653.50", md["netAmount"])
	assert.Equal(t, "0.0765", md["ficaRate"])
}
