package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payment-engine/billing"
	"github.com/warp/payment-engine/workflow"
)

// recordingHandler notes which variant it was asked to handle.
type recordingHandler struct {
	called string
}

func (h *recordingHandler) Gross(workflow.Input, workflow.GrossPlan) (*workflow.Outcome, error) {
	h.called = "gross"
	return &workflow.Outcome{}, nil
}

func (h *recordingHandler) Payroll(workflow.Input, workflow.PayrollPlan) (*workflow.Outcome, error) {
	h.called = "payroll"
	return &workflow.Outcome{}, nil
}

func (h *recordingHandler) PayrollWePay(workflow.Input, workflow.PayrollWePayPlan) (*workflow.Outcome, error) {
	h.called = "payroll_we_pay"
	return &workflow.Outcome{}, nil
}

func (h *recordingHandler) Split(workflow.Input, workflow.SplitPlan) (*workflow.Outcome, error) {
	h.called = "split"
	return &workflow.Outcome{}, nil
}

func TestRun_DispatchesToMatchingVariant(t *testing.T) {
	cases := map[billing.PaymentModel]string{
		billing.ModelGross:        "gross",
		billing.ModelPayroll:      "payroll",
		billing.ModelPayrollWePay: "payroll_we_pay",
		billing.ModelSplit:        "split",
	}
	opts := workflow.Options{Splits: []workflow.SplitEntry{percentSplit("p-1", "100")}}

	for model, want := range cases {
		plan, err := workflow.ParsePlan(model, opts, workflow.DefaultConfig())
		require.NoError(t, err, model)
		assert.Equal(t, model, plan.Model())

		h := &recordingHandler{}
		_, err = workflow.Run(plan, h, workflow.Input{})
		require.NoError(t, err)
		assert.Equal(t, want, h.called, model)
	}
}

func TestParsePlan_FillsDefaults(t *testing.T) {
	cfg := workflow.DefaultConfig()

	plan, err := workflow.ParsePlan(billing.ModelPayrollWePay, workflow.Options{StateTaxRate: decPtr("0.03")}, cfg)
	require.NoError(t, err)
	wePay := plan.(workflow.PayrollWePayPlan)
	assert.True(t, wePay.FederalRate.Equal(dec("0.22")))
	assert.True(t, wePay.StateRate.Equal(dec("0.03")))

	plan, err = workflow.ParsePlan(billing.ModelPayroll, workflow.Options{}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "external", plan.(workflow.PayrollPlan).Provider)
}

func TestParsePlan_CombinedRateOverHundredPercent(t *testing.T) {
	_, err := workflow.ParsePlan(billing.ModelPayrollWePay, workflow.Options{
		FederalTaxRate: decPtr("0.6"),
		StateTaxRate:   decPtr("0.4"),
	}, workflow.DefaultConfig())

	var verr *billing.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems[0], "exceeds 100%")
}

func TestParsePlan_UnknownModel(t *testing.T) {
	_, err := workflow.ParsePlan("BARTER", workflow.Options{}, workflow.DefaultConfig())

	var rule *billing.BusinessRuleError
	require.ErrorAs(t, err, &rule)
	assert.Equal(t, "unknown payment model", rule.Rule)
	assert.Equal(t, "BARTER", rule.Detail)
}
