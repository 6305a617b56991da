package factory

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payment-engine/billing"
)

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestFactory() *Factory {
	return &Factory{Now: func() time.Time { return fixedNow }}
}

func TestParseContract(t *testing.T) {
	// GIVEN: A complete contract document
	// WHEN: Parsing it
	// THEN: Every field reaches the billing contract
	f := newTestFactory()

	c, err := f.ParseContract([]byte(`{
		"id": "c-100",
		"tenant_id": "tenant-1",
		"name": "Acme staffing",
		"margin": "12.5",
		"margin_type": "VARIABLE",
		"margin_paid_by": "client",
		"payment_model": "SPLIT",
		"participants": [
			{"role": "contractor", "person_id": "p-1"},
			{"role": "agency", "company_id": "co-9"}
		],
		"created_at": "2024-01-15T10:00:00Z"
	}`))
	require.NoError(t, err)

	assert.Equal(t, billing.ContractID("c-100"), c.ID)
	assert.Equal(t, billing.TenantID("tenant-1"), c.TenantID)
	assert.Equal(t, billing.MarginVariable, c.MarginType)
	assert.True(t, c.Margin.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, billing.PaidByClient, c.MarginPaidBy)
	assert.Equal(t, billing.ModelSplit, c.PaymentModel)
	require.Len(t, c.Participants, 2)
	assert.Equal(t, "co-9", c.Participants[1].CompanyID)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), c.CreatedAt)
}

func TestParseContract_CustomMarginNeedsNoValue(t *testing.T) {
	c, err := newTestFactory().ParseContract([]byte(`{
		"id": "c-1", "tenant_id": "t", "margin_type": "CUSTOM", "payment_model": "GROSS"
	}`))
	require.NoError(t, err)
	assert.True(t, c.Margin.IsZero())
	assert.Equal(t, fixedNow, c.CreatedAt)
}

func TestParseContract_StructuralProblems(t *testing.T) {
	// GIVEN: A contract missing its id with a bad model and a bad participant
	// WHEN: Parsing it
	// THEN: All problems are reported together under JSON field names
	_, err := newTestFactory().ParseContract([]byte(`{
		"tenant_id": "tenant-1",
		"margin_type": "VARIABLE",
		"margin": "10",
		"payment_model": "BARTER",
		"participants": [{"role": "contractor"}]
	}`))

	var verr *billing.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "contract", verr.Field)
	assert.Len(t, verr.Problems, 3)
	assert.Contains(t, verr.Problems, "id: is required")
	assert.Contains(t, verr.Problems, "payment_model: must be one of: GROSS PAYROLL PAYROLL_WE_PAY SPLIT")
	assert.Contains(t, verr.Problems, "participants[0].person_id: is required when CompanyID is not set")
}

func TestParseContract_MarginRanges(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "percentage over 100",
			doc:  `{"id":"c","tenant_id":"t","margin":"150","margin_type":"VARIABLE","payment_model":"GROSS"}`,
			want: "margin percentage must be between 0 and 100",
		},
		{
			name: "negative fixed amount",
			doc:  `{"id":"c","tenant_id":"t","margin":"-5","margin_type":"FIXED","payment_model":"GROSS"}`,
			want: "margin amount cannot be negative",
		},
		{
			name: "missing percentage",
			doc:  `{"id":"c","tenant_id":"t","margin_type":"VARIABLE","payment_model":"GROSS"}`,
			want: "margin percentage is required",
		},
		{
			name: "not a decimal",
			doc:  `{"id":"c","tenant_id":"t","margin":"ten","margin_type":"FIXED","payment_model":"GROSS"}`,
			want: "is not a decimal",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestFactory().ParseContract([]byte(tt.doc))
			var verr *billing.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Len(t, verr.Problems, 1)
			assert.Contains(t, verr.Problems[0], tt.want)
		})
	}
}

func TestParseContract_InvalidJSON(t *testing.T) {
	_, err := newTestFactory().ParseContract([]byte(`{`))
	assert.True(t, billing.IsClientError(err))
}

func TestContractToJSON_RoundTrip(t *testing.T) {
	f := newTestFactory()
	c, err := f.ParseContract([]byte(`{
		"id": "c-1", "tenant_id": "t", "margin": "250", "margin_type": "FIXED",
		"payment_model": "PAYROLL", "participants": [{"role": "client", "company_id": "co-1"}]
	}`))
	require.NoError(t, err)

	again, err := f.ContractFromJSON(f.ContractToJSON(c))
	require.NoError(t, err)
	assert.Equal(t, c, again)
}

func TestParseInvoice(t *testing.T) {
	// GIVEN: An invoice document in a zero-decimal currency
	// WHEN: Parsing it
	// THEN: The amount is rounded to the currency and the total starts equal to it
	inv, err := newTestFactory().ParseInvoice([]byte(`{
		"id": "inv-1",
		"tenant_id": "tenant-1",
		"contract_id": "c-1",
		"currency": "JPY",
		"amount": "120000.4",
		"status": "finalized",
		"line_items": [{"description": "March", "quantity": "1", "unit_price": "120000.4"}]
	}`))
	require.NoError(t, err)

	assert.Equal(t, billing.Currency("JPY"), inv.Currency())
	assert.Equal(t, "120000", inv.Amount.String())
	assert.True(t, inv.TotalAmount.Equal(inv.Amount))
	assert.True(t, inv.MarginAmount.IsZero())
	assert.Equal(t, billing.InvoiceFinalized, inv.Status)
	require.Len(t, inv.LineItems, 1)
	assert.Equal(t, fixedNow, inv.CreatedAt)
}

func TestParseInvoice_Defaults(t *testing.T) {
	inv, err := newTestFactory().ParseInvoice([]byte(`{
		"id": "inv-1", "tenant_id": "t", "contract_id": "c-1", "amount": "1000"
	}`))
	require.NoError(t, err)
	assert.Equal(t, billing.USD, inv.Currency())
	assert.Equal(t, billing.InvoiceDraft, inv.Status)
}

func TestParseInvoice_Problems(t *testing.T) {
	_, err := newTestFactory().ParseInvoice([]byte(`{
		"id": "inv-1", "tenant_id": "t", "contract_id": "c-1",
		"amount": "-10",
		"created_at": "yesterday",
		"line_items": [{"description": "x", "quantity": "one", "unit_price": "5"}]
	}`))

	var verr *billing.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 3)
}

func TestParseInvoice_BadCurrency(t *testing.T) {
	_, err := newTestFactory().ParseInvoice([]byte(`{
		"id": "inv-1", "tenant_id": "t", "contract_id": "c-1", "amount": "10", "currency": "usd"
	}`))

	var verr *billing.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"currency: must be upper case"}, verr.Problems)
}
