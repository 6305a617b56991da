package workflow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payment-engine/billing"
	"github.com/warp/payment-engine/workflow"
)

func TestStatus_AfterDispatch(t *testing.T) {
	// GIVEN: A freshly dispatched two-way split
	// THEN: Both payments pending, nothing completed

	f := newFixture(t)
	f.seed(t, "inv-1", billing.ModelSplit, "1000")
	_, err := execute(f, "inv-1", billing.ModelSplit, workflow.Options{
		Splits: []workflow.SplitEntry{percentSplit("p-1", "50"), percentSplit("p-2", "50")},
	})
	require.NoError(t, err)

	sum, err := workflow.NewStatusService(f.repo).Status(context.Background(), "inv-1")
	require.NoError(t, err)

	assert.Equal(t, billing.ModelSplit, sum.PaymentModel)
	assert.Equal(t, "1000.00", sum.TotalAmount.String())
	assert.Len(t, sum.Payments, 2)
	assert.Equal(t, 2, sum.PendingCount)
	assert.Equal(t, 0, sum.CompletedCount)
	assert.False(t, sum.AllCompleted)
}

func TestStatus_CountsByStatus(t *testing.T) {
	// GIVEN: Payments in completed, processing and failed states
	// THEN: failed counts as neither pending nor completed

	f := newFixture(t)
	f.seed(t, "inv-1", billing.ModelSplit, "300")
	ctx := context.Background()
	for i, st := range []billing.PaymentStatus{billing.PaymentCompleted, billing.PaymentProcessing, billing.PaymentFailed} {
		require.NoError(t, f.repo.CreatePaymentRecord(ctx, billing.PaymentRecord{
			ID:        billing.PaymentID(string(rune('a' + i))),
			InvoiceID: "inv-1",
			Amount:    usd("100"),
			Status:    st,
		}))
	}

	sum, err := workflow.NewStatusService(f.repo).Status(ctx, "inv-1")
	require.NoError(t, err)

	assert.Equal(t, 1, sum.CompletedCount)
	assert.Equal(t, 1, sum.PendingCount)
	assert.False(t, sum.AllCompleted)
}

func TestStatus_AllCompleted(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "inv-1", billing.ModelGross, "100")
	ctx := context.Background()
	require.NoError(t, f.repo.CreatePaymentRecord(ctx, billing.PaymentRecord{
		ID: "pay-1", InvoiceID: "inv-1", Amount: usd("100"), Status: billing.PaymentCompleted,
	}))

	sum, err := workflow.NewStatusService(f.repo).Status(ctx, "inv-1")
	require.NoError(t, err)

	assert.True(t, sum.AllCompleted)
	assert.Equal(t, 1, sum.CompletedCount)
}

func TestStatus_NoPaymentsIsNotCompleted(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "inv-1", billing.ModelGross, "100")

	sum, err := workflow.NewStatusService(f.repo).Status(context.Background(), "inv-1")
	require.NoError(t, err)

	assert.False(t, sum.AllCompleted)
	assert.Empty(t, sum.Payments)
}

func TestStatus_ModelComesFromContract(t *testing.T) {
	// GIVEN: A PAYROLL contract whose payment metadata claims GROSS
	// THEN: The contract's model is reported

	f := newFixture(t)
	f.seed(t, "inv-1", billing.ModelPayroll, "100")
	ctx := context.Background()
	require.NoError(t, f.repo.CreatePaymentRecord(ctx, billing.PaymentRecord{
		ID: "pay-1", InvoiceID: "inv-1", Amount: usd("100"), Status: billing.PaymentPending,
		Metadata: map[string]string{"paymentModel": "GROSS"},
	}))

	sum, err := workflow.NewStatusService(f.repo).Status(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, billing.ModelPayroll, sum.PaymentModel)
}

func TestStatus_InvoiceNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := workflow.NewStatusService(f.repo).Status(context.Background(), "missing")

	assert.True(t, billing.IsNotFound(err))
}
