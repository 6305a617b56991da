package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payment-engine/billing"
	"github.com/warp/payment-engine/margin"
	"github.com/warp/payment-engine/store/sqlite"
	"github.com/warp/payment-engine/workflow"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func seed(t *testing.T, store *sqlite.Store, invoiceID string, amount string, typ billing.MarginType, value string, model billing.PaymentModel) {
	t.Helper()
	ctx := context.Background()
	contractID := billing.ContractID("c-" + invoiceID)
	require.NoError(t, store.SaveContract(ctx, billing.Contract{
		ID:           contractID,
		TenantID:     "tenant-1",
		Name:         "Contract " + invoiceID,
		Margin:       dec(value),
		MarginType:   typ,
		MarginPaidBy: billing.PaidByClient,
		PaymentModel: model,
		Participants: []billing.Participant{
			{Role: billing.RoleContractor, PersonID: "person-1"},
			{Role: billing.RoleClient, CompanyID: "company-1"},
		},
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, store.SaveInvoice(ctx, billing.Invoice{
		ID:          billing.InvoiceID(invoiceID),
		TenantID:    "tenant-1",
		ContractID:  contractID,
		Amount:      billing.MustParseMoney(amount, billing.USD),
		TotalAmount: billing.MustParseMoney(amount, billing.USD),
		Status:      billing.InvoiceFinalized,
		LineItems: []billing.LineItem{
			{Description: "Consulting", Quantity: dec("10"), UnitPrice: dec("100")},
		},
		CreatedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	}))
}

// =============================================================================
// CONTRACTS & INVOICES
// =============================================================================

func TestStore_InvoiceRoundTrip(t *testing.T) {
	store := newStore(t)
	seed(t, store, "inv-1", "1234.56", billing.MarginVariable, "12.5", billing.ModelSplit)

	inv, err := store.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	require.NotNil(t, inv)

	assert.Equal(t, "1234.56", inv.Amount.String())
	assert.Equal(t, billing.USD, inv.Currency())
	assert.Equal(t, billing.InvoiceFinalized, inv.Status)
	require.Len(t, inv.LineItems, 1)
	assert.True(t, inv.LineItems[0].UnitPrice.Equal(dec("100")))

	require.NotNil(t, inv.Contract, "contract is joined on read")
	assert.True(t, inv.Contract.Margin.Equal(dec("12.5")))
	assert.Equal(t, billing.ModelSplit, inv.Contract.PaymentModel)
	assert.Len(t, inv.Contract.ParticipantsWithRole(billing.RoleContractor), 1)
}

func TestStore_MissingEntitiesReturnNil(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	inv, err := store.GetInvoice(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, inv)

	c, err := store.GetContract(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, c)

	m, err := store.GetMarginRecord(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, m)
}

func TestStore_InvoiceWithUnknownContract(t *testing.T) {
	store := newStore(t)

	err := store.SaveInvoice(context.Background(), billing.Invoice{
		ID:          "inv-1",
		TenantID:    "tenant-1",
		ContractID:  "ghost",
		Amount:      billing.MustParseMoney("10", billing.USD),
		TotalAmount: billing.MustParseMoney("10", billing.USD),
		Status:      billing.InvoiceDraft,
	})

	var nf *billing.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "contract", nf.Entity)
}

// =============================================================================
// MARGINS
// =============================================================================

func TestStore_MarginLifecycle(t *testing.T) {
	// GIVEN: A VARIABLE 10% contract on a 1000 invoice, persisted in SQLite
	// WHEN: Creating the margin and overriding it twice
	// THEN: Invoice totals follow each step and history shows all overrides

	store := newStore(t)
	seed(t, store, "inv-1", "1000", billing.MarginVariable, "10", billing.ModelGross)
	svc := margin.NewService(store, store, nil)
	ctx := context.Background()

	rec, err := svc.CreateForInvoice(ctx, "inv-1", "admin-1")
	require.NoError(t, err)

	inv, err := store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "1100.00", inv.TotalAmount.String())

	_, err = svc.Override(ctx, rec.ID, margin.OverrideRequest{NewMarginPercentage: decPtr("15"), ActorID: "admin-2", Notes: "first"})
	require.NoError(t, err)
	_, err = svc.Override(ctx, rec.ID, margin.OverrideRequest{NewMarginAmount: decPtr("175.25"), ActorID: "admin-3", Notes: "second"})
	require.NoError(t, err)

	stored, err := store.GetMarginRecordByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.MarginCustom, stored.MarginType)
	assert.True(t, stored.IsOverridden)
	assert.Equal(t, "admin-3", stored.OverriddenBy)
	require.NotNil(t, stored.OverriddenAt)
	assert.Equal(t, "175.25", stored.MarginAmount.String())
	assert.True(t, stored.MarginPercentage.Equal(dec("17.525")))
	assert.Equal(t, "100.00", stored.CalculatedMargin.String())

	inv, err = store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "1175.25", inv.TotalAmount.String())

	overrides, err := store.ListMarginOverrides(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, overrides, 2)
	assert.Equal(t, "first", overrides[0].Notes)
	assert.Equal(t, "150.00", overrides[1].PreviousAmount.String())

	history, err := svc.History(ctx, "inv-1")
	require.NoError(t, err)
	assert.Len(t, history, 3)

	events, err := store.ListAuditEvents(ctx, "MarginRecord", string(rec.ID))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, billing.AuditCreate, events[0].Action)
	assert.Equal(t, billing.AuditUpdate, events[2].Action)
}

func TestStore_UniqueMarginPerInvoice(t *testing.T) {
	// GIVEN: A margin record already stored for an invoice
	// WHEN: Inserting a second record directly, bypassing the service check
	// THEN: The UNIQUE index reports a ConflictError

	store := newStore(t)
	seed(t, store, "inv-1", "1000", billing.MarginVariable, "10", billing.ModelGross)
	ctx := context.Background()

	rec := billing.MarginRecord{
		ID:               "m-1",
		InvoiceID:        "inv-1",
		ContractID:       "c-inv-1",
		MarginType:       billing.MarginVariable,
		MarginPercentage: dec("10"),
		MarginAmount:     billing.MustParseMoney("100", billing.USD),
		CalculatedMargin: billing.MustParseMoney("100", billing.USD),
	}
	require.NoError(t, store.CreateMarginRecord(ctx, rec))

	rec.ID = "m-2"
	err := store.CreateMarginRecord(ctx, rec)
	assert.ErrorIs(t, err, billing.ErrConflict)
}

func TestStore_ListMarginsByContract(t *testing.T) {
	store := newStore(t)
	seed(t, store, "inv-1", "1000", billing.MarginFixed, "50", billing.ModelGross)
	svc := margin.NewService(store, nil, nil)
	ctx := context.Background()

	_, err := svc.CreateForInvoice(ctx, "inv-1", "admin-1")
	require.NoError(t, err)

	recs, err := store.ListMarginsByContract(ctx, "c-inv-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].MarginPercentage.Equal(dec("5")))
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestStore_DispatchPersistsPaymentsAndGuard(t *testing.T) {
	// GIVEN: A PAYROLL_WE_PAY invoice of 1000
	// WHEN: Dispatching twice
	// THEN: One net payment with its breakdown; the second call conflicts

	store := newStore(t)
	seed(t, store, "inv-1", "1000", billing.MarginCustom, "0", billing.ModelPayrollWePay)
	d := workflow.NewDispatcher(store, store, nil, workflow.DefaultConfig())
	ctx := context.Background()
	req := workflow.ExecuteRequest{InvoiceID: "inv-1", ActorID: "admin-1"}

	res, err := d.Execute(ctx, req)
	require.NoError(t, err)
	assert.Len(t, res.Tasks, 3)

	payments, err := store.ListPaymentRecords(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "653.50", payments[0].Amount.String())
	assert.Equal(t, billing.PaymentPendingProcessing, payments[0].Status)
	assert.Equal(t, billing.MethodInternalPayroll, payments[0].Method)
	assert.Equal(t, "76.50", payments[0].Metadata["fica"])
	assert.Equal(t, "PAYROLL_WE_PAY", payments[0].Metadata["paymentModel"])

	_, err = d.Execute(ctx, req)
	assert.ErrorIs(t, err, billing.ErrConflict)

	events, err := store.ListAuditEvents(ctx, "Payment", "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "PAYROLL_WE_PAY", events[0].Metadata["paymentModel"])
}

func TestStore_WithTxRollsBack(t *testing.T) {
	store := newStore(t)
	seed(t, store, "inv-1", "1000", billing.MarginCustom, "0", billing.ModelSplit)
	ctx := context.Background()
	boom := errors.New("handler failed")

	err := store.WithTx(ctx, func(r billing.Repository) error {
		require.NoError(t, r.RecordWorkflowRun(ctx, billing.WorkflowRun{
			ID: "run-1", InvoiceID: "inv-1", PaymentModel: billing.ModelSplit, ActorID: "a",
		}))
		require.NoError(t, r.CreatePaymentRecord(ctx, billing.PaymentRecord{
			ID: "pay-1", InvoiceID: "inv-1", TenantID: "tenant-1",
			Amount: billing.MustParseMoney("600", billing.USD), Status: billing.PaymentPending,
			Method: billing.MethodBankTransfer,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	payments, err := store.ListPaymentRecords(ctx, "inv-1")
	require.NoError(t, err)
	assert.Empty(t, payments)

	// The guard row was rolled back with the payment.
	err = store.RecordWorkflowRun(ctx, billing.WorkflowRun{
		ID: "run-2", InvoiceID: "inv-1", PaymentModel: billing.ModelSplit, ActorID: "a",
	})
	assert.NoError(t, err)
}

func TestStore_PaymentForUnknownInvoice(t *testing.T) {
	store := newStore(t)

	err := store.CreatePaymentRecord(context.Background(), billing.PaymentRecord{
		ID: "pay-1", InvoiceID: "ghost", Amount: billing.MustParseMoney("1", billing.USD),
		Status: billing.PaymentPending, Method: billing.MethodBankTransfer,
	})

	assert.True(t, billing.IsNotFound(err))
}

func TestStore_Reset(t *testing.T) {
	store := newStore(t)
	seed(t, store, "inv-1", "1000", billing.MarginVariable, "10", billing.ModelGross)
	ctx := context.Background()

	require.NoError(t, store.Reset(ctx))

	inv, err := store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Nil(t, inv)
}
