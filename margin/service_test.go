package margin_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payment-engine/billing"
	"github.com/warp/payment-engine/billing/store"
	"github.com/warp/payment-engine/margin"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	svc   *margin.Service
	repo  *store.Memory
	audit *store.AuditRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := store.NewMemory()
	audit := &store.AuditRecorder{}
	svc := margin.NewService(repo, audit, nil)

	clock := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	seq := 0
	svc.NewID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return &fixture{svc: svc, repo: repo, audit: audit}
}

func (f *fixture) seed(t *testing.T, invoiceID string, amount string, typ billing.MarginType, value string) {
	t.Helper()
	ctx := context.Background()
	contractID := billing.ContractID("c-" + invoiceID)
	require.NoError(t, f.repo.SaveContract(ctx, billing.Contract{
		ID:           contractID,
		TenantID:     "tenant-1",
		Margin:       dec(value),
		MarginType:   typ,
		PaymentModel: billing.ModelGross,
	}))
	require.NoError(t, f.repo.SaveInvoice(ctx, billing.Invoice{
		ID:          billing.InvoiceID(invoiceID),
		TenantID:    "tenant-1",
		ContractID:  contractID,
		Amount:      usd(amount),
		TotalAmount: usd(amount),
		Status:      billing.InvoiceFinalized,
	}))
}

func (f *fixture) invoice(t *testing.T, id string) *billing.Invoice {
	t.Helper()
	inv, err := f.repo.GetInvoice(context.Background(), billing.InvoiceID(id))
	require.NoError(t, err)
	require.NotNil(t, inv)
	return inv
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreateForInvoice_PersistsBreakdownAndTotals(t *testing.T) {
	// GIVEN: Invoice of 1000 on a 10% VARIABLE contract
	// WHEN: Creating its margin
	// THEN: Record holds 100 / 10%, not overridden; invoice total is 1100

	f := newFixture(t)
	f.seed(t, "inv-1", "1000", billing.MarginVariable, "10")

	rec, err := f.svc.CreateForInvoice(context.Background(), "inv-1", "admin-1")
	require.NoError(t, err)

	assert.Equal(t, billing.InvoiceID("inv-1"), rec.InvoiceID)
	assert.Equal(t, billing.MarginVariable, rec.MarginType)
	assert.Equal(t, "100.00", rec.MarginAmount.String())
	assert.Equal(t, "100.00", rec.CalculatedMargin.String())
	assert.True(t, rec.MarginPercentage.Equal(dec("10")))
	assert.False(t, rec.IsOverridden)

	inv := f.invoice(t, "inv-1")
	assert.Equal(t, "100.00", inv.MarginAmount.String())
	assert.Equal(t, "1100.00", inv.TotalAmount.String())
	assert.True(t, inv.TotalAmount.Equal(inv.Amount.Add(inv.MarginAmount)))

	events := f.audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, billing.AuditCreate, events[0].Action)
	assert.Equal(t, "MarginRecord", events[0].EntityType)
	assert.Equal(t, "admin-1", events[0].ActorID)
	assert.Equal(t, billing.TenantID("tenant-1"), events[0].TenantID)
}

func TestCreateForInvoice_SecondCallConflicts(t *testing.T) {
	// GIVEN: Invoice that already has a margin record
	// WHEN: Creating again (e.g. a retry)
	// THEN: ConflictError, and the first record is unchanged

	f := newFixture(t)
	f.seed(t, "inv-1", "500", billing.MarginFixed, "50")
	ctx := context.Background()

	first, err := f.svc.CreateForInvoice(ctx, "inv-1", "admin-1")
	require.NoError(t, err)

	_, err = f.svc.CreateForInvoice(ctx, "inv-1", "admin-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrConflict)
	var conflict *billing.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "inv-1", conflict.ID)

	stored, err := f.svc.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
	assert.Len(t, f.audit.Events(), 1)
}

func TestCreateForInvoice_UnknownInvoice(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateForInvoice(context.Background(), "missing", "admin-1")

	var nf *billing.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "invoice", nf.Entity)
	assert.Equal(t, "missing", nf.ID)
}

func TestCreateForInvoice_InvalidContractMargin(t *testing.T) {
	// GIVEN: VARIABLE contract with a 150% margin
	// THEN: ValidationError, nothing persisted

	f := newFixture(t)
	f.seed(t, "inv-1", "1000", billing.MarginVariable, "150")
	ctx := context.Background()

	_, err := f.svc.CreateForInvoice(ctx, "inv-1", "admin-1")

	var verr *billing.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 1)

	_, err = f.svc.Get(ctx, "inv-1")
	assert.True(t, billing.IsNotFound(err))
}

func TestCreateForInvoice_StoreFailureRollsBack(t *testing.T) {
	// GIVEN: A store whose invoice-total write fails mid-transaction
	// WHEN: Creating a margin
	// THEN: ExternalService error and no margin record survives

	f := newFixture(t)
	f.seed(t, "inv-1", "1000", billing.MarginVariable, "10")
	f.svc.Repo = &flakyRepo{Memory: f.repo}
	ctx := context.Background()

	_, err := f.svc.CreateForInvoice(ctx, "inv-1", "admin-1")
	require.Error(t, err)
	assert.True(t, billing.IsRetryable(err))

	rec, err := f.repo.GetMarginRecord(ctx, "inv-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, f.audit.Events())
}

func TestCreateForInvoice_AuditFailureDoesNotUndoWrite(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "inv-1", "1000", billing.MarginVariable, "10")
	f.audit.Err = errors.New("audit backend down")

	rec, err := f.svc.CreateForInvoice(context.Background(), "inv-1", "admin-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Len(t, rec.Warnings, 1)
	assert.Contains(t, rec.Warnings[0], "audit backend down")

	stored, err := f.svc.Get(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, stored.ID)
}

func TestOverride_AuditFailureIsAWarning(t *testing.T) {
	// GIVEN: A margin record and an audit sink that starts failing
	// WHEN: Overriding the margin
	// THEN: The override is committed and the failure comes back as a warning

	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "inv-1", "1000", billing.MarginVariable, "10")

	rec, err := f.svc.CreateForInvoice(ctx, "inv-1", "admin-1")
	require.NoError(t, err)
	assert.Empty(t, rec.Warnings)
	assert.Equal(t, billing.AuditCreate, rec.AuditEvent.Action)

	f.audit.Err = errors.New("audit backend down")
	updated, err := f.svc.Override(ctx, rec.ID, margin.OverrideRequest{NewMarginPercentage: decPtr("15"), ActorID: "admin-2"})
	require.NoError(t, err)
	require.Len(t, updated.Warnings, 1)
	assert.Contains(t, updated.Warnings[0], "audit backend down")
	assert.Equal(t, billing.AuditUpdate, updated.AuditEvent.Action)

	stored, err := f.svc.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "150.00", stored.MarginAmount.String())
}

// =============================================================================
// OVERRIDE
// =============================================================================

func TestOverride_ByPercentage(t *testing.T) {
	// GIVEN: VARIABLE 10% margin on a 1000 invoice
	// WHEN: Overriding with 15%
	// THEN: amount 150, type CUSTOM, overridden; invoice total 1150

	f := newFixture(t)
	f.seed(t, "inv-1", "1000", billing.MarginVariable, "10")
	ctx := context.Background()
	rec, err := f.svc.CreateForInvoice(ctx, "inv-1", "admin-1")
	require.NoError(t, err)

	updated, err := f.svc.Override(ctx, rec.ID, margin.OverrideRequest{
		NewMarginPercentage: decPtr("15"),
		ActorID:             "admin-2",
		Notes:               "negotiated rate",
	})
	require.NoError(t, err)

	assert.Equal(t, "150.00", updated.MarginAmount.String())
	assert.True(t, updated.MarginPercentage.Equal(dec("15")))
	assert.Equal(t, billing.MarginCustom, updated.MarginType)
	assert.True(t, updated.IsOverridden)
	assert.Equal(t, "admin-2", updated.OverriddenBy)
	require.NotNil(t, updated.OverriddenAt)
	assert.Equal(t, "negotiated rate", updated.Notes)
	assert.Equal(t, "100.00", updated.CalculatedMargin.String(), "calculated margin keeps the pre-override value")

	inv := f.invoice(t, "inv-1")
	assert.Equal(t, "1150.00", inv.TotalAmount.String())
	assert.True(t, inv.MarginPercentage.Equal(dec("15")))
}

func TestOverride_ByAmount(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "inv-1", "800", billing.MarginFixed, "40")
	ctx := context.Background()
	rec, err := f.svc.CreateForInvoice(ctx, "inv-1", "admin-1")
	require.NoError(t, err)

	updated, err := f.svc.Override(ctx, rec.ID, margin.OverrideRequest{
		NewMarginAmount: decPtr("100"),
		ActorID:         "admin-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "100.00", updated.MarginAmount.String())
	assert.True(t, updated.MarginPercentage.Equal(dec("12.5")))
	assert.Equal(t, "900.00", f.invoice(t, "inv-1").TotalAmount.String())
}

func TestOverride_AmountWinsWhenBothGiven(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "inv-1", "1000", billing.MarginVariable, "10")
	ctx := context.Background()
	rec, err := f.svc.CreateForInvoice(ctx, "inv-1", "admin-1")
	require.NoError(t, err)

	updated, err := f.svc.Override(ctx, rec.ID, margin.OverrideRequest{
		NewMarginAmount:     decPtr("200"),
		NewMarginPercentage: decPtr("5"),
		ActorID:             "admin-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "200.00", updated.MarginAmount.String())
	assert.True(t, updated.MarginPercentage.Equal(dec("20")))
}

func TestOverride_ZeroInvoiceAmount(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "inv-1", "0", billing.MarginCustom, "0")
	ctx := context.Background()
	rec, err := f.svc.CreateForInvoice(ctx, "inv-1", "admin-1")
	require.NoError(t, err)

	updated, err := f.svc.Override(ctx, rec.ID, margin.OverrideRequest{NewMarginAmount: decPtr("25"), ActorID: "admin-1"})
	require.NoError(t, err)

	assert.True(t, updated.MarginPercentage.IsZero())
	assert.Equal(t, "25.00", f.invoice(t, "inv-1").TotalAmount.String())
}

func TestOverride_KeepsInvoiceTotalConsistent(t *testing.T) {
	// Property: after any override the type is CUSTOM and
	// total == amount + margin.
	f := newFixture(t)
	f.seed(t, "inv-1", "1234.56", billing.MarginVariable, "7")
	ctx := context.Background()
	rec, err := f.svc.CreateForInvoice(ctx, "inv-1", "admin-1")
	require.NoError(t, err)

	requests := []margin.OverrideRequest{
		{NewMarginPercentage: decPtr("33.3333"), ActorID: "a"},
		{NewMarginAmount: decPtr("0.01"), ActorID: "a"},
		{NewMarginPercentage: decPtr("0"), ActorID: "a"},
		{NewMarginAmount: decPtr("999.999"), ActorID: "a"},
	}
	for _, req := range requests {
		updated, err := f.svc.Override(ctx, rec.ID, req)
		require.NoError(t, err)
		assert.Equal(t, billing.MarginCustom, updated.MarginType)

		inv := f.invoice(t, "inv-1")
		assert.True(t, inv.TotalAmount.Equal(inv.Amount.Add(updated.MarginAmount)))
		assert.True(t, inv.MarginAmount.Equal(updated.MarginAmount))
	}
}

func TestOverride_Validation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "inv-1", "1000", billing.MarginVariable, "10")
	ctx := context.Background()
	rec, err := f.svc.CreateForInvoice(ctx, "inv-1", "admin-1")
	require.NoError(t, err)

	_, err = f.svc.Override(ctx, rec.ID, margin.OverrideRequest{})

	var verr *billing.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 2, "missing value and missing actor are both reported")

	_, err = f.svc.Override(ctx, rec.ID, margin.OverrideRequest{NewMarginAmount: decPtr("-1"), ActorID: "a"})
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestOverride_UnknownMargin(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Override(context.Background(), "nope", margin.OverrideRequest{
		NewMarginAmount: decPtr("10"),
		ActorID:         "admin-1",
	})

	var nf *billing.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "margin_record", nf.Entity)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistory_ListsEveryOverrideNewestFirst(t *testing.T) {
	// GIVEN: A margin created, then overridden twice
	// WHEN: Reading history
	// THEN: 3 entries, newest first; both overrides are visible

	f := newFixture(t)
	f.seed(t, "inv-1", "1000", billing.MarginVariable, "10")
	ctx := context.Background()
	rec, err := f.svc.CreateForInvoice(ctx, "inv-1", "admin-1")
	require.NoError(t, err)

	_, err = f.svc.Override(ctx, rec.ID, margin.OverrideRequest{NewMarginPercentage: decPtr("15"), ActorID: "admin-2", Notes: "first"})
	require.NoError(t, err)
	_, err = f.svc.Override(ctx, rec.ID, margin.OverrideRequest{NewMarginAmount: decPtr("120"), ActorID: "admin-3", Notes: "second"})
	require.NoError(t, err)

	history, err := f.svc.History(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.Equal(t, margin.HistoryOverridden, history[0].Action)
	assert.Equal(t, "admin-3", history[0].ActorID)
	assert.Equal(t, "120.00", history[0].MarginAmount.String())
	require.NotNil(t, history[0].PreviousAmount)
	assert.Equal(t, "150.00", history[0].PreviousAmount.String())

	assert.Equal(t, margin.HistoryOverridden, history[1].Action)
	assert.Equal(t, "first", history[1].Notes)

	assert.Equal(t, margin.HistoryCreated, history[2].Action)
	assert.Equal(t, billing.MarginVariable, history[2].MarginType)
	assert.Equal(t, "100.00", history[2].MarginAmount.String())
	assert.True(t, history[2].MarginPercentage.Equal(dec("10")))

	assert.True(t, history[0].At.After(history[1].At))
	assert.True(t, history[1].At.After(history[2].At))
}

func TestHistory_NoMargin(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "inv-1", "1000", billing.MarginVariable, "10")

	_, err := f.svc.History(context.Background(), "inv-1")
	assert.True(t, billing.IsNotFound(err))
}

func TestListByContract(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "inv-1", "1000", billing.MarginVariable, "10")
	f.seed(t, "inv-2", "500", billing.MarginVariable, "10")
	ctx := context.Background()
	_, err := f.svc.CreateForInvoice(ctx, "inv-1", "admin-1")
	require.NoError(t, err)

	recs, err := f.svc.ListByContract(ctx, "c-inv-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, billing.InvoiceID("inv-1"), recs[0].InvoiceID)

	recs, err = f.svc.ListByContract(ctx, "c-inv-2")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// =============================================================================
// HELPERS
// =============================================================================

// flakyRepo fails every invoice-total write made inside a transaction.
type flakyRepo struct {
	*store.Memory
}

func (f *flakyRepo) WithTx(ctx context.Context, fn func(billing.Repository) error) error {
	return f.Memory.WithTx(ctx, func(r billing.Repository) error {
		return fn(failingTotals{Repository: r})
	})
}

type failingTotals struct {
	billing.Repository
}

func (failingTotals) UpdateInvoiceTotals(context.Context, billing.InvoiceID, billing.InvoiceTotals) error {
	return errors.New("connection reset by peer")
}
