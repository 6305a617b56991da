/*
store.go - Persistence and audit interfaces

PURPOSE:
  Defines the boundary between the calculation core and whatever stores
  its data. The margin and workflow packages depend only on these
  interfaces, never on a storage technology.

KEY INTERFACES:
  Reader:       Invoice/contract/margin/payment lookups
  Writer:       Margin, override log, invoice totals, payment and run writes
  Repository:   Reader + Writer
  TxRepository: Repository with an atomic WithTx boundary
  AuditSink:    Receives audit events after a successful write

NOT FOUND CONTRACT:
  Single-entity getters return (nil, nil) when the id does not resolve.
  The services turn that into a NotFoundError carrying the id.

UNIQUENESS CONTRACT:
  CreateMarginRecord returns a ConflictError when the invoice already has
  a margin record. RecordWorkflowRun returns a ConflictError when the
  (invoice, payment model) pair was already dispatched.

ATOMICITY:
  WithTx runs fn against a transactional view. If fn returns an error
  nothing fn wrote is kept. Dispatching a SPLIT workflow writes N payment
  records inside one WithTx so a failure on record k leaves none behind.

IMPLEMENTATIONS:
  - billing/store/memory.go: In-memory, copy-on-write transactions
  - store/sqlite/sqlite.go: SQLite via database/sql
*/
package billing

import (
	"context"
	"errors"
)

// =============================================================================
// REPOSITORY
// =============================================================================

type Reader interface {
	// GetInvoice returns the invoice with its Contract populated.
	GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error)
	GetContract(ctx context.Context, id ContractID) (*Contract, error)

	// GetMarginRecord returns the margin record owned by an invoice.
	GetMarginRecord(ctx context.Context, invoiceID InvoiceID) (*MarginRecord, error)
	GetMarginRecordByID(ctx context.Context, id MarginID) (*MarginRecord, error)
	ListMarginsByContract(ctx context.Context, contractID ContractID) ([]MarginRecord, error)

	// ListMarginOverrides returns the override log, oldest first.
	ListMarginOverrides(ctx context.Context, marginID MarginID) ([]MarginOverride, error)

	// ListPaymentRecords returns an invoice's payments in creation order.
	ListPaymentRecords(ctx context.Context, invoiceID InvoiceID) ([]PaymentRecord, error)
}

type Writer interface {
	CreateMarginRecord(ctx context.Context, rec MarginRecord) error
	UpdateMarginRecord(ctx context.Context, rec MarginRecord) error
	AppendMarginOverride(ctx context.Context, o MarginOverride) error
	UpdateInvoiceTotals(ctx context.Context, invoiceID InvoiceID, totals InvoiceTotals) error
	CreatePaymentRecord(ctx context.Context, p PaymentRecord) error
	RecordWorkflowRun(ctx context.Context, run WorkflowRun) error
}

type Repository interface {
	Reader
	Writer
}

// TxRepository wraps Repository with transaction support.
type TxRepository interface {
	Repository

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Repository) error) error
}

// =============================================================================
// AUDIT SINK
// =============================================================================

type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent) error
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []AuditSink

func (m MultiSink) Emit(ctx context.Context, event AuditEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(context.Context, AuditEvent) error { return nil }
