// Package store provides in-memory billing.TxRepository and audit sink
// implementations for tests and local development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/payment-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state *memState
}

type runKey struct {
	InvoiceID    billing.InvoiceID
	PaymentModel billing.PaymentModel
}

type memState struct {
	contracts    map[billing.ContractID]billing.Contract
	invoices     map[billing.InvoiceID]billing.Invoice
	margins      map[billing.MarginID]billing.MarginRecord
	marginByInv  map[billing.InvoiceID]billing.MarginID
	overrides    map[billing.MarginID][]billing.MarginOverride
	payments     map[billing.InvoiceID][]billing.PaymentRecord
	workflowRuns map[runKey]billing.WorkflowRun
}

func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

func newMemState() *memState {
	return &memState{
		contracts:    make(map[billing.ContractID]billing.Contract),
		invoices:     make(map[billing.InvoiceID]billing.Invoice),
		margins:      make(map[billing.MarginID]billing.MarginRecord),
		marginByInv:  make(map[billing.InvoiceID]billing.MarginID),
		overrides:    make(map[billing.MarginID][]billing.MarginOverride),
		payments:     make(map[billing.InvoiceID][]billing.PaymentRecord),
		workflowRuns: make(map[runKey]billing.WorkflowRun),
	}
}

// clone copies every index. Records are values and are replaced, never
// mutated in place, so a shallow copy per map is enough.
func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.contracts {
		c.contracts[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	for k, v := range s.margins {
		c.margins[k] = v
	}
	for k, v := range s.marginByInv {
		c.marginByInv[k] = v
	}
	for k, v := range s.overrides {
		c.overrides[k] = append([]billing.MarginOverride(nil), v...)
	}
	for k, v := range s.payments {
		c.payments[k] = append([]billing.PaymentRecord(nil), v...)
	}
	for k, v := range s.workflowRuns {
		c.workflowRuns[k] = v
	}
	return c
}

// =============================================================================
// SEEDING - Contracts and invoices are owned by other systems
// =============================================================================

func (m *Memory) SaveContract(_ context.Context, c billing.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.contracts[c.ID] = c
	return nil
}

func (m *Memory) SaveInvoice(_ context.Context, inv billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv.Contract = nil
	m.state.invoices[inv.ID] = inv
	return nil
}

// =============================================================================
// billing.Repository
// =============================================================================

func (m *Memory) GetInvoice(ctx context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetInvoice(ctx, id)
}

func (m *Memory) GetContract(ctx context.Context, id billing.ContractID) (*billing.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetContract(ctx, id)
}

func (m *Memory) GetMarginRecord(ctx context.Context, invoiceID billing.InvoiceID) (*billing.MarginRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetMarginRecord(ctx, invoiceID)
}

func (m *Memory) GetMarginRecordByID(ctx context.Context, id billing.MarginID) (*billing.MarginRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetMarginRecordByID(ctx, id)
}

func (m *Memory) ListMarginsByContract(ctx context.Context, contractID billing.ContractID) ([]billing.MarginRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListMarginsByContract(ctx, contractID)
}

func (m *Memory) ListMarginOverrides(ctx context.Context, marginID billing.MarginID) ([]billing.MarginOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListMarginOverrides(ctx, marginID)
}

func (m *Memory) ListPaymentRecords(ctx context.Context, invoiceID billing.InvoiceID) ([]billing.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListPaymentRecords(ctx, invoiceID)
}

func (m *Memory) CreateMarginRecord(ctx context.Context, rec billing.MarginRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreateMarginRecord(ctx, rec)
}

func (m *Memory) UpdateMarginRecord(ctx context.Context, rec billing.MarginRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateMarginRecord(ctx, rec)
}

func (m *Memory) AppendMarginOverride(ctx context.Context, o billing.MarginOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AppendMarginOverride(ctx, o)
}

func (m *Memory) UpdateInvoiceTotals(ctx context.Context, id billing.InvoiceID, t billing.InvoiceTotals) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateInvoiceTotals(ctx, id, t)
}

func (m *Memory) CreatePaymentRecord(ctx context.Context, p billing.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreatePaymentRecord(ctx, p)
}

func (m *Memory) RecordWorkflowRun(ctx context.Context, run billing.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.RecordWorkflowRun(ctx, run)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a private copy of the state and publishes the copy
// only if fn succeeds. The write lock is held for the whole call.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.state.clone()
	if err := fn(working); err != nil {
		return err
	}
	m.state = working
	return nil
}

// =============================================================================
// STATE OPERATIONS (unlocked)
// =============================================================================

func (s *memState) GetInvoice(_ context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	inv, ok := s.invoices[id]
	if !ok {
		return nil, nil
	}
	if c, ok := s.contracts[inv.ContractID]; ok {
		inv.Contract = &c
	}
	return &inv, nil
}

func (s *memState) GetContract(_ context.Context, id billing.ContractID) (*billing.Contract, error) {
	c, ok := s.contracts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *memState) GetMarginRecord(ctx context.Context, invoiceID billing.InvoiceID) (*billing.MarginRecord, error) {
	id, ok := s.marginByInv[invoiceID]
	if !ok {
		return nil, nil
	}
	return s.GetMarginRecordByID(ctx, id)
}

func (s *memState) GetMarginRecordByID(_ context.Context, id billing.MarginID) (*billing.MarginRecord, error) {
	rec, ok := s.margins[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *memState) ListMarginsByContract(_ context.Context, contractID billing.ContractID) ([]billing.MarginRecord, error) {
	var out []billing.MarginRecord
	for _, rec := range s.margins {
		if rec.ContractID == contractID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memState) ListMarginOverrides(_ context.Context, marginID billing.MarginID) ([]billing.MarginOverride, error) {
	return append([]billing.MarginOverride(nil), s.overrides[marginID]...), nil
}

func (s *memState) ListPaymentRecords(_ context.Context, invoiceID billing.InvoiceID) ([]billing.PaymentRecord, error) {
	return append([]billing.PaymentRecord(nil), s.payments[invoiceID]...), nil
}

func (s *memState) CreateMarginRecord(_ context.Context, rec billing.MarginRecord) error {
	if _, exists := s.marginByInv[rec.InvoiceID]; exists {
		return &billing.ConflictError{Entity: "margin_record", ID: string(rec.InvoiceID), Reason: "invoice already has a margin record"}
	}
	s.margins[rec.ID] = rec
	s.marginByInv[rec.InvoiceID] = rec.ID
	return nil
}

func (s *memState) UpdateMarginRecord(_ context.Context, rec billing.MarginRecord) error {
	if _, ok := s.margins[rec.ID]; !ok {
		return &billing.NotFoundError{Entity: "margin_record", ID: string(rec.ID)}
	}
	s.margins[rec.ID] = rec
	return nil
}

func (s *memState) AppendMarginOverride(_ context.Context, o billing.MarginOverride) error {
	s.overrides[o.MarginID] = append(s.overrides[o.MarginID], o)
	return nil
}

func (s *memState) UpdateInvoiceTotals(_ context.Context, id billing.InvoiceID, t billing.InvoiceTotals) error {
	inv, ok := s.invoices[id]
	if !ok {
		return &billing.NotFoundError{Entity: "invoice", ID: string(id)}
	}
	inv.MarginAmount = t.MarginAmount
	inv.MarginPercentage = t.MarginPercentage
	inv.TotalAmount = t.TotalAmount
	s.invoices[id] = inv
	return nil
}

func (s *memState) CreatePaymentRecord(_ context.Context, p billing.PaymentRecord) error {
	s.payments[p.InvoiceID] = append(s.payments[p.InvoiceID], p)
	return nil
}

func (s *memState) RecordWorkflowRun(_ context.Context, run billing.WorkflowRun) error {
	k := runKey{InvoiceID: run.InvoiceID, PaymentModel: run.PaymentModel}
	if _, exists := s.workflowRuns[k]; exists {
		return &billing.ConflictError{
			Entity: "workflow_run",
			ID:     string(run.InvoiceID),
			Reason: "payment model " + string(run.PaymentModel) + " already dispatched",
		}
	}
	s.workflowRuns[k] = run
	return nil
}

// =============================================================================
// AUDIT RECORDER
// =============================================================================

// AuditRecorder keeps emitted events in memory.
type AuditRecorder struct {
	mu     sync.Mutex
	events []billing.AuditEvent

	// Err, when set, is returned from every Emit after recording.
	Err error
}

func (r *AuditRecorder) Emit(_ context.Context, e billing.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.Err
}

func (r *AuditRecorder) Events() []billing.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]billing.AuditEvent(nil), r.events...)
}
