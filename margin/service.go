package margin

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payment-engine/billing"
)

// =============================================================================
// MARGIN SERVICE - Persistence, overrides and history
// =============================================================================

const auditEntityMargin = "MarginRecord"

type Service struct {
	Repo   billing.TxRepository
	Audit  billing.AuditSink
	Logger *zap.Logger

	// Now and NewID are replaceable for deterministic tests.
	Now   func() time.Time
	NewID func() string
}

func NewService(repo billing.TxRepository, audit billing.AuditSink, logger *zap.Logger) *Service {
	if audit == nil {
		audit = billing.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Repo:   repo,
		Audit:  audit,
		Logger: logger.Named("margin"),
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  uuid.NewString,
	}
}

// Result is a committed margin write. Warnings carries problems that did
// not undo the write, such as an audit sink failure.
type Result struct {
	*billing.MarginRecord
	AuditEvent billing.AuditEvent
	Warnings   []string
}

// =============================================================================
// CREATE
// =============================================================================

// CreateForInvoice calculates the invoice's margin from its contract and
// persists it. The invoice's margin and total fields are written back in
// the same transaction. A second call for the same invoice fails with a
// ConflictError and leaves the existing record untouched.
func (s *Service) CreateForInvoice(ctx context.Context, invoiceID billing.InvoiceID, actorID string) (*Result, error) {
	inv, contract, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	cfg := ConfigFor(contract)
	if problems := ValidateMarginData(cfg.Data()); len(problems) > 0 {
		return nil, &billing.ValidationError{Field: "contract.margin", Problems: problems}
	}

	b := Calculate(cfg, inv.Amount)
	now := s.Now()
	rec := billing.MarginRecord{
		ID:               billing.MarginID(s.NewID()),
		InvoiceID:        inv.ID,
		ContractID:       contract.ID,
		MarginType:       b.Type,
		MarginPercentage: b.Percentage,
		MarginAmount:     b.Amount,
		CalculatedMargin: b.CalculatedMargin,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.Repo.WithTx(ctx, func(r billing.Repository) error {
		existing, err := r.GetMarginRecord(ctx, inv.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &billing.ConflictError{
				Entity: "margin_record",
				ID:     string(inv.ID),
				Reason: "invoice already has margin record " + string(existing.ID),
			}
		}
		if err := r.CreateMarginRecord(ctx, rec); err != nil {
			return err
		}
		return r.UpdateInvoiceTotals(ctx, inv.ID, billing.InvoiceTotals{
			MarginAmount:     b.Amount,
			MarginPercentage: b.Percentage,
			TotalAmount:      b.TotalWithMargin,
		})
	})
	if err != nil {
		return nil, billing.Unavailable("create margin record", err)
	}

	s.Logger.Info("margin created",
		zap.String("invoice_id", string(inv.ID)),
		zap.String("margin_id", string(rec.ID)),
		zap.String("margin_type", string(rec.MarginType)),
		zap.String("margin_amount", rec.MarginAmount.String()),
	)
	return s.emit(ctx, &rec, billing.AuditEvent{
		ID:         s.NewID(),
		ActorID:    actorID,
		Action:     billing.AuditCreate,
		EntityType: auditEntityMargin,
		EntityID:   string(rec.ID),
		TenantID:   inv.TenantID,
		Timestamp:  now,
		Metadata: map[string]any{
			"invoiceId":        string(inv.ID),
			"marginType":       string(rec.MarginType),
			"marginPercentage": rec.MarginPercentage.String(),
			"marginAmount":     rec.MarginAmount.String(),
			"totalAmount":      b.TotalWithMargin.String(),
		},
	}), nil
}

// =============================================================================
// OVERRIDE
// =============================================================================

// OverrideRequest is a manual correction. When both values are given the
// amount wins and the percentage is re-derived from it.
type OverrideRequest struct {
	NewMarginAmount     *decimal.Decimal
	NewMarginPercentage *decimal.Decimal
	ActorID             string
	Notes               string
}

func (r OverrideRequest) validate() []string {
	var problems []string
	if r.NewMarginAmount == nil && r.NewMarginPercentage == nil {
		problems = append(problems, "one of new margin amount or new margin percentage is required")
	}
	if r.NewMarginAmount != nil && r.NewMarginAmount.IsNegative() {
		problems = append(problems, "new margin amount cannot be negative")
	}
	if r.NewMarginPercentage != nil && r.NewMarginPercentage.IsNegative() {
		problems = append(problems, "new margin percentage cannot be negative")
	}
	if r.ActorID == "" {
		problems = append(problems, "actor id is required")
	}
	return problems
}

// Override replaces a margin's value, marks it CUSTOM and overridden,
// appends an entry to the override log and keeps the invoice total equal
// to amount + margin.
func (s *Service) Override(ctx context.Context, marginID billing.MarginID, req OverrideRequest) (*Result, error) {
	if problems := req.validate(); len(problems) > 0 {
		return nil, &billing.ValidationError{Field: "override", Problems: problems}
	}

	rec, err := s.Repo.GetMarginRecordByID(ctx, marginID)
	if err != nil {
		return nil, billing.Unavailable("load margin record", err)
	}
	if rec == nil {
		return nil, &billing.NotFoundError{Entity: "margin_record", ID: string(marginID)}
	}
	inv, _, err := s.loadInvoice(ctx, rec.InvoiceID)
	if err != nil {
		return nil, err
	}

	var newAmount billing.Money
	var newPct decimal.Decimal
	if req.NewMarginAmount != nil {
		newAmount = billing.NewMoney(*req.NewMarginAmount, inv.Currency()).Round()
		newPct = newAmount.PercentOf(inv.Amount)
	} else {
		newPct = *req.NewMarginPercentage
		newAmount = inv.Amount.Percent(newPct)
	}

	now := s.Now()
	entry := billing.MarginOverride{
		ID:                 s.NewID(),
		MarginID:           rec.ID,
		InvoiceID:          rec.InvoiceID,
		ActorID:            req.ActorID,
		PreviousType:       rec.MarginType,
		PreviousAmount:     rec.MarginAmount,
		PreviousPercentage: rec.MarginPercentage,
		NewAmount:          newAmount,
		NewPercentage:      newPct,
		Notes:              req.Notes,
		CreatedAt:          now,
	}

	updated := *rec
	updated.MarginType = billing.MarginCustom
	updated.MarginAmount = newAmount
	updated.MarginPercentage = newPct
	updated.IsOverridden = true
	updated.OverriddenBy = req.ActorID
	updated.OverriddenAt = &now
	updated.Notes = req.Notes
	updated.UpdatedAt = now

	total := inv.Amount.Add(newAmount)
	err = s.Repo.WithTx(ctx, func(r billing.Repository) error {
		if err := r.UpdateMarginRecord(ctx, updated); err != nil {
			return err
		}
		if err := r.AppendMarginOverride(ctx, entry); err != nil {
			return err
		}
		return r.UpdateInvoiceTotals(ctx, inv.ID, billing.InvoiceTotals{
			MarginAmount:     newAmount,
			MarginPercentage: newPct,
			TotalAmount:      total,
		})
	})
	if err != nil {
		return nil, billing.Unavailable("override margin", err)
	}

	s.Logger.Info("margin overridden",
		zap.String("margin_id", string(rec.ID)),
		zap.String("actor_id", req.ActorID),
		zap.String("previous_amount", rec.MarginAmount.String()),
		zap.String("new_amount", newAmount.String()),
	)
	return s.emit(ctx, &updated, billing.AuditEvent{
		ID:         s.NewID(),
		ActorID:    req.ActorID,
		Action:     billing.AuditUpdate,
		EntityType: auditEntityMargin,
		EntityID:   string(rec.ID),
		TenantID:   inv.TenantID,
		Timestamp:  now,
		Metadata: map[string]any{
			"invoiceId":          string(inv.ID),
			"overrideId":         entry.ID,
			"previousType":       string(entry.PreviousType),
			"previousAmount":     entry.PreviousAmount.String(),
			"previousPercentage": entry.PreviousPercentage.String(),
			"newAmount":          newAmount.String(),
			"newPercentage":      newPct.String(),
			"totalAmount":        total.String(),
			"notes":              req.Notes,
		},
	}), nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns the margin record of an invoice.
func (s *Service) Get(ctx context.Context, invoiceID billing.InvoiceID) (*billing.MarginRecord, error) {
	rec, err := s.Repo.GetMarginRecord(ctx, invoiceID)
	if err != nil {
		return nil, billing.Unavailable("load margin record", err)
	}
	if rec == nil {
		return nil, &billing.NotFoundError{Entity: "margin_record", ID: string(invoiceID)}
	}
	return rec, nil
}

func (s *Service) ListByContract(ctx context.Context, contractID billing.ContractID) ([]billing.MarginRecord, error) {
	recs, err := s.Repo.ListMarginsByContract(ctx, contractID)
	if err != nil {
		return nil, billing.Unavailable("list margins", err)
	}
	return recs, nil
}

type HistoryAction string

const (
	HistoryCreated    HistoryAction = "CREATED"
	HistoryOverridden HistoryAction = "OVERRIDDEN"
)

type HistoryEntry struct {
	Action           HistoryAction
	At               time.Time
	ActorID          string
	MarginType       billing.MarginType
	MarginAmount     billing.Money
	MarginPercentage decimal.Decimal
	PreviousAmount   *billing.Money
	Notes            string
}

// History lists what happened to an invoice's margin, most recent first.
// Every override in the log appears. Records overridden before the log
// existed fall back to a single entry rebuilt from the record's own fields.
func (s *Service) History(ctx context.Context, invoiceID billing.InvoiceID) ([]HistoryEntry, error) {
	rec, err := s.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	overrides, err := s.Repo.ListMarginOverrides(ctx, rec.ID)
	if err != nil {
		return nil, billing.Unavailable("list margin overrides", err)
	}

	created := HistoryEntry{
		Action:           HistoryCreated,
		At:               rec.CreatedAt,
		MarginType:       rec.MarginType,
		MarginAmount:     rec.CalculatedMargin,
		MarginPercentage: rec.MarginPercentage,
	}
	if len(overrides) > 0 {
		created.MarginType = overrides[0].PreviousType
		created.MarginPercentage = overrides[0].PreviousPercentage
	}

	entries := []HistoryEntry{created}
	for _, o := range overrides {
		prev := o.PreviousAmount
		entries = append(entries, HistoryEntry{
			Action:           HistoryOverridden,
			At:               o.CreatedAt,
			ActorID:          o.ActorID,
			MarginType:       billing.MarginCustom,
			MarginAmount:     o.NewAmount,
			MarginPercentage: o.NewPercentage,
			PreviousAmount:   &prev,
			Notes:            o.Notes,
		})
	}
	if len(overrides) == 0 && rec.IsOverridden && rec.OverriddenAt != nil {
		entries = append(entries, HistoryEntry{
			Action:           HistoryOverridden,
			At:               *rec.OverriddenAt,
			ActorID:          rec.OverriddenBy,
			MarginType:       rec.MarginType,
			MarginAmount:     rec.MarginAmount,
			MarginPercentage: rec.MarginPercentage,
			Notes:            rec.Notes,
		})
	}

	// Reverse first so equal timestamps still list the newest entry first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].At.After(entries[j].At)
	})
	return entries, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) loadInvoice(ctx context.Context, id billing.InvoiceID) (*billing.Invoice, *billing.Contract, error) {
	inv, err := s.Repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, nil, billing.Unavailable("load invoice", err)
	}
	if inv == nil {
		return nil, nil, &billing.NotFoundError{Entity: "invoice", ID: string(id)}
	}
	contract := inv.Contract
	if contract == nil {
		contract, err = s.Repo.GetContract(ctx, inv.ContractID)
		if err != nil {
			return nil, nil, billing.Unavailable("load contract", err)
		}
		if contract == nil {
			return nil, nil, &billing.NotFoundError{Entity: "contract", ID: string(inv.ContractID)}
		}
	}
	return inv, contract, nil
}

// emit hands the event to the audit sink. A sink failure does not undo the
// committed write; it is logged and returned as a warning.
func (s *Service) emit(ctx context.Context, rec *billing.MarginRecord, e billing.AuditEvent) *Result {
	res := &Result{MarginRecord: rec, AuditEvent: e}
	if err := s.Audit.Emit(ctx, e); err != nil {
		s.Logger.Warn("audit emission failed",
			zap.String("entity_type", e.EntityType),
			zap.String("entity_id", e.EntityID),
			zap.Error(err),
		)
		res.Warnings = append(res.Warnings, "audit event was not recorded: "+err.Error())
	}
	return res
}
