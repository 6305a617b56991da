package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payment-engine/billing"
)

// =============================================================================
// CONFIG
// =============================================================================

type Config struct {
	FederalTaxRate  decimal.Decimal
	StateTaxRate    decimal.Decimal
	PayrollProvider string

	// SplitStrict rejects splits whose amounts do not add up to the invoice
	// total within SplitTolerance.
	SplitStrict    bool
	SplitTolerance decimal.Decimal

	// AllowRedispatch disables the one-run-per-(invoice, model) guard.
	AllowRedispatch bool
}

func DefaultConfig() Config {
	return Config{
		FederalTaxRate:  decimal.RequireFromString("0.22"),
		StateTaxRate:    decimal.RequireFromString("0.05"),
		PayrollProvider: "external",
		SplitStrict:     true,
		SplitTolerance:  decimal.RequireFromString("0.01"),
	}
}

// =============================================================================
// DISPATCHER
// =============================================================================

type ExecuteRequest struct {
	InvoiceID billing.InvoiceID
	// PaymentModel defaults to the contract's model when empty.
	PaymentModel billing.PaymentModel
	ActorID      string
	TenantID     billing.TenantID
	Options      Options
}

type Result struct {
	Success      bool
	PaymentModel billing.PaymentModel
	PaymentIDs   []billing.PaymentID
	Payments     []billing.PaymentRecord
	Tasks        []billing.Task
	Message      string
	NextSteps    []string
	AuditEvents  []billing.AuditEvent
	Warnings     []string
}

type Dispatcher struct {
	Repo    billing.TxRepository
	Audit   billing.AuditSink
	Handler Handler
	Logger  *zap.Logger
	Config  Config

	Now   func() time.Time
	NewID func() string
}

func NewDispatcher(repo billing.TxRepository, audit billing.AuditSink, logger *zap.Logger, cfg Config) *Dispatcher {
	if audit == nil {
		audit = billing.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		Repo:    repo,
		Audit:   audit,
		Handler: NewHandler(cfg),
		Logger:  logger.Named("workflow"),
		Config:  cfg,
		Now:     func() time.Time { return time.Now().UTC() },
		NewID:   uuid.NewString,
	}
}

// Execute realizes an invoice under one payment model. The workflow-run
// guard and every payment record are committed in one transaction; the
// audit event is emitted after commit and a sink failure only adds a
// warning to the result.
func (d *Dispatcher) Execute(ctx context.Context, req ExecuteRequest) (*Result, error) {
	var problems []string
	if req.InvoiceID == "" {
		problems = append(problems, "invoice id is required")
	}
	if req.ActorID == "" {
		problems = append(problems, "actor id is required")
	}
	if len(problems) > 0 {
		return nil, &billing.ValidationError{Field: "request", Problems: problems}
	}

	inv, contract, err := loadInvoice(ctx, d.Repo, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	// An invoice of another tenant is reported as missing.
	if req.TenantID != "" && inv.TenantID != "" && req.TenantID != inv.TenantID {
		return nil, &billing.NotFoundError{Entity: "invoice", ID: string(req.InvoiceID)}
	}

	model := req.PaymentModel
	if model == "" {
		model = contract.PaymentModel
	}
	plan, err := ParsePlan(model, req.Options, d.Config)
	if err != nil {
		return nil, err
	}

	tenant := req.TenantID
	if tenant == "" {
		tenant = inv.TenantID
	}
	now := d.Now()
	out, err := Run(plan, d.Handler, Input{
		Invoice:  inv,
		Contract: contract,
		ActorID:  req.ActorID,
		TenantID: tenant,
		Now:      now,
		NewID:    d.NewID,
	})
	if err != nil {
		return nil, err
	}

	err = d.Repo.WithTx(ctx, func(r billing.Repository) error {
		if !d.Config.AllowRedispatch {
			if err := r.RecordWorkflowRun(ctx, billing.WorkflowRun{
				ID:           d.NewID(),
				InvoiceID:    inv.ID,
				PaymentModel: plan.Model(),
				ActorID:      req.ActorID,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
		}
		for _, p := range out.Payments {
			if err := r.CreatePaymentRecord(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, billing.Unavailable("create payment records", err)
	}

	res := &Result{
		Success:      true,
		PaymentModel: plan.Model(),
		Payments:     out.Payments,
		Tasks:        out.Tasks,
		Message:      out.Message,
		NextSteps:    out.NextSteps,
		AuditEvents:  []billing.AuditEvent{out.Audit},
	}
	for _, p := range out.Payments {
		res.PaymentIDs = append(res.PaymentIDs, p.ID)
	}

	d.Logger.Info("payment workflow executed",
		zap.String("invoice_id", string(inv.ID)),
		zap.String("payment_model", string(plan.Model())),
		zap.Int("payments", len(out.Payments)),
		zap.Int("tasks", len(out.Tasks)),
	)
	if err := d.Audit.Emit(ctx, out.Audit); err != nil {
		d.Logger.Warn("audit emission failed",
			zap.String("invoice_id", string(inv.ID)),
			zap.Error(err),
		)
		res.Warnings = append(res.Warnings, "audit event was not recorded: "+err.Error())
	}
	return res, nil
}

func loadInvoice(ctx context.Context, repo billing.Reader, id billing.InvoiceID) (*billing.Invoice, *billing.Contract, error) {
	inv, err := repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, nil, billing.Unavailable("load invoice", err)
	}
	if inv == nil {
		return nil, nil, &billing.NotFoundError{Entity: "invoice", ID: string(id)}
	}
	contract := inv.Contract
	if contract == nil {
		contract, err = repo.GetContract(ctx, inv.ContractID)
		if err != nil {
			return nil, nil, billing.Unavailable("load contract", err)
		}
		if contract == nil {
			return nil, nil, &billing.NotFoundError{Entity: "contract", ID: string(inv.ContractID)}
		}
	}
	return inv, contract, nil
}
