/*
model.go - Payment models as a closed tagged union

PURPOSE:
  An invoice is realized into payments by exactly one payment model. Each
  model is a Plan variant carrying the options only it understands:

    GrossPlan         - one payment, recipient handles their own taxes
    PayrollPlan       - one payment routed to an external payroll provider
    PayrollWePayPlan  - platform withholds federal, state and FICA
    SplitPlan         - one payment per split entry

DISPATCH:
  Plans are consumed through the Handler visitor. Plan.accept is
  unexported, so no variant can be added outside this package, and a new
  variant needs a new Handler method which every implementation must then
  provide. Forgetting a model is a compile error, not a runtime default.

  ParsePlan is the only place a PaymentModel string is inspected.

SEE ALSO:
  - gross.go, payroll.go, split.go: The four Handler methods
  - dispatcher.go: Loads the invoice, runs the plan, commits the outcome
*/
package workflow

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payment-engine/billing"
)

// =============================================================================
// PLAN VARIANTS
// =============================================================================

type Plan interface {
	Model() billing.PaymentModel
	accept(h Handler, in Input) (*Outcome, error)
}

type GrossPlan struct{}

type PayrollPlan struct {
	Provider string
}

type PayrollWePayPlan struct {
	FederalRate decimal.Decimal
	StateRate   decimal.Decimal
}

type SplitPlan struct {
	Splits []SplitEntry
}

func (GrossPlan) Model() billing.PaymentModel        { return billing.ModelGross }
func (PayrollPlan) Model() billing.PaymentModel      { return billing.ModelPayroll }
func (PayrollWePayPlan) Model() billing.PaymentModel { return billing.ModelPayrollWePay }
func (SplitPlan) Model() billing.PaymentModel        { return billing.ModelSplit }

func (p GrossPlan) accept(h Handler, in Input) (*Outcome, error)        { return h.Gross(in, p) }
func (p PayrollPlan) accept(h Handler, in Input) (*Outcome, error)      { return h.Payroll(in, p) }
func (p PayrollWePayPlan) accept(h Handler, in Input) (*Outcome, error) { return h.PayrollWePay(in, p) }
func (p SplitPlan) accept(h Handler, in Input) (*Outcome, error)        { return h.Split(in, p) }

// Handler realizes one invoice under each payment model. Implementations
// are pure: they describe payments, tasks and the audit event, and the
// dispatcher persists them.
type Handler interface {
	Gross(in Input, p GrossPlan) (*Outcome, error)
	Payroll(in Input, p PayrollPlan) (*Outcome, error)
	PayrollWePay(in Input, p PayrollWePayPlan) (*Outcome, error)
	Split(in Input, p SplitPlan) (*Outcome, error)
}

// Run dispatches plan to the matching method of h.
func Run(plan Plan, h Handler, in Input) (*Outcome, error) {
	return plan.accept(h, in)
}

// =============================================================================
// HANDLER INPUT / OUTPUT
// =============================================================================

type Input struct {
	Invoice  *billing.Invoice
	Contract *billing.Contract
	ActorID  string
	TenantID billing.TenantID
	Now      time.Time
	NewID    func() string
}

// Outcome is what a handler decided. Payments are not yet persisted.
type Outcome struct {
	Payments  []billing.PaymentRecord
	Tasks     []billing.Task
	NextSteps []string
	Message   string
	Audit     billing.AuditEvent
}

// =============================================================================
// OPTIONS - Caller-supplied, model-specific request metadata
// =============================================================================

type Options struct {
	Provider       string
	FederalTaxRate *decimal.Decimal
	StateTaxRate   *decimal.Decimal
	Splits         []SplitEntry
}

// SplitTarget references the recipient of one split. At least one of the
// ids must be set.
type SplitTarget struct {
	PersonID  string
	CompanyID string
}

func (t SplitTarget) Empty() bool { return t.PersonID == "" && t.CompanyID == "" }

// SplitEntry is one slice of a SPLIT payment. Amount wins over Percentage
// when both are given.
type SplitEntry struct {
	Target      SplitTarget
	Description string
	Percentage  *decimal.Decimal
	Amount      *decimal.Decimal
}

// =============================================================================
// PARSING
// =============================================================================

var (
	zero    = decimal.Zero
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// ParsePlan turns a model name and its options into a Plan. Missing
// options are filled from cfg. An unknown model is a business rule
// violation; malformed options are validation errors.
func ParsePlan(model billing.PaymentModel, opts Options, cfg Config) (Plan, error) {
	switch model {
	case billing.ModelGross:
		return GrossPlan{}, nil

	case billing.ModelPayroll:
		provider := opts.Provider
		if provider == "" {
			provider = cfg.PayrollProvider
		}
		return PayrollPlan{Provider: provider}, nil

	case billing.ModelPayrollWePay:
		plan := PayrollWePayPlan{FederalRate: cfg.FederalTaxRate, StateRate: cfg.StateTaxRate}
		if opts.FederalTaxRate != nil {
			plan.FederalRate = *opts.FederalTaxRate
		}
		if opts.StateTaxRate != nil {
			plan.StateRate = *opts.StateTaxRate
		}
		var problems []string
		if !rateInRange(plan.FederalRate) {
			problems = append(problems, fmt.Sprintf("federal tax rate must be between 0 and 1, got %s", plan.FederalRate))
		}
		if !rateInRange(plan.StateRate) {
			problems = append(problems, fmt.Sprintf("state tax rate must be between 0 and 1, got %s", plan.StateRate))
		}
		if len(problems) == 0 && plan.FederalRate.Add(plan.StateRate).Add(FICARate).GreaterThan(one) {
			problems = append(problems, "combined withholding rate exceeds 100%")
		}
		if len(problems) > 0 {
			return nil, &billing.ValidationError{Field: "metadata.taxRates", Problems: problems}
		}
		return plan, nil

	case billing.ModelSplit:
		if problems := validateSplits(opts.Splits); len(problems) > 0 {
			return nil, &billing.ValidationError{Field: "metadata.splits", Problems: problems}
		}
		return SplitPlan{Splits: opts.Splits}, nil
	}

	return nil, &billing.BusinessRuleError{Rule: "unknown payment model", Detail: string(model)}
}

func rateInRange(r decimal.Decimal) bool {
	return !r.LessThan(zero) && !r.GreaterThan(one)
}

func validateSplits(splits []SplitEntry) []string {
	if len(splits) == 0 {
		return []string{"at least one split is required"}
	}
	var problems []string
	for i, s := range splits {
		n := i + 1
		if s.Target.Empty() {
			problems = append(problems, fmt.Sprintf("split %d: a person or company target is required", n))
		}
		if s.Amount == nil && s.Percentage == nil {
			problems = append(problems, fmt.Sprintf("split %d: an amount or a percentage is required", n))
		}
		if s.Amount != nil && s.Amount.IsNegative() {
			problems = append(problems, fmt.Sprintf("split %d: amount cannot be negative", n))
		}
		if s.Percentage != nil && (s.Percentage.IsNegative() || s.Percentage.GreaterThan(hundred)) {
			problems = append(problems, fmt.Sprintf("split %d: percentage must be between 0 and 100", n))
		}
	}
	return problems
}
