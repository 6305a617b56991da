/*
Package billing provides the core types of the payment and margin engine.

PURPOSE:
  This package holds the storage- and transport-agnostic vocabulary shared
  by the margin and workflow packages: money, identifiers, the invoice and
  contract inputs, the margin and payment records the engine writes, and
  the audit events and tasks it describes for its collaborators.

KEY CONCEPTS IN THIS FILE (types.go):
  - Contract: Margin configuration + payment model + participants (read-only)
  - Invoice: Pre-margin amount plus the margin/total fields the engine writes back
  - MarginRecord: The platform's margin on one invoice (1:1 with the invoice)
  - MarginOverride: Immutable log entry for every manual margin correction
  - PaymentRecord: One distributed payment produced by a workflow
  - AuditEvent, Task: Descriptions handed to external collaborators

INVARIANTS:
  1. Invoice.TotalAmount == Invoice.Amount + Invoice.MarginAmount once a margin exists
  2. At most one MarginRecord per invoice
  3. MarginRecord.MarginAmount >= 0
  4. MarginOverride rows are append-only

SEE ALSO:
  - money.go: Money arithmetic and rounding
  - errors.go: Error taxonomy
  - store.go: Repository interfaces
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type ContractID string
type InvoiceID string
type MarginID string
type PaymentID string
type TaskID string

// =============================================================================
// CONTRACT - Read-only input
// =============================================================================

type MarginType string

const (
	MarginFixed    MarginType = "FIXED"    // Margin is an absolute amount
	MarginVariable MarginType = "VARIABLE" // Margin is a percentage of the invoice amount
	MarginCustom   MarginType = "CUSTOM"   // Margin is set manually via override
)

func (t MarginType) Valid() bool {
	switch t {
	case MarginFixed, MarginVariable, MarginCustom:
		return true
	}
	return false
}

type PaymentModel string

const (
	ModelGross        PaymentModel = "GROSS"          // Recipient handles their own taxes
	ModelPayroll      PaymentModel = "PAYROLL"        // Routed to an external payroll provider
	ModelPayrollWePay PaymentModel = "PAYROLL_WE_PAY" // Platform withholds taxes internally
	ModelSplit        PaymentModel = "SPLIT"          // Divided across several recipients
)

// MarginPaidBy records which party bears the margin.
type MarginPaidBy string

const (
	PaidByClient     MarginPaidBy = "client"
	PaidByContractor MarginPaidBy = "contractor"
	PaidByAgency     MarginPaidBy = "agency"
)

type ParticipantRole string

const (
	RoleContractor ParticipantRole = "contractor"
	RoleClient     ParticipantRole = "client"
	RoleAgency     ParticipantRole = "agency"
	RoleApprover   ParticipantRole = "approver"
)

// Participant is a party on a contract, optionally linked to a person or
// a company.
type Participant struct {
	Role      ParticipantRole
	PersonID  string
	CompanyID string
}

type Contract struct {
	ID           ContractID
	TenantID     TenantID
	Name         string
	Margin       decimal.Decimal // amount for FIXED, percentage for VARIABLE
	MarginType   MarginType
	MarginPaidBy MarginPaidBy
	PaymentModel PaymentModel
	Participants []Participant
	CreatedAt    time.Time
}

// ParticipantsWithRole returns the participants holding role, in order.
func (c *Contract) ParticipantsWithRole(role ParticipantRole) []Participant {
	var out []Participant
	for _, p := range c.Participants {
		if p.Role == role {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// INVOICE - Read-only except margin/total fields
// =============================================================================

type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceFinalized InvoiceStatus = "finalized"
	InvoicePaid      InvoiceStatus = "paid"
)

type LineItem struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

type Invoice struct {
	ID               InvoiceID
	TenantID         TenantID
	ContractID       ContractID
	Amount           Money // pre-margin
	MarginAmount     Money
	MarginPercentage decimal.Decimal
	TotalAmount      Money
	Status           InvoiceStatus
	LineItems        []LineItem
	CreatedAt        time.Time

	// Contract is populated by repositories that join it on read.
	Contract *Contract
}

func (i *Invoice) Currency() Currency { return i.Amount.Currency }

// InvoiceTotals are the invoice fields the engine writes back.
type InvoiceTotals struct {
	MarginAmount     Money
	MarginPercentage decimal.Decimal
	TotalAmount      Money
}

// =============================================================================
// MARGIN RECORD
// =============================================================================

type MarginRecord struct {
	ID               MarginID
	InvoiceID        InvoiceID
	ContractID       ContractID
	MarginType       MarginType
	MarginPercentage decimal.Decimal
	MarginAmount     Money
	CalculatedMargin Money // value before any override
	IsOverridden     bool
	OverriddenBy     string
	OverriddenAt     *time.Time
	Notes            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MarginOverride is one immutable entry of a margin's override log.
type MarginOverride struct {
	ID                 string
	MarginID           MarginID
	InvoiceID          InvoiceID
	ActorID            string
	PreviousType       MarginType
	PreviousAmount     Money
	PreviousPercentage decimal.Decimal
	NewAmount          Money
	NewPercentage      decimal.Decimal
	Notes              string
	CreatedAt          time.Time
}

// =============================================================================
// PAYMENT RECORD
// =============================================================================

type PaymentStatus string

const (
	PaymentPending                  PaymentStatus = "pending"
	PaymentPendingPayrollSubmission PaymentStatus = "pending_payroll_submission"
	PaymentPendingProcessing        PaymentStatus = "pending_processing"
	PaymentProcessing               PaymentStatus = "processing"
	PaymentCompleted                PaymentStatus = "completed"
	PaymentFailed                   PaymentStatus = "failed"
	PaymentCancelled                PaymentStatus = "cancelled"
)

// IsTerminal reports whether no further transition is expected.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentCompleted || s == PaymentFailed || s == PaymentCancelled
}

type PaymentMethod string

const (
	MethodBankTransfer    PaymentMethod = "bank_transfer"
	MethodExternalPayroll PaymentMethod = "external_payroll"
	MethodInternalPayroll PaymentMethod = "internal_payroll"
)

type PaymentRecord struct {
	ID            PaymentID
	InvoiceID     InvoiceID
	TenantID      TenantID
	Amount        Money
	Status        PaymentStatus
	Method        PaymentMethod
	ScheduledDate time.Time
	Description   string
	Notes         string
	CreatedBy     string
	Metadata      map[string]string // payment model + model-specific fields, decimals as strings
	CreatedAt     time.Time
}

// WorkflowRun marks that a payment model was realized for an invoice.
// Repositories keep (InvoiceID, PaymentModel) unique.
type WorkflowRun struct {
	ID           string
	InvoiceID    InvoiceID
	PaymentModel PaymentModel
	ActorID      string
	CreatedAt    time.Time
}

// =============================================================================
// AUDIT EVENT - Emitted, not owned
// =============================================================================

type AuditAction string

const (
	AuditCreate AuditAction = "CREATE"
	AuditUpdate AuditAction = "UPDATE"
)

type AuditEvent struct {
	ID         string
	ActorID    string
	Action     AuditAction
	EntityType string
	EntityID   string
	TenantID   TenantID
	Metadata   map[string]any
	Timestamp  time.Time
}

// =============================================================================
// TASK - Follow-up work description, executed elsewhere
// =============================================================================

type TaskType string

const (
	TaskPayrollSubmission    TaskType = "PAYROLL_SUBMISSION"
	TaskNetPaymentProcessing TaskType = "NET_PAYMENT_PROCESSING"
	TaskTaxWithholding       TaskType = "TAX_WITHHOLDING"
	TaskTaxFiling            TaskType = "TAX_FILING"
	TaskSplitPayment         TaskType = "SPLIT_PAYMENT"
)

type TaskStatus string

const TaskPending TaskStatus = "pending"

type Task struct {
	ID          TaskID
	Type        TaskType
	Status      TaskStatus
	Description string
	InvoiceID   InvoiceID
	PaymentID   PaymentID
}
