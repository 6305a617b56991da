/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types stay
  free of JSON concerns; these types carry the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Contracts / invoices:
    factory.ContractJSON, factory.InvoiceJSON (request and response)

  Margin:
    MarginDTO, MarginHistoryEntryDTO, OverrideMarginRequest,
    ValidateMarginRequest, ValidateMarginResponse

  Payments:
    ExecutePaymentRequest, PaymentMetadataRequest, SplitRequest,
    WorkflowResultDTO, PaymentDTO, TaskDTO, AuditEventDTO, PaymentStatusDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry `validate` tags checked by factory.Validate. Decimal
  fields use decimal.Decimal, which accepts JSON numbers and strings.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/contract.go: Contract and invoice JSON
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payment-engine/billing"
	"github.com/warp/payment-engine/factory"
	"github.com/warp/payment-engine/margin"
	"github.com/warp/payment-engine/workflow"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error    string   `json:"error"`
	Code     string   `json:"code"`
	Details  string   `json:"details,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

// =============================================================================
// INVOICE
// =============================================================================

type InvoiceDTO struct {
	factory.InvoiceJSON
	MarginAmount     billing.Money   `json:"margin_amount"`
	MarginPercentage decimal.Decimal `json:"margin_percentage"`
	TotalAmount      billing.Money   `json:"total_amount"`
}

func toInvoiceDTO(inv *billing.Invoice) InvoiceDTO {
	ij := factory.InvoiceJSON{
		ID:         string(inv.ID),
		TenantID:   string(inv.TenantID),
		ContractID: string(inv.ContractID),
		Currency:   string(inv.Currency()),
		Amount:     inv.Amount.String(),
		Status:     string(inv.Status),
		CreatedAt:  inv.CreatedAt.Format(time.RFC3339),
	}
	for _, li := range inv.LineItems {
		ij.LineItems = append(ij.LineItems, factory.LineItemJSON{
			Description: li.Description,
			Quantity:    li.Quantity.String(),
			UnitPrice:   li.UnitPrice.String(),
		})
	}
	return InvoiceDTO{
		InvoiceJSON:      ij,
		MarginAmount:     inv.MarginAmount,
		MarginPercentage: inv.MarginPercentage,
		TotalAmount:      inv.TotalAmount,
	}
}

// =============================================================================
// MARGIN
// =============================================================================

type MarginDTO struct {
	ID               string          `json:"id"`
	InvoiceID        string          `json:"invoice_id"`
	ContractID       string          `json:"contract_id"`
	MarginType       string          `json:"margin_type"`
	MarginPercentage decimal.Decimal `json:"margin_percentage"`
	MarginAmount     billing.Money   `json:"margin_amount"`
	CalculatedMargin billing.Money   `json:"calculated_margin"`
	IsOverridden     bool            `json:"is_overridden"`
	OverriddenBy     string          `json:"overridden_by,omitempty"`
	OverriddenAt     *time.Time      `json:"overridden_at,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Warnings         []string        `json:"warnings,omitempty"`
}

// toMarginResultDTO renders a margin write together with its warnings.
func toMarginResultDTO(res *margin.Result) MarginDTO {
	dto := toMarginDTO(res.MarginRecord)
	dto.Warnings = res.Warnings
	return dto
}

func toMarginDTO(rec *billing.MarginRecord) MarginDTO {
	return MarginDTO{
		ID:               string(rec.ID),
		InvoiceID:        string(rec.InvoiceID),
		ContractID:       string(rec.ContractID),
		MarginType:       string(rec.MarginType),
		MarginPercentage: rec.MarginPercentage,
		MarginAmount:     rec.MarginAmount,
		CalculatedMargin: rec.CalculatedMargin,
		IsOverridden:     rec.IsOverridden,
		OverriddenBy:     rec.OverriddenBy,
		OverriddenAt:     rec.OverriddenAt,
		Notes:            rec.Notes,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
}

type MarginHistoryEntryDTO struct {
	Action           string          `json:"action"`
	At               time.Time       `json:"at"`
	ActorID          string          `json:"actor_id,omitempty"`
	MarginType       string          `json:"margin_type"`
	MarginAmount     billing.Money   `json:"margin_amount"`
	MarginPercentage decimal.Decimal `json:"margin_percentage"`
	PreviousAmount   *billing.Money  `json:"previous_amount,omitempty"`
	Notes            string          `json:"notes,omitempty"`
}

func toHistoryDTOs(entries []margin.HistoryEntry) []MarginHistoryEntryDTO {
	dtos := make([]MarginHistoryEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = MarginHistoryEntryDTO{
			Action:           string(e.Action),
			At:               e.At,
			ActorID:          e.ActorID,
			MarginType:       string(e.MarginType),
			MarginAmount:     e.MarginAmount,
			MarginPercentage: e.MarginPercentage,
			PreviousAmount:   e.PreviousAmount,
			Notes:            e.Notes,
		}
	}
	return dtos
}

// CreateMarginRequest is optional; the actor may come from X-Actor-ID.
type CreateMarginRequest struct {
	ActorID string `json:"actor_id,omitempty"`
}

// OverrideMarginRequest replaces a margin. When both values are given the
// amount wins.
type OverrideMarginRequest struct {
	NewMarginAmount     *decimal.Decimal `json:"new_margin_amount,omitempty"`
	NewMarginPercentage *decimal.Decimal `json:"new_margin_percentage,omitempty"`
	ActorID             string           `json:"actor_id,omitempty"`
	Notes               string           `json:"notes,omitempty" validate:"max=2000"`
}

type ValidateMarginRequest struct {
	MarginType       string           `json:"margin_type" validate:"required"`
	MarginPercentage *decimal.Decimal `json:"margin_percentage,omitempty"`
	MarginAmount     *decimal.Decimal `json:"margin_amount,omitempty"`
}

type ValidateMarginResponse struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// ExecutePaymentRequest runs the payment workflow for an invoice. An empty
// payment_model uses the contract's model; an unknown one is rejected by
// the workflow as a business rule violation.
type ExecutePaymentRequest struct {
	PaymentModel string                 `json:"payment_model,omitempty"`
	ActorID      string                 `json:"actor_id,omitempty"`
	Metadata     PaymentMetadataRequest `json:"metadata"`
}

type PaymentMetadataRequest struct {
	PayrollProvider string           `json:"payroll_provider,omitempty"`
	FederalTaxRate  *decimal.Decimal `json:"federal_tax_rate,omitempty"`
	StateTaxRate    *decimal.Decimal `json:"state_tax_rate,omitempty"`
	Splits          []SplitRequest   `json:"splits,omitempty"`
}

type SplitRequest struct {
	TargetPersonID  string           `json:"target_person_id,omitempty"`
	TargetCompanyID string           `json:"target_company_id,omitempty"`
	Description     string           `json:"description,omitempty"`
	Percentage      *decimal.Decimal `json:"percentage,omitempty"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
}

func (m PaymentMetadataRequest) options() workflow.Options {
	opts := workflow.Options{
		Provider:       m.PayrollProvider,
		FederalTaxRate: m.FederalTaxRate,
		StateTaxRate:   m.StateTaxRate,
	}
	for _, s := range m.Splits {
		opts.Splits = append(opts.Splits, workflow.SplitEntry{
			Target:      workflow.SplitTarget{PersonID: s.TargetPersonID, CompanyID: s.TargetCompanyID},
			Description: s.Description,
			Percentage:  s.Percentage,
			Amount:      s.Amount,
		})
	}
	return opts
}

type PaymentDTO struct {
	ID            string            `json:"id"`
	InvoiceID     string            `json:"invoice_id"`
	TenantID      string            `json:"tenant_id"`
	Amount        billing.Money     `json:"amount"`
	Status        string            `json:"status"`
	Method        string            `json:"method"`
	ScheduledDate time.Time         `json:"scheduled_date"`
	Description   string            `json:"description,omitempty"`
	CreatedBy     string            `json:"created_by,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func toPaymentDTOs(payments []billing.PaymentRecord) []PaymentDTO {
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = PaymentDTO{
			ID:            string(p.ID),
			InvoiceID:     string(p.InvoiceID),
			TenantID:      string(p.TenantID),
			Amount:        p.Amount,
			Status:        string(p.Status),
			Method:        string(p.Method),
			ScheduledDate: p.ScheduledDate,
			Description:   p.Description,
			CreatedBy:     p.CreatedBy,
			Metadata:      p.Metadata,
			CreatedAt:     p.CreatedAt,
		}
	}
	return dtos
}

type TaskDTO struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Description string `json:"description"`
	InvoiceID   string `json:"invoice_id"`
	PaymentID   string `json:"payment_id,omitempty"`
}

type AuditEventDTO struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type WorkflowResultDTO struct {
	Success      bool            `json:"success"`
	PaymentModel string          `json:"payment_model"`
	PaymentIDs   []string        `json:"payment_ids"`
	Payments     []PaymentDTO    `json:"payments"`
	Tasks        []TaskDTO       `json:"tasks"`
	Message      string          `json:"message"`
	NextSteps    []string        `json:"next_steps"`
	AuditEvents  []AuditEventDTO `json:"audit_events"`
	Warnings     []string        `json:"warnings,omitempty"`
}

func toWorkflowResultDTO(res *workflow.Result) WorkflowResultDTO {
	dto := WorkflowResultDTO{
		Success:      res.Success,
		PaymentModel: string(res.PaymentModel),
		PaymentIDs:   make([]string, len(res.PaymentIDs)),
		Payments:     toPaymentDTOs(res.Payments),
		Tasks:        make([]TaskDTO, len(res.Tasks)),
		Message:      res.Message,
		NextSteps:    res.NextSteps,
		AuditEvents:  make([]AuditEventDTO, len(res.AuditEvents)),
		Warnings:     res.Warnings,
	}
	for i, id := range res.PaymentIDs {
		dto.PaymentIDs[i] = string(id)
	}
	for i, t := range res.Tasks {
		dto.Tasks[i] = TaskDTO{
			ID:          string(t.ID),
			Type:        string(t.Type),
			Status:      string(t.Status),
			Description: t.Description,
			InvoiceID:   string(t.InvoiceID),
			PaymentID:   string(t.PaymentID),
		}
	}
	for i, e := range res.AuditEvents {
		dto.AuditEvents[i] = AuditEventDTO{
			ID:         e.ID,
			Action:     string(e.Action),
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			ActorID:    e.ActorID,
			TenantID:   string(e.TenantID),
			Metadata:   e.Metadata,
			Timestamp:  e.Timestamp,
		}
	}
	if dto.NextSteps == nil {
		dto.NextSteps = []string{}
	}
	return dto
}

type PaymentStatusDTO struct {
	InvoiceID      string        `json:"invoice_id"`
	PaymentModel   string        `json:"payment_model"`
	TotalAmount    billing.Money `json:"total_amount"`
	Payments       []PaymentDTO  `json:"payments"`
	AllCompleted   bool          `json:"all_completed"`
	PendingCount   int           `json:"pending_count"`
	CompletedCount int           `json:"completed_count"`
}

func toPaymentStatusDTO(s *workflow.Summary) PaymentStatusDTO {
	return PaymentStatusDTO{
		InvoiceID:      string(s.InvoiceID),
		PaymentModel:   string(s.PaymentModel),
		TotalAmount:    s.TotalAmount,
		Payments:       toPaymentDTOs(s.Payments),
		AllCompleted:   s.AllCompleted,
		PendingCount:   s.PendingCount,
		CompletedCount: s.CompletedCount,
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	PaymentModel string `json:"payment_model"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}
