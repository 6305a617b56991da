/*
Package factory converts JSON contract and invoice definitions into billing
entities.

PURPOSE:
  Contracts and invoices are owned by other systems. The API and the demo
  scenarios receive them as JSON; the factory validates that JSON and builds
  the billing.Contract and billing.Invoice values the engine reads.

JSON SCHEMA:
  Contract:
  {
    "id": "c-100",
    "tenant_id": "tenant-1",
    "name": "Acme staffing",
    "margin": "10",
    "margin_type": "VARIABLE",
    "margin_paid_by": "client",
    "payment_model": "PAYROLL_WE_PAY",
    "participants": [
      {"role": "contractor", "person_id": "p-1"},
      {"role": "agency", "company_id": "co-9"}
    ]
  }

  Invoice:
  {
    "id": "inv-100",
    "tenant_id": "tenant-1",
    "contract_id": "c-100",
    "currency": "USD",
    "amount": "1000.00",
    "status": "finalized",
    "line_items": [{"description": "Week 12", "quantity": "40", "unit_price": "25"}]
  }

VALIDATION:
  Structural checks use validator struct tags. Decimal fields are parsed
  with shopspring/decimal and the margin configuration goes through
  margin.ValidateMarginData. Every problem is reported in one
  billing.ValidationError.

SEE ALSO:
  - billing/types.go: Contract and Invoice
  - margin/validation.go: Margin range rules
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payment-engine/billing"
	"github.com/warp/payment-engine/margin"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type ContractJSON struct {
	ID           string            `json:"id" validate:"required"`
	TenantID     string            `json:"tenant_id" validate:"required"`
	Name         string            `json:"name,omitempty"`
	Margin       string            `json:"margin,omitempty"` // amount for FIXED, percentage for VARIABLE
	MarginType   string            `json:"margin_type" validate:"required,oneof=FIXED VARIABLE CUSTOM"`
	MarginPaidBy string            `json:"margin_paid_by,omitempty" validate:"omitempty,oneof=client contractor agency"`
	PaymentModel string            `json:"payment_model" validate:"required,oneof=GROSS PAYROLL PAYROLL_WE_PAY SPLIT"`
	Participants []ParticipantJSON `json:"participants,omitempty" validate:"dive"`
	CreatedAt    string            `json:"created_at,omitempty"` // RFC 3339
}

type ParticipantJSON struct {
	Role      string `json:"role" validate:"required,oneof=contractor client agency approver"`
	PersonID  string `json:"person_id,omitempty" validate:"required_without=CompanyID"`
	CompanyID string `json:"company_id,omitempty"`
}

type InvoiceJSON struct {
	ID         string         `json:"id" validate:"required"`
	TenantID   string         `json:"tenant_id" validate:"required"`
	ContractID string         `json:"contract_id" validate:"required"`
	Currency   string         `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	Amount     string         `json:"amount" validate:"required"`
	Status     string         `json:"status,omitempty" validate:"omitempty,oneof=draft finalized paid"`
	LineItems  []LineItemJSON `json:"line_items,omitempty" validate:"dive"`
	CreatedAt  string         `json:"created_at,omitempty"`
}

type LineItemJSON struct {
	Description string `json:"description" validate:"required"`
	Quantity    string `json:"quantity" validate:"required"`
	UnitPrice   string `json:"unit_price" validate:"required"`
}

// =============================================================================
// FACTORY
// =============================================================================

// Factory converts JSON definitions to billing entities.
type Factory struct {
	// Now stamps entities that carry no created_at.
	Now func() time.Time
}

func NewFactory() *Factory {
	return &Factory{Now: func() time.Time { return time.Now().UTC() }}
}

// ParseContract parses and validates a contract JSON document.
func (f *Factory) ParseContract(data []byte) (*billing.Contract, error) {
	var cj ContractJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, &billing.ValidationError{Field: "contract", Problems: []string{"invalid JSON: " + err.Error()}}
	}
	return f.ContractFromJSON(cj)
}

// ContractFromJSON validates cj and builds the contract.
func (f *Factory) ContractFromJSON(cj ContractJSON) (*billing.Contract, error) {
	if err := Validate("contract", cj); err != nil {
		return nil, err
	}

	var problems []string
	value, err := parseDecimal(cj.Margin)
	if err != nil {
		problems = append(problems, fmt.Sprintf("margin: %q is not a decimal", cj.Margin))
	}
	cfg := margin.Config{Type: billing.MarginType(cj.MarginType), Value: value}
	switch {
	case err != nil:
	case cj.Margin == "":
		problems = append(problems, margin.ValidateMarginData(margin.MarginData{Type: cfg.Type})...)
	default:
		problems = append(problems, margin.ValidateMarginData(cfg.Data())...)
	}
	createdAt, err := f.parseTime(cj.CreatedAt)
	if err != nil {
		problems = append(problems, fmt.Sprintf("created_at: %q is not an RFC 3339 time", cj.CreatedAt))
	}
	if len(problems) > 0 {
		return nil, &billing.ValidationError{Field: "contract", Problems: problems}
	}

	c := &billing.Contract{
		ID:           billing.ContractID(cj.ID),
		TenantID:     billing.TenantID(cj.TenantID),
		Name:         cj.Name,
		Margin:       value,
		MarginType:   cfg.Type,
		MarginPaidBy: billing.MarginPaidBy(cj.MarginPaidBy),
		PaymentModel: billing.PaymentModel(cj.PaymentModel),
		CreatedAt:    createdAt,
	}
	for _, p := range cj.Participants {
		c.Participants = append(c.Participants, billing.Participant{
			Role:      billing.ParticipantRole(p.Role),
			PersonID:  p.PersonID,
			CompanyID: p.CompanyID,
		})
	}
	return c, nil
}

// ContractToJSON is the inverse of ContractFromJSON.
func (f *Factory) ContractToJSON(c *billing.Contract) ContractJSON {
	cj := ContractJSON{
		ID:           string(c.ID),
		TenantID:     string(c.TenantID),
		Name:         c.Name,
		Margin:       c.Margin.String(),
		MarginType:   string(c.MarginType),
		MarginPaidBy: string(c.MarginPaidBy),
		PaymentModel: string(c.PaymentModel),
		CreatedAt:    c.CreatedAt.Format(time.RFC3339),
	}
	for _, p := range c.Participants {
		cj.Participants = append(cj.Participants, ParticipantJSON{
			Role:      string(p.Role),
			PersonID:  p.PersonID,
			CompanyID: p.CompanyID,
		})
	}
	return cj
}

// ParseInvoice parses and validates an invoice JSON document.
func (f *Factory) ParseInvoice(data []byte) (*billing.Invoice, error) {
	var ij InvoiceJSON
	if err := json.Unmarshal(data, &ij); err != nil {
		return nil, &billing.ValidationError{Field: "invoice", Problems: []string{"invalid JSON: " + err.Error()}}
	}
	return f.InvoiceFromJSON(ij)
}

// InvoiceFromJSON validates ij and builds a new invoice. The margin is
// zero and the total equals the amount until a margin record is created.
func (f *Factory) InvoiceFromJSON(ij InvoiceJSON) (*billing.Invoice, error) {
	if err := Validate("invoice", ij); err != nil {
		return nil, err
	}

	var problems []string
	currency := billing.Currency(ij.Currency)
	amount, err := billing.ParseMoney(ij.Amount, currency)
	if err != nil {
		problems = append(problems, fmt.Sprintf("amount: %q is not a decimal", ij.Amount))
	} else if amount.IsNegative() {
		problems = append(problems, "amount: cannot be negative")
	}
	createdAt, err := f.parseTime(ij.CreatedAt)
	if err != nil {
		problems = append(problems, fmt.Sprintf("created_at: %q is not an RFC 3339 time", ij.CreatedAt))
	}

	items := make([]billing.LineItem, 0, len(ij.LineItems))
	for i, li := range ij.LineItems {
		qty, qerr := decimal.NewFromString(li.Quantity)
		price, perr := decimal.NewFromString(li.UnitPrice)
		if qerr != nil || perr != nil {
			problems = append(problems, fmt.Sprintf("line_items[%d]: quantity and unit_price must be decimals", i))
			continue
		}
		items = append(items, billing.LineItem{Description: li.Description, Quantity: qty, UnitPrice: price})
	}
	if len(problems) > 0 {
		return nil, &billing.ValidationError{Field: "invoice", Problems: problems}
	}

	status := billing.InvoiceStatus(ij.Status)
	if status == "" {
		status = billing.InvoiceDraft
	}
	amount = amount.Round()
	return &billing.Invoice{
		ID:               billing.InvoiceID(ij.ID),
		TenantID:         billing.TenantID(ij.TenantID),
		ContractID:       billing.ContractID(ij.ContractID),
		Amount:           amount,
		MarginAmount:     amount.Zero(),
		MarginPercentage: decimal.Zero,
		TotalAmount:      amount,
		Status:           status,
		LineItems:        items,
		CreatedAt:        createdAt,
	}, nil
}

func (f *Factory) parseTime(s string) (time.Time, error) {
	if s == "" {
		return f.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
