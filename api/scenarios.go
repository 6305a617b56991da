/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the database with one
  contract and one invoice ready for the payment workflow. Each scenario
  demonstrates one payment model or margin feature.

AVAILABLE SCENARIOS:
  gross-contractor:  10% margin, recipient handles their own taxes
  external-payroll:  Fixed 150 margin, routed to an external provider
  payroll-we-pay:    10% margin, taxes withheld internally
  split-team:        15% margin, invoice split between two people
  margin-override:   10% margin overridden to 15% by an admin

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create the contract and invoice via the factory
 3. Calculate the invoice margin
 4. Optionally override the margin

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "payroll-we-pay"}

  Then execute the workflow:
  POST /api/invoices/inv-payroll-we-pay/payments
  {"actor_id": "admin-1"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Margin and payment handlers
  - factory/contract.go: Contract and invoice JSON
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payment-engine/billing"
	"github.com/warp/payment-engine/factory"
	"github.com/warp/payment-engine/margin"
)

const (
	scenarioTenant = "tenant-demo"
	scenarioActor  = "scenario-loader"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	contract  factory.ContractJSON
	amount    string
	overrides []margin.OverrideRequest
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:           "gross-contractor",
			Name:         "Gross Contractor",
			Description:  "Single gross payment; the contractor handles their own taxes",
			PaymentModel: string(billing.ModelGross),
		},
		contract: factory.ContractJSON{
			Margin: "10", MarginType: string(billing.MarginVariable), MarginPaidBy: string(billing.PaidByClient),
			Participants: []factory.ParticipantJSON{{Role: string(billing.RoleContractor), PersonID: "person-ada"}},
		},
		amount: "2000.00",
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:           "external-payroll",
			Name:         "External Payroll",
			Description:  "Fixed margin; payment submitted to an external payroll provider",
			PaymentModel: string(billing.ModelPayroll),
		},
		contract: factory.ContractJSON{
			Margin: "150", MarginType: string(billing.MarginFixed), MarginPaidBy: string(billing.PaidByAgency),
			Participants: []factory.ParticipantJSON{
				{Role: string(billing.RoleContractor), PersonID: "person-grace"},
				{Role: string(billing.RoleAgency), CompanyID: "company-staffing"},
			},
		},
		amount: "1500.00",
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:           "payroll-we-pay",
			Name:         "Payroll (We Pay)",
			Description:  "Federal, state and FICA withheld internally; net amount paid",
			PaymentModel: string(billing.ModelPayrollWePay),
		},
		contract: factory.ContractJSON{
			Margin: "10", MarginType: string(billing.MarginVariable), MarginPaidBy: string(billing.PaidByClient),
			Participants: []factory.ParticipantJSON{{Role: string(billing.RoleContractor), PersonID: "person-linus"}},
		},
		amount: "1000.00",
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:           "split-team",
			Name:         "Split Team",
			Description:  "Invoice split 60/40 between two contractors",
			PaymentModel: string(billing.ModelSplit),
		},
		contract: factory.ContractJSON{
			Margin: "15", MarginType: string(billing.MarginVariable), MarginPaidBy: string(billing.PaidByContractor),
			Participants: []factory.ParticipantJSON{
				{Role: string(billing.RoleContractor), PersonID: "person-alan"},
				{Role: string(billing.RoleContractor), PersonID: "person-joan"},
			},
		},
		amount: "1000.00",
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:           "margin-override",
			Name:         "Margin Override",
			Description:  "10% margin manually raised to 15% with a full history",
			PaymentModel: string(billing.ModelGross),
		},
		contract: factory.ContractJSON{
			Margin: "10", MarginType: string(billing.MarginVariable), MarginPaidBy: string(billing.PaidByClient),
			Participants: []factory.ParticipantJSON{{Role: string(billing.RoleContractor), PersonID: "person-barbara"}},
		},
		amount: "1000.00",
		overrides: []margin.OverrideRequest{{
			NewMarginPercentage: decPtr("15"),
			ActorID:             "admin-1",
			Notes:               "Rush project surcharge",
		}},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	s, ok := findScenario(current)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return
	}
	if err := factory.Validate("scenario", req); err != nil {
		writeError(w, r, err)
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, r, &billing.NotFoundError{Entity: "scenario", ID: req.ScenarioID})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, r, billing.Unavailable("reset database", err))
		return
	}
	if err := h.loadScenario(ctx, s); err != nil {
		writeError(w, r, err)
		return
	}
	h.currentScenario = s.ID

	h.Logger.Info("scenario loaded", zap.String("scenario", s.ID))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "loaded",
		"scenario":    s.ID,
		"contract_id": scenarioContractID(s.ID),
		"invoice_id":  scenarioInvoiceID(s.ID),
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, r, billing.Unavailable("reset database", err))
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADER
// =============================================================================

func scenarioContractID(id string) string { return "c-" + id }
func scenarioInvoiceID(id string) string  { return "inv-" + id }

func (h *Handler) loadScenario(ctx context.Context, s scenario) error {
	cj := s.contract
	cj.ID = scenarioContractID(s.ID)
	cj.TenantID = scenarioTenant
	cj.Name = s.Name
	cj.PaymentModel = s.PaymentModel

	contract, err := h.Factory.ContractFromJSON(cj)
	if err != nil {
		return fmt.Errorf("scenario %s contract: %w", s.ID, err)
	}
	if err := h.Store.SaveContract(ctx, *contract); err != nil {
		return billing.Unavailable("save contract", err)
	}

	inv, err := h.Factory.InvoiceFromJSON(factory.InvoiceJSON{
		ID:         scenarioInvoiceID(s.ID),
		TenantID:   scenarioTenant,
		ContractID: cj.ID,
		Currency:   string(billing.USD),
		Amount:     s.amount,
		Status:     string(billing.InvoiceFinalized),
	})
	if err != nil {
		return fmt.Errorf("scenario %s invoice: %w", s.ID, err)
	}
	if err := h.Store.SaveInvoice(ctx, *inv); err != nil {
		return billing.Unavailable("save invoice", err)
	}

	rec, err := h.Margins.CreateForInvoice(ctx, inv.ID, scenarioActor)
	if err != nil {
		return err
	}
	for _, o := range s.overrides {
		if rec, err = h.Margins.Override(ctx, rec.ID, o); err != nil {
			return err
		}
	}
	return nil
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
