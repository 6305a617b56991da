package workflow

import (
	"fmt"
	"strings"

	"github.com/warp/payment-engine/billing"
)

// =============================================================================
// STANDARD HANDLER
// =============================================================================

type handler struct {
	cfg Config
}

// NewHandler returns the Handler used by the dispatcher.
func NewHandler(cfg Config) Handler {
	return handler{cfg: cfg}
}

const auditEntityPayment = "Payment"

// Gross pays the full invoice total in one record. The recipient is
// responsible for their own taxes, so no tasks are produced.
func (h handler) Gross(in Input, p GrossPlan) (*Outcome, error) {
	total := in.Invoice.TotalAmount
	pay := newPayment(in, total, billing.PaymentPending, billing.MethodBankTransfer,
		fmt.Sprintf("Gross payment for invoice %s", in.Invoice.ID),
		withRecipient(in, map[string]string{"workerHandlesTaxes": "true"}),
		p.Model())

	return &Outcome{
		Payments: []billing.PaymentRecord{pay},
		NextSteps: []string{
			"Transfer the gross amount to the recipient",
			"The recipient is solely responsible for filing and paying their own taxes",
		},
		Message: fmt.Sprintf("Gross payment of %s %s created", total, total.Currency),
		Audit: paymentAudit(in, p.Model(), []billing.PaymentRecord{pay}, map[string]any{
			"totalAmount":        total.String(),
			"workerHandlesTaxes": true,
		}),
	}, nil
}

// =============================================================================
// SHARED BUILDERS
// =============================================================================

func newPayment(in Input, amount billing.Money, status billing.PaymentStatus, method billing.PaymentMethod,
	description string, metadata map[string]string, model billing.PaymentModel) billing.PaymentRecord {
	md := map[string]string{"paymentModel": string(model)}
	for k, v := range metadata {
		md[k] = v
	}
	return billing.PaymentRecord{
		ID:            billing.PaymentID(in.NewID()),
		InvoiceID:     in.Invoice.ID,
		TenantID:      in.TenantID,
		Amount:        amount,
		Status:        status,
		Method:        method,
		ScheduledDate: in.Now,
		Description:   description,
		CreatedBy:     in.ActorID,
		Metadata:      md,
		CreatedAt:     in.Now,
	}
}

// withRecipient records the contract's first contractor as the recipient
// of a single-recipient payment.
func withRecipient(in Input, md map[string]string) map[string]string {
	if in.Contract == nil {
		return md
	}
	contractors := in.Contract.ParticipantsWithRole(billing.RoleContractor)
	if len(contractors) == 0 {
		return md
	}
	if id := contractors[0].PersonID; id != "" {
		md["recipientPersonId"] = id
	}
	if id := contractors[0].CompanyID; id != "" {
		md["recipientCompanyId"] = id
	}
	return md
}

func newTask(in Input, typ billing.TaskType, paymentID billing.PaymentID, description string) billing.Task {
	return billing.Task{
		ID:          billing.TaskID(in.NewID()),
		Type:        typ,
		Status:      billing.TaskPending,
		Description: description,
		InvoiceID:   in.Invoice.ID,
		PaymentID:   paymentID,
	}
}

// paymentAudit builds the single CREATE event every handler returns.
func paymentAudit(in Input, model billing.PaymentModel, payments []billing.PaymentRecord, extra map[string]any) billing.AuditEvent {
	ids := make([]string, len(payments))
	for i, p := range payments {
		ids[i] = string(p.ID)
	}
	md := map[string]any{
		"invoiceId":    string(in.Invoice.ID),
		"paymentModel": string(model),
		"paymentIds":   ids,
	}
	for k, v := range extra {
		md[k] = v
	}
	return billing.AuditEvent{
		ID:         in.NewID(),
		ActorID:    in.ActorID,
		Action:     billing.AuditCreate,
		EntityType: auditEntityPayment,
		EntityID:   strings.Join(ids, ","),
		TenantID:   in.TenantID,
		Metadata:   md,
		Timestamp:  in.Now,
	}
}
