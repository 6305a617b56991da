package workflow

import (
	"fmt"

	"github.com/warp/payment-engine/billing"
)

// Payroll hands the full total to an external payroll provider. One
// submission task tracks the hand-off.
func (h handler) Payroll(in Input, p PayrollPlan) (*Outcome, error) {
	total := in.Invoice.TotalAmount
	pay := newPayment(in, total, billing.PaymentPendingPayrollSubmission, billing.MethodExternalPayroll,
		fmt.Sprintf("Payroll payment for invoice %s via %s", in.Invoice.ID, p.Provider),
		withRecipient(in, map[string]string{"payrollProvider": p.Provider}),
		p.Model())

	task := newTask(in, billing.TaskPayrollSubmission, pay.ID,
		fmt.Sprintf("Submit payment of %s %s to payroll provider %s", total, total.Currency, p.Provider))

	return &Outcome{
		Payments: []billing.PaymentRecord{pay},
		Tasks:    []billing.Task{task},
		NextSteps: []string{
			fmt.Sprintf("Export payment data in the %s payroll format", p.Provider),
			"Submit the payment to the payroll provider",
			"Track the provider's submission confirmation",
			"Monitor the payroll run until the payment completes",
		},
		Message: fmt.Sprintf("Payroll payment of %s %s queued for %s", total, total.Currency, p.Provider),
		Audit: paymentAudit(in, p.Model(), []billing.PaymentRecord{pay}, map[string]any{
			"totalAmount":     total.String(),
			"payrollProvider": p.Provider,
		}),
	}, nil
}

// PayrollWePay withholds federal, state and FICA taxes and pays the net.
func (h handler) PayrollWePay(in Input, p PayrollWePayPlan) (*Outcome, error) {
	w := ComputeWithholding(in.Invoice.TotalAmount, p.FederalRate, p.StateRate)
	cur := w.Gross.Currency

	pay := newPayment(in, w.Net, billing.PaymentPendingProcessing, billing.MethodInternalPayroll,
		fmt.Sprintf("Net payroll payment for invoice %s", in.Invoice.ID),
		withRecipient(in, w.Metadata()),
		p.Model())

	tasks := []billing.Task{
		newTask(in, billing.TaskNetPaymentProcessing, pay.ID,
			fmt.Sprintf("Pay net amount of %s %s to the worker", w.Net, cur)),
		newTask(in, billing.TaskTaxWithholding, pay.ID,
			fmt.Sprintf("Remit withheld taxes of %s %s (federal %s, state %s, FICA %s)",
				w.Total, cur, w.Federal, w.State, w.FICA)),
		newTask(in, billing.TaskTaxFiling, pay.ID,
			"File the required payroll tax forms for this payment"),
	}

	audit := map[string]any{}
	for k, v := range w.Metadata() {
		audit[k] = v
	}

	return &Outcome{
		Payments: []billing.PaymentRecord{pay},
		Tasks:    tasks,
		NextSteps: []string{
			fmt.Sprintf("Process the net payment of %s %s", w.Net, cur),
			fmt.Sprintf("Remit %s %s of withheld taxes to the authorities", w.Total, cur),
			"File the payroll tax forms before the filing deadline",
		},
		Message: fmt.Sprintf("Net payment of %s %s created after withholding %s %s", w.Net, cur, w.Total, cur),
		Audit:   paymentAudit(in, p.Model(), []billing.PaymentRecord{pay}, audit),
	}, nil
}
