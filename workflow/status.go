package workflow

import (
	"context"

	"github.com/warp/payment-engine/billing"
)

// Summary is the payment state of one invoice.
type Summary struct {
	InvoiceID      billing.InvoiceID
	PaymentModel   billing.PaymentModel
	TotalAmount    billing.Money
	Payments       []billing.PaymentRecord
	AllCompleted   bool
	PendingCount   int
	CompletedCount int
}

type StatusService struct {
	Repo billing.Reader
}

func NewStatusService(repo billing.Reader) *StatusService {
	return &StatusService{Repo: repo}
}

// Status summarizes an invoice's payments. The payment model always comes
// from the contract, never from payment metadata. Failed and cancelled
// payments count as neither pending nor completed.
func (s *StatusService) Status(ctx context.Context, invoiceID billing.InvoiceID) (*Summary, error) {
	inv, contract, err := loadInvoice(ctx, s.Repo, invoiceID)
	if err != nil {
		return nil, err
	}
	payments, err := s.Repo.ListPaymentRecords(ctx, invoiceID)
	if err != nil {
		return nil, billing.Unavailable("list payment records", err)
	}

	sum := &Summary{
		InvoiceID:    inv.ID,
		PaymentModel: contract.PaymentModel,
		TotalAmount:  inv.TotalAmount,
		Payments:     payments,
	}
	for _, p := range payments {
		switch {
		case p.Status == billing.PaymentCompleted:
			sum.CompletedCount++
		case !p.Status.IsTerminal():
			sum.PendingCount++
		}
	}
	sum.AllCompleted = len(payments) > 0 && sum.CompletedCount == len(payments)
	return sum, nil
}
