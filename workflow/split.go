package workflow

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/warp/payment-engine/billing"
)

// Split creates one payment and one SPLIT_PAYMENT task per entry, in input
// order. With SplitStrict set the unrounded allocation must add up to the
// invoice total within SplitTolerance, and the rounded payments then add
// up to the total exactly.
func (h handler) Split(in Input, p SplitPlan) (*Outcome, error) {
	total := in.Invoice.TotalAmount
	cur := total.Currency
	n := len(p.Splits)

	exact := total.Zero()
	for _, s := range p.Splits {
		exact = exact.Add(splitShare(total, s))
	}
	if h.cfg.SplitStrict && !exact.WithinTolerance(total, h.cfg.SplitTolerance) {
		return nil, &billing.BusinessRuleError{
			Rule:   "split allocation mismatch",
			Detail: fmt.Sprintf("splits allocate %s %s but invoice total is %s %s", exact.Round(), cur, total, cur),
		}
	}

	amounts := allocateSplits(total, p.Splits, h.cfg.SplitStrict)
	allocated := total.Zero()
	for _, a := range amounts {
		allocated = allocated.Add(a)
	}

	payments := make([]billing.PaymentRecord, 0, n)
	tasks := make([]billing.Task, 0, n)
	for i, s := range p.Splits {
		idx := strconv.Itoa(i + 1)
		md := map[string]string{
			"splitIndex":  idx,
			"totalSplits": strconv.Itoa(n),
		}
		if s.Target.PersonID != "" {
			md["targetPersonId"] = s.Target.PersonID
		}
		if s.Target.CompanyID != "" {
			md["targetCompanyId"] = s.Target.CompanyID
		}
		if s.Amount == nil {
			md["splitPercentage"] = s.Percentage.String()
		}

		desc := s.Description
		if desc == "" {
			desc = fmt.Sprintf("Split %s of %d for invoice %s", idx, n, in.Invoice.ID)
		}
		pay := newPayment(in, amounts[i], billing.PaymentPending, billing.MethodBankTransfer, desc, md, p.Model())
		payments = append(payments, pay)
		tasks = append(tasks, newTask(in, billing.TaskSplitPayment, pay.ID,
			fmt.Sprintf("Process split %s of %d: %s %s to %s", idx, n, amounts[i], cur, targetLabel(s.Target))))
	}

	return &Outcome{
		Payments: payments,
		Tasks:    tasks,
		NextSteps: []string{
			"Track each split payment independently",
			"Mark the invoice as fully paid only once every split payment completes",
		},
		Message: fmt.Sprintf("%d split payments created totalling %s %s", n, allocated, cur),
		Audit: paymentAudit(in, p.Model(), payments, map[string]any{
			"totalAmount":     total.String(),
			"allocatedAmount": allocated.String(),
			"totalSplits":     n,
		}),
	}, nil
}

// splitShare is the unrounded amount an entry asks for.
func splitShare(total billing.Money, s SplitEntry) billing.Money {
	if s.Amount != nil {
		return billing.NewMoney(*s.Amount, total.Currency).Round()
	}
	return total.Mul(*s.Percentage).Div(hundred)
}

// allocateSplits rounds each share to the minor unit. Explicit amounts are
// kept as given; percentage shares are floored and the leftover minor units
// go to the largest remainders first (ties to the earlier split). In strict
// mode the percentage shares absorb whatever the explicit amounts leave of
// the total, so the payments sum to it exactly.
func allocateSplits(total billing.Money, splits []SplitEntry, strict bool) []billing.Money {
	places := total.Currency.MinorUnits()
	unit := decimal.New(1, -places)

	amounts := make([]billing.Money, len(splits))
	remainders := make([]decimal.Decimal, len(splits))
	var shares []int
	explicit, floored, exactShares := total.Zero(), total.Zero(), total.Zero()
	for i, s := range splits {
		share := splitShare(total, s)
		if s.Amount != nil {
			amounts[i] = share
			explicit = explicit.Add(share)
			continue
		}
		floor := billing.NewMoney(share.Value.RoundFloor(places), total.Currency)
		amounts[i] = floor
		remainders[i] = share.Value.Sub(floor.Value)
		floored = floored.Add(floor)
		exactShares = exactShares.Add(share)
		shares = append(shares, i)
	}
	if len(shares) == 0 {
		return amounts
	}

	target := exactShares.Round()
	if rest := total.Sub(explicit); strict && !rest.IsNegative() {
		target = rest
	}
	units := target.Sub(floored).Value.Div(unit).IntPart()
	step := unit
	if units < 0 {
		units, step = -units, unit.Neg()
	}

	sort.SliceStable(shares, func(a, b int) bool {
		ra, rb := remainders[shares[a]], remainders[shares[b]]
		if step.IsNegative() {
			return ra.LessThan(rb)
		}
		return ra.GreaterThan(rb)
	})
	for j := int64(0); j < units; j++ {
		i := shares[j%int64(len(shares))]
		amounts[i] = amounts[i].Add(billing.NewMoney(step, total.Currency))
	}
	return amounts
}

func targetLabel(t SplitTarget) string {
	if t.PersonID != "" {
		return "person " + t.PersonID
	}
	return "company " + t.CompanyID
}
