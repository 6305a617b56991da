package billing_test

import (
	"context"

	"github.com/warp/payment-engine/billing"
)

type sinkFunc func(billing.AuditEvent) error

func (f sinkFunc) Emit(_ context.Context, e billing.AuditEvent) error { return f(e) }
