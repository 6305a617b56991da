package logger

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/payment-engine/billing"
)

// AuditSink writes audit events to a zap logger. It is usually combined
// with a persistent sink through billing.MultiSink.
type AuditSink struct {
	logger *zap.Logger
}

var _ billing.AuditSink = (*AuditSink)(nil)

func NewAuditSink(logger *zap.Logger) *AuditSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditSink{logger: logger.Named("audit")}
}

// Emit never fails.
func (s *AuditSink) Emit(_ context.Context, e billing.AuditEvent) error {
	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("action", string(e.Action)),
		zap.String("entity_type", e.EntityType),
		zap.String("entity_id", e.EntityID),
		zap.String("actor_id", e.ActorID),
		zap.Time("timestamp", e.Timestamp),
	}
	if e.TenantID != "" {
		fields = append(fields, zap.String("tenant_id", string(e.TenantID)))
	}
	if len(e.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", e.Metadata))
	}
	s.logger.Info("audit event", fields...)
	return nil
}
