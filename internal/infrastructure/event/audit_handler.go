package event

import (
	"context"
	"encoding/json"

	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/erp/fiscal/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// AuditTrailHandler writes every fiscal event to the structured log so that
// reconciliation and batch changes can be traced to an actor.
type AuditTrailHandler struct {
	logger *zap.Logger
}

// NewAuditTrailHandler creates an AuditTrailHandler
func NewAuditTrailHandler(l *zap.Logger) *AuditTrailHandler {
	if l == nil {
		l = zap.NewNop()
	}
	return &AuditTrailHandler{logger: l.Named("audit")}
}

// EventTypes lists the fiscal events this handler records
func (h *AuditTrailHandler) EventTypes() []string {
	return []string{
		finance.EventTypeInvoiceIngested,
		finance.EventTypeInvoicePaymentRecorded,
		finance.EventTypeTransactionReconciled,
		finance.EventTypeTransactionUnreconciled,
		finance.EventTypePaymentBatchStatus,
	}
}

// Handle logs the event envelope and its JSON payload
func (h *AuditTrailHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	fields := []zap.Field{
		zap.String("event_id", event.EventID().String()),
		zap.String("event_type", event.EventType()),
		zap.String("aggregate_type", event.AggregateType()),
		zap.String("aggregate_id", event.AggregateID().String()),
		zap.String("actor_id", event.ActorID()),
		zap.Time("occurred_at", event.OccurredAt()),
		zap.ByteString("payload", payload),
	}
	if reqID := logger.GetRequestID(ctx); reqID != "" {
		fields = append(fields, zap.String("request_id", reqID))
	}
	logger.WithTraceContext(ctx, h.logger).Info("Fiscal event", fields...)
	return nil
}

var _ shared.EventHandler = (*AuditTrailHandler)(nil)
