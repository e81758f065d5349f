package finance

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/erp/fiscal/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentBatchConfig holds batch policy
type PaymentBatchConfig struct {
	// EnforceBalance rejects items larger than the invoice balance instead of
	// only logging a warning.
	EnforceBalance bool
}

// PaymentBatchService manages payment batches. Every mutation of one batch
// runs under that batch's lock and inside a unit of work that reloads the
// batch row for update.
type PaymentBatchService struct {
	batchRepo      finance.PaymentBatchRepository
	invoiceRepo    finance.InvoiceRepository
	uow            shared.UnitOfWork
	locker         BatchLocker
	eventPublisher shared.EventPublisher
	metrics        *telemetry.FiscalMetrics
	logger         *zap.Logger
	config         PaymentBatchConfig
}

// NewPaymentBatchService creates a new PaymentBatchService
func NewPaymentBatchService(
	batchRepo finance.PaymentBatchRepository,
	invoiceRepo finance.InvoiceRepository,
	uow shared.UnitOfWork,
	locker BatchLocker,
	config PaymentBatchConfig,
	logger *zap.Logger,
) *PaymentBatchService {
	if uow == nil {
		uow = shared.NoopUnitOfWork
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentBatchService{
		batchRepo:   batchRepo,
		invoiceRepo: invoiceRepo,
		uow:         uow,
		locker:      locker,
		logger:      logger,
		config:      config,
	}
}

// SetEventPublisher sets the event publisher for batch events
func (s *PaymentBatchService) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// SetMetrics sets the business metrics recorder
func (s *PaymentBatchService) SetMetrics(metrics *telemetry.FiscalMetrics) {
	s.metrics = metrics
}

// CreateBatch creates an empty batch in borrador
func (s *PaymentBatchService) CreateBatch(ctx context.Context, req CreateBatchRequest) (*PaymentBatchResponse, error) {
	batch, err := finance.NewPaymentBatch(req.Title, req.BankAccountID, req.ScheduledDate, req.ActorID)
	if err != nil {
		return nil, err
	}
	if err := s.batchRepo.Create(ctx, batch); err != nil {
		return nil, err
	}
	s.publishEvents(ctx, batch)
	resp := ToPaymentBatchResponse(batch)
	return &resp, nil
}

// GetBatch returns a batch with its items and total
func (s *PaymentBatchService) GetBatch(ctx context.Context, batchID uuid.UUID) (*PaymentBatchResponse, error) {
	batch, err := s.batchRepo.FindByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	resp := ToPaymentBatchResponse(batch)
	return &resp, nil
}

// ListBatches returns a page of batches, optionally filtered by status
func (s *PaymentBatchService) ListBatches(ctx context.Context, filter shared.Filter, status string) ([]PaymentBatchResponse, int64, error) {
	st := finance.BatchStatus(status)
	if status != "" && !st.IsValid() {
		return nil, 0, shared.NewValidationError("status", fmt.Sprintf("Unknown batch status %q", status))
	}
	batches, total, err := s.batchRepo.FindAll(ctx, filter, st)
	if err != nil {
		return nil, 0, err
	}
	out := make([]PaymentBatchResponse, len(batches))
	for i := range batches {
		out[i] = ToPaymentBatchResponse(&batches[i])
	}
	return out, total, nil
}

// AddInvoice adds an invoice payment intent to an editable batch.
// Amounts above the invoice balance are reported, and rejected only when
// EnforceBalance is set.
func (s *PaymentBatchService) AddInvoice(ctx context.Context, req AddBatchInvoiceRequest) (*PaymentBatchResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment_batch", "add_invoice")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrBatchID, req.BatchID.String(),
		telemetry.SpanAttrInvoiceID, req.InvoiceID.String(),
		telemetry.SpanAttrAmount, req.Amount.String(),
	)

	batch, err := s.mutate(ctx, req.BatchID, func(c context.Context, batch *finance.PaymentBatch) error {
		if err := batch.EnsureEditable(); err != nil {
			return err
		}
		inv, err := s.invoiceRepo.FindByID(c, req.InvoiceID)
		if err != nil {
			return err
		}
		item, err := batch.AddItem(inv.ID, req.Amount, req.ActorID)
		if err != nil {
			return err
		}
		if balance := inv.Balance(); req.Amount.GreaterThan(balance) {
			if s.config.EnforceBalance {
				return shared.NewValidationError("amount",
					fmt.Sprintf("Amount %s exceeds invoice balance %s", req.Amount.StringFixed(2), balance.StringFixed(2)))
			}
			s.metrics.RecordBalanceWarning(c)
			s.logger.Warn("Batch item exceeds invoice balance",
				zap.String("batch_id", batch.ID.String()),
				zap.String("invoice_id", inv.ID.String()),
				zap.String("amount", req.Amount.String()),
				zap.String("balance", balance.String()),
			)
		}
		return s.batchRepo.AddItem(c, item)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	resp := ToPaymentBatchResponse(batch)
	return &resp, nil
}

// RemoveInvoice deletes a batch item while its batch is editable
func (s *PaymentBatchService) RemoveInvoice(ctx context.Context, actorID string, itemID uuid.UUID) (*PaymentBatchResponse, error) {
	if actorID == "" {
		return nil, shared.NewValidationError("actor_id", "Actor ID is required")
	}
	item, err := s.batchRepo.FindItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	batch, err := s.mutate(ctx, item.BatchID, func(c context.Context, batch *finance.PaymentBatch) error {
		if err := batch.RemoveItem(itemID); err != nil {
			return err
		}
		return s.batchRepo.DeleteItem(c, itemID)
	})
	if err != nil {
		return nil, err
	}
	resp := ToPaymentBatchResponse(batch)
	return &resp, nil
}

// Schedule moves a draft batch to programado
func (s *PaymentBatchService) Schedule(ctx context.Context, actorID string, batchID uuid.UUID, date *time.Time) (*PaymentBatchResponse, error) {
	batch, err := s.transition(ctx, batchID, func(b *finance.PaymentBatch) error {
		return b.Schedule(date, actorID)
	})
	if err != nil {
		return nil, err
	}
	resp := ToPaymentBatchResponse(batch)
	return &resp, nil
}

// Cancel moves a non-terminal batch to cancelado
func (s *PaymentBatchService) Cancel(ctx context.Context, actorID string, batchID uuid.UUID, reason string) (*PaymentBatchResponse, error) {
	batch, err := s.transition(ctx, batchID, func(b *finance.PaymentBatch) error {
		return b.Cancel(actorID, reason)
	})
	if err != nil {
		return nil, err
	}
	resp := ToPaymentBatchResponse(batch)
	return &resp, nil
}

// MarkPaid sets the batch to pagado and then marks every member invoice
// paid. The invoice fan-out is not rolled back on failure; calling MarkPaid
// again on a pagado batch repeats it.
func (s *PaymentBatchService) MarkPaid(ctx context.Context, actorID string, batchID uuid.UUID) (*MarkBatchPaidResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment_batch", "mark_paid")
	defer span.End()
	telemetry.SetAttributes(span, telemetry.SpanAttrBatchID, batchID.String())

	if actorID == "" {
		return nil, shared.NewValidationError("actor_id", "Actor ID is required")
	}

	var (
		batch       *finance.PaymentBatch
		alreadyPaid bool
		opErr       error
	)
	telemetry.WithProfilingLabels(ctx, telemetry.FiscalOperationLabels("payment_batch", "mark_paid"), func(c context.Context) {
		batch, opErr = s.transition(c, batchID, func(b *finance.PaymentBatch) error {
			var err error
			alreadyPaid, err = b.MarkPaid(actorID)
			return err
		})
	})
	if opErr != nil {
		telemetry.RecordError(span, opErr)
		return nil, opErr
	}

	marked, err := s.invoiceRepo.MarkPaidBulk(ctx, batch.InvoiceIDs(), actorID)
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Error("Batch marked pagado but invoice fan-out failed; retry MarkPaid",
			zap.String("batch_id", batch.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	telemetry.SetAttributes(span, "invoices_marked", marked, "already_paid", alreadyPaid)

	return &MarkBatchPaidResult{
		Batch:          ToPaymentBatchResponse(batch),
		InvoicesMarked: marked,
		AlreadyPaid:    alreadyPaid,
	}, nil
}

// transition applies a status change under the batch lock and persists it
// when the status actually moved.
func (s *PaymentBatchService) transition(ctx context.Context, batchID uuid.UUID, apply func(*finance.PaymentBatch) error) (*finance.PaymentBatch, error) {
	var from finance.BatchStatus
	batch, err := s.mutate(ctx, batchID, func(c context.Context, b *finance.PaymentBatch) error {
		from = b.Status
		if err := apply(b); err != nil {
			return err
		}
		if b.Status == from {
			return nil
		}
		return s.batchRepo.SaveStatus(c, b)
	})
	if err != nil {
		return nil, err
	}
	if batch.Status != from {
		s.metrics.RecordBatchTransition(ctx, string(from), string(batch.Status))
		s.logger.Info("Payment batch status changed",
			zap.String("batch_id", batch.ID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(batch.Status)),
		)
	}
	return batch, nil
}

// mutate runs fn on a freshly locked copy of the batch and publishes the
// events it raised after the unit of work commits.
func (s *PaymentBatchService) mutate(ctx context.Context, batchID uuid.UUID, fn func(context.Context, *finance.PaymentBatch) error) (*finance.PaymentBatch, error) {
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, batchID)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	var batch *finance.PaymentBatch
	err := s.uow.Do(ctx, func(c context.Context) error {
		var err error
		if batch, err = s.batchRepo.FindByIDForUpdate(c, batchID); err != nil {
			return err
		}
		return fn(c, batch)
	})
	if err != nil {
		return nil, err
	}
	s.publishEvents(ctx, batch)
	return batch, nil
}

func (s *PaymentBatchService) publishEvents(ctx context.Context, batch *finance.PaymentBatch) {
	events := batch.PullDomainEvents()
	if s.eventPublisher == nil || len(events) == 0 {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("Failed to publish payment batch events",
			zap.String("batch_id", batch.ID.String()),
			zap.Error(err),
		)
	}
}
