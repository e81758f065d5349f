package finance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/erp/fiscal/internal/infrastructure/csvimport"
	"github.com/erp/fiscal/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReconciliationConfig holds reconciliation policy
type ReconciliationConfig struct {
	// Epsilon is the balance under which an invoice counts as paid
	Epsilon decimal.Decimal
	// ForcePaid is the default for ReconcileExactRequest.ForcePaid
	ForcePaid bool
	// SuggestionPool caps the unpaid invoices scanned by SuggestMatches
	SuggestionPool int
	// MaxStatementRows caps rows accepted by ImportStatement
	MaxStatementRows int
	Location         *time.Location
}

// ReconciliationService links bank transactions to invoices.
//
// Each operation writes the transaction and then the invoice. Both writes
// share one unit of work; when the unit of work is not transactional a
// failure between them is caught by ConsistencyAuditService.
type ReconciliationService struct {
	txRepo         finance.BankTransactionRepository
	invoiceRepo    finance.InvoiceRepository
	uow            shared.UnitOfWork
	strategy       finance.MatchStrategy
	eventPublisher shared.EventPublisher
	metrics        *telemetry.FiscalMetrics
	logger         *zap.Logger
	config         ReconciliationConfig
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(
	txRepo finance.BankTransactionRepository,
	invoiceRepo finance.InvoiceRepository,
	uow shared.UnitOfWork,
	config ReconciliationConfig,
	logger *zap.Logger,
) *ReconciliationService {
	if uow == nil {
		uow = shared.NoopUnitOfWork
	}
	if config.Epsilon.IsZero() {
		config.Epsilon = finance.DefaultPaidEpsilon
	}
	if config.SuggestionPool <= 0 {
		config.SuggestionPool = 200
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationService{
		txRepo:      txRepo,
		invoiceRepo: invoiceRepo,
		uow:         uow,
		strategy:    finance.NewAmountDateMatchStrategy(config.Epsilon),
		logger:      logger,
		config:      config,
	}
}

// SetEventPublisher sets the event publisher for reconciliation events
func (s *ReconciliationService) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// SetMetrics sets the business metrics recorder
func (s *ReconciliationService) SetMetrics(metrics *telemetry.FiscalMetrics) {
	s.metrics = metrics
}

// SetMatchStrategy replaces the strategy used by SuggestMatches
func (s *ReconciliationService) SetMatchStrategy(strategy finance.MatchStrategy) {
	if strategy != nil {
		s.strategy = strategy
	}
}

// ReconcileExact links the transaction to the invoice and marks the invoice
// paid. With the default policy the invoice is marked paid even when the
// transaction amount is smaller than the invoice total.
func (s *ReconciliationService) ReconcileExact(ctx context.Context, req ReconcileExactRequest) (*ReconciliationResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "reconcile_exact")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrActorID, req.ActorID,
		telemetry.SpanAttrTransactionID, req.TransactionID.String(),
		telemetry.SpanAttrInvoiceID, req.InvoiceID.String(),
	)

	if req.ActorID == "" {
		return nil, shared.NewValidationError("actor_id", "Actor ID is required")
	}
	forcePaid := s.config.ForcePaid
	if req.ForcePaid != nil {
		forcePaid = *req.ForcePaid
	}

	var (
		tx  *finance.BankTransaction
		inv *finance.Invoice
	)
	var opErr error
	telemetry.WithProfilingLabels(ctx, telemetry.FiscalOperationLabels("reconciliation", "reconcile_exact"), func(c context.Context) {
		opErr = s.uow.Do(c, func(c context.Context) error {
			var err error
			if tx, inv, err = s.load(c, req.TransactionID, req.InvoiceID); err != nil {
				return err
			}
			if err := tx.Reconcile(inv.ID, req.ActorID); err != nil {
				return err
			}
			if err := s.txRepo.MarkReconciled(c, tx); err != nil {
				return err
			}

			if forcePaid {
				inv.MarkPaid(req.ActorID)
			} else if inv.Balance().Sub(tx.Amount).LessThanOrEqual(s.config.Epsilon) {
				inv.MarkPaid(req.ActorID)
			} else {
				inv.MarkUnpaid(req.ActorID)
			}
			return s.invoiceRepo.SetPaid(c, inv.ID, inv.Paid, req.ActorID)
		})
	})
	if opErr != nil {
		telemetry.RecordError(span, opErr)
		return nil, opErr
	}

	telemetry.AddEvent(span, "transaction_reconciled",
		telemetry.SpanAttrMode, string(finance.ReconcileModeExact),
		"invoice_paid", inv.Paid,
	)
	s.metrics.RecordReconciliation(ctx, string(finance.ReconcileModeExact))
	s.publish(ctx, finance.NewTransactionReconciledEvent(tx, inv, finance.ReconcileModeExact, tx.Amount, req.ActorID))

	invResp := ToInvoiceResponse(inv)
	return &ReconciliationResult{
		Transaction: ToBankTransactionResponse(tx),
		Invoice:     &invResp,
		Mode:        string(finance.ReconcileModeExact),
	}, nil
}

// ReconcileWithAllocation applies amount of the transaction to the invoice.
// On an invoice without payments, an amount covering the total marks it
// paid. Otherwise the amount is stored as a partial payment, may not exceed
// the remaining balance, and paid follows the balance.
func (s *ReconciliationService) ReconcileWithAllocation(ctx context.Context, req ReconcileAllocationRequest) (*ReconciliationResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "reconcile_allocation")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrActorID, req.ActorID,
		telemetry.SpanAttrTransactionID, req.TransactionID.String(),
		telemetry.SpanAttrInvoiceID, req.InvoiceID.String(),
		telemetry.SpanAttrAmount, req.Amount.String(),
	)

	if req.ActorID == "" {
		return nil, shared.NewValidationError("actor_id", "Actor ID is required")
	}
	if !req.Amount.IsPositive() {
		return nil, shared.NewValidationError("amount", "Allocated amount must be positive")
	}

	var (
		tx      *finance.BankTransaction
		inv     *finance.Invoice
		payment *finance.InvoicePayment
	)
	err := s.uow.Do(ctx, func(c context.Context) error {
		var err error
		if tx, inv, err = s.load(c, req.TransactionID, req.InvoiceID); err != nil {
			return err
		}
		if req.Amount.GreaterThan(tx.Amount) {
			return shared.NewValidationError("amount",
				fmt.Sprintf("Allocated amount %s exceeds transaction amount %s", req.Amount.StringFixed(2), tx.Amount.StringFixed(2)))
		}
		settlesOutright := len(inv.Payments) == 0 && req.Amount.GreaterThanOrEqual(inv.TotalAmount)
		if !settlesOutright {
			if err := inv.CheckPayment(req.Amount, s.config.Epsilon); err != nil {
				return err
			}
		}
		if err := tx.Reconcile(inv.ID, req.ActorID); err != nil {
			return err
		}
		if err := s.txRepo.MarkReconciled(c, tx); err != nil {
			return err
		}

		if settlesOutright {
			inv.MarkPaid(req.ActorID)
			return s.invoiceRepo.SetPaid(c, inv.ID, true, req.ActorID)
		}

		wasPaid := inv.Paid
		payment, err = inv.RecordPayment(req.Amount, tx.Date, &tx.ID, tx.Reference, req.ActorID, s.config.Epsilon)
		if err != nil {
			return err
		}
		if err := s.invoiceRepo.AddPayment(c, payment); err != nil {
			return err
		}
		if inv.Paid != wasPaid {
			return s.invoiceRepo.SetPaid(c, inv.ID, inv.Paid, req.ActorID)
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.metrics.RecordReconciliation(ctx, string(finance.ReconcileModeAllocation))
	events := append(inv.PullDomainEvents(),
		finance.NewTransactionReconciledEvent(tx, inv, finance.ReconcileModeAllocation, req.Amount, req.ActorID))
	s.publish(ctx, events...)

	invResp := ToInvoiceResponse(inv)
	result := &ReconciliationResult{
		Transaction: ToBankTransactionResponse(tx),
		Invoice:     &invResp,
		Mode:        string(finance.ReconcileModeAllocation),
	}
	if payment != nil {
		result.PaymentID = &payment.ID
	}
	return result, nil
}

// Unreconcile clears the transaction link and marks the linked invoice
// unpaid, whatever payments it has recorded.
func (s *ReconciliationService) Unreconcile(ctx context.Context, req UnreconcileRequest) (*ReconciliationResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "unreconcile")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrActorID, req.ActorID,
		telemetry.SpanAttrTransactionID, req.TransactionID.String(),
	)

	if req.ActorID == "" {
		return nil, shared.NewValidationError("actor_id", "Actor ID is required")
	}

	var (
		tx        *finance.BankTransaction
		inv       *finance.Invoice
		invoiceID uuid.UUID
	)
	err := s.uow.Do(ctx, func(c context.Context) error {
		var err error
		if tx, err = s.txRepo.FindByID(c, req.TransactionID); err != nil {
			return err
		}
		if invoiceID, err = tx.Unreconcile(); err != nil {
			return err
		}
		if err := s.txRepo.ClearReconciliation(c, tx); err != nil {
			return err
		}

		inv, err = s.invoiceRepo.FindByID(c, invoiceID)
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("Reconciled invoice no longer exists, clearing transaction only",
				zap.String("transaction_id", tx.ID.String()),
				zap.String("invoice_id", invoiceID.String()),
			)
			inv = nil
			return nil
		}
		if err != nil {
			return err
		}
		inv.MarkUnpaid(req.ActorID)
		return s.invoiceRepo.SetPaid(c, inv.ID, false, req.ActorID)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.metrics.RecordUnreconcile(ctx)
	s.publish(ctx, finance.NewTransactionUnreconciledEvent(tx.ID, invoiceID, req.ActorID))

	result := &ReconciliationResult{Transaction: ToBankTransactionResponse(tx), Mode: "unreconcile"}
	if inv != nil {
		invResp := ToInvoiceResponse(inv)
		result.Invoice = &invResp
	}
	return result, nil
}

// SuggestMatches ranks unpaid invoices that could settle the transaction.
// It reads only.
func (s *ReconciliationService) SuggestMatches(ctx context.Context, transactionID uuid.UUID, limit int) ([]finance.MatchSuggestion, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "suggest_matches")
	defer span.End()

	tx, err := s.txRepo.FindByID(ctx, transactionID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if tx.Reconciled {
		return []finance.MatchSuggestion{}, nil
	}
	invoices, err := s.invoiceRepo.FindUnpaid(ctx, s.config.SuggestionPool)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	suggestions := s.strategy.Suggest(tx, invoices, limit)
	telemetry.SetAttributes(span, "candidates", len(invoices), "suggestions", len(suggestions))
	return suggestions, nil
}

// RegisterTransaction stores a manually entered bank transaction
func (s *ReconciliationService) RegisterTransaction(ctx context.Context, req RegisterTransactionRequest) (*BankTransactionResponse, error) {
	tx, err := finance.NewBankTransaction(
		req.BankAccountID, req.Date, req.Description, req.Amount,
		finance.TransactionType(req.Type), req.Reference, req.ActorID,
	)
	if err != nil {
		return nil, err
	}
	if err := s.txRepo.Create(ctx, tx); err != nil {
		return nil, err
	}
	resp := ToBankTransactionResponse(tx)
	return &resp, nil
}

// GetTransaction returns a bank transaction by id
func (s *ReconciliationService) GetTransaction(ctx context.Context, id uuid.UUID) (*BankTransactionResponse, error) {
	tx, err := s.txRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToBankTransactionResponse(tx)
	return &resp, nil
}

// ListTransactions returns a page of bank transactions and the total count
func (s *ReconciliationService) ListTransactions(ctx context.Context, filter finance.BankTransactionFilter) ([]BankTransactionResponse, int64, error) {
	txs, total, err := s.txRepo.FindAll(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	out := make([]BankTransactionResponse, len(txs))
	for i := range txs {
		out[i] = ToBankTransactionResponse(&txs[i])
	}
	return out, total, nil
}

// ImportStatement creates one bank transaction per valid statement row.
// Invalid rows are reported and skipped; valid rows are stored together.
func (s *ReconciliationService) ImportStatement(ctx context.Context, req ImportStatementRequest) (*ImportStatementResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "import_statement")
	defer span.End()

	if req.ActorID == "" {
		return nil, shared.NewValidationError("actor_id", "Actor ID is required")
	}
	if req.BankAccountID == "" {
		return nil, shared.NewValidationError("bank_account_id", "Bank account ID is required")
	}

	opts := csvimport.StatementOptions{MaxRows: s.config.MaxStatementRows, Location: s.config.Location}
	if req.Delimiter != 0 {
		opts.Parser = append(opts.Parser, csvimport.WithDelimiter(req.Delimiter))
	}
	lines, rowErrs, err := csvimport.ParseStatement(bytes.NewReader(req.Data), opts)
	if err != nil {
		return nil, shared.NewValidationError("file", err.Error())
	}

	txs := make([]*finance.BankTransaction, 0, len(lines))
	for _, line := range lines {
		tx, err := finance.NewBankTransaction(
			req.BankAccountID, line.Date, line.Description, line.Amount,
			finance.TransactionType(line.Type), line.Reference, req.ActorID,
		)
		if err != nil {
			rowErrs = append(rowErrs, csvimport.RowError{Row: line.Row, Code: csvimport.ErrCodeInvalidValue, Message: err.Error()})
			continue
		}
		txs = append(txs, tx)
	}

	if len(txs) > 0 {
		if err := s.txRepo.CreateBatch(ctx, txs); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	result := &ImportStatementResult{
		Imported:     len(txs),
		Failed:       len(rowErrs),
		Transactions: make([]uuid.UUID, len(txs)),
		Errors:       rowErrs,
	}
	for i, tx := range txs {
		result.Transactions[i] = tx.ID
	}
	telemetry.SetAttributes(span, "imported", result.Imported, "failed", result.Failed)
	s.logger.Info("Bank statement imported",
		zap.String("bank_account_id", req.BankAccountID),
		zap.Int("imported", result.Imported),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (s *ReconciliationService) load(ctx context.Context, txID, invoiceID uuid.UUID) (*finance.BankTransaction, *finance.Invoice, error) {
	tx, err := s.txRepo.FindByID(ctx, txID)
	if err != nil {
		return nil, nil, err
	}
	inv, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, nil, err
	}
	return tx, inv, nil
}

func (s *ReconciliationService) publish(ctx context.Context, events ...shared.DomainEvent) {
	if s.eventPublisher == nil || len(events) == 0 {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("Failed to publish reconciliation events", zap.Error(err))
	}
}
