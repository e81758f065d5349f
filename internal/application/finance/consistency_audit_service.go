package finance

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/erp/fiscal/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Audit finding codes
const (
	FindingReconciledInvoiceUnpaid = "RECONCILED_INVOICE_UNPAID"
	FindingReconciledInvoiceGone   = "RECONCILED_INVOICE_MISSING"
)

// ConsistencyAuditService finds reconciled transactions whose invoice is
// not marked paid. Such pairs are left behind when the invoice write of a
// reconciliation fails after the transaction write succeeded. Partial
// allocations, which legitimately leave the invoice unpaid, are excluded
// by the repository query.
type ConsistencyAuditService struct {
	txRepo  finance.BankTransactionRepository
	metrics *telemetry.FiscalMetrics
	logger  *zap.Logger
	limit   int
}

// NewConsistencyAuditService creates a new ConsistencyAuditService
func NewConsistencyAuditService(txRepo finance.BankTransactionRepository, limit int, logger *zap.Logger) *ConsistencyAuditService {
	if limit <= 0 {
		limit = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsistencyAuditService{txRepo: txRepo, logger: logger, limit: limit}
}

// SetMetrics sets the business metrics recorder
func (s *ConsistencyAuditService) SetMetrics(metrics *telemetry.FiscalMetrics) {
	s.metrics = metrics
}

// Run executes the audit query once. Findings are reported, not repaired.
func (s *ConsistencyAuditService) Run(ctx context.Context) (*AuditReport, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "consistency_audit", "run")
	defer span.End()

	mismatches, err := s.txRepo.FindReconciledWithUnpaidInvoice(ctx, s.limit)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	report := &AuditReport{
		RunAt:     time.Now(),
		Scanned:   len(mismatches),
		Truncated: len(mismatches) >= s.limit,
		Findings:  make([]AuditFinding, 0, len(mismatches)),
	}
	counts := map[string]int{}
	for _, m := range mismatches {
		finding := toFinding(m)
		report.Findings = append(report.Findings, finding)
		counts[finding.Code]++

		s.logger.Warn("Reconciliation consistency finding",
			zap.Error(shared.NewConsistencyError(finding.Code, finding.Message)),
			zap.String("transaction_id", m.TransactionID.String()),
			zap.String("invoice_id", m.InvoiceID.String()),
		)
	}
	for code, n := range counts {
		s.metrics.RecordAuditFindings(ctx, code, n)
	}

	telemetry.SetAttributes(span, "findings", len(report.Findings), "truncated", report.Truncated)
	if len(report.Findings) > 0 {
		s.logger.Info("Consistency audit finished with findings", zap.Int("findings", len(report.Findings)))
	}
	return report, nil
}

func toFinding(m finance.ReconciliationMismatch) AuditFinding {
	f := AuditFinding{
		Code:              FindingReconciledInvoiceUnpaid,
		TransactionID:     m.TransactionID,
		InvoiceID:         m.InvoiceID,
		TransactionAmount: m.TransactionAmount,
		InvoiceTotal:      m.InvoiceTotal,
		ReconciledAt:      m.ReconciledAt,
	}
	if !m.InvoiceExists {
		f.Code = FindingReconciledInvoiceGone
		f.Message = fmt.Sprintf("Transaction %s is reconciled with missing invoice %s", m.TransactionID, m.InvoiceID)
		return f
	}
	f.Message = fmt.Sprintf("Transaction %s is reconciled with invoice %s, which is not marked paid", m.TransactionID, m.InvoiceID)
	return f
}
