package handler

import (
	"context"
	"time"

	financeapp "github.com/erp/fiscal/internal/application/finance"
	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/erp/fiscal/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// testEngine mirrors the production chain closely enough for handlers:
// request ids and header-based actors.
func testEngine() *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.ActorAuth(middleware.ActorAuthConfig{AllowHeader: true}))
	return r
}

type mockIngester struct{ mock.Mock }

func (m *mockIngester) Ingest(ctx context.Context, req financeapp.IngestInvoiceRequest, progress financeapp.ProgressFunc) (*financeapp.IngestInvoiceResult, error) {
	args := m.Called(ctx, req, progress)
	if r := args.Get(0); r != nil {
		return r.(*financeapp.IngestInvoiceResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockInvoiceReader struct{ mock.Mock }

func (m *mockInvoiceReader) GetInvoice(ctx context.Context, id uuid.UUID) (*financeapp.InvoiceResponse, error) {
	args := m.Called(ctx, id)
	if r := args.Get(0); r != nil {
		return r.(*financeapp.InvoiceResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockInvoiceReader) ListInvoices(ctx context.Context, filter finance.InvoiceFilter) ([]financeapp.InvoiceResponse, int64, error) {
	args := m.Called(ctx, filter)
	if r := args.Get(0); r != nil {
		return r.([]financeapp.InvoiceResponse), args.Get(1).(int64), args.Error(2)
	}
	return nil, 0, args.Error(2)
}

type mockReconciler struct{ mock.Mock }

func (m *mockReconciler) result(args mock.Arguments) (*financeapp.ReconciliationResult, error) {
	if r := args.Get(0); r != nil {
		return r.(*financeapp.ReconciliationResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReconciler) ReconcileExact(ctx context.Context, req financeapp.ReconcileExactRequest) (*financeapp.ReconciliationResult, error) {
	return m.result(m.Called(ctx, req))
}

func (m *mockReconciler) ReconcileWithAllocation(ctx context.Context, req financeapp.ReconcileAllocationRequest) (*financeapp.ReconciliationResult, error) {
	return m.result(m.Called(ctx, req))
}

func (m *mockReconciler) Unreconcile(ctx context.Context, req financeapp.UnreconcileRequest) (*financeapp.ReconciliationResult, error) {
	return m.result(m.Called(ctx, req))
}

func (m *mockReconciler) SuggestMatches(ctx context.Context, transactionID uuid.UUID, limit int) ([]finance.MatchSuggestion, error) {
	args := m.Called(ctx, transactionID, limit)
	if r := args.Get(0); r != nil {
		return r.([]finance.MatchSuggestion), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReconciler) RegisterTransaction(ctx context.Context, req financeapp.RegisterTransactionRequest) (*financeapp.BankTransactionResponse, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*financeapp.BankTransactionResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReconciler) GetTransaction(ctx context.Context, id uuid.UUID) (*financeapp.BankTransactionResponse, error) {
	args := m.Called(ctx, id)
	if r := args.Get(0); r != nil {
		return r.(*financeapp.BankTransactionResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReconciler) ListTransactions(ctx context.Context, filter finance.BankTransactionFilter) ([]financeapp.BankTransactionResponse, int64, error) {
	args := m.Called(ctx, filter)
	if r := args.Get(0); r != nil {
		return r.([]financeapp.BankTransactionResponse), args.Get(1).(int64), args.Error(2)
	}
	return nil, 0, args.Error(2)
}

func (m *mockReconciler) ImportStatement(ctx context.Context, req financeapp.ImportStatementRequest) (*financeapp.ImportStatementResult, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*financeapp.ImportStatementResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockBatchManager struct{ mock.Mock }

func (m *mockBatchManager) batch(args mock.Arguments) (*financeapp.PaymentBatchResponse, error) {
	if r := args.Get(0); r != nil {
		return r.(*financeapp.PaymentBatchResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBatchManager) CreateBatch(ctx context.Context, req financeapp.CreateBatchRequest) (*financeapp.PaymentBatchResponse, error) {
	return m.batch(m.Called(ctx, req))
}

func (m *mockBatchManager) GetBatch(ctx context.Context, batchID uuid.UUID) (*financeapp.PaymentBatchResponse, error) {
	return m.batch(m.Called(ctx, batchID))
}

func (m *mockBatchManager) ListBatches(ctx context.Context, filter shared.Filter, status string) ([]financeapp.PaymentBatchResponse, int64, error) {
	args := m.Called(ctx, filter, status)
	if r := args.Get(0); r != nil {
		return r.([]financeapp.PaymentBatchResponse), args.Get(1).(int64), args.Error(2)
	}
	return nil, 0, args.Error(2)
}

func (m *mockBatchManager) AddInvoice(ctx context.Context, req financeapp.AddBatchInvoiceRequest) (*financeapp.PaymentBatchResponse, error) {
	return m.batch(m.Called(ctx, req))
}

func (m *mockBatchManager) RemoveInvoice(ctx context.Context, actorID string, itemID uuid.UUID) (*financeapp.PaymentBatchResponse, error) {
	return m.batch(m.Called(ctx, actorID, itemID))
}

func (m *mockBatchManager) Schedule(ctx context.Context, actorID string, batchID uuid.UUID, date *time.Time) (*financeapp.PaymentBatchResponse, error) {
	return m.batch(m.Called(ctx, actorID, batchID, date))
}

func (m *mockBatchManager) Cancel(ctx context.Context, actorID string, batchID uuid.UUID, reason string) (*financeapp.PaymentBatchResponse, error) {
	return m.batch(m.Called(ctx, actorID, batchID, reason))
}

func (m *mockBatchManager) MarkPaid(ctx context.Context, actorID string, batchID uuid.UUID) (*financeapp.MarkBatchPaidResult, error) {
	args := m.Called(ctx, actorID, batchID)
	if r := args.Get(0); r != nil {
		return r.(*financeapp.MarkBatchPaidResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockAuditRunner struct{ mock.Mock }

func (m *mockAuditRunner) Run(ctx context.Context) (*financeapp.AuditReport, error) {
	args := m.Called(ctx)
	if r := args.Get(0); r != nil {
		return r.(*financeapp.AuditReport), args.Error(1)
	}
	return nil, args.Error(1)
}

type staticReportSource struct{ report *financeapp.AuditReport }

func (s staticReportSource) LastReport() *financeapp.AuditReport { return s.report }
