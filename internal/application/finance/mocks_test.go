package finance

import (
	"context"

	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockInvoiceRepository is a mock implementation of finance.InvoiceRepository
type MockInvoiceRepository struct {
	mock.Mock
}

func (m *MockInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*finance.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*finance.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindByFiscalUUID(ctx context.Context, fiscalUUID string) (*finance.Invoice, error) {
	args := m.Called(ctx, fiscalUUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*finance.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindAll(ctx context.Context, filter finance.InvoiceFilter) ([]finance.Invoice, int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]finance.Invoice), args.Get(1).(int64), args.Error(2)
}

func (m *MockInvoiceRepository) FindUnpaid(ctx context.Context, limit int) ([]finance.Invoice, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]finance.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) Create(ctx context.Context, inv *finance.Invoice) error {
	return m.Called(ctx, inv).Error(0)
}

func (m *MockInvoiceRepository) UpdateDocument(ctx context.Context, inv *finance.Invoice) error {
	return m.Called(ctx, inv).Error(0)
}

func (m *MockInvoiceRepository) SetPaid(ctx context.Context, id uuid.UUID, paid bool, actorID string) error {
	return m.Called(ctx, id, paid, actorID).Error(0)
}

func (m *MockInvoiceRepository) MarkPaidBulk(ctx context.Context, ids []uuid.UUID, actorID string) (int64, error) {
	args := m.Called(ctx, ids, actorID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockInvoiceRepository) AddPayment(ctx context.Context, payment *finance.InvoicePayment) error {
	return m.Called(ctx, payment).Error(0)
}

func (m *MockInvoiceRepository) FindPayments(ctx context.Context, invoiceID uuid.UUID) ([]finance.InvoicePayment, error) {
	args := m.Called(ctx, invoiceID)
	return args.Get(0).([]finance.InvoicePayment), args.Error(1)
}

// MockBankTransactionRepository is a mock implementation of finance.BankTransactionRepository
type MockBankTransactionRepository struct {
	mock.Mock
}

func (m *MockBankTransactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*finance.BankTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*finance.BankTransaction), args.Error(1)
}

func (m *MockBankTransactionRepository) FindAll(ctx context.Context, filter finance.BankTransactionFilter) ([]finance.BankTransaction, int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]finance.BankTransaction), args.Get(1).(int64), args.Error(2)
}

func (m *MockBankTransactionRepository) Create(ctx context.Context, tx *finance.BankTransaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *MockBankTransactionRepository) CreateBatch(ctx context.Context, txs []*finance.BankTransaction) error {
	return m.Called(ctx, txs).Error(0)
}

func (m *MockBankTransactionRepository) MarkReconciled(ctx context.Context, tx *finance.BankTransaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *MockBankTransactionRepository) ClearReconciliation(ctx context.Context, tx *finance.BankTransaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *MockBankTransactionRepository) FindReconciledWithUnpaidInvoice(ctx context.Context, limit int) ([]finance.ReconciliationMismatch, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]finance.ReconciliationMismatch), args.Error(1)
}

// MockPaymentBatchRepository is a mock implementation of finance.PaymentBatchRepository
type MockPaymentBatchRepository struct {
	mock.Mock
}

func (m *MockPaymentBatchRepository) FindByID(ctx context.Context, id uuid.UUID) (*finance.PaymentBatch, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*finance.PaymentBatch), args.Error(1)
}

func (m *MockPaymentBatchRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*finance.PaymentBatch, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*finance.PaymentBatch), args.Error(1)
}

func (m *MockPaymentBatchRepository) FindAll(ctx context.Context, filter shared.Filter, status finance.BatchStatus) ([]finance.PaymentBatch, int64, error) {
	args := m.Called(ctx, filter, status)
	return args.Get(0).([]finance.PaymentBatch), args.Get(1).(int64), args.Error(2)
}

func (m *MockPaymentBatchRepository) FindItem(ctx context.Context, itemID uuid.UUID) (*finance.PaymentBatchItem, error) {
	args := m.Called(ctx, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*finance.PaymentBatchItem), args.Error(1)
}

func (m *MockPaymentBatchRepository) Create(ctx context.Context, batch *finance.PaymentBatch) error {
	return m.Called(ctx, batch).Error(0)
}

func (m *MockPaymentBatchRepository) SaveStatus(ctx context.Context, batch *finance.PaymentBatch) error {
	return m.Called(ctx, batch).Error(0)
}

func (m *MockPaymentBatchRepository) AddItem(ctx context.Context, item *finance.PaymentBatchItem) error {
	return m.Called(ctx, item).Error(0)
}

func (m *MockPaymentBatchRepository) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	return m.Called(ctx, itemID).Error(0)
}

// MockArtifactStore is a mock implementation of ArtifactStore
type MockArtifactStore struct {
	mock.Mock
}

func (m *MockArtifactStore) Upload(ctx context.Context, bucket, scopeID, filename string, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, bucket, scopeID, filename, data, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockArtifactStore) Delete(ctx context.Context, bucket, path string) error {
	return m.Called(ctx, bucket, path).Error(0)
}

// MockMetadataExtractor is a mock implementation of MetadataExtractor
type MockMetadataExtractor struct {
	mock.Mock
}

func (m *MockMetadataExtractor) Extract(ctx context.Context, xml []byte) (*finance.CFDIMetadata, error) {
	args := m.Called(ctx, xml)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*finance.CFDIMetadata), args.Error(1)
}

// MockEventPublisher is a mock implementation of shared.EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	return m.Called(ctx, events).Error(0)
}

// countingLocker records Lock calls and hands out no-op unlocks
type countingLocker struct {
	locks   int
	unlocks int
}

func (l *countingLocker) Lock(_ context.Context, _ uuid.UUID) (func(), error) {
	l.locks++
	return func() { l.unlocks++ }, nil
}
