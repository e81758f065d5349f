package finance

import (
	"context"
	"time"

	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceFilter narrows invoice listings
type InvoiceFilter struct {
	shared.Filter
	IssuerID  string
	ProjectID string
	Paid      *bool
	From      *time.Time
	To        *time.Time
}

// InvoiceRepository persists invoices and their payments.
// Implementations join the unit of work carried by ctx when present.
type InvoiceRepository interface {
	// FindByID loads an invoice with its payments
	FindByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	FindByFiscalUUID(ctx context.Context, fiscalUUID string) (*Invoice, error)
	FindAll(ctx context.Context, filter InvoiceFilter) ([]Invoice, int64, error)
	// FindUnpaid returns unpaid invoices with payments loaded, oldest first
	FindUnpaid(ctx context.Context, limit int) ([]Invoice, error)
	Create(ctx context.Context, inv *Invoice) error
	// UpdateDocument rewrites the document-derived columns of an existing invoice
	UpdateDocument(ctx context.Context, inv *Invoice) error
	SetPaid(ctx context.Context, id uuid.UUID, paid bool, actorID string) error
	// MarkPaidBulk sets paid=true on every id; repeating it is harmless
	MarkPaidBulk(ctx context.Context, ids []uuid.UUID, actorID string) (int64, error)
	AddPayment(ctx context.Context, payment *InvoicePayment) error
	FindPayments(ctx context.Context, invoiceID uuid.UUID) ([]InvoicePayment, error)
}

// BankTransactionFilter narrows transaction listings
type BankTransactionFilter struct {
	shared.Filter
	BankAccountID string
	Reconciled    *bool
	From          *time.Time
	To            *time.Time
}

// ReconciliationMismatch is a reconciled transaction whose invoice does not
// show as paid, or no longer exists.
type ReconciliationMismatch struct {
	TransactionID     uuid.UUID
	InvoiceID         uuid.UUID
	TransactionAmount decimal.Decimal
	InvoiceTotal      decimal.Decimal
	InvoiceExists     bool
	ReconciledAt      *time.Time
}

// BankTransactionRepository persists bank transactions. The reconcile and
// clear operations are compare-and-swap updates and are the serialization
// point for concurrent reconciliation of one transaction.
type BankTransactionRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*BankTransaction, error)
	FindAll(ctx context.Context, filter BankTransactionFilter) ([]BankTransaction, int64, error)
	Create(ctx context.Context, tx *BankTransaction) error
	CreateBatch(ctx context.Context, txs []*BankTransaction) error
	// MarkReconciled updates only while reconciled=false, else ErrConcurrencyConflict
	MarkReconciled(ctx context.Context, tx *BankTransaction) error
	// ClearReconciliation updates only while reconciled=true, else ErrConcurrencyConflict
	ClearReconciliation(ctx context.Context, tx *BankTransaction) error
	FindReconciledWithUnpaidInvoice(ctx context.Context, limit int) ([]ReconciliationMismatch, error)
}

// PaymentBatchRepository persists batches and their items
type PaymentBatchRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*PaymentBatch, error)
	// FindByIDForUpdate loads the batch holding a row lock for the current unit of work
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*PaymentBatch, error)
	FindAll(ctx context.Context, filter shared.Filter, status BatchStatus) ([]PaymentBatch, int64, error)
	FindItem(ctx context.Context, itemID uuid.UUID) (*PaymentBatchItem, error)
	Create(ctx context.Context, batch *PaymentBatch) error
	// SaveStatus persists status columns with optimistic locking on Version
	SaveStatus(ctx context.Context, batch *PaymentBatch) error
	AddItem(ctx context.Context, item *PaymentBatchItem) error
	DeleteItem(ctx context.Context, itemID uuid.UUID) error
}
