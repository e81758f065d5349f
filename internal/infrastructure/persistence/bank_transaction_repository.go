package persistence

import (
	"context"
	"time"

	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormBankTransactionRepository implements finance.BankTransactionRepository using GORM
type GormBankTransactionRepository struct {
	db *gorm.DB
}

// NewGormBankTransactionRepository creates a new GormBankTransactionRepository
func NewGormBankTransactionRepository(db *gorm.DB) *GormBankTransactionRepository {
	return &GormBankTransactionRepository{db: db}
}

// FindByID finds a bank transaction by ID
func (r *GormBankTransactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*finance.BankTransaction, error) {
	var tx finance.BankTransaction
	if err := conn(ctx, r.db).First(&tx, "id = ?", id).Error; err != nil {
		return nil, translate("find bank transaction", err)
	}
	return &tx, nil
}

// FindAll returns a page of bank transactions and the total count
func (r *GormBankTransactionRepository) FindAll(ctx context.Context, filter finance.BankTransactionFilter) ([]finance.BankTransaction, int64, error) {
	query := conn(ctx, r.db).Model(&finance.BankTransaction{})
	if filter.BankAccountID != "" {
		query = query.Where("bank_account_id = ?", filter.BankAccountID)
	}
	if filter.Reconciled != nil {
		query = query.Where("reconciled = ?", *filter.Reconciled)
	}
	if filter.From != nil {
		query = query.Where("date >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("date <= ?", *filter.To)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where("description LIKE ? OR reference LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate("count bank transactions", err)
	}

	var txs []finance.BankTransaction
	if err := query.
		Order(orderClause(filter.Filter, BankTransactionSortFields, "date")).
		Offset(filter.Offset()).
		Limit(filter.Limit()).
		Find(&txs).Error; err != nil {
		return nil, 0, translate("list bank transactions", err)
	}
	return txs, total, nil
}

// Create inserts a bank transaction
func (r *GormBankTransactionRepository) Create(ctx context.Context, tx *finance.BankTransaction) error {
	return translate("create bank transaction", conn(ctx, r.db).Create(tx).Error)
}

// CreateBatch inserts statement rows in one transaction
func (r *GormBankTransactionRepository) CreateBatch(ctx context.Context, txs []*finance.BankTransaction) error {
	if len(txs) == 0 {
		return nil
	}
	return translate("import bank transactions", conn(ctx, r.db).Transaction(func(db *gorm.DB) error {
		return db.CreateInBatches(txs, 200).Error
	}))
}

// MarkReconciled stores the reconciliation link only while the row is still
// unreconciled. Losing that race returns shared.ErrConcurrencyConflict.
func (r *GormBankTransactionRepository) MarkReconciled(ctx context.Context, tx *finance.BankTransaction) error {
	result := conn(ctx, r.db).Model(&finance.BankTransaction{}).
		Where("id = ? AND reconciled = ?", tx.ID, false).
		Updates(map[string]any{
			"reconciled":      true,
			"reconciled_with": tx.ReconciledWith,
			"reconciled_at":   tx.ReconciledAt,
			"reconciled_by":   tx.ReconciledBy,
			"updated_at":      tx.UpdatedAt,
			"version":         gorm.Expr("version + 1"),
		})
	return r.afterSwap(ctx, tx, result)
}

// ClearReconciliation removes the link only while the row is reconciled
func (r *GormBankTransactionRepository) ClearReconciliation(ctx context.Context, tx *finance.BankTransaction) error {
	result := conn(ctx, r.db).Model(&finance.BankTransaction{}).
		Where("id = ? AND reconciled = ?", tx.ID, true).
		Updates(map[string]any{
			"reconciled":      false,
			"reconciled_with": nil,
			"reconciled_at":   nil,
			"reconciled_by":   nil,
			"updated_at":      tx.UpdatedAt,
			"version":         gorm.Expr("version + 1"),
		})
	return r.afterSwap(ctx, tx, result)
}

func (r *GormBankTransactionRepository) afterSwap(ctx context.Context, tx *finance.BankTransaction, result *gorm.DB) error {
	if result.Error != nil {
		return translate("update bank transaction", result.Error)
	}
	if result.RowsAffected == 1 {
		tx.IncrementVersion()
		return nil
	}
	var count int64
	if err := conn(ctx, r.db).Model(&finance.BankTransaction{}).Where("id = ?", tx.ID).Count(&count).Error; err != nil {
		return translate("check bank transaction", err)
	}
	if count == 0 {
		return shared.ErrNotFound
	}
	return shared.ErrConcurrencyConflict
}

type mismatchRow struct {
	TransactionID     uuid.UUID
	InvoiceID         uuid.UUID
	TransactionAmount decimal.Decimal
	InvoiceTotal      decimal.Decimal
	InvoiceExists     bool
	ReconciledAt      *time.Time
}

// reconciledUnpaidQuery finds reconciled transactions whose invoice is
// unpaid or gone. Transactions that recorded a partial payment are left out.
const reconciledUnpaidQuery = `
SELECT t.id AS transaction_id,
       t.reconciled_with AS invoice_id,
       t.amount AS transaction_amount,
       COALESCE(i.total_amount, 0) AS invoice_total,
       i.id IS NOT NULL AS invoice_exists,
       t.reconciled_at AS reconciled_at
FROM bank_transactions t
LEFT JOIN invoices i ON i.id = t.reconciled_with
WHERE t.reconciled = ?
  AND (i.id IS NULL OR i.paid = ?)
  AND NOT EXISTS (
      SELECT 1 FROM invoice_payments p WHERE p.bank_transaction_id = t.id
  )
ORDER BY t.reconciled_at ASC
LIMIT ?`

// FindReconciledWithUnpaidInvoice runs the consistency audit query
func (r *GormBankTransactionRepository) FindReconciledWithUnpaidInvoice(ctx context.Context, limit int) ([]finance.ReconciliationMismatch, error) {
	var rows []mismatchRow
	if err := conn(ctx, r.db).Raw(reconciledUnpaidQuery, true, false, limit).Scan(&rows).Error; err != nil {
		return nil, translate("audit reconciliations", err)
	}
	out := make([]finance.ReconciliationMismatch, len(rows))
	for i, row := range rows {
		out[i] = finance.ReconciliationMismatch(row)
	}
	return out, nil
}
