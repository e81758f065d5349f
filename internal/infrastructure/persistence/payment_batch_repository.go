package persistence

import (
	"context"

	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPaymentBatchRepository implements finance.PaymentBatchRepository using GORM
type GormPaymentBatchRepository struct {
	db *gorm.DB
}

// NewGormPaymentBatchRepository creates a new GormPaymentBatchRepository
func NewGormPaymentBatchRepository(db *gorm.DB) *GormPaymentBatchRepository {
	return &GormPaymentBatchRepository{db: db}
}

func preloadItems(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC")
}

// FindByID loads a batch with its items
func (r *GormPaymentBatchRepository) FindByID(ctx context.Context, id uuid.UUID) (*finance.PaymentBatch, error) {
	var batch finance.PaymentBatch
	if err := conn(ctx, r.db).
		Preload("Items", preloadItems).
		First(&batch, "id = ?", id).Error; err != nil {
		return nil, translate("find payment batch", err)
	}
	return &batch, nil
}

// FindByIDForUpdate loads a batch with SELECT ... FOR UPDATE. The lock is
// held until the surrounding unit of work ends.
func (r *GormPaymentBatchRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*finance.PaymentBatch, error) {
	var batch finance.PaymentBatch
	db := conn(ctx, r.db)
	if db.Dialector.Name() != "sqlite" {
		db = db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}
	if err := db.
		Preload("Items", preloadItems).
		First(&batch, "id = ?", id).Error; err != nil {
		return nil, translate("lock payment batch", err)
	}
	return &batch, nil
}

// FindAll returns a page of batches, optionally restricted to one status
func (r *GormPaymentBatchRepository) FindAll(ctx context.Context, filter shared.Filter, status finance.BatchStatus) ([]finance.PaymentBatch, int64, error) {
	query := conn(ctx, r.db).Model(&finance.PaymentBatch{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if filter.Search != "" {
		query = query.Where("title LIKE ?", "%"+filter.Search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate("count payment batches", err)
	}

	var batches []finance.PaymentBatch
	if err := query.
		Preload("Items", preloadItems).
		Order(orderClause(filter, PaymentBatchSortFields, "created_at")).
		Offset(filter.Offset()).
		Limit(filter.Limit()).
		Find(&batches).Error; err != nil {
		return nil, 0, translate("list payment batches", err)
	}
	return batches, total, nil
}

// FindItem loads a single batch item
func (r *GormPaymentBatchRepository) FindItem(ctx context.Context, itemID uuid.UUID) (*finance.PaymentBatchItem, error) {
	var item finance.PaymentBatchItem
	if err := conn(ctx, r.db).First(&item, "id = ?", itemID).Error; err != nil {
		return nil, translate("find batch item", err)
	}
	return &item, nil
}

// Create inserts a batch and any items it already carries
func (r *GormPaymentBatchRepository) Create(ctx context.Context, batch *finance.PaymentBatch) error {
	return translate("create payment batch", conn(ctx, r.db).Create(batch).Error)
}

// SaveStatus persists the status columns when the stored version matches
func (r *GormPaymentBatchRepository) SaveStatus(ctx context.Context, batch *finance.PaymentBatch) error {
	result := conn(ctx, r.db).Model(&finance.PaymentBatch{}).
		Where("id = ? AND version = ?", batch.ID, batch.Version).
		Updates(map[string]any{
			"status":         batch.Status,
			"scheduled_date": batch.ScheduledDate,
			"paid_at":        batch.PaidAt,
			"paid_by":        batch.PaidBy,
			"cancelled_at":   batch.CancelledAt,
			"cancelled_by":   batch.CancelledBy,
			"cancel_reason":  batch.CancelReason,
			"updated_at":     batch.UpdatedAt,
			"version":        gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return translate("save payment batch", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := conn(ctx, r.db).Model(&finance.PaymentBatch{}).Where("id = ?", batch.ID).Count(&count).Error; err != nil {
			return translate("check payment batch", err)
		}
		if count == 0 {
			return shared.ErrNotFound
		}
		return shared.ErrConcurrencyConflict
	}
	batch.IncrementVersion()
	return nil
}

// AddItem inserts a batch item
func (r *GormPaymentBatchRepository) AddItem(ctx context.Context, item *finance.PaymentBatchItem) error {
	return translate("add batch item", conn(ctx, r.db).Create(item).Error)
}

// DeleteItem removes a batch item
func (r *GormPaymentBatchRepository) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	result := conn(ctx, r.db).Delete(&finance.PaymentBatchItem{}, "id = ?", itemID)
	if result.Error != nil {
		return translate("delete batch item", result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}
