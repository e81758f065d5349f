package persistence

import (
	"context"
	"time"

	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormInvoiceRepository implements finance.InvoiceRepository using GORM
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

func preloadPayments(db *gorm.DB) *gorm.DB {
	return db.Order("paid_at ASC")
}

// FindByID loads an invoice with its payments
func (r *GormInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*finance.Invoice, error) {
	var inv finance.Invoice
	if err := conn(ctx, r.db).
		Preload("Payments", preloadPayments).
		First(&inv, "id = ?", id).Error; err != nil {
		return nil, translate("find invoice", err)
	}
	return &inv, nil
}

// FindByFiscalUUID loads the invoice that carries the fiscal UUID
func (r *GormInvoiceRepository) FindByFiscalUUID(ctx context.Context, fiscalUUID string) (*finance.Invoice, error) {
	var inv finance.Invoice
	if err := conn(ctx, r.db).
		Preload("Payments", preloadPayments).
		First(&inv, "fiscal_uuid = ?", fiscalUUID).Error; err != nil {
		return nil, translate("find invoice by fiscal uuid", err)
	}
	return &inv, nil
}

// FindAll returns a page of invoices and the total count
func (r *GormInvoiceRepository) FindAll(ctx context.Context, filter finance.InvoiceFilter) ([]finance.Invoice, int64, error) {
	query := conn(ctx, r.db).Model(&finance.Invoice{})
	if filter.IssuerID != "" {
		query = query.Where("issuer_id = ?", filter.IssuerID)
	}
	if filter.ProjectID != "" {
		query = query.Where("project_id = ?", filter.ProjectID)
	}
	if filter.Paid != nil {
		query = query.Where("paid = ?", *filter.Paid)
	}
	if filter.From != nil {
		query = query.Where("issued_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("issued_at <= ?", *filter.To)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where("folio LIKE ? OR fiscal_uuid LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate("count invoices", err)
	}

	var invoices []finance.Invoice
	if err := query.
		Preload("Payments", preloadPayments).
		Order(orderClause(filter.Filter, InvoiceSortFields, "created_at")).
		Offset(filter.Offset()).
		Limit(filter.Limit()).
		Find(&invoices).Error; err != nil {
		return nil, 0, translate("list invoices", err)
	}
	return invoices, total, nil
}

// FindUnpaid returns unpaid invoices with payments loaded, oldest first
func (r *GormInvoiceRepository) FindUnpaid(ctx context.Context, limit int) ([]finance.Invoice, error) {
	var invoices []finance.Invoice
	query := conn(ctx, r.db).
		Preload("Payments", preloadPayments).
		Where("paid = ?", false).
		Order("issued_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&invoices).Error; err != nil {
		return nil, translate("list unpaid invoices", err)
	}
	return invoices, nil
}

// Create inserts a new invoice. A fiscal UUID collision is reported as
// finance.ErrDuplicateFiscalUUID.
func (r *GormInvoiceRepository) Create(ctx context.Context, inv *finance.Invoice) error {
	err := conn(ctx, r.db).Omit("Payments").Create(inv).Error
	if err != nil && isDuplicate(err) {
		return finance.ErrDuplicateFiscalUUID
	}
	return translate("create invoice", err)
}

// UpdateDocument rewrites the document-derived columns with a version check
func (r *GormInvoiceRepository) UpdateDocument(ctx context.Context, inv *finance.Invoice) error {
	result := conn(ctx, r.db).Model(&finance.Invoice{}).
		Where("id = ? AND version = ?", inv.ID, inv.Version).
		Updates(map[string]any{
			"fiscal_uuid":   inv.FiscalUUID,
			"folio":         inv.Folio,
			"issued_at":     inv.IssuedAt,
			"total_amount":  inv.TotalAmount,
			"currency":      inv.Currency,
			"metodo_pago":   inv.PaymentMethod,
			"paid":          inv.Paid,
			"xml_path":      inv.XMLPath,
			"pdf_path":      inv.PDFPath,
			"cfdi_metadata": inv.Metadata,
			"recipient_id":  inv.RecipientID,
			"project_id":    inv.ProjectID,
			"updated_by":    inv.UpdatedBy,
			"updated_at":    inv.UpdatedAt,
			"version":       gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		if isDuplicate(result.Error) {
			return finance.ErrDuplicateFiscalUUID
		}
		return translate("update invoice", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.missingOrConflict(ctx, inv.ID)
	}
	inv.IncrementVersion()
	return nil
}

// SetPaid writes the paid flag
func (r *GormInvoiceRepository) SetPaid(ctx context.Context, id uuid.UUID, paid bool, actorID string) error {
	result := conn(ctx, r.db).Model(&finance.Invoice{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"paid":       paid,
			"updated_by": actorID,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return translate("set invoice paid", result.Error)
	}
	if result.RowsAffected == 0 {
		return translate("set invoice paid", gorm.ErrRecordNotFound)
	}
	return nil
}

// MarkPaidBulk sets paid=true on every id in one statement
func (r *GormInvoiceRepository) MarkPaidBulk(ctx context.Context, ids []uuid.UUID, actorID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := conn(ctx, r.db).Model(&finance.Invoice{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"paid":       true,
			"updated_by": actorID,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, translate("mark invoices paid", result.Error)
	}
	return result.RowsAffected, nil
}

// AddPayment inserts a partial payment row
func (r *GormInvoiceRepository) AddPayment(ctx context.Context, payment *finance.InvoicePayment) error {
	return translate("add invoice payment", conn(ctx, r.db).Create(payment).Error)
}

// FindPayments lists the payments of an invoice in payment order
func (r *GormInvoiceRepository) FindPayments(ctx context.Context, invoiceID uuid.UUID) ([]finance.InvoicePayment, error) {
	var payments []finance.InvoicePayment
	if err := conn(ctx, r.db).
		Where("invoice_id = ?", invoiceID).
		Order("paid_at ASC").
		Find(&payments).Error; err != nil {
		return nil, translate("list invoice payments", err)
	}
	return payments, nil
}

func (r *GormInvoiceRepository) missingOrConflict(ctx context.Context, id uuid.UUID) error {
	var count int64
	if err := conn(ctx, r.db).Model(&finance.Invoice{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return translate("check invoice", err)
	}
	if count == 0 {
		return translate("check invoice", gorm.ErrRecordNotFound)
	}
	return shared.ErrConcurrencyConflict
}
