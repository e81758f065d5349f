package finance

import (
	"fmt"
	"time"

	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchStatus is the lifecycle state of a payment batch
type BatchStatus string

const (
	BatchStatusBorrador   BatchStatus = "borrador"   // Draft, editable
	BatchStatusProgramado BatchStatus = "programado" // Scheduled, still editable
	BatchStatusPagado     BatchStatus = "pagado"     // Paid, terminal
	BatchStatusCancelado  BatchStatus = "cancelado"  // Cancelled, terminal
)

// IsValid checks if the status is known
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusBorrador, BatchStatusProgramado, BatchStatusPagado, BatchStatusCancelado:
		return true
	}
	return false
}

// IsTerminal returns true for pagado and cancelado
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusPagado || s == BatchStatusCancelado
}

// CanEditItems returns true while items may be added or removed
func (s BatchStatus) CanEditItems() bool {
	return s == BatchStatusBorrador || s == BatchStatusProgramado
}

// PaymentBatchItem is one invoice payment intent within a batch
type PaymentBatchItem struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	BatchID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	InvoiceID uuid.UUID       `gorm:"type:uuid;not null;index"`
	Amount    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	CreatedBy string          `gorm:"type:varchar(64);not null"`
	CreatedAt time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PaymentBatchItem) TableName() string {
	return "payment_batch_items"
}

// PaymentBatch groups supplier invoice payments into one payable unit
type PaymentBatch struct {
	shared.BaseAggregateRoot
	Title         string             `gorm:"type:varchar(200)"`
	Status        BatchStatus        `gorm:"type:varchar(20);not null;default:'borrador';index"`
	ScheduledDate *time.Time         `gorm:"type:date"`
	BankAccountID *string            `gorm:"type:varchar(64)"`
	Items         []PaymentBatchItem `gorm:"foreignKey:BatchID;references:ID"`
	CreatedBy     string             `gorm:"type:varchar(64);not null"`
	PaidAt        *time.Time
	PaidBy        *string `gorm:"type:varchar(64)"`
	CancelledAt   *time.Time
	CancelledBy   *string `gorm:"type:varchar(64)"`
	CancelReason  string  `gorm:"type:varchar(500)"`
}

// TableName returns the table name for GORM
func (PaymentBatch) TableName() string {
	return "payment_batches"
}

// NewPaymentBatch creates an empty batch in borrador
func NewPaymentBatch(title string, bankAccountID *string, scheduledDate *time.Time, actorID string) (*PaymentBatch, error) {
	if actorID == "" {
		return nil, shared.NewValidationError("actor_id", "Actor ID is required")
	}
	if len(title) > 200 {
		return nil, shared.NewValidationError("title", "Title cannot exceed 200 characters")
	}
	if title == "" {
		title = fmt.Sprintf("Lote %s", time.Now().Format("2006-01-02"))
	}
	b := &PaymentBatch{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Title:             title,
		Status:            BatchStatusBorrador,
		ScheduledDate:     scheduledDate,
		BankAccountID:     bankAccountID,
		Items:             make([]PaymentBatchItem, 0),
		CreatedBy:         actorID,
	}
	b.AddDomainEvent(NewPaymentBatchStatusChangedEvent(b, "", actorID))
	return b, nil
}

// Schedule moves a draft batch to programado
func (b *PaymentBatch) Schedule(date *time.Time, actorID string) error {
	if b.Status != BatchStatusBorrador {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot schedule batch in %s status", b.Status))
	}
	if date != nil {
		b.ScheduledDate = date
	}
	if b.ScheduledDate == nil {
		return shared.NewValidationError("scheduled_date", "Scheduled date is required")
	}
	from := b.Status
	b.Status = BatchStatusProgramado
	b.Touch()
	b.AddDomainEvent(NewPaymentBatchStatusChangedEvent(b, from, actorID))
	return nil
}

// EnsureEditable returns a ValidationError unless items may be changed
func (b *PaymentBatch) EnsureEditable() error {
	if !b.Status.CanEditItems() {
		return shared.NewValidationError("status", fmt.Sprintf("Cannot change items of a batch in %s status", b.Status))
	}
	return nil
}

// AddItem appends an invoice payment intent. Only editable batches accept items.
func (b *PaymentBatch) AddItem(invoiceID uuid.UUID, amount decimal.Decimal, actorID string) (*PaymentBatchItem, error) {
	if err := b.EnsureEditable(); err != nil {
		return nil, err
	}
	if invoiceID == uuid.Nil {
		return nil, shared.NewValidationError("invoice_id", "Invoice ID is required")
	}
	if !amount.IsPositive() {
		return nil, shared.NewValidationError("amount", "Item amount must be positive")
	}
	if actorID == "" {
		return nil, shared.NewValidationError("actor_id", "Actor ID is required")
	}
	for _, it := range b.Items {
		if it.InvoiceID == invoiceID {
			return nil, shared.NewValidationError("invoice_id", "Invoice is already in this batch")
		}
	}
	item := PaymentBatchItem{
		ID:        uuid.New(),
		BatchID:   b.ID,
		InvoiceID: invoiceID,
		Amount:    amount,
		CreatedBy: actorID,
		CreatedAt: time.Now(),
	}
	b.Items = append(b.Items, item)
	b.Touch()
	return &item, nil
}

// RemoveItem drops an item while the batch is editable
func (b *PaymentBatch) RemoveItem(itemID uuid.UUID) error {
	if err := b.EnsureEditable(); err != nil {
		return err
	}
	for i, it := range b.Items {
		if it.ID == itemID {
			b.Items = append(b.Items[:i], b.Items[i+1:]...)
			b.Touch()
			return nil
		}
	}
	return shared.NewDomainError("ITEM_NOT_FOUND", "Batch item not found")
}

// MarkPaid moves the batch to pagado. A batch that is already pagado is left
// untouched and reported through alreadyPaid so callers can retry fan-out.
func (b *PaymentBatch) MarkPaid(actorID string) (alreadyPaid bool, err error) {
	switch b.Status {
	case BatchStatusPagado:
		return true, nil
	case BatchStatusCancelado:
		return false, shared.NewDomainError("INVALID_STATE", "Cannot pay a cancelled batch")
	}
	now := time.Now()
	from := b.Status
	b.Status = BatchStatusPagado
	b.PaidAt = &now
	b.PaidBy = &actorID
	b.UpdatedAt = now
	b.AddDomainEvent(NewPaymentBatchStatusChangedEvent(b, from, actorID))
	return false, nil
}

// Cancel moves a non-terminal batch to cancelado
func (b *PaymentBatch) Cancel(actorID, reason string) error {
	if b.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot cancel batch in %s status", b.Status))
	}
	now := time.Now()
	from := b.Status
	b.Status = BatchStatusCancelado
	b.CancelledAt = &now
	b.CancelledBy = &actorID
	b.CancelReason = reason
	b.UpdatedAt = now
	b.AddDomainEvent(NewPaymentBatchStatusChangedEvent(b, from, actorID))
	return nil
}

// InvoiceIDs returns the distinct invoices referenced by the items
func (b *PaymentBatch) InvoiceIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(b.Items))
	ids := make([]uuid.UUID, 0, len(b.Items))
	for _, it := range b.Items {
		if _, ok := seen[it.InvoiceID]; ok {
			continue
		}
		seen[it.InvoiceID] = struct{}{}
		ids = append(ids, it.InvoiceID)
	}
	return ids
}

// Total sums item amounts
func (b *PaymentBatch) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range b.Items {
		total = total.Add(it.Amount)
	}
	return total
}
