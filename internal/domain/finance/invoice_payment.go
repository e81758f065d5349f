package finance

import (
	"time"

	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoicePayment is a partial settlement of an invoice
type InvoicePayment struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey"`
	InvoiceID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	Amount            decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	PaidAt            time.Time       `gorm:"not null"`
	BankTransactionID *uuid.UUID      `gorm:"type:uuid;index"`
	Reference         string          `gorm:"type:varchar(200)"`
	CreatedBy         string          `gorm:"type:varchar(64);not null"`
	CreatedAt         time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (InvoicePayment) TableName() string {
	return "invoice_payments"
}

// NewInvoicePayment creates a payment row for an invoice
func NewInvoicePayment(invoiceID uuid.UUID, amount decimal.Decimal, paidAt time.Time, transactionID *uuid.UUID, reference, actorID string) (*InvoicePayment, error) {
	if invoiceID == uuid.Nil {
		return nil, shared.NewValidationError("invoice_id", "Invoice ID is required")
	}
	if !amount.IsPositive() {
		return nil, shared.NewValidationError("amount", "Payment amount must be positive")
	}
	if actorID == "" {
		return nil, shared.NewValidationError("actor_id", "Actor ID is required")
	}
	if paidAt.IsZero() {
		paidAt = time.Now()
	}
	return &InvoicePayment{
		ID:                uuid.New(),
		InvoiceID:         invoiceID,
		Amount:            amount,
		PaidAt:            paidAt,
		BankTransactionID: transactionID,
		Reference:         reference,
		CreatedBy:         actorID,
		CreatedAt:         time.Now(),
	}, nil
}
