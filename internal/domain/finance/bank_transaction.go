package finance

import (
	"time"

	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType is the direction of a bank movement
type TransactionType string

const (
	TransactionTypeIngreso TransactionType = "ingreso" // Money in
	TransactionTypeEgreso  TransactionType = "egreso"  // Money out
)

// IsValid checks if the type is ingreso or egreso
func (t TransactionType) IsValid() bool {
	return t == TransactionTypeIngreso || t == TransactionTypeEgreso
}

var (
	ErrTransactionAlreadyReconciled = shared.NewDomainError("ALREADY_RECONCILED", "Bank transaction is already reconciled")
	ErrTransactionNotReconciled     = shared.NewDomainError("NOT_RECONCILED", "Bank transaction is not reconciled")
)

// BankTransaction is a bank movement created by manual entry or statement
// import. It links to at most one invoice at a time.
type BankTransaction struct {
	shared.BaseAggregateRoot
	BankAccountID  string          `gorm:"type:varchar(64);not null;index"`
	Date           time.Time       `gorm:"not null;index"`
	Description    string          `gorm:"type:varchar(500)"`
	Amount         decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Type           TransactionType `gorm:"type:varchar(10);not null"`
	Reference      string          `gorm:"type:varchar(200);index"`
	Reconciled     bool            `gorm:"not null;default:false;index"`
	ReconciledWith *uuid.UUID      `gorm:"type:uuid;index"`
	ReconciledAt   *time.Time
	ReconciledBy   *string `gorm:"type:varchar(64)"`
	CreatedBy      string  `gorm:"type:varchar(64);not null"`
}

// TableName returns the table name for GORM
func (BankTransaction) TableName() string {
	return "bank_transactions"
}

// NewBankTransaction creates an unreconciled bank movement
func NewBankTransaction(bankAccountID string, date time.Time, description string, amount decimal.Decimal, txType TransactionType, reference, actorID string) (*BankTransaction, error) {
	if bankAccountID == "" {
		return nil, shared.NewValidationError("bank_account_id", "Bank account ID is required")
	}
	if date.IsZero() {
		return nil, shared.NewValidationError("date", "Transaction date is required")
	}
	if !amount.IsPositive() {
		return nil, shared.NewValidationError("amount", "Transaction amount must be positive")
	}
	if !txType.IsValid() {
		return nil, shared.NewValidationError("type", "Transaction type must be ingreso or egreso")
	}
	if actorID == "" {
		return nil, shared.NewValidationError("actor_id", "Actor ID is required")
	}

	tx := &BankTransaction{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		BankAccountID:     bankAccountID,
		Date:              date,
		Description:       description,
		Amount:            amount,
		Type:              txType,
		Reference:         reference,
		CreatedBy:         actorID,
	}
	return tx, nil
}

// Reconcile links the transaction to an invoice
func (t *BankTransaction) Reconcile(invoiceID uuid.UUID, actorID string) error {
	if t.Reconciled {
		return ErrTransactionAlreadyReconciled
	}
	if invoiceID == uuid.Nil {
		return shared.NewValidationError("invoice_id", "Invoice ID is required")
	}
	now := time.Now()
	t.Reconciled = true
	t.ReconciledWith = &invoiceID
	t.ReconciledAt = &now
	t.ReconciledBy = &actorID
	t.UpdatedAt = now
	return nil
}

// Unreconcile clears the link and returns the invoice it pointed to
func (t *BankTransaction) Unreconcile() (uuid.UUID, error) {
	if !t.Reconciled || t.ReconciledWith == nil {
		return uuid.Nil, ErrTransactionNotReconciled
	}
	invoiceID := *t.ReconciledWith
	t.Reconciled = false
	t.ReconciledWith = nil
	t.ReconciledAt = nil
	t.ReconciledBy = nil
	t.Touch()
	return invoiceID, nil
}
