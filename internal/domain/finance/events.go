package finance

import (
	"time"

	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event type names
const (
	EventTypeInvoiceIngested         = "InvoiceIngested"
	EventTypeInvoicePaymentRecorded  = "InvoicePaymentRecorded"
	EventTypeTransactionReconciled   = "TransactionReconciled"
	EventTypeTransactionUnreconciled = "TransactionUnreconciled"
	EventTypePaymentBatchStatus      = "PaymentBatchStatusChanged"
)

// InvoiceIngestedEvent is raised when an invoice is created or its document replaced
type InvoiceIngestedEvent struct {
	shared.BaseDomainEvent
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	IssuerID    string          `json:"issuer_id"`
	FiscalUUID  string          `json:"fiscal_uuid,omitempty"`
	Folio       string          `json:"folio"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	HasPDF      bool            `json:"has_pdf"`
}

// NewInvoiceIngestedEvent creates a new InvoiceIngestedEvent
func NewInvoiceIngestedEvent(inv *Invoice, actorID string) *InvoiceIngestedEvent {
	e := &InvoiceIngestedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoiceIngested, "Invoice", inv.ID, actorID),
		InvoiceID:       inv.ID,
		IssuerID:        inv.IssuerID,
		Folio:           inv.Folio,
		TotalAmount:     inv.TotalAmount,
		HasPDF:          inv.PDFPath != nil,
	}
	if inv.FiscalUUID != nil {
		e.FiscalUUID = *inv.FiscalUUID
	}
	return e
}

// InvoicePaymentRecordedEvent is raised when a partial payment is stored
type InvoicePaymentRecordedEvent struct {
	shared.BaseDomainEvent
	InvoiceID uuid.UUID       `json:"invoice_id"`
	PaymentID uuid.UUID       `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	Paid      bool            `json:"paid"`
}

// NewInvoicePaymentRecordedEvent creates a new InvoicePaymentRecordedEvent
func NewInvoicePaymentRecordedEvent(inv *Invoice, p *InvoicePayment) *InvoicePaymentRecordedEvent {
	return &InvoicePaymentRecordedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoicePaymentRecorded, "Invoice", inv.ID, p.CreatedBy),
		InvoiceID:       inv.ID,
		PaymentID:       p.ID,
		Amount:          p.Amount,
		Balance:         inv.Balance(),
		Paid:            inv.Paid,
	}
}

// ReconcileMode tells how a transaction settled an invoice
type ReconcileMode string

const (
	ReconcileModeExact      ReconcileMode = "exact"
	ReconcileModeAllocation ReconcileMode = "allocation"
)

// TransactionReconciledEvent is raised after a transaction is linked to an invoice
type TransactionReconciledEvent struct {
	shared.BaseDomainEvent
	TransactionID uuid.UUID       `json:"transaction_id"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	Mode          ReconcileMode   `json:"mode"`
	Amount        decimal.Decimal `json:"amount"`
	InvoicePaid   bool            `json:"invoice_paid"`
	ReconciledAt  time.Time       `json:"reconciled_at"`
}

// NewTransactionReconciledEvent creates a new TransactionReconciledEvent
func NewTransactionReconciledEvent(tx *BankTransaction, inv *Invoice, mode ReconcileMode, amount decimal.Decimal, actorID string) *TransactionReconciledEvent {
	return &TransactionReconciledEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeTransactionReconciled, "BankTransaction", tx.ID, actorID),
		TransactionID:   tx.ID,
		InvoiceID:       inv.ID,
		Mode:            mode,
		Amount:          amount,
		InvoicePaid:     inv.Paid,
		ReconciledAt:    time.Now(),
	}
}

// TransactionUnreconciledEvent is raised after a reconciliation is rolled back
type TransactionUnreconciledEvent struct {
	shared.BaseDomainEvent
	TransactionID uuid.UUID `json:"transaction_id"`
	InvoiceID     uuid.UUID `json:"invoice_id"`
}

// NewTransactionUnreconciledEvent creates a new TransactionUnreconciledEvent
func NewTransactionUnreconciledEvent(txID, invoiceID uuid.UUID, actorID string) *TransactionUnreconciledEvent {
	return &TransactionUnreconciledEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeTransactionUnreconciled, "BankTransaction", txID, actorID),
		TransactionID:   txID,
		InvoiceID:       invoiceID,
	}
}

// PaymentBatchStatusChangedEvent is raised on every batch lifecycle transition.
// From is empty when the batch was just created.
type PaymentBatchStatusChangedEvent struct {
	shared.BaseDomainEvent
	BatchID    uuid.UUID       `json:"batch_id"`
	From       BatchStatus     `json:"from,omitempty"`
	To         BatchStatus     `json:"to"`
	ItemCount  int             `json:"item_count"`
	TotalValue decimal.Decimal `json:"total"`
}

// NewPaymentBatchStatusChangedEvent creates a new PaymentBatchStatusChangedEvent
func NewPaymentBatchStatusChangedEvent(b *PaymentBatch, from BatchStatus, actorID string) *PaymentBatchStatusChangedEvent {
	return &PaymentBatchStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentBatchStatus, "PaymentBatch", b.ID, actorID),
		BatchID:         b.ID,
		From:            from,
		To:              b.Status,
		ItemCount:       len(b.Items),
		TotalValue:      b.Total(),
	}
}
