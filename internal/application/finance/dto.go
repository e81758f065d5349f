package finance

import (
	"time"

	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/erp/fiscal/internal/infrastructure/csvimport"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ==================== Invoice DTOs ====================

// ArtifactFile is an uploaded file as received from the caller
type ArtifactFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// IngestInvoiceRequest carries one CFDI document and its optional PDF
type IngestInvoiceRequest struct {
	ActorID     string
	IssuerID    string
	RecipientID *string
	ProjectID   *string
	InvoiceID   *uuid.UUID // set to replace the document of an existing invoice
	XML         ArtifactFile
	PDF         *ArtifactFile
}

// IngestInvoiceResult is the outcome of a successful ingestion
type IngestInvoiceResult struct {
	Invoice           InvoiceResponse `json:"invoice"`
	Created           bool            `json:"created"`
	MetadataExtracted bool            `json:"metadata_extracted"`
}

// InvoiceResponse is the read model of an invoice
type InvoiceResponse struct {
	ID            uuid.UUID                `json:"id"`
	IssuerID      string                   `json:"issuer_id"`
	RecipientID   *string                  `json:"recipient_id,omitempty"`
	ProjectID     *string                  `json:"project_id,omitempty"`
	FiscalUUID    *string                  `json:"fiscal_uuid,omitempty"`
	Folio         string                   `json:"folio"`
	IssuedAt      time.Time                `json:"issued_at"`
	TotalAmount   decimal.Decimal          `json:"total_amount"`
	PaidAmount    decimal.Decimal          `json:"paid_amount"`
	Balance       decimal.Decimal          `json:"balance"`
	Currency      string                   `json:"currency"`
	PaymentMethod string                   `json:"metodo_pago"`
	Paid          bool                     `json:"paid"`
	XMLPath       string                   `json:"xml_path"`
	PDFPath       *string                  `json:"pdf_path"`
	Metadata      *finance.CFDIMetadata    `json:"cfdi_metadata,omitempty"`
	Payments      []InvoicePaymentResponse `json:"payments,omitempty"`
	CreatedBy     string                   `json:"created_by"`
	CreatedAt     time.Time                `json:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
	Version       int                      `json:"version"`
}

// InvoicePaymentResponse is one partial payment
type InvoicePaymentResponse struct {
	ID                uuid.UUID       `json:"id"`
	Amount            decimal.Decimal `json:"amount"`
	PaidAt            time.Time       `json:"paid_at"`
	BankTransactionID *uuid.UUID      `json:"bank_transaction_id,omitempty"`
	Reference         string          `json:"reference,omitempty"`
	CreatedBy         string          `json:"created_by"`
}

// ToInvoiceResponse converts a domain Invoice to InvoiceResponse
func ToInvoiceResponse(inv *finance.Invoice) InvoiceResponse {
	resp := InvoiceResponse{
		ID:            inv.ID,
		IssuerID:      inv.IssuerID,
		RecipientID:   inv.RecipientID,
		ProjectID:     inv.ProjectID,
		FiscalUUID:    inv.FiscalUUID,
		Folio:         inv.Folio,
		IssuedAt:      inv.IssuedAt,
		TotalAmount:   inv.TotalAmount,
		PaidAmount:    inv.PaidAmount(),
		Balance:       inv.Balance(),
		Currency:      inv.Currency,
		PaymentMethod: string(inv.PaymentMethod),
		Paid:          inv.Paid,
		XMLPath:       inv.XMLPath,
		PDFPath:       inv.PDFPath,
		Metadata:      inv.Metadata,
		CreatedBy:     inv.CreatedBy,
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
		Version:       inv.Version,
	}
	for _, p := range inv.Payments {
		resp.Payments = append(resp.Payments, InvoicePaymentResponse{
			ID:                p.ID,
			Amount:            p.Amount,
			PaidAt:            p.PaidAt,
			BankTransactionID: p.BankTransactionID,
			Reference:         p.Reference,
			CreatedBy:         p.CreatedBy,
		})
	}
	return resp
}

// ==================== Reconciliation DTOs ====================

// ReconcileExactRequest links a transaction to an invoice and marks it paid
type ReconcileExactRequest struct {
	ActorID       string
	TransactionID uuid.UUID
	InvoiceID     uuid.UUID
	// ForcePaid overrides the configured policy. True marks the invoice paid
	// whatever the amounts; false derives paid from the transaction amount.
	ForcePaid *bool
}

// ReconcileAllocationRequest applies part of a transaction to an invoice
type ReconcileAllocationRequest struct {
	ActorID       string
	TransactionID uuid.UUID
	InvoiceID     uuid.UUID
	Amount        decimal.Decimal
}

// UnreconcileRequest undoes a reconciliation
type UnreconcileRequest struct {
	ActorID       string
	TransactionID uuid.UUID
}

// ReconciliationResult reports the state of both sides after an operation
type ReconciliationResult struct {
	Transaction BankTransactionResponse `json:"transaction"`
	Invoice     *InvoiceResponse        `json:"invoice,omitempty"`
	Mode        string                  `json:"mode"`
	PaymentID   *uuid.UUID              `json:"payment_id,omitempty"`
}

// RegisterTransactionRequest creates a bank transaction by manual entry
type RegisterTransactionRequest struct {
	ActorID       string
	BankAccountID string
	Date          time.Time
	Description   string
	Amount        decimal.Decimal
	Type          string
	Reference     string
}

// ImportStatementRequest carries a bank statement CSV export
type ImportStatementRequest struct {
	ActorID       string
	BankAccountID string
	Data          []byte
	Delimiter     rune
}

// ImportStatementResult summarizes a statement import
type ImportStatementResult struct {
	Imported     int                  `json:"imported"`
	Failed       int                  `json:"failed"`
	Transactions []uuid.UUID          `json:"transaction_ids"`
	Errors       []csvimport.RowError `json:"errors,omitempty"`
}

// BankTransactionResponse is the read model of a bank transaction
type BankTransactionResponse struct {
	ID             uuid.UUID       `json:"id"`
	BankAccountID  string          `json:"bank_account_id"`
	Date           time.Time       `json:"date"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	Type           string          `json:"type"`
	Reference      string          `json:"reference"`
	Reconciled     bool            `json:"reconciled"`
	ReconciledWith *uuid.UUID      `json:"reconciled_with"`
	ReconciledAt   *time.Time      `json:"reconciled_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ToBankTransactionResponse converts a domain BankTransaction
func ToBankTransactionResponse(tx *finance.BankTransaction) BankTransactionResponse {
	return BankTransactionResponse{
		ID:             tx.ID,
		BankAccountID:  tx.BankAccountID,
		Date:           tx.Date,
		Description:    tx.Description,
		Amount:         tx.Amount,
		Type:           string(tx.Type),
		Reference:      tx.Reference,
		Reconciled:     tx.Reconciled,
		ReconciledWith: tx.ReconciledWith,
		ReconciledAt:   tx.ReconciledAt,
		CreatedAt:      tx.CreatedAt,
	}
}

// ==================== Payment Batch DTOs ====================

// CreateBatchRequest creates an empty draft batch
type CreateBatchRequest struct {
	ActorID       string
	Title         string
	BankAccountID *string
	ScheduledDate *time.Time
}

// AddBatchInvoiceRequest adds an invoice payment intent to a batch
type AddBatchInvoiceRequest struct {
	ActorID   string
	BatchID   uuid.UUID
	InvoiceID uuid.UUID
	Amount    decimal.Decimal
}

// PaymentBatchResponse is the read model of a batch
type PaymentBatchResponse struct {
	ID            uuid.UUID                  `json:"id"`
	Title         string                     `json:"title"`
	Status        string                     `json:"status"`
	ScheduledDate *time.Time                 `json:"scheduled_date"`
	BankAccountID *string                    `json:"bank_account_id"`
	Total         decimal.Decimal            `json:"total"`
	Items         []PaymentBatchItemResponse `json:"items"`
	PaidAt        *time.Time                 `json:"paid_at,omitempty"`
	CancelledAt   *time.Time                 `json:"cancelled_at,omitempty"`
	CancelReason  string                     `json:"cancel_reason,omitempty"`
	CreatedBy     string                     `json:"created_by"`
	CreatedAt     time.Time                  `json:"created_at"`
	Version       int                        `json:"version"`
}

// PaymentBatchItemResponse is one batch item
type PaymentBatchItemResponse struct {
	ID        uuid.UUID       `json:"id"`
	InvoiceID uuid.UUID       `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// ToPaymentBatchResponse converts a domain PaymentBatch
func ToPaymentBatchResponse(b *finance.PaymentBatch) PaymentBatchResponse {
	resp := PaymentBatchResponse{
		ID:            b.ID,
		Title:         b.Title,
		Status:        string(b.Status),
		ScheduledDate: b.ScheduledDate,
		BankAccountID: b.BankAccountID,
		Total:         b.Total(),
		Items:         make([]PaymentBatchItemResponse, 0, len(b.Items)),
		PaidAt:        b.PaidAt,
		CancelledAt:   b.CancelledAt,
		CancelReason:  b.CancelReason,
		CreatedBy:     b.CreatedBy,
		CreatedAt:     b.CreatedAt,
		Version:       b.Version,
	}
	for _, it := range b.Items {
		resp.Items = append(resp.Items, PaymentBatchItemResponse{
			ID:        it.ID,
			InvoiceID: it.InvoiceID,
			Amount:    it.Amount,
			CreatedAt: it.CreatedAt,
		})
	}
	return resp
}

// MarkBatchPaidResult reports the fan-out of a batch payment
type MarkBatchPaidResult struct {
	Batch          PaymentBatchResponse `json:"batch"`
	InvoicesMarked int64                `json:"invoices_marked"`
	AlreadyPaid    bool                 `json:"already_paid"`
}

// ==================== Audit DTOs ====================

// AuditFinding is one detected inconsistency
type AuditFinding struct {
	Code              string          `json:"code"`
	Message           string          `json:"message"`
	TransactionID     uuid.UUID       `json:"transaction_id"`
	InvoiceID         uuid.UUID       `json:"invoice_id"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	InvoiceTotal      decimal.Decimal `json:"invoice_total"`
	ReconciledAt      *time.Time      `json:"reconciled_at,omitempty"`
}

// AuditReport is the result of one consistency audit run
type AuditReport struct {
	RunAt     time.Time      `json:"run_at"`
	Scanned   int            `json:"scanned"`
	Truncated bool           `json:"truncated"`
	Findings  []AuditFinding `json:"findings"`
}
