package dto

import "github.com/shopspring/decimal"

// ==================== Invoice requests ====================

// IngestInvoiceForm is the non-file part of a multipart CFDI upload.
// The files arrive as "xml" (required) and "pdf" (optional).
type IngestInvoiceForm struct {
	IssuerID    string `form:"issuer_id" binding:"required,scopeid"`
	RecipientID string `form:"recipient_id" binding:"omitempty,max=64"`
	ProjectID   string `form:"project_id" binding:"omitempty,scopeid"`
}

// InvoiceListQuery filters the invoice listing
type InvoiceListQuery struct {
	ListRequest
	IssuerID  string `form:"issuer_id" binding:"omitempty,max=64"`
	ProjectID string `form:"project_id" binding:"omitempty,max=64"`
	Paid      *bool  `form:"paid"`
	From      string `form:"from" binding:"omitempty,datetime=2006-01-02"`
	To        string `form:"to" binding:"omitempty,datetime=2006-01-02"`
}

// ==================== Reconciliation requests ====================

// ReconcileExactRequest links the path transaction to one invoice
type ReconcileExactRequest struct {
	InvoiceID string `json:"invoice_id" binding:"required,uuid"`
	// ForcePaid overrides the server policy when present
	ForcePaid *bool `json:"force_paid"`
}

// AllocateRequest applies part of the path transaction to one invoice
type AllocateRequest struct {
	InvoiceID string          `json:"invoice_id" binding:"required,uuid"`
	Amount    decimal.Decimal `json:"amount"`
}

// RegisterTransactionRequest records a manual bank movement
type RegisterTransactionRequest struct {
	BankAccountID string          `json:"bank_account_id" binding:"required,max=64"`
	Date          string          `json:"date" binding:"required"`
	Description   string          `json:"description" binding:"max=500"`
	Amount        decimal.Decimal `json:"amount"`
	Type          string          `json:"type" binding:"required,oneof=ingreso egreso"`
	Reference     string          `json:"reference" binding:"max=200"`
}

// ImportStatementForm is the non-file part of a statement upload
type ImportStatementForm struct {
	BankAccountID string `form:"bank_account_id" binding:"required,max=64"`
	Delimiter     string `form:"delimiter" binding:"omitempty,len=1"`
}

// TransactionListQuery filters the bank transaction listing
type TransactionListQuery struct {
	ListRequest
	BankAccountID string `form:"bank_account_id" binding:"omitempty,max=64"`
	Reconciled    *bool  `form:"reconciled"`
	From          string `form:"from" binding:"omitempty,datetime=2006-01-02"`
	To            string `form:"to" binding:"omitempty,datetime=2006-01-02"`
}

// SuggestionQuery bounds the match suggestion list
type SuggestionQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=50"`
}

// ==================== Payment batch requests ====================

// CreateBatchRequest opens a draft batch
type CreateBatchRequest struct {
	Title         string `json:"title" binding:"max=200"`
	BankAccountID string `json:"bank_account_id" binding:"omitempty,max=64"`
	ScheduledDate string `json:"scheduled_date" binding:"omitempty,datetime=2006-01-02"`
}

// AddBatchInvoiceRequest adds one invoice payment intent
type AddBatchInvoiceRequest struct {
	InvoiceID string          `json:"invoice_id" binding:"required,uuid"`
	Amount    decimal.Decimal `json:"amount"`
}

// ScheduleBatchRequest moves a draft batch to programado
type ScheduleBatchRequest struct {
	ScheduledDate string `json:"scheduled_date" binding:"required,datetime=2006-01-02"`
}

// CancelBatchRequest cancels a non-terminal batch
type CancelBatchRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// BatchListQuery filters the batch listing
type BatchListQuery struct {
	ListRequest
	Status string `form:"status" binding:"omitempty,oneof=borrador programado pagado cancelado"`
}
