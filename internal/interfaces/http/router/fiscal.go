package router

import (
	"github.com/gin-gonic/gin"

	"github.com/erp/fiscal/internal/interfaces/http/handler"
)

// FiscalHandlers are the API handlers mounted under /api/<version>
type FiscalHandlers struct {
	Invoices         *handler.InvoiceHandler
	BankTransactions *handler.BankTransactionHandler
	PaymentBatches   *handler.PaymentBatchHandler
	Audit            *handler.AuditHandler
	System           *handler.SystemHandler

	// UploadGuards run before the document and statement upload endpoints
	UploadGuards []gin.HandlerFunc
}

// FiscalGroups builds the route groups of the fiscal API
func FiscalGroups(h FiscalHandlers) []*DomainGroup {
	upload := func(final gin.HandlerFunc) []gin.HandlerFunc {
		chain := make([]gin.HandlerFunc, 0, len(h.UploadGuards)+1)
		chain = append(chain, h.UploadGuards...)
		return append(chain, final)
	}

	invoices := NewDomainGroup("invoices", "/invoices").
		POST("", upload(h.Invoices.Ingest)...).
		GET("", h.Invoices.List).
		GET("/:id", h.Invoices.Get).
		PUT("/:id/document", upload(h.Invoices.ReplaceDocument)...)

	transactions := NewDomainGroup("bank-transactions", "/bank-transactions").
		POST("", h.BankTransactions.Register).
		GET("", h.BankTransactions.List).
		POST("/import", upload(h.BankTransactions.ImportStatement)...).
		GET("/:id", h.BankTransactions.Get).
		POST("/:id/reconcile", h.BankTransactions.Reconcile).
		POST("/:id/allocations", h.BankTransactions.Allocate).
		DELETE("/:id/reconciliation", h.BankTransactions.Unreconcile).
		GET("/:id/suggestions", h.BankTransactions.Suggestions)

	batches := NewDomainGroup("payment-batches", "/payment-batches").
		POST("", h.PaymentBatches.Create).
		GET("", h.PaymentBatches.List).
		GET("/:id", h.PaymentBatches.Get).
		POST("/:id/items", h.PaymentBatches.AddInvoice).
		POST("/:id/schedule", h.PaymentBatches.Schedule).
		POST("/:id/cancel", h.PaymentBatches.Cancel).
		POST("/:id/pay", h.PaymentBatches.MarkPaid)

	batchItems := NewDomainGroup("payment-batch-items", "/payment-batch-items").
		DELETE("/:id", h.PaymentBatches.RemoveInvoice)

	audit := NewDomainGroup("audit", "/audit").
		POST("/consistency", h.Audit.Run).
		GET("/consistency", h.Audit.Last)

	system := NewDomainGroup("system", "/system").
		GET("/ping", h.System.Ping).
		GET("/info", h.System.GetSystemInfo)

	return []*DomainGroup{invoices, transactions, batches, batchItems, audit, system}
}

// RegisterFiscal mounts the fiscal API groups on r
func RegisterFiscal(r *Router, h FiscalHandlers) *Router {
	for _, g := range FiscalGroups(h) {
		r.Register(g)
	}
	return r
}
