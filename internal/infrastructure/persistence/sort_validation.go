package persistence

import (
	"strings"

	"github.com/erp/fiscal/internal/domain/shared"
)

// ValidateSortOrder normalizes the sort order to ASC or DESC, defaulting to DESC
func ValidateSortOrder(orderDir string) string {
	if strings.ToUpper(strings.TrimSpace(orderDir)) == "ASC" {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField returns sortField when it is whitelisted, else defaultField
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed != "" && allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// InvoiceSortFields contains allowed sort fields for invoices
var InvoiceSortFields = map[string]bool{
	"created_at":   true,
	"updated_at":   true,
	"issued_at":    true,
	"total_amount": true,
	"folio":        true,
	"issuer_id":    true,
}

// BankTransactionSortFields contains allowed sort fields for bank transactions
var BankTransactionSortFields = map[string]bool{
	"created_at":    true,
	"date":          true,
	"amount":        true,
	"reconciled_at": true,
}

// PaymentBatchSortFields contains allowed sort fields for payment batches
var PaymentBatchSortFields = map[string]bool{
	"created_at":     true,
	"updated_at":     true,
	"scheduled_date": true,
	"status":         true,
	"title":          true,
}

// orderClause builds a safe ORDER BY expression from a filter
func orderClause(filter shared.Filter, allowed map[string]bool, defaultField string) string {
	return ValidateSortField(filter.OrderBy, allowed, defaultField) + " " + ValidateSortOrder(filter.OrderDir)
}
