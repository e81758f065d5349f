package finance

import (
	"context"

	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/google/uuid"
)

// InvoiceQueryService serves invoice reads
type InvoiceQueryService struct {
	invoiceRepo finance.InvoiceRepository
}

// NewInvoiceQueryService creates a new InvoiceQueryService
func NewInvoiceQueryService(invoiceRepo finance.InvoiceRepository) *InvoiceQueryService {
	return &InvoiceQueryService{invoiceRepo: invoiceRepo}
}

// GetInvoice returns an invoice with its payments and derived balance
func (s *InvoiceQueryService) GetInvoice(ctx context.Context, id uuid.UUID) (*InvoiceResponse, error) {
	inv, err := s.invoiceRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToInvoiceResponse(inv)
	return &resp, nil
}

// ListInvoices returns a page of invoices and the total count
func (s *InvoiceQueryService) ListInvoices(ctx context.Context, filter finance.InvoiceFilter) ([]InvoiceResponse, int64, error) {
	invoices, total, err := s.invoiceRepo.FindAll(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	out := make([]InvoiceResponse, len(invoices))
	for i := range invoices {
		out[i] = ToInvoiceResponse(&invoices[i])
	}
	return out, total, nil
}
