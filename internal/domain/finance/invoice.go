package finance

import (
	"fmt"
	"time"

	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentMethod is the SAT MetodoPago of an invoice
type PaymentMethod string

const (
	PaymentMethodPUE PaymentMethod = "PUE" // Single payment at issue
	PaymentMethodPPD PaymentMethod = "PPD" // Deferred or instalment payments
)

// IsValid checks if the payment method is PUE or PPD
func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodPUE || m == PaymentMethodPPD
}

// ParsePaymentMethod maps free text onto PUE/PPD, defaulting to PUE.
func ParsePaymentMethod(raw string) PaymentMethod {
	m := PaymentMethod(raw)
	if m.IsValid() {
		return m
	}
	return PaymentMethodPUE
}

// NoFolio marks invoices whose document carries no folio.
const NoFolio = "SIN-FOLIO"

// DefaultPaidEpsilon is the balance under which an invoice counts as paid.
var DefaultPaidEpsilon = decimal.New(1, -2)

// ErrDuplicateFiscalUUID is returned when a fiscal UUID already belongs to another invoice
var ErrDuplicateFiscalUUID = &shared.DomainError{
	Kind:    shared.KindRepository,
	Code:    "DUPLICATE_FISCAL_UUID",
	Message: "Fiscal UUID already belongs to another invoice",
}

// Invoice is a supplier invoice backed by a CFDI document.
// It is never deleted; Paid always follows Balance.
type Invoice struct {
	shared.BaseAggregateRoot
	IssuerID      string           `gorm:"type:varchar(64);not null;index"`
	RecipientID   *string          `gorm:"type:varchar(64);index"`
	ProjectID     *string          `gorm:"type:varchar(64);index"`
	FiscalUUID    *string          `gorm:"column:fiscal_uuid;type:varchar(40);uniqueIndex"`
	Folio         string           `gorm:"type:varchar(60);not null"`
	IssuedAt      time.Time        `gorm:"not null;index"`
	TotalAmount   decimal.Decimal  `gorm:"type:decimal(18,4);not null"`
	Currency      string           `gorm:"type:varchar(3);not null;default:'MXN'"`
	PaymentMethod PaymentMethod    `gorm:"column:metodo_pago;type:varchar(3);not null;default:'PUE'"`
	Paid          bool             `gorm:"not null;default:false;index"`
	XMLPath       string           `gorm:"column:xml_path;type:varchar(500);not null"`
	PDFPath       *string          `gorm:"column:pdf_path;type:varchar(500)"`
	Metadata      *CFDIMetadata    `gorm:"column:cfdi_metadata;type:jsonb"`
	CreatedBy     string           `gorm:"type:varchar(64);not null"`
	UpdatedBy     string           `gorm:"type:varchar(64)"`
	Payments      []InvoicePayment `gorm:"foreignKey:InvoiceID;references:ID"`
}

// TableName returns the table name for GORM
func (Invoice) TableName() string {
	return "invoices"
}

// InvoiceSource carries everything the ingestion pipeline knows about a
// document once its artifacts are stored.
type InvoiceSource struct {
	IssuerID    string
	RecipientID *string
	ProjectID   *string
	XMLPath     string
	PDFPath     *string
	Metadata    *CFDIMetadata
	ReceivedAt  time.Time
}

// NewInvoice creates an unpaid invoice from a stored document
func NewInvoice(src InvoiceSource, actorID string) (*Invoice, error) {
	if actorID == "" {
		return nil, shared.NewValidationError("actor_id", "Actor ID is required")
	}
	inv := &Invoice{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Currency:          "MXN",
		CreatedBy:         actorID,
		UpdatedBy:         actorID,
		Payments:          make([]InvoicePayment, 0),
	}
	if err := inv.apply(src); err != nil {
		return nil, err
	}
	inv.AddDomainEvent(NewInvoiceIngestedEvent(inv, actorID))
	return inv, nil
}

// ReplaceDocument re-points an existing invoice at newly stored artifacts.
// Paid resets to false and payments are kept.
func (i *Invoice) ReplaceDocument(src InvoiceSource, actorID string) error {
	if actorID == "" {
		return shared.NewValidationError("actor_id", "Actor ID is required")
	}
	if err := i.apply(src); err != nil {
		return err
	}
	i.UpdatedBy = actorID
	i.Touch()
	i.AddDomainEvent(NewInvoiceIngestedEvent(i, actorID))
	return nil
}

func (i *Invoice) apply(src InvoiceSource) error {
	if src.IssuerID == "" {
		return shared.NewValidationError("issuer_id", "Issuer ID is required")
	}
	if src.XMLPath == "" {
		return shared.NewValidationError("xml_path", "XML artifact path is required")
	}

	meta := src.Metadata
	if meta == nil {
		meta = &CFDIMetadata{}
	}

	i.IssuerID = src.IssuerID
	i.RecipientID = src.RecipientID
	i.ProjectID = src.ProjectID
	i.XMLPath = src.XMLPath
	i.PDFPath = src.PDFPath
	i.Metadata = meta
	i.Paid = false

	i.Folio = NoFolio
	if meta.Folio != "" {
		i.Folio = meta.Folio
	}

	i.IssuedAt = src.ReceivedAt
	if meta.IssuedAt != nil && !meta.IssuedAt.IsZero() {
		i.IssuedAt = *meta.IssuedAt
	}
	if i.IssuedAt.IsZero() {
		i.IssuedAt = time.Now()
	}

	i.TotalAmount = decimal.Zero
	if meta.Total != nil {
		if meta.Total.IsNegative() {
			return shared.NewValidationError("total_amount", "Invoice total cannot be negative")
		}
		i.TotalAmount = *meta.Total
	}
	if meta.Currency != "" && len(meta.Currency) == 3 {
		i.Currency = meta.Currency
	}

	i.PaymentMethod = ParsePaymentMethod(meta.PaymentMethod)

	i.FiscalUUID = nil
	if meta.UUID != "" {
		u := meta.UUID
		i.FiscalUUID = &u
	}
	return nil
}

// PaidAmount sums recorded payments
func (i *Invoice) PaidAmount() decimal.Decimal {
	total := decimal.Zero
	for _, p := range i.Payments {
		total = total.Add(p.Amount)
	}
	return total
}

// Balance is total minus recorded payments, derived on every call
func (i *Invoice) Balance() decimal.Decimal {
	return i.TotalAmount.Sub(i.PaidAmount())
}

// IsSettled reports whether the balance is within epsilon of zero or below
func (i *Invoice) IsSettled(epsilon decimal.Decimal) bool {
	return i.Balance().LessThanOrEqual(epsilon)
}

// CheckPayment rejects an amount larger than the remaining balance plus epsilon
func (i *Invoice) CheckPayment(amount, epsilon decimal.Decimal) error {
	if balance := i.Balance(); amount.GreaterThan(balance.Add(epsilon)) {
		return shared.NewValidationError("amount",
			fmt.Sprintf("Amount %s exceeds remaining balance %s", amount.StringFixed(2), balance.StringFixed(2)))
	}
	return nil
}

// RecordPayment appends a partial payment and recomputes Paid from the balance.
// The amount may not exceed the remaining balance.
func (i *Invoice) RecordPayment(amount decimal.Decimal, paidAt time.Time, transactionID *uuid.UUID, reference, actorID string, epsilon decimal.Decimal) (*InvoicePayment, error) {
	payment, err := NewInvoicePayment(i.ID, amount, paidAt, transactionID, reference, actorID)
	if err != nil {
		return nil, err
	}
	if err := i.CheckPayment(amount, epsilon); err != nil {
		return nil, err
	}
	i.Payments = append(i.Payments, *payment)
	i.Paid = i.IsSettled(epsilon)
	i.UpdatedBy = actorID
	i.Touch()
	i.AddDomainEvent(NewInvoicePaymentRecordedEvent(i, payment))
	return payment, nil
}

// MarkPaid sets Paid regardless of balance
func (i *Invoice) MarkPaid(actorID string) {
	i.Paid = true
	i.UpdatedBy = actorID
	i.Touch()
}

// MarkUnpaid clears Paid regardless of balance
func (i *Invoice) MarkUnpaid(actorID string) {
	i.Paid = false
	i.UpdatedBy = actorID
	i.Touch()
}

// DisplayNumber returns the folio with the fiscal UUID when no folio exists
func (i *Invoice) DisplayNumber() string {
	if i.Folio != NoFolio || i.FiscalUUID == nil {
		return i.Folio
	}
	return fmt.Sprintf("%s (%s)", i.Folio, *i.FiscalUUID)
}
