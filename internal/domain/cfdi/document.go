// Package cfdi parses Mexican electronic tax invoices (CFDI) into a
// version-independent document. Parsing is pure: no network or storage.
package cfdi

import (
	"iter"
	"time"

	"github.com/shopspring/decimal"
)

// Document is the logical content of a stamped CFDI, identical in shape for
// every supported schema version.
type Document struct {
	Version       string
	Series        string
	Folio         string
	IssuedAt      time.Time
	DocumentType  string // TipoDeComprobante: I, E, T, N, P
	PaymentForm   string // FormaPago, e.g. 03 transfer
	PaymentMethod string // MetodoPago: PUE or PPD
	Currency      string
	ExchangeRate  *decimal.Decimal
	SubTotal      decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	IssuePlace    string
	Export        string

	Issuer    Party
	Recipient Party
	Taxes     Taxes
	Stamp     Stamp

	// Complements lists complement nodes other than the fiscal stamp,
	// e.g. pago20:Pagos, keyed by local name with their root attributes.
	Complements []Complement

	concepts []Concept
}

// Party is an issuer (Emisor) or recipient (Receptor) block.
type Party struct {
	RFC           string
	Name          string
	TaxRegime     string
	CFDIUse       string
	FiscalAddress string
}

// Taxes aggregates document level transferred and withheld taxes.
type Taxes struct {
	TotalTransferred decimal.Decimal
	TotalWithheld    decimal.Decimal
	Transfers        []TaxLine
	Withholdings     []TaxLine
}

// TaxLine is a single Traslado or Retencion entry.
type TaxLine struct {
	Base       decimal.Decimal
	Tax        string // Impuesto: 001 ISR, 002 IVA, 003 IEPS
	FactorType string // TipoFactor: Tasa, Cuota, Exento
	Rate       decimal.Decimal
	Amount     decimal.Decimal
}

// Concept is one invoice line item.
type Concept struct {
	ProductKey     string
	Identification string
	Quantity       decimal.Decimal
	UnitKey        string
	Unit           string
	Description    string
	UnitValue      decimal.Decimal
	Amount         decimal.Decimal
	Discount       decimal.Decimal
	TaxObject      string
	Transfers      []TaxLine
	Withholdings   []TaxLine
}

// Stamp is the TimbreFiscalDigital complement added by the certified
// provider. UUID is the invoice's natural external key.
type Stamp struct {
	UUID                 string
	StampedAt            time.Time
	SATSeal              string
	SATCertificateNumber string
	CFDISeal             string
	ProviderRFC          string
}

// Complement is an unrecognised complement kept for callers that need it.
type Complement struct {
	Name       string
	Namespace  string
	Attributes map[string]string
}

// Items yields line items in document order. The sequence can be ranged
// over any number of times.
func (d *Document) Items() iter.Seq2[int, Concept] {
	return func(yield func(int, Concept) bool) {
		for i, c := range d.concepts {
			if !yield(i, c) {
				return
			}
		}
	}
}

// ItemCount returns the number of line items.
func (d *Document) ItemCount() int {
	return len(d.concepts)
}
