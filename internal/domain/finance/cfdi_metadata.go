package finance

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/fiscal/internal/domain/cfdi"
	"github.com/shopspring/decimal"
)

// CFDIMetadata is the best-effort extraction of a CFDI stored next to the
// invoice. Every field is optional; an empty record means extraction failed.
// Extensions holds complements this model does not know about, keyed by
// their element name.
type CFDIMetadata struct {
	Version              string                     `json:"version,omitempty"`
	Series               string                     `json:"serie,omitempty"`
	Folio                string                     `json:"folio,omitempty"`
	IssuedAt             *time.Time                 `json:"fecha,omitempty"`
	DocumentType         string                     `json:"tipo_comprobante,omitempty"`
	PaymentForm          string                     `json:"forma_pago,omitempty"`
	PaymentMethod        string                     `json:"metodo_pago,omitempty"`
	Currency             string                     `json:"moneda,omitempty"`
	ExchangeRate         *decimal.Decimal           `json:"tipo_cambio,omitempty"`
	SubTotal             *decimal.Decimal           `json:"subtotal,omitempty"`
	Discount             *decimal.Decimal           `json:"descuento,omitempty"`
	Total                *decimal.Decimal           `json:"total,omitempty"`
	Issuer               *MetadataParty             `json:"emisor,omitempty"`
	Recipient            *MetadataParty             `json:"receptor,omitempty"`
	TaxesTransferred     *decimal.Decimal           `json:"impuestos_trasladados,omitempty"`
	TaxesWithheld        *decimal.Decimal           `json:"impuestos_retenidos,omitempty"`
	Items                []MetadataItem             `json:"conceptos,omitempty"`
	UUID                 string                     `json:"uuid,omitempty"`
	StampedAt            *time.Time                 `json:"fecha_timbrado,omitempty"`
	SATCertificateNumber string                     `json:"no_certificado_sat,omitempty"`
	SATSeal              string                     `json:"sello_sat,omitempty"`
	Extensions           map[string]json.RawMessage `json:"extensions,omitempty"`
}

// MetadataParty mirrors an issuer or recipient block
type MetadataParty struct {
	RFC       string `json:"rfc"`
	Name      string `json:"nombre,omitempty"`
	TaxRegime string `json:"regimen_fiscal,omitempty"`
	CFDIUse   string `json:"uso_cfdi,omitempty"`
}

// MetadataItem is a condensed line item
type MetadataItem struct {
	ProductKey  string          `json:"clave_prod_serv,omitempty"`
	Description string          `json:"descripcion"`
	Quantity    decimal.Decimal `json:"cantidad"`
	Unit        string          `json:"unidad,omitempty"`
	UnitValue   decimal.Decimal `json:"valor_unitario"`
	Amount      decimal.Decimal `json:"importe"`
	Taxes       decimal.Decimal `json:"impuestos"`
}

// NewCFDIMetadata condenses a parsed document
func NewCFDIMetadata(doc *cfdi.Document) *CFDIMetadata {
	if doc == nil {
		return &CFDIMetadata{}
	}
	m := &CFDIMetadata{
		Version:              doc.Version,
		Series:               doc.Series,
		Folio:                doc.Folio,
		DocumentType:         doc.DocumentType,
		PaymentForm:          doc.PaymentForm,
		PaymentMethod:        doc.PaymentMethod,
		Currency:             doc.Currency,
		ExchangeRate:         doc.ExchangeRate,
		SubTotal:             decimalPtr(doc.SubTotal),
		Discount:             decimalPtr(doc.Discount),
		Total:                decimalPtr(doc.Total),
		TaxesTransferred:     decimalPtr(doc.Taxes.TotalTransferred),
		TaxesWithheld:        decimalPtr(doc.Taxes.TotalWithheld),
		UUID:                 doc.Stamp.UUID,
		SATCertificateNumber: doc.Stamp.SATCertificateNumber,
		SATSeal:              doc.Stamp.SATSeal,
		Issuer:               partyOf(doc.Issuer),
		Recipient:            partyOf(doc.Recipient),
	}
	if !doc.IssuedAt.IsZero() {
		t := doc.IssuedAt
		m.IssuedAt = &t
	}
	if !doc.Stamp.StampedAt.IsZero() {
		t := doc.Stamp.StampedAt
		m.StampedAt = &t
	}
	for _, c := range doc.Items() {
		taxes := decimal.Zero
		for _, t := range c.Transfers {
			taxes = taxes.Add(t.Amount)
		}
		for _, t := range c.Withholdings {
			taxes = taxes.Sub(t.Amount)
		}
		m.Items = append(m.Items, MetadataItem{
			ProductKey:  c.ProductKey,
			Description: c.Description,
			Quantity:    c.Quantity,
			Unit:        c.Unit,
			UnitValue:   c.UnitValue,
			Amount:      c.Amount,
			Taxes:       taxes,
		})
	}
	for _, comp := range doc.Complements {
		raw, err := json.Marshal(comp.Attributes)
		if err != nil {
			continue
		}
		if m.Extensions == nil {
			m.Extensions = make(map[string]json.RawMessage)
		}
		m.Extensions[comp.Name] = raw
	}
	return m
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

func partyOf(p cfdi.Party) *MetadataParty {
	if p.RFC == "" && p.Name == "" {
		return nil
	}
	return &MetadataParty{
		RFC:       p.RFC,
		Name:      p.Name,
		TaxRegime: p.TaxRegime,
		CFDIUse:   p.CFDIUse,
	}
}

// IsEmpty reports whether nothing was extracted
func (m *CFDIMetadata) IsEmpty() bool {
	return m == nil || (m.UUID == "" && m.Total == nil && m.Folio == "" && m.Version == "")
}

// Value implements driver.Valuer for jsonb storage
func (m CFDIMetadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal cfdi metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner for jsonb retrieval
func (m *CFDIMetadata) Scan(value any) error {
	if value == nil {
		*m = CFDIMetadata{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into CFDIMetadata", value)
	}
	if len(data) == 0 {
		*m = CFDIMetadata{}
		return nil
	}
	return json.Unmarshal(data, m)
}
