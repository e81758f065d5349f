package cfdi

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/htmlindex"
)

const dateLayout = "2006-01-02T15:04:05"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Location is used for CFDI timestamps, which carry no offset.
var Location = loadLocation()

func loadLocation() *time.Location {
	loc, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		return time.FixedZone("CST", -6*60*60)
	}
	return loc
}

// Parse turns raw CFDI XML into a Document. Versions 3.2, 3.3 and 4.0 are
// accepted; element and attribute names are matched without regard to
// namespace prefix or case. Amounts are parsed as exact decimals.
func Parse(data []byte) (*Document, error) {
	root, err := decodeRoot(data)
	if err != nil {
		return nil, err
	}

	p := &parser{}
	doc := &Document{
		Version:       root.attr("Version", "version"),
		Series:        root.attr("Serie"),
		Folio:         root.attr("Folio"),
		DocumentType:  strings.ToUpper(root.attr("TipoDeComprobante")),
		PaymentForm:   root.attr("FormaPago", "formaDePago"),
		PaymentMethod: strings.ToUpper(root.attr("MetodoPago", "metodoDePago")),
		Currency:      root.attr("Moneda"),
		IssuePlace:    root.attr("LugarExpedicion"),
		Export:        root.attr("Exportacion"),
	}

	doc.IssuedAt = p.date(root, "Fecha")
	doc.SubTotal = p.amount(root, "SubTotal")
	doc.Discount = p.amount(root, "Descuento")
	doc.Total = p.amount(root, "Total")
	if raw := root.attr("TipoCambio"); raw != "" {
		rate := p.decimal("TipoCambio", raw)
		doc.ExchangeRate = &rate
	}

	doc.Issuer = parseIssuer(root.child("Emisor"))
	doc.Recipient = parseRecipient(root.child("Receptor"))
	doc.Taxes = p.taxes(root.child("Impuestos"))

	if conceptos := root.child("Conceptos"); conceptos != nil {
		for _, c := range conceptos.children("Concepto") {
			doc.concepts = append(doc.concepts, p.concept(c))
		}
	}

	stamp, complements, err := p.complements(root)
	if err != nil {
		return nil, err
	}
	doc.Stamp = stamp
	doc.Complements = complements

	if p.err != nil {
		return nil, p.err
	}
	return doc, nil
}

func decodeRoot(data []byte) (*node, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, newParseError(ReasonMissingRootNode, io.ErrUnexpectedEOF)
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader

	var root node
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, newParseError(ReasonMissingRootNode, err)
		}
		return nil, newParseError(ReasonMalformedXML, err)
	}
	if !root.is("Comprobante") {
		return nil, newParseError(ReasonMissingRootNode, fmt.Errorf("root element is %q", root.XMLName.Local))
	}
	return &root, nil
}

// charsetReader covers the ISO-8859-1 and Windows-1252 declarations found
// in older CFDI files.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

// parser keeps the first field error so extraction can proceed linearly.
type parser struct {
	err error
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *parser) decimal(field, raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		p.fail(fieldError(ReasonInvalidNumericField, field, raw, err))
		return decimal.Zero
	}
	return d
}

// amount reads an optional numeric attribute; absent means zero.
func (p *parser) amount(n *node, names ...string) decimal.Decimal {
	if n == nil {
		return decimal.Zero
	}
	raw := n.attr(names...)
	if raw == "" {
		return decimal.Zero
	}
	return p.decimal(names[0], raw)
}

func (p *parser) date(n *node, name string) time.Time {
	raw := n.attr(name)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(dateLayout, raw, Location)
	if err != nil {
		// Some providers append an offset or fractional seconds.
		if t2, err2 := time.Parse(time.RFC3339Nano, raw); err2 == nil {
			return t2
		}
		p.fail(fieldError(ReasonInvalidDateField, name, raw, err))
		return time.Time{}
	}
	return t
}

func parseIssuer(n *node) Party {
	if n == nil {
		return Party{}
	}
	party := Party{
		RFC:       strings.ToUpper(n.attr("Rfc")),
		Name:      n.attr("Nombre"),
		TaxRegime: n.attr("RegimenFiscal"),
	}
	// 3.2 carries the regime as a child element.
	if party.TaxRegime == "" {
		if r := n.child("RegimenFiscal"); r != nil {
			party.TaxRegime = r.attr("Regimen")
		}
	}
	return party
}

func parseRecipient(n *node) Party {
	if n == nil {
		return Party{}
	}
	return Party{
		RFC:           strings.ToUpper(n.attr("Rfc")),
		Name:          n.attr("Nombre"),
		TaxRegime:     n.attr("RegimenFiscalReceptor"),
		CFDIUse:       n.attr("UsoCFDI"),
		FiscalAddress: n.attr("DomicilioFiscalReceptor"),
	}
}

func (p *parser) taxLines(group *node, local string) []TaxLine {
	if group == nil {
		return nil
	}
	var lines []TaxLine
	for _, t := range group.children(local) {
		lines = append(lines, TaxLine{
			Base:       p.amount(t, "Base"),
			Tax:        t.attr("Impuesto"),
			FactorType: t.attr("TipoFactor"),
			Rate:       p.amount(t, "TasaOCuota", "tasa"),
			Amount:     p.amount(t, "Importe"),
		})
	}
	return lines
}

// taxes prefers the declared totals and falls back to summing the lines.
func (p *parser) taxes(n *node) Taxes {
	var taxes Taxes
	if n == nil {
		return taxes
	}
	taxes.Transfers = p.taxLines(n.child("Traslados"), "Traslado")
	taxes.Withholdings = p.taxLines(n.child("Retenciones"), "Retencion")

	if n.attr("TotalImpuestosTrasladados", "totalImpuestosTrasladados") != "" {
		taxes.TotalTransferred = p.amount(n, "TotalImpuestosTrasladados", "totalImpuestosTrasladados")
	} else {
		taxes.TotalTransferred = sumLines(taxes.Transfers)
	}
	if n.attr("TotalImpuestosRetenidos", "totalImpuestosRetenidos") != "" {
		taxes.TotalWithheld = p.amount(n, "TotalImpuestosRetenidos", "totalImpuestosRetenidos")
	} else {
		taxes.TotalWithheld = sumLines(taxes.Withholdings)
	}
	return taxes
}

func sumLines(lines []TaxLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	return total
}

func (p *parser) concept(n *node) Concept {
	c := Concept{
		ProductKey:     n.attr("ClaveProdServ"),
		Identification: n.attr("NoIdentificacion", "noIdentificacion"),
		Quantity:       p.amount(n, "Cantidad"),
		UnitKey:        n.attr("ClaveUnidad"),
		Unit:           n.attr("Unidad"),
		Description:    n.attr("Descripcion"),
		UnitValue:      p.amount(n, "ValorUnitario"),
		Amount:         p.amount(n, "Importe"),
		Discount:       p.amount(n, "Descuento"),
		TaxObject:      n.attr("ObjetoImp"),
	}
	if taxes := n.child("Impuestos"); taxes != nil {
		c.Transfers = p.taxLines(taxes.child("Traslados"), "Traslado")
		c.Withholdings = p.taxLines(taxes.child("Retenciones"), "Retencion")
	}
	return c
}

// complements extracts the fiscal stamp and lists any other complements.
// Some emitters split complements across several Complemento elements.
func (p *parser) complements(root *node) (Stamp, []Complement, error) {
	var (
		timbre *node
		others []Complement
	)
	for _, c := range root.children("Complemento") {
		for i := range c.Nodes {
			child := &c.Nodes[i]
			if child.is("TimbreFiscalDigital") {
				if timbre == nil {
					timbre = child
				}
				continue
			}
			others = append(others, Complement{
				Name:       child.XMLName.Local,
				Namespace:  child.XMLName.Space,
				Attributes: child.attrMap(),
			})
		}
	}
	if timbre == nil {
		// Stamps occasionally appear outside Complemento in hand-built files.
		timbre = root.find("TimbreFiscalDigital")
	}
	if timbre == nil {
		return Stamp{}, nil, newParseError(ReasonMissingTimbre, errors.New("TimbreFiscalDigital not found"))
	}

	uuid := strings.ToUpper(timbre.attr("UUID"))
	if uuid == "" {
		return Stamp{}, nil, fieldError(ReasonInvalidDocument, "UUID", "", errors.New("fiscal stamp has no UUID"))
	}

	return Stamp{
		UUID:                 uuid,
		StampedAt:            p.date(timbre, "FechaTimbrado"),
		SATSeal:              timbre.attr("SelloSAT", "selloSAT"),
		SATCertificateNumber: timbre.attr("NoCertificadoSAT", "noCertificadoSAT"),
		CFDISeal:             timbre.attr("SelloCFD", "selloCFD"),
		ProviderRFC:          timbre.attr("RfcProvCertif"),
	}, others, nil
}
