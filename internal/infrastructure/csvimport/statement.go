package csvimport

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Statement column names
const (
	ColumnDate        = "fecha"
	ColumnDescription = "descripcion"
	ColumnAmount      = "monto"
	ColumnType        = "tipo"
	ColumnReference   = "referencia"
)

// RequiredColumns must be present in every statement header
var RequiredColumns = []string{ColumnDate, ColumnAmount}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2006-01-02T15:04:05", "02-01-2006"}

// StatementLine is one parsed movement of a bank statement
type StatementLine struct {
	Row         int
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Type        string // ingreso or egreso
	Reference   string
}

// StatementOptions tunes statement parsing
type StatementOptions struct {
	MaxRows  int // 0 means unlimited
	Location *time.Location
	Parser   []ParserOption
}

// ParseStatement reads every data row of a statement. Rows that fail
// validation are reported as RowErrors and skipped; a file-level problem
// (empty file, missing header) is returned as error.
func ParseStatement(r io.Reader, opts StatementOptions) ([]StatementLine, []RowError, error) {
	p, err := NewCSVParser(r, opts.Parser...)
	if err != nil {
		return nil, nil, err
	}
	if err := p.ParseHeader(); err != nil {
		return nil, nil, err
	}
	if missing := p.MissingHeaders(RequiredColumns); len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: missing columns %s", ErrMissingHeader, strings.Join(missing, ", "))
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	var (
		lines   []StatementLine
		rowErrs []RowError
	)
	for {
		row, err := p.ReadRow()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: p.currentRow, Code: ErrCodeMalformedRow, Message: err.Error()})
			continue
		}
		if row.IsEmpty() {
			continue
		}
		if opts.MaxRows > 0 && len(lines)+len(rowErrs) >= opts.MaxRows {
			rowErrs = append(rowErrs, RowError{
				Row:     row.LineNumber,
				Code:    ErrCodeTooManyRows,
				Message: fmt.Sprintf("statement exceeds %d rows", opts.MaxRows),
			})
			break
		}

		line, rowErr := parseLine(row, loc)
		if rowErr != nil {
			rowErrs = append(rowErrs, *rowErr)
			continue
		}
		lines = append(lines, line)
	}
	return lines, rowErrs, nil
}

func parseLine(row *Row, loc *time.Location) (StatementLine, *RowError) {
	line := StatementLine{
		Row:         row.LineNumber,
		Description: row.Get(ColumnDescription),
		Reference:   row.Get(ColumnReference),
	}

	rawDate := row.Get(ColumnDate)
	if rawDate == "" {
		return line, required(row.LineNumber, ColumnDate)
	}
	date, ok := parseDate(rawDate, loc)
	if !ok {
		return line, &RowError{Row: row.LineNumber, Column: ColumnDate, Code: ErrCodeInvalidFormat,
			Message: "invalid date, expected YYYY-MM-DD or DD/MM/YYYY", Value: rawDate}
	}
	line.Date = date

	rawAmount := row.Get(ColumnAmount)
	if rawAmount == "" {
		return line, required(row.LineNumber, ColumnAmount)
	}
	amount, err := parseAmount(rawAmount)
	if err != nil || amount.IsZero() {
		return line, &RowError{Row: row.LineNumber, Column: ColumnAmount, Code: ErrCodeInvalidFormat,
			Message: "invalid amount", Value: rawAmount}
	}

	switch t := strings.ToLower(row.Get(ColumnType)); t {
	case "ingreso", "abono", "deposito", "depósito":
		line.Type = "ingreso"
	case "egreso", "cargo", "retiro":
		line.Type = "egreso"
	case "":
		line.Type = "ingreso"
		if amount.IsNegative() {
			line.Type = "egreso"
		}
	default:
		return line, &RowError{Row: row.LineNumber, Column: ColumnType, Code: ErrCodeInvalidValue,
			Message: "type must be ingreso or egreso", Value: t}
	}
	line.Amount = amount.Abs()
	return line, nil
}

func required(row int, column string) *RowError {
	return &RowError{Row: row, Column: column, Code: ErrCodeRequiredField,
		Message: fmt.Sprintf("field '%s' is required", column)}
}

func parseDate(raw string, loc *time.Location) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseAmount accepts "1500", "1,500.00", "$1,500.00" and "-250.10".
func parseAmount(raw string) (decimal.Decimal, error) {
	clean := strings.NewReplacer("$", "", ",", "", " ", "").Replace(raw)
	if strings.HasPrefix(clean, "(") && strings.HasSuffix(clean, ")") {
		clean = "-" + strings.Trim(clean, "()")
	}
	return decimal.NewFromString(clean)
}
