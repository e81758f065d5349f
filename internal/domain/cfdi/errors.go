package cfdi

import (
	"errors"
	"fmt"
)

// Reason identifies why a document was rejected
type Reason string

const (
	ReasonMalformedXML        Reason = "MalformedXML"
	ReasonMissingRootNode     Reason = "MissingRootNode"
	ReasonMissingTimbre       Reason = "MissingTimbre"
	ReasonInvalidDocument     Reason = "InvalidDocument"
	ReasonInvalidNumericField Reason = "InvalidNumericField"
	ReasonInvalidDateField    Reason = "InvalidDateField"
)

// Sentinel errors usable with errors.Is
var (
	ErrMalformedXML        = errors.New("cfdi: malformed xml")
	ErrMissingRootNode     = errors.New("cfdi: missing Comprobante root node")
	ErrInvalidDocument     = errors.New("cfdi: invalid document")
	ErrInvalidNumericField = errors.New("cfdi: invalid numeric field")
	ErrInvalidDateField    = errors.New("cfdi: invalid date field")
)

// ParseError is returned by Parse for every rejected document.
// Field names the offending attribute for numeric and date failures.
type ParseError struct {
	Reason Reason
	Field  string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("cfdi: %s on %s=%q: %v", e.Reason, e.Field, e.Value, e.Err)
	case e.Field != "":
		return fmt.Sprintf("cfdi: %s on %s", e.Reason, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("cfdi: %s: %v", e.Reason, e.Err)
	default:
		return fmt.Sprintf("cfdi: %s", e.Reason)
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is maps reasons onto the package sentinels. A missing stamp block and a
// stamp without UUID are both invalid documents.
func (e *ParseError) Is(target error) bool {
	switch target {
	case ErrMalformedXML:
		return e.Reason == ReasonMalformedXML
	case ErrMissingRootNode:
		return e.Reason == ReasonMissingRootNode
	case ErrInvalidDocument:
		return e.Reason == ReasonInvalidDocument || e.Reason == ReasonMissingTimbre
	case ErrInvalidNumericField:
		return e.Reason == ReasonInvalidNumericField
	case ErrInvalidDateField:
		return e.Reason == ReasonInvalidDateField
	}
	return false
}

func newParseError(reason Reason, err error) *ParseError {
	return &ParseError{Reason: reason, Err: err}
}

func fieldError(reason Reason, field, value string, err error) *ParseError {
	return &ParseError{Reason: reason, Field: field, Value: value, Err: err}
}
