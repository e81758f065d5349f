package csvimport

import "fmt"

// Row error codes
const (
	ErrCodeMalformedRow  = "ERR_IMPORT_MALFORMED_ROW"
	ErrCodeRequiredField = "ERR_IMPORT_REQUIRED_FIELD"
	ErrCodeInvalidFormat = "ERR_IMPORT_INVALID_FORMAT"
	ErrCodeInvalidValue  = "ERR_IMPORT_INVALID_VALUE"
	ErrCodeTooManyRows   = "ERR_IMPORT_TOO_MANY_ROWS"
)

// RowError represents an error in a specific row
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// Error implements the error interface
func (e RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d, column '%s': %s", e.Row, e.Column, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}
