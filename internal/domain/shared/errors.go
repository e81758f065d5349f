package shared

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a DomainError for propagation and transport mapping
type ErrorKind string

const (
	KindDomain      ErrorKind = "DOMAIN"
	KindValidation  ErrorKind = "VALIDATION"
	KindParse       ErrorKind = "PARSE"
	KindStorage     ErrorKind = "STORAGE"
	KindRepository  ErrorKind = "REPOSITORY"
	KindConsistency ErrorKind = "CONSISTENCY"
)

// DomainError represents a domain-level error
type DomainError struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	Err     error     `json:"-"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError with the same code
func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if !errors.As(target, &de) {
		return false
	}
	return de.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Kind:    KindDomain,
		Code:    code,
		Message: message,
	}
}

// NewValidationError reports bad input on a named field
func NewValidationError(field, message string) *DomainError {
	return &DomainError{
		Kind:    KindValidation,
		Code:    "VALIDATION_FAILED",
		Message: message,
		Field:   field,
	}
}

// NewParseError wraps a document parsing failure
func NewParseError(err error) *DomainError {
	return &DomainError{
		Kind:    KindParse,
		Code:    "PARSE_FAILED",
		Message: "document could not be parsed",
		Err:     err,
	}
}

// NewStorageError wraps an artifact store failure
func NewStorageError(op string, err error) *DomainError {
	return &DomainError{
		Kind:    KindStorage,
		Code:    "STORAGE_FAILED",
		Message: fmt.Sprintf("storage %s failed", op),
		Err:     err,
	}
}

// NewRepositoryError wraps a persistence failure
func NewRepositoryError(op string, err error) *DomainError {
	return &DomainError{
		Kind:    KindRepository,
		Code:    "REPOSITORY_FAILED",
		Message: fmt.Sprintf("repository %s failed", op),
		Err:     err,
	}
}

// NewConsistencyError describes a detected cross-entity mismatch
func NewConsistencyError(code, message string) *DomainError {
	return &DomainError{
		Kind:    KindConsistency,
		Code:    code,
		Message: message,
	}
}

// IsKind reports whether any DomainError in err's chain has the given kind
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		var de *DomainError
		if !errors.As(err, &de) {
			return false
		}
		if de.Kind == kind {
			return true
		}
		err = de.Err
	}
	return false
}

// Common domain errors
var (
	ErrNotFound            = &DomainError{Kind: KindRepository, Code: "NOT_FOUND", Message: "Resource not found"}
	ErrAlreadyExists       = &DomainError{Kind: KindRepository, Code: "ALREADY_EXISTS", Message: "Resource already exists"}
	ErrInvalidInput        = &DomainError{Kind: KindValidation, Code: "INVALID_INPUT", Message: "Invalid input provided"}
	ErrConcurrencyConflict = &DomainError{Kind: KindRepository, Code: "CONCURRENCY_CONFLICT", Message: "Resource was modified by another process"}
	ErrUnauthorized        = NewDomainError("UNAUTHORIZED", "Not authorized to perform this action")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
)
