package dto

import (
	"errors"
	"net/http"

	"github.com/erp/fiscal/internal/domain/cfdi"
	"github.com/erp/fiscal/internal/domain/shared"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	ErrCodeInternal = "ERR_INTERNAL"
	ErrCodeUnknown  = "ERR_UNKNOWN"
)

// Input error codes
const (
	ErrCodeValidation      = "ERR_VALIDATION"
	ErrCodeInvalidInput    = "ERR_INVALID_INPUT"
	ErrCodeBadRequest      = "ERR_BAD_REQUEST"
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
	ErrCodeRateLimited     = "ERR_RATE_LIMITED"
)

// Authentication error codes
const (
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
)

// Resource error codes
const (
	ErrCodeNotFound            = "ERR_NOT_FOUND"
	ErrCodeAlreadyExists       = "ERR_ALREADY_EXISTS"
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
	ErrCodeDuplicateFiscalUUID = "ERR_DUPLICATE_FISCAL_UUID"
	ErrCodeAlreadyReconciled   = "ERR_ALREADY_RECONCILED"
	ErrCodeNotReconciled       = "ERR_NOT_RECONCILED"
)

// Business rule error codes
const (
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	ErrCodeBusinessRule = "ERR_BUSINESS_RULE"
)

// Fiscal pipeline error codes
const (
	ErrCodeParse       = "ERR_PARSE"
	ErrCodeStorage     = "ERR_STORAGE"
	ErrCodeRepository  = "ERR_REPOSITORY"
	ErrCodeConsistency = "ERR_CONSISTENCY"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal: http.StatusInternalServerError,
	ErrCodeUnknown:  http.StatusInternalServerError,

	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeInvalidInput:    http.StatusBadRequest,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeRateLimited:     http.StatusTooManyRequests,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeDuplicateFiscalUUID: http.StatusConflict,
	ErrCodeAlreadyReconciled:   http.StatusConflict,
	ErrCodeNotReconciled:       http.StatusConflict,

	ErrCodeInvalidState: http.StatusUnprocessableEntity,
	ErrCodeBusinessRule: http.StatusUnprocessableEntity,

	ErrCodeParse:       http.StatusUnprocessableEntity,
	ErrCodeStorage:     http.StatusBadGateway,
	ErrCodeRepository:  http.StatusInternalServerError,
	ErrCodeConsistency: http.StatusConflict,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unknown codes map to 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain error codes to API codes
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":             ErrCodeNotFound,
	"ALREADY_EXISTS":        ErrCodeAlreadyExists,
	"INVALID_INPUT":         ErrCodeInvalidInput,
	"INVALID_STATE":         ErrCodeInvalidState,
	"UNAUTHORIZED":          ErrCodeUnauthorized,
	"CONCURRENCY_CONFLICT":  ErrCodeConcurrencyConflict,
	"DUPLICATE_FISCAL_UUID": ErrCodeDuplicateFiscalUUID,
	"ALREADY_RECONCILED":    ErrCodeAlreadyReconciled,
	"NOT_RECONCILED":        ErrCodeNotReconciled,
	"ITEM_NOT_FOUND":        ErrCodeNotFound,
	"VALIDATION_FAILED":     ErrCodeValidation,
	"PARSE_FAILED":          ErrCodeParse,
	"STORAGE_FAILED":        ErrCodeStorage,
	"REPOSITORY_FAILED":     ErrCodeRepository,
}

// kindCodes is the fallback when a domain code has no explicit mapping
var kindCodes = map[shared.ErrorKind]string{
	shared.KindValidation:  ErrCodeValidation,
	shared.KindParse:       ErrCodeParse,
	shared.KindStorage:     ErrCodeStorage,
	shared.KindRepository:  ErrCodeRepository,
	shared.KindConsistency: ErrCodeConsistency,
	shared.KindDomain:      ErrCodeBusinessRule,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Codes already in the API format or unknown are returned as-is.
func NormalizeErrorCode(code string) string {
	if apiCode, ok := DomainErrorCodeMapping[code]; ok {
		return apiCode
	}
	return code
}

// ResolvedError is an error translated for transport
type ResolvedError struct {
	Status  int
	Code    string
	Message string
	Field   string
}

// ResolveError maps any error returned by the application layer onto a
// status, API code and client-safe message.
func ResolveError(err error) ResolvedError {
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code, ok := DomainErrorCodeMapping[domainErr.Code]
		if !ok {
			code = kindCodes[domainErr.Kind]
		}
		if code == "" {
			code = ErrCodeInternal
		}
		resolved := ResolvedError{
			Status:  GetHTTPStatus(code),
			Code:    code,
			Message: domainErr.Message,
			Field:   domainErr.Field,
		}
		if resolved.Status >= http.StatusInternalServerError && code != ErrCodeStorage {
			resolved.Message = "An unexpected error occurred"
		}
		return resolved
	}

	var parseErr *cfdi.ParseError
	if errors.As(err, &parseErr) {
		return ResolvedError{
			Status:  http.StatusUnprocessableEntity,
			Code:    ErrCodeParse,
			Message: parseErr.Error(),
			Field:   parseErr.Field,
		}
	}

	return ResolvedError{
		Status:  http.StatusInternalServerError,
		Code:    ErrCodeInternal,
		Message: "An unexpected error occurred",
	}
}
