package handler

import "github.com/erp/fiscal/internal/interfaces/http/dto"

// APIResponse is dto.Response with a typed payload. Handlers write
// dto.Response; this type documents and decodes it.
// @Description Response envelope with typed data
type APIResponse[T any] struct {
	Success bool           `json:"success"`
	Data    T              `json:"data,omitempty"`
	Error   *dto.ErrorInfo `json:"error,omitempty"`
	Meta    *dto.Meta      `json:"meta,omitempty"`
}

// ErrorResponse is the envelope of every failed request
// @Description Error envelope; error.code is one of the ERR_* codes
type ErrorResponse struct {
	Success bool           `json:"success" example:"false"`
	Error   *dto.ErrorInfo `json:"error,omitempty"`
}
