package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"error"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Is reports whether err carries an AppError with the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsClientError reports whether err is an AppError caused by its input.
// Retrying such a request unchanged cannot succeed.
func IsClientError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus >= 400 && appErr.HTTPStatus < 500
	}
	return false
}

// Error codes.
const (
	CodeValidation        = "VAL_001"
	CodeMalformedPayload  = "VAL_002"
	CodePolicyViolation   = "POL_001"
	CodeDownstreamDown    = "DWN_001"
	CodeDownstreamTimeout = "DWN_002"
	CodeInvalidTransition = "LDG_001"
	CodePersistence       = "SYS_001"
	CodeRateLimit         = "RATE_001"
	CodeNotFound          = "NF_001"
)

// ---- Input (VAL) ----

// Validation returns a request validation error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

func ErrMalformedPayload(err error) *AppError {
	return Wrap(CodeMalformedPayload, "Payload is not valid base64 content", http.StatusBadRequest, err)
}

// ---- Policy (POL) ----

func ErrPolicyViolation(message string) *AppError {
	return New(CodePolicyViolation, message, http.StatusForbidden)
}

// ---- Downstream (DWN) ----

func ErrDownstreamUnavailable(service string, err error) *AppError {
	return Wrap(CodeDownstreamDown, fmt.Sprintf("%s service unavailable", service), http.StatusInternalServerError, err)
}

func ErrDownstreamTimeout(service string, err error) *AppError {
	return Wrap(CodeDownstreamTimeout, fmt.Sprintf("%s service did not respond in time", service), http.StatusInternalServerError, err)
}

// ---- Ledger (LDG) ----

func ErrInvalidTransition(attemptID int64, err error) *AppError {
	return Wrap(CodeInvalidTransition, fmt.Sprintf("invalid transition for attempt %d", attemptID), http.StatusConflict, err)
}

// ---- Lookup (NF) ----

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimit, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrPersistence(err error) *AppError {
	return Wrap(CodePersistence, "Internal storage error", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodePersistence, "Internal server error", http.StatusInternalServerError, err)
}
