package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Taxonomy used by the subscription and notification flows
	CodeAuthError       = "AUTH_ERROR"
	CodeProviderError   = "PROVIDER_ERROR"
	CodeValidationError = "VALIDATION_ERROR"

	// Auth errors
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Resource errors
	CodeNotFound = "NOT_FOUND"
	CodeConflict = "CONFLICT"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
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

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// AuthError is a credential or token exchange failure.
func AuthError(message string, err error) *AppError {
	if message == "" {
		message = "authentication failed"
	}
	return &AppError{
		Code:    CodeAuthError,
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

// ProviderError is any failure reported by the mail provider API. The
// provider's HTTP status, when known, is kept under details["provider_status"].
func ProviderError(operation string, providerStatus int, err error) *AppError {
	e := &AppError{
		Code:    CodeProviderError,
		Message: fmt.Sprintf("mail provider error: %s", operation),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"operation": operation},
		Err:     err,
	}
	if providerStatus > 0 {
		e.Details["provider_status"] = providerStatus
	}
	return e
}

// ValidationError marks a malformed or unauthenticated inbound payload.
func ValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidationError,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// ProviderStatus returns the provider HTTP status recorded on a ProviderError,
// or 0.
func ProviderStatus(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Details == nil {
		return 0
	}
	status, _ := appErr.Details["provider_status"].(int)
	return status
}
