package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AppError represents a standardized error response
type AppError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	cause     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As
func (e *AppError) Unwrap() error {
	return e.cause
}

// Error codes for different failure scenarios
const (
	ErrValidation     = "VALIDATION_ERROR"
	ErrDuplicate      = "DUPLICATE"
	ErrAuthentication = "AUTHENTICATION_ERROR"
	ErrForbidden      = "FORBIDDEN"
	ErrNotFoundCode   = "NOT_FOUND"
	ErrConflict       = "CONFLICT"
	ErrDatabaseError  = "DATABASE_ERROR"
	ErrExternalAPI    = "EXTERNAL_API_ERROR"
	ErrRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrInternalServer = "INTERNAL_SERVER_ERROR"
)

// Sentinel errors returned by stores and services
var (
	ErrNotFound      = errors.New("not found")
	ErrEmailExists   = errors.New("email already in use")
	ErrInvalidLogin  = errors.New("invalid email or password")
	ErrRunInProgress = errors.New("a training run is already in progress")
	ErrNotPending    = errors.New("version is not pending")
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors collects every field failure of one request
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	if len(v) == 1 {
		return v[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", v[0].Error(), len(v)-1)
}

// NewAppError creates a new AppError with timestamp
func NewAppError(code, message, details, requestID string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// StorageError wraps a datastore failure. The message carries the underlying error text.
func StorageError(op string, err error) *AppError {
	e := NewAppError(ErrDatabaseError, "Server Error", fmt.Sprintf("%s: %v", op, err), "")
	e.cause = err
	return e
}

// NetworkError wraps a failed call to an external ML/OCR endpoint.
func NetworkError(service string, err error) *AppError {
	e := NewAppError(ErrExternalAPI, fmt.Sprintf("%s service unavailable", service), err.Error(), "")
	e.cause = err
	return e
}

// Wrap attaches a cause to a new AppError
func Wrap(code, message string, err error) *AppError {
	e := NewAppError(code, message, "", "")
	if err != nil {
		e.Details = err.Error()
	}
	e.cause = err
	return e
}

// HTTPStatus maps an error onto the status code the API surfaces for it.
func HTTPStatus(err error) int {
	var verrs ValidationErrors
	var verr *ValidationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verrs), errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, ErrEmailExists), errors.Is(err, ErrRunInProgress), errors.Is(err, ErrNotPending):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidLogin):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case ErrValidation, ErrAuthentication:
			return http.StatusBadRequest
		case ErrDuplicate, ErrConflict:
			return http.StatusConflict
		case ErrForbidden:
			return http.StatusForbidden
		case ErrNotFoundCode:
			return http.StatusNotFound
		case ErrExternalAPI:
			return http.StatusBadGateway
		case ErrRateLimit:
			return http.StatusTooManyRequests
		}
	}
	return http.StatusInternalServerError
}
