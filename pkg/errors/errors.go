package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common application errors
var (
	// Privacy mechanism errors
	ErrInvalidBudget         = errors.New("invalid privacy budget")
	ErrEmptyWorkload         = errors.New("empty query workload")
	ErrQueryOutOfDomain      = errors.New("query out of domain")
	ErrNumericalDegeneracy   = errors.New("numerical degeneracy in multiplicative update")
	ErrPrivacyBudgetExceeded = errors.New("privacy budget exceeded")

	// Validation errors
	ErrInvalidInputData     = errors.New("invalid input data")
	ErrInvalidDomain        = errors.New("invalid domain")
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// Storage errors
	ErrStorageNotFound         = errors.New("storage backend not found")
	ErrStorageConnectionFailed = errors.New("storage connection failed")
	ErrStorageTimeout          = errors.New("storage operation timeout")
	ErrReleaseNotFound         = errors.New("release not found")

	// Network errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrNetworkTimeout   = errors.New("network timeout")
	ErrUnavailable      = errors.New("service unavailable")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypePrivacy       ErrorType = "privacy"
	ErrorTypeGeneration    ErrorType = "generation"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeInternal      ErrorType = "internal"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Cause:      err,
		Retryable:  isRetryable(err),
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *AppError {
	return NewAppError(ErrorTypeValidation, code, message)
}

// NewGenerationError creates a generation error
func NewGenerationError(code, message string) *AppError {
	return NewAppError(ErrorTypeGeneration, code, message)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return NewAppError(ErrorTypeStorage, code, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, CodeInternalError, message)
}

// The constructors below tie the privacy taxonomy to its sentinel, so callers can
// match with errors.Is(err, ErrInvalidBudget) no matter how deeply it is wrapped.
// None of them are retryable: redrawing noise after a failure is a privacy leak.

// InvalidBudget reports a non-positive epsilon, iteration count or sensitivity.
func InvalidBudget(format string, args ...interface{}) *AppError {
	return privacyError(ErrInvalidBudget, CodeInvalidBudget, ErrorTypeValidation, format, args...)
}

// EmptyWorkload reports that there are no candidate queries to select from.
func EmptyWorkload() *AppError {
	return privacyError(ErrEmptyWorkload, CodeEmptyWorkload, ErrorTypeValidation, "workload contains no queries")
}

// QueryOutOfDomain reports a query or record outside the declared domain.
func QueryOutOfDomain(format string, args ...interface{}) *AppError {
	return privacyError(ErrQueryOutOfDomain, CodeQueryOutOfDomain, ErrorTypeValidation, format, args...)
}

// NumericalDegeneracy reports a zero or non-finite normalisation in an update.
func NumericalDegeneracy(format string, args ...interface{}) *AppError {
	return privacyError(ErrNumericalDegeneracy, CodeNumericalDegeneracy, ErrorTypeGeneration, format, args...)
}

// BudgetExceeded reports an attempt to spend more than the allocated budget.
func BudgetExceeded(format string, args ...interface{}) *AppError {
	return privacyError(ErrPrivacyBudgetExceeded, CodePrivacyBudgetExceeded, ErrorTypePrivacy, format, args...)
}

func privacyError(sentinel error, code string, errType ErrorType, format string, args ...interface{}) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    sentinel.Error(),
		Details:    fmt.Sprintf(format, args...),
		Cause:      sentinel,
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// ReleaseNotFound reports a missing release. It matches ErrReleaseNotFound.
func ReleaseNotFound(id string) *AppError {
	err := WrapError(ErrReleaseNotFound, ErrorTypeStorage, CodeReleaseNotFound, fmt.Sprintf("Release '%s' not found", id))
	err.HTTPStatus = http.StatusNotFound
	return err
}

// NotConnected reports use of a storage backend before Connect.
func NotConnected(backend string) *AppError {
	err := NewStorageError(CodeNotConnected, fmt.Sprintf("%s storage is not connected", backend))
	err.HTTPStatus = http.StatusServiceUnavailable
	return err
}

// HTTPStatus returns the HTTP status associated with err.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Code returns the application error code of err, or CodeInternalError.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternalError
}

// getDefaultHTTPStatus returns the default HTTP status for an error type
func getDefaultHTTPStatus(errType ErrorType) int {
	switch errType {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypePrivacy:
		return http.StatusForbidden
	case ErrorTypeStorage:
		return http.StatusNotFound
	case ErrorTypeGeneration:
		return http.StatusUnprocessableEntity
	case ErrorTypeNetwork, ErrorTypeConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// isRetryable determines if an error is retryable
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrNetworkTimeout):
		return true
	case errors.Is(err, ErrConnectionFailed):
		return true
	case errors.Is(err, ErrStorageTimeout):
		return true
	case errors.Is(err, ErrUnavailable):
		return true
	default:
		return false
	}
}

// ErrorResponse represents an error response for APIs
type ErrorResponse struct {
	Error     *AppError `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp string    `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// Error codes for different error scenarios
const (
	// Validation error codes
	CodeInvalidInput      = "INVALID_INPUT"
	CodeMissingField      = "MISSING_FIELD"
	CodeInvalidFormat     = "INVALID_FORMAT"
	CodeOutOfRange        = "OUT_OF_RANGE"
	CodeInvalidDomain     = "INVALID_DOMAIN"
	CodeValueOutOfDomain  = "VALUE_OUT_OF_DOMAIN"
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"

	// Privacy error codes
	CodeInvalidBudget         = "INVALID_BUDGET"
	CodeEmptyWorkload         = "EMPTY_WORKLOAD"
	CodeQueryOutOfDomain      = "QUERY_OUT_OF_DOMAIN"
	CodeNumericalDegeneracy   = "NUMERICAL_DEGENERACY"
	CodePrivacyBudgetExceeded = "PRIVACY_BUDGET_EXCEEDED"

	// Storage error codes
	CodeStorageError     = "STORAGE_ERROR"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeNotConnected     = "NOT_CONNECTED"
	CodeReleaseNotFound  = "RELEASE_NOT_FOUND"
	CodeWriteFailed      = "WRITE_FAILED"
	CodeReadFailed       = "READ_FAILED"
	CodeSerialization    = "SERIALIZATION_FAILED"

	// Internal error codes
	CodeInternalError = "INTERNAL_ERROR"
)
