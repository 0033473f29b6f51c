package errors

import (
	"net/http"
	"strings"
)

// WrapStorageError wraps a backend failure with the backend and operation that
// produced it. Transient failures are marked retryable; release writes are
// idempotent, so retrying a storage call never re-spends privacy budget.
func WrapStorageError(err error, storageType, operation string) *AppError {
	if err == nil {
		return nil
	}

	code := CodeStorageError
	switch operation {
	case "write", "save":
		code = CodeWriteFailed
	case "read", "load", "list":
		code = CodeReadFailed
	case "connect", "ping":
		code = CodeConnectionFailed
	}

	appErr := WrapError(err, ErrorTypeStorage, code, "Storage operation failed").
		WithContext("storage_type", storageType).
		WithContext("operation", operation)
	appErr.HTTPStatus = http.StatusInternalServerError
	if isTransientStorageError(err) {
		appErr.Retryable = true
		appErr.HTTPStatus = http.StatusServiceUnavailable
	}
	return appErr
}

// isTransientStorageError determines if a storage error is transient
func isTransientStorageError(err error) bool {
	if isRetryable(err) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"temporary",
		"rate limit",
		"connection refused",
		"connection reset",
		"service unavailable",
		"deadlock",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
