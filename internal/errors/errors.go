package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryTransient represents an upstream that stayed unavailable past its retry ceiling
	CategoryTransient ErrorCategory = "transient"
	// CategoryHandler represents a failure raised while executing a job or change event
	CategoryHandler ErrorCategory = "handler"
	// CategoryDataShape represents a structurally invalid record
	CategoryDataShape ErrorCategory = "data_shape"
	// CategoryPartial represents one failed unit inside an otherwise successful batch
	CategoryPartial ErrorCategory = "partial"
	// CategoryValidation represents an invalid request to an entry point
	CategoryValidation ErrorCategory = "validation"
	// CategoryStorage represents database and cache errors
	CategoryStorage ErrorCategory = "storage"
)

// CategorizedError represents an error with a category and a stable code
type CategorizedError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// NewTransientError creates an error for an upstream that could not be reached
func NewTransientError(upstream string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryTransient,
		Code:     "UPSTREAM_UNAVAILABLE",
		Message:  fmt.Sprintf("upstream unavailable: %s", upstream),
		Cause:    cause,
		Details: map[string]interface{}{
			"upstream": upstream,
		},
	}
}

// NewHandlerError wraps a failure raised by a job or change event handler
func NewHandlerError(handler string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryHandler,
		Code:     "HANDLER_FAILED",
		Message:  fmt.Sprintf("handler %s failed", handler),
		Cause:    cause,
		Details: map[string]interface{}{
			"handler": handler,
		},
	}
}

// NewDataShapeError creates an error for a record that cannot be interpreted
func NewDataShapeError(what string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryDataShape,
		Code:     "MALFORMED_RECORD",
		Message:  fmt.Sprintf("malformed %s", what),
		Cause:    cause,
		Details: map[string]interface{}{
			"record": what,
		},
	}
}

// NewPartialResultError creates an error for a single failed unit of a batch
func NewPartialResultError(unit string, id string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryPartial,
		Code:     "PARTIAL_RESULT",
		Message:  fmt.Sprintf("%s %s unavailable", unit, id),
		Cause:    cause,
		Details: map[string]interface{}{
			"unit": unit,
			"id":   id,
		},
	}
}

// NewValidationError creates an invalid parameter error
func NewValidationError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category: CategoryValidation,
		Code:     "INVALID_PARAMETER",
		Message:  fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewStorageError creates a database or cache error
func NewStorageError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryStorage,
		Code:     "STORAGE_ERROR",
		Message:  fmt.Sprintf("storage error during %s", operation),
		Cause:    cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// CategoryOf returns the category of the first CategorizedError in the chain.
// Uncategorized errors are reported as handler failures.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}
	return CategoryHandler
}

// IsCategory reports whether err carries the given category
func IsCategory(err error, category ErrorCategory) bool {
	return err != nil && CategoryOf(err) == category
}

// IsDataShape reports whether err is a data-shape failure
func IsDataShape(err error) bool {
	return IsCategory(err, CategoryDataShape)
}

// IsTransient reports whether err is a transient upstream failure
func IsTransient(err error) bool {
	return IsCategory(err, CategoryTransient)
}

// IsRetryable determines if an error is worth retrying.
// Data-shape and validation failures never succeed on a second attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch CategoryOf(err) {
	case CategoryDataShape, CategoryValidation:
		return false
	default:
		return true
	}
}
