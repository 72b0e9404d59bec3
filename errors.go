package courier

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Error represents a courier error with categorization.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error (if any)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Error codes for courier operations.
const (
	// ErrCodeNoData indicates a repository query found nothing.
	ErrCodeNoData = "NO_DATA"

	// ErrCodeNotFound indicates the requested entity does not exist.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeConflict indicates an idempotency key was reused with a different request.
	ErrCodeConflict = "CONFLICT"

	// ErrCodeRateLimited indicates a public endpoint exceeded its window.
	ErrCodeRateLimited = "RATE_LIMITED"

	// ErrCodeValidation indicates validation failed.
	ErrCodeValidation = "VALIDATION_ERROR"

	// ErrCodeProvider indicates the email provider rejected or failed a send.
	ErrCodeProvider = "PROVIDER_ERROR"

	// ErrCodeDatabase indicates database operation failed.
	ErrCodeDatabase = "DATABASE_ERROR"

	// ErrCodeConfiguration indicates invalid configuration.
	ErrCodeConfiguration = "CONFIGURATION_ERROR"

	// ErrCodeDuplicateKey indicates a unique constraint rejected an insert.
	ErrCodeDuplicateKey = "DUPLICATE_KEY"

	// ErrCodeUnauthenticated indicates the request carries no user session.
	ErrCodeUnauthenticated = "UNAUTHENTICATED"
)

// Common errors.
var (
	// ErrNoData is returned when a query returns no results.
	// This is not necessarily an error condition in all cases.
	ErrNoData = &Error{
		Code:    ErrCodeNoData,
		Message: "no data found",
	}

	// ErrDuplicateKey is returned by repositories when an insert violates a
	// unique index (idempotency key, provider event id, email+topic, token, user id).
	ErrDuplicateKey = &Error{
		Code:    ErrCodeDuplicateKey,
		Message: "duplicate key",
	}
)

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error wrapping an underlying error.
func NewErrorWithCause(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// ErrorCode returns the code of the first *Error in err's chain, or "".
func ErrorCode(err error) string {
	var courierErr *Error
	if errors.As(err, &courierErr) {
		return courierErr.Code
	}
	return ""
}

func hasCode(err error, code string) bool {
	var courierErr *Error
	if errors.As(err, &courierErr) {
		return courierErr.Code == code
	}
	return false
}

// IsNoData checks if an error is ErrNoData.
func IsNoData(err error) bool {
	return hasCode(err, ErrCodeNoData) || errors.Is(err, ErrNoData)
}

// IsDuplicateKey checks if an error is ErrDuplicateKey.
func IsDuplicateKey(err error) bool {
	return hasCode(err, ErrCodeDuplicateKey) || errors.Is(err, ErrDuplicateKey)
}

// IsNotFound checks if an error carries ErrCodeNotFound.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsConflict checks if an error carries ErrCodeConflict.
func IsConflict(err error) bool { return hasCode(err, ErrCodeConflict) }

// IsRateLimited checks if an error carries ErrCodeRateLimited.
func IsRateLimited(err error) bool { return hasCode(err, ErrCodeRateLimited) }

// IsValidation checks if an error carries ErrCodeValidation.
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsProviderError checks if an error carries ErrCodeProvider.
func IsProviderError(err error) bool { return hasCode(err, ErrCodeProvider) }

// IsUnauthenticated checks if an error carries ErrCodeUnauthenticated.
func IsUnauthenticated(err error) bool { return hasCode(err, ErrCodeUnauthenticated) }

// validationError wraps an ozzo-validation result as VALIDATION_ERROR.
// A nil input yields nil.
func validationError(message string, err error) error {
	if err == nil {
		return nil
	}
	var errs validation.Errors
	if errors.As(err, &errs) {
		return NewErrorWithCause(ErrCodeValidation, message, errs.Filter())
	}
	return NewErrorWithCause(ErrCodeValidation, message, err)
}
