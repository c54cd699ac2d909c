package errors

import (
	"fmt"
)

// AppError is the structured error type for SecondBrain.
// It provides rich context for error handling, logging, and degradation
// decisions in the retrieval pipeline.
type AppError struct {
	// Code is the unique error code (e.g., "ERR_204_STORE_CORRUPTION").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Provider, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with AppError.
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AppError from an existing error.
// The error's message becomes the AppError message.
func Wrap(code string, err error) *AppError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// TransientIO creates an error for a vault file that could not be read.
// Callers are expected to skip the file and continue the scan.
func TransientIO(message string, cause error) *AppError {
	return New(ErrCodeFileUnreadable, message, cause)
}

// LockContention creates an error for a busy indexing lock.
func LockContention(message string, cause error) *AppError {
	return New(ErrCodeLockContention, message, cause)
}

// StoreCorruption creates an error for a corruption-class store failure.
// The store must be reconnected and rebuilt from content, never repaired
// in place.
func StoreCorruption(message string, cause error) *AppError {
	return New(ErrCodeStoreCorruption, message, cause)
}

// ProviderTimeout creates an error for a timed-out LLM provider call.
func ProviderTimeout(message string, cause error) *AppError {
	return New(ErrCodeProviderTimeout, message, cause)
}

// ProviderError creates an error for a failed LLM provider call.
func ProviderError(message string, cause error) *AppError {
	return New(ErrCodeProviderResponse, message, cause)
}

// SynthesisFailed creates the typed error surfaced when answer synthesis
// fails. This stage has no safe silent fallback.
func SynthesisFailed(message string, cause error) *AppError {
	return New(ErrCodeSynthesisFailed, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is an AppError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ae, ok := err.(*AppError); ok {
		return ae.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ae, ok := err.(*AppError); ok {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an AppError.
// Returns empty string if not an AppError.
func GetCode(err error) string {
	if ae, ok := err.(*AppError); ok {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category from an AppError.
// Returns empty string if not an AppError.
func GetCategory(err error) Category {
	if ae, ok := err.(*AppError); ok {
		return ae.Category
	}
	return ""
}
