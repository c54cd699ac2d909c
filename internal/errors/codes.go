// Package errors provides structured error handling for SecondBrain.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and store errors (vault files, SQLite, vector index)
//   - 3XX: Provider errors (embedding, rerank, synthesis backends)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates vault file and store I/O errors.
	CategoryIO Category = "IO"
	// CategoryProvider indicates LLM provider errors (embedding, chat).
	CategoryProvider Category = "PROVIDER"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO and store errors (200-299)
	ErrCodeFileUnreadable   = "ERR_201_FILE_UNREADABLE"
	ErrCodeVaultNotFound    = "ERR_202_VAULT_NOT_FOUND"
	ErrCodeLockContention   = "ERR_203_LOCK_CONTENTION"
	ErrCodeStoreCorruption  = "ERR_204_STORE_CORRUPTION"
	ErrCodeStoreUnavailable = "ERR_205_STORE_UNAVAILABLE"

	// Provider errors (300-399)
	ErrCodeProviderTimeout     = "ERR_301_PROVIDER_TIMEOUT"
	ErrCodeProviderUnavailable = "ERR_302_PROVIDER_UNAVAILABLE"
	ErrCodeProviderResponse    = "ERR_303_PROVIDER_RESPONSE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_403_QUERY_EMPTY"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeRetrievalFailed = "ERR_503_RETRIEVAL_FAILED"
	ErrCodeChunkingFailed  = "ERR_504_CHUNKING_FAILED"
	ErrCodeSynthesisFailed = "ERR_505_SYNTHESIS_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreUnavailable:
		// No stores reachable is the one genuinely hard failure.
		return SeverityFatal
	case ErrCodeFileUnreadable:
		// Unreadable vault files are skipped and logged, never abort a scan.
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderTimeout, ErrCodeProviderUnavailable, ErrCodeLockContention:
		return true
	default:
		return false
	}
}
