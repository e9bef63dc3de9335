// Package domain defines core types, interfaces, and errors for the query pipeline.
package domain

import (
	"fmt"
	"time"
)

// Error kind strings surfaced in QueryOutcome.Error.Kind and audit records.
const (
	KindSchemaUnavailable     = "SchemaUnavailable"
	KindGenerationUnavailable = "GenerationUnavailable"
	KindGenerationFailed      = "GenerationFailed"
	KindValidationRejected    = "ValidationRejected"
	KindExecutionTimeout      = "ExecutionTimeout"
	KindExecutionError        = "ExecutionError"
	KindRateLimitExceeded     = "RateLimitExceeded"
)

// Kinder is implemented by every pipeline error so callers can map an error
// to its stable kind string without type-switching on concrete types.
type Kinder interface {
	Kind() string
}

// ErrorKind returns the stable kind string for a pipeline error, or
// "ExecutionError" for any error outside the taxonomy (fail closed: unknown
// failures are surfaced, never swallowed).
func ErrorKind(err error) string {
	if k, ok := err.(Kinder); ok {
		return k.Kind()
	}
	return KindExecutionError
}

// SchemaUnavailableError indicates the target connection could not be
// introspected within the probe timeout.
type SchemaUnavailableError struct {
	ConnectionID string
	Message      string
}

func (e *SchemaUnavailableError) Error() string { return e.Message }

// Kind implements Kinder.
func (e *SchemaUnavailableError) Kind() string { return KindSchemaUnavailable }

// ErrSchemaUnavailable creates a SchemaUnavailableError with a formatted message.
func ErrSchemaUnavailable(connectionID, format string, args ...interface{}) *SchemaUnavailableError {
	return &SchemaUnavailableError{ConnectionID: connectionID, Message: fmt.Sprintf(format, args...)}
}

// GenerationUnavailableError indicates the token meter denied admission for a
// generative call. RemainingTokens and ResetAt let the caller surface quota
// information alongside the denial.
type GenerationUnavailableError struct {
	Message         string
	RemainingTokens int64
	ResetAt         time.Time
}

func (e *GenerationUnavailableError) Error() string { return e.Message }

// Kind implements Kinder.
func (e *GenerationUnavailableError) Kind() string { return KindGenerationUnavailable }

// GenerationFailedError indicates the completion provider errored or returned
// output that could not be reduced to a single SQL statement.
type GenerationFailedError struct {
	Message string
}

func (e *GenerationFailedError) Error() string { return e.Message }

// Kind implements Kinder.
func (e *GenerationFailedError) Kind() string { return KindGenerationFailed }

// ErrGenerationFailed creates a GenerationFailedError with a formatted message.
func ErrGenerationFailed(format string, args ...interface{}) *GenerationFailedError {
	return &GenerationFailedError{Message: fmt.Sprintf(format, args...)}
}

// ValidationRejectedError indicates the safety validator refused the SQL.
// NormalizedSQL and Violations are preserved for audit logging even though
// execution never occurs.
type ValidationRejectedError struct {
	Violations    []ViolationKind
	NormalizedSQL string
}

func (e *ValidationRejectedError) Error() string {
	if len(e.Violations) == 0 {
		return "query rejected by safety validator"
	}
	return fmt.Sprintf("query rejected: %s", e.Violations[0])
}

// Kind implements Kinder.
func (e *ValidationRejectedError) Kind() string { return KindValidationRejected }

// ExecutionTimeoutError indicates the database round trip exceeded the
// configured execution timeout.
type ExecutionTimeoutError struct {
	SQL     string
	Timeout time.Duration
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("query execution exceeded %s", e.Timeout)
}

// Kind implements Kinder.
func (e *ExecutionTimeoutError) Kind() string { return KindExecutionTimeout }

// ExecutionFailedError indicates a driver-level failure during execution.
// The generated SQL is carried for transparency in the surfaced error.
type ExecutionFailedError struct {
	SQL     string
	Message string
}

func (e *ExecutionFailedError) Error() string { return e.Message }

// Kind implements Kinder.
func (e *ExecutionFailedError) Kind() string { return KindExecutionError }

// ErrExecutionFailed creates an ExecutionFailedError with a formatted message.
func ErrExecutionFailed(sqlText, format string, args ...interface{}) *ExecutionFailedError {
	return &ExecutionFailedError{SQL: sqlText, Message: fmt.Sprintf(format, args...)}
}

// ExecutionDeniedError indicates the defensive pre-dispatch statement check
// refused SQL that should never have reached the executor.
type ExecutionDeniedError struct {
	SQL string
}

func (e *ExecutionDeniedError) Error() string {
	return "execution denied: statement is not a read-only query"
}

// Kind implements Kinder. Denied dispatch is surfaced under the validation
// kind: the statement was rejected on safety grounds, not by the driver.
func (e *ExecutionDeniedError) Kind() string { return KindValidationRejected }

// RateLimitExceededError indicates a per-user request or token ceiling was hit.
type RateLimitExceededError struct {
	Message string
	ResetAt time.Time
}

func (e *RateLimitExceededError) Error() string { return e.Message }

// Kind implements Kinder.
func (e *RateLimitExceededError) Kind() string { return KindRateLimitExceeded }

// ValidationError indicates invalid input at a service boundary (empty
// question, unknown connection id). Distinct from ValidationRejectedError,
// which is a safety verdict over SQL.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
