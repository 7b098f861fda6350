// Package errors provides the error taxonomy shared by the fanout coordinator
// and workers. It defines sentinel errors, typed errors for the three failure
// classes the pipeline distinguishes, semantic errors, and classification
// helpers.
//
// # Error Classes
//
// Every error raised inside a loop falls into one class, and the class
// decides how the loop reacts:
//   - TransportError: a queue, blob-store or fleet call failed. Retryable;
//     the loop logs it and tries again on its next iteration.
//   - DataError: a malformed input record or a missing message attribute.
//     The affected record or unit is skipped; the rest of the batch goes on.
//   - StateError: a local bookkeeping fault (output file allocation failed,
//     a counter went inconsistent). The batch's lease renewal is stopped and
//     the loop moves on.
//
// Nothing crosses a queue boundary: there is no synchronous caller to report
// to, so errors are handled where they are detected. Only startup failures
// are returned from a process's Run.
//
// # Usage
//
//	err := errors.NewTransportError("receive", cause).WithAddress(queueURL)
//	if errors.IsRetryable(err) { ... }
//
//	var dataErr *errors.DataError
//	if errors.As(err, &dataErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Transport sentinel errors
var (
	// ErrQueueNotFound indicates a queue address that does not exist.
	ErrQueueNotFound = New("queue not found")
	// ErrUnknownToken indicates an ack token that no longer identifies an in-flight message.
	ErrUnknownToken = New("unknown ack token")
	// ErrBlobNotFound indicates a bucket/key pair with no object.
	ErrBlobNotFound = New("blob not found")
)

// Data sentinel errors
var (
	// ErrMissingAttribute indicates a required message attribute is absent.
	ErrMissingAttribute = New("missing message attribute")
	// ErrMalformedRecord indicates an input record that could not be parsed.
	ErrMalformedRecord = New("malformed record")
)

// State sentinel errors
var (
	// ErrUnknownJob indicates a result for a job that is not in the job table.
	ErrUnknownJob = New("unknown job")
	// ErrDuplicateResult indicates a result for a unit already counted.
	ErrDuplicateResult = New("duplicate result")
	// ErrOutputAllocation indicates an output accumulator file could not be created.
	ErrOutputAllocation = New("output allocation failed")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// FanoutError is implemented by every typed error in this package.
type FanoutError interface {
	error
	Unwrap() error
	Severity() Severity
	IsRetryable() bool
}

type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error      { return e.cause }
func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retryable }

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Error Classes
// -----------------------------------------------------------------------------

// TransportError represents a failed call against a queue, the blob store or
// the fleet manager.
//
// Example:
//
//	err := errors.NewTransportError("send", cause).WithAddress("fanout-results")
//	fmt.Println(err) // "transport error [op=send, address=fanout-results]: send failed: <cause>"
type TransportError struct {
	baseError
	Operation string
	Address   string
}

// NewTransportError creates a retryable TransportError for operation.
func NewTransportError(operation string, cause error) *TransportError {
	return &TransportError{
		baseError: baseError{
			message:   operation + " failed",
			cause:     cause,
			severity:  SeverityWarning,
			retryable: true,
		},
		Operation: operation,
	}
}

// WithAddress records the queue address or bucket involved.
func (e *TransportError) WithAddress(address string) *TransportError {
	e.Address = address
	return e
}

// Error returns the formatted error message.
func (e *TransportError) Error() string {
	var parts []string
	if e.Operation != "" {
		parts = append(parts, "op="+e.Operation)
	}
	if e.Address != "" {
		parts = append(parts, "address="+e.Address)
	}
	return e.format("transport error", parts)
}

// Is matches any *TransportError target, then falls back to the cause.
func (e *TransportError) Is(target error) bool {
	if _, ok := target.(*TransportError); ok {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// DataError represents a malformed record or message. The affected item is
// skipped.
type DataError struct {
	baseError
	Field  string
	Record string
}

// NewDataError creates a DataError.
func NewDataError(message string, cause error) *DataError {
	return &DataError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityWarning,
		},
	}
}

// WithField records the attribute or JSON field at fault.
func (e *DataError) WithField(field string) *DataError {
	e.Field = field
	return e
}

// WithRecord records a short excerpt of the offending record.
func (e *DataError) WithRecord(record string) *DataError {
	const maxExcerpt = 80
	if len(record) > maxExcerpt {
		record = record[:maxExcerpt] + "..."
	}
	e.Record = record
	return e
}

// Error returns the formatted error message.
func (e *DataError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, "field="+e.Field)
	}
	if e.Record != "" {
		parts = append(parts, fmt.Sprintf("record=%q", e.Record))
	}
	return e.format("data error", parts)
}

// Is matches any *DataError target, then falls back to the cause.
func (e *DataError) Is(target error) bool {
	if _, ok := target.(*DataError); ok {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// StateError represents a local bookkeeping fault on the coordinator.
type StateError struct {
	baseError
	JobID string
}

// NewStateError creates a StateError.
func NewStateError(message string, cause error) *StateError {
	return &StateError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithJob records the job (reply address) affected.
func (e *StateError) WithJob(jobID string) *StateError {
	e.JobID = jobID
	return e
}

// WithSeverity sets the error severity.
func (e *StateError) WithSeverity(s Severity) *StateError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *StateError) Error() string {
	var parts []string
	if e.JobID != "" {
		parts = append(parts, "job="+e.JobID)
	}
	return e.format("state error", parts)
}

// Is matches any *StateError target, then falls back to the cause.
func (e *StateError) Is(target error) bool {
	if _, ok := target.(*StateError); ok {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("blob", "fanout-answers/answer-3.txt")
//	fmt.Println(err) // "blob 'fanout-answers/answer-3.txt' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:  fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity: SeverityWarning,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Is matches any *NotFoundError target, then falls back to the cause.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// ValidationError represents invalid input or configuration.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			severity: SeverityWarning,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, "field="+e.Field)
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation error", parts)
}

// Is matches *ValidationError and ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// TimeoutError represents an operation that timed out.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError. Timeouts are retryable.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:   operation,
			severity:  SeverityWarning,
			retryable: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
}

// Is matches *TimeoutError and ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return target == ErrTimeout
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on a later loop iteration.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var fe FanoutError
	if As(err, &fe) {
		return fe.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement FanoutError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var fe FanoutError
	if As(err, &fe) {
		return fe.Severity()
	}
	return SeverityError
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return As(err, &te)
}

// IsData reports whether err is (or wraps) a DataError.
func IsData(err error) bool {
	var de *DataError
	return As(err, &de)
}

// IsState reports whether err is (or wraps) a StateError.
func IsState(err error) bool {
	var se *StateError
	return As(err, &se)
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
