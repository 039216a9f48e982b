package core

import (
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: oracle_failed, device_command, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches predefined errors by category and code, so a copy made with
// WithCause or WithMessage still satisfies errors.Is against its origin.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Parse errors
	ErrMalformedAction = &ExecutionError{
		Category: ErrCategoryParse,
		Code:     "malformed_action",
		Message:  "malformed action",
	}
	ErrMalformedDecision = &ExecutionError{
		Category: ErrCategoryParse,
		Code:     "malformed_decision",
		Message:  "could not parse Thought and Action from oracle response",
	}
	ErrUnknownVerdict = &ExecutionError{
		Category: ErrCategoryParse,
		Code:     "unknown_verdict",
		Message:  "unrecognized verdict",
	}

	// Oracle errors
	ErrOracleFailed = &ExecutionError{
		Category: ErrCategoryOracle,
		Code:     "oracle_failed",
		Message:  "oracle request failed",
	}
	ErrOracleEmpty = &ExecutionError{
		Category: ErrCategoryOracle,
		Code:     "oracle_empty",
		Message:  "oracle returned no choices",
	}

	// Executor errors
	ErrDeviceCommand = &ExecutionError{
		Category: ErrCategoryExecutor,
		Code:     "device_command",
		Message:  "device command failed",
	}
	ErrScreenCapture = &ExecutionError{
		Category: ErrCategoryExecutor,
		Code:     "screen_capture",
		Message:  "screen capture failed",
	}

	// Persistence errors
	ErrPersistence = &ExecutionError{
		Category: ErrCategoryPersistence,
		Code:     "persistence",
		Message:  "persistence failed",
	}

	// Access errors
	ErrTestNotReady = &ExecutionError{
		Category: ErrCategoryAccess,
		Code:     "test_not_ready",
		Message:  "test is not in ready state",
	}
	ErrAccessDenied = &ExecutionError{
		Category: ErrCategoryAccess,
		Code:     "access_denied",
		Message:  "access denied",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrMissingRequired = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "missing_required",
		Message:  "missing required field",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// CategoryOf returns the category of the first ExecutionError in err's chain,
// or ErrCategoryNone when there is none.
func CategoryOf(err error) ErrorCategory {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ErrCategoryNone
}
