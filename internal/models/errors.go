package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrorSeverity classifies an execution error for reporting.
type ErrorSeverity string

const (
	SeverityWarning  ErrorSeverity = "warning"
	SeverityError    ErrorSeverity = "error"
	SeverityCritical ErrorSeverity = "critical"
)

// ExecutionError is an error captured during pipeline execution. Per-record
// errors carry the record source; stage-level errors carry the stage name.
type ExecutionError struct {
	Source    string        `json:"source"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
	Severity  ErrorSeverity `json:"severity"`
}

// NewExecutionError builds an error entry stamped with the current time.
func NewExecutionError(source, message string, severity ErrorSeverity) ExecutionError {
	return ExecutionError{
		Source:    source,
		Message:   message,
		Timestamp: time.Now(),
		Severity:  severity,
	}
}

// ConfigurationError marks a pipeline definition problem. Configuration
// errors are always fatal and never retried.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Detail)
}

// NewConfigurationError creates a ConfigurationError with the given detail.
func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Detail: fmt.Sprintf(format, args...)}
}

// TransientError wraps a failure that is expected to succeed on retry,
// such as a timeout or a temporarily unavailable adapter.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err as retryable. A nil err yields nil.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
