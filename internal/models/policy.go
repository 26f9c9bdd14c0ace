package models

import (
	"time"
)

// RetryConfig controls how transient stage failures are retried.
// The wait before attempt k (zero-based) is InitialDelay * Multiplier^k,
// capped at MaxDelay, optionally widened by uniform jitter in
// [0, InitialDelay).
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts" mapstructure:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay" mapstructure:"initial_delay"`
	Multiplier   float64       `json:"multiplier" mapstructure:"multiplier"`
	MaxDelay     time.Duration `json:"max_delay" mapstructure:"max_delay"`
	Jitter       bool          `json:"jitter" mapstructure:"jitter"`

	// RetryableErrors lists substrings that mark an untyped error as
	// transient, in addition to errors wrapped as TransientError.
	RetryableErrors []string `json:"retryable_errors,omitempty" mapstructure:"retryable_errors"`
}

// DefaultRetryConfig returns the engine defaults used when a pipeline
// definition carries no retry policy of its own.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
		RetryableErrors: []string{
			"timeout",
			"temporary",
			"connection",
			"unavailable",
			"rate limit",
		},
	}
}

// ErrorHandlingConfig decides when a fatal stage failure aborts the run.
type ErrorHandlingConfig struct {
	// StopOnError aborts remaining stages on the first fatal failure.
	StopOnError bool `json:"stop_on_error" mapstructure:"stop_on_error"`

	// MaxErrors aborts once the accumulated error count exceeds it.
	// Zero means unlimited.
	MaxErrors int `json:"max_errors" mapstructure:"max_errors"`

	// ErrorThreshold aborts once errors/recordsProcessed exceeds it.
	// Zero disables the check.
	ErrorThreshold float64 `json:"error_threshold" mapstructure:"error_threshold"`

	// ContinueOnStageFailure demotes a non-aborting stage failure to a
	// warning and proceeds with the next stage.
	ContinueOnStageFailure bool `json:"continue_on_stage_failure" mapstructure:"continue_on_stage_failure"`
}

// DefaultErrorHandlingConfig stops on the first fatal stage failure.
func DefaultErrorHandlingConfig() ErrorHandlingConfig {
	return ErrorHandlingConfig{
		StopOnError: true,
	}
}

// ExecutionPolicy bundles the per-run policies the orchestrator applies.
type ExecutionPolicy struct {
	ErrorHandling ErrorHandlingConfig `json:"error_handling" mapstructure:"error_handling"`
	Retry         RetryConfig         `json:"retry" mapstructure:"retry"`

	// StageTimeout bounds a single stage attempt. Zero means no bound
	// beyond the execution's own context.
	StageTimeout time.Duration `json:"stage_timeout" mapstructure:"stage_timeout"`

	// MaxParallelism bounds concurrent stages within a declared-independent
	// group. Values below two force sequential execution.
	MaxParallelism int `json:"max_parallelism" mapstructure:"max_parallelism"`
}

// DefaultExecutionPolicy is strict sequential execution with default
// retry and stop-on-error handling.
func DefaultExecutionPolicy() ExecutionPolicy {
	return ExecutionPolicy{
		ErrorHandling: DefaultErrorHandlingConfig(),
		Retry:         DefaultRetryConfig(),
	}
}
