package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error raised while preparing or running a flow.
type ErrorClass string

const (
	// ErrorClassContract indicates the caller handed the environment something it cannot accept,
	// such as an unsupported storage descriptor. Not retryable by the environment.
	ErrorClassContract ErrorClass = "contract_violation"

	// ErrorClassLoad indicates the flow artifact could not be read or decoded.
	// Retrying may help once the artifact has been re-staged or re-built.
	ErrorClassLoad ErrorClass = "load_failure"

	// ErrorClassConfiguration indicates a deployment defect, e.g. no executor or runner
	// registered under the configured name.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassRun indicates a failure that happened while the flow was running.
	ErrorClassRun ErrorClass = "run"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Flow is the name of the flow involved, if known.
	Flow string `json:"flow,omitempty"`

	// Task is the name of the task involved, if applicable.
	Task string `json:"task,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Flow != "" && e.Task != "" {
		msg = fmt.Sprintf("%s (flow=%s, task=%s)", msg, e.Flow, e.Task)
	} else if e.Flow != "" {
		msg = fmt.Sprintf("%s (flow=%s)", msg, e.Flow)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewContractViolation creates a new contract violation error.
func NewContractViolation(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassContract,
		Message: message,
		Err:     err,
	}
}

// NewLoadFailure creates a new artifact load error.
func NewLoadFailure(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassLoad,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewRunError creates a new run error.
func NewRunError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassRun,
		Message: message,
		Err:     err,
	}
}

// WithFlow adds flow context to an error.
func (e *EngineError) WithFlow(name string) *EngineError {
	e.Flow = name
	return e
}

// WithTask adds task context to an error.
func (e *EngineError) WithTask(name string) *EngineError {
	e.Task = name
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

func hasCode(err error, code string) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsContractViolation returns true if the error is classified as a contract violation.
func IsContractViolation(err error) bool {
	return hasClass(err, ErrorClassContract)
}

// IsLoadFailure returns true if the error is classified as a load failure.
func IsLoadFailure(err error) bool {
	return hasClass(err, ErrorClassLoad)
}

// IsArtifactUnreadable reports a load failure caused by a missing or unreadable artifact.
// The usual remedy is to re-stage the artifact.
func IsArtifactUnreadable(err error) bool {
	return IsLoadFailure(err) && hasCode(err, ErrCodeArtifactUnreadable)
}

// IsArtifactMalformed reports a load failure caused by an artifact that was read but
// could not be decoded. The usual remedy is to re-build the artifact.
func IsArtifactMalformed(err error) bool {
	return IsLoadFailure(err) && hasCode(err, ErrCodeArtifactMalformed)
}

// IsConfigurationError returns true if the error is classified as a configuration error.
func IsConfigurationError(err error) bool {
	return hasClass(err, ErrorClassConfiguration)
}

// IsRunError returns true if the error is classified as a run error.
func IsRunError(err error) bool {
	return hasClass(err, ErrorClassRun)
}

// Common error codes.
const (
	ErrCodeUnsupportedStorage = "UNSUPPORTED_STORAGE"
	ErrCodeArtifactUnreadable = "ARTIFACT_UNREADABLE"
	ErrCodeArtifactMalformed  = "ARTIFACT_MALFORMED"
	ErrCodeNoDefaultExecutor  = "NO_DEFAULT_EXECUTOR"
	ErrCodeNoDefaultRunner    = "NO_DEFAULT_RUNNER"
	ErrCodeExecutorInitFailed = "EXECUTOR_INIT_FAILED"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeUnknownTaskKind    = "UNKNOWN_TASK_KIND"
	ErrCodeTaskFailed         = "TASK_FAILED"
	ErrCodeRunnerPanic        = "RUNNER_PANIC"
	ErrCodeInternal           = "INTERNAL_ERROR"
)
