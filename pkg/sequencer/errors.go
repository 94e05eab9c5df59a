package sequencer

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for status and propagation logic.
type ErrorClass string

const (
	// ErrorClassValidation indicates a precondition was not met.
	// The entity is skipped, not failed.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassFailed indicates a hard runtime failure.
	// The entity is marked failed and the failure propagates per ErrorBehavior.
	ErrorClassFailed ErrorClass = "failed"

	// ErrorClassCanceled indicates user or watchdog driven cancellation.
	// The entity reverts to created.
	ErrorClassCanceled ErrorClass = "canceled"

	// ErrorClassUnhandled indicates a panic recovered from an instruction.
	// It is logged and treated as a failure.
	ErrorClassUnhandled ErrorClass = "unhandled"
)

// Error codes used for propagation decisions.
const (
	ErrCodeAborted              = "aborted"
	ErrCodeSkipInstructionSet   = "skip_instruction_set"
	ErrCodeSkipToSequenceEnd    = "skip_to_sequence_end"
	ErrCodeTriggerFailed        = "trigger_failed"
	ErrCodePermanent            = "permanent"
	ErrCodeUnknownInstruction   = "unknown_instruction"
	ErrCodeDeviceDisconnected   = "device_disconnected"
	ErrCodeInvalidConfiguration = "invalid_configuration"
)

var (
	// ErrSkipped is the cancellation cause used when a running item is skipped.
	ErrSkipped = errors.New("instruction skipped")

	// ErrInterrupted is the cancellation cause used when a container is interrupted.
	ErrInterrupted = errors.New("instruction set interrupted")
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

	// Entity is the name of the entity that caused the error, if applicable.
	Entity string `json:"entity,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Issues lists validation issues.
	Issues []string `json:"issues,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)
	if e.Entity != "" {
		fmt.Fprintf(&b, " (entity=%s)", e.Entity)
	}
	if len(e.Issues) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Issues, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
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

// NewValidationError creates a validation error carrying the issue list.
func NewValidationError(message string, issues []string) *EngineError {
	return &EngineError{
		Class:   ErrorClassValidation,
		Message: message,
		Issues:  issues,
	}
}

// NewFailedError creates a new runtime failure.
func NewFailedError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassFailed,
		Message: message,
		Err:     err,
	}
}

// NewCanceledError creates a new cancellation error.
func NewCanceledError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassCanceled,
		Message: message,
		Err:     err,
	}
}

// NewUnhandledError creates an error for a recovered panic.
func NewUnhandledError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassUnhandled,
		Message: message,
		Err:     err,
	}
}

// WithEntity adds entity context to an error.
func (e *EngineError) WithEntity(name string) *EngineError {
	e.Entity = name
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
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

// Permanent marks an instruction error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return NewFailedError("permanent failure", err).WithCode(ErrCodePermanent)
}

// Disconnected reports a device that is required but not connected.
func Disconnected(device string) *EngineError {
	return NewValidationError(fmt.Sprintf("%s is not connected", device), []string{device + " is not connected"}).
		WithCode(ErrCodeDeviceDisconnected)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Class == ErrorClassValidation
}

// IsPermanent reports whether retrying err is pointless.
func IsPermanent(err error) bool {
	return hasCode(err, ErrCodePermanent) || IsValidation(err)
}

// IsCanceled reports whether err represents a cancellation rather than a failure.
func IsCanceled(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrInterrupted) || errors.Is(err, ErrSkipped) {
		return true
	}
	var ee *EngineError
	return errors.As(err, &ee) && ee.Class == ErrorClassCanceled
}

// IsAborted reports whether err carries an abort that must reach the root.
func IsAborted(err error) bool {
	return codeOf(err) == ErrCodeAborted
}

// IsSkipToSequenceEnd reports whether err asks the root to jump to its end area.
func IsSkipToSequenceEnd(err error) bool {
	return codeOf(err) == ErrCodeSkipToSequenceEnd
}

// codeOf returns the code of the outermost EngineError in the chain.
func codeOf(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

func hasCode(err error, code string) bool {
	for err != nil {
		if ee, ok := err.(*EngineError); ok && ee.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// RootCause returns the innermost error of the chain, used as the deepest failure message.
func RootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
