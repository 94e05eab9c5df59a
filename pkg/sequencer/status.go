package sequencer

import (
	"encoding/json"
	"fmt"
)

// Status represents the execution state of an entity in the plan tree.
type Status string

const (
	// StatusCreated indicates the entity has not run yet, or was reverted after a cancellation.
	StatusCreated Status = "created"

	// StatusRunning indicates the entity is currently executing.
	StatusRunning Status = "running"

	// StatusFinished indicates the entity completed successfully.
	StatusFinished Status = "finished"

	// StatusFailed indicates the entity failed after exhausting its attempts.
	StatusFailed Status = "failed"

	// StatusSkipped indicates the entity was skipped by validation, a skip request or an abort.
	StatusSkipped Status = "skipped"

	// StatusDisabled indicates the entity is excluded from execution.
	StatusDisabled Status = "disabled"
)

// IsTerminal returns true if the status represents a final state of a run.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusSkipped
}

// IsSettled returns true if the entity will not be picked for execution again in this pass.
func (s Status) IsSettled() bool {
	return s.IsTerminal() || s == StatusDisabled
}

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusCreated, StatusRunning, StatusFinished,
		StatusFailed, StatusSkipped, StatusDisabled:
		return nil
	default:
		return fmt.Errorf("invalid status: %s", s)
	}
}

// String returns the string representation.
func (s Status) String() string {
	return string(s)
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := Status(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}

// ErrorBehavior governs how an item failure affects its container once attempts are exhausted.
type ErrorBehavior string

const (
	// ContinueOnError records the failure and moves on to the next item.
	ContinueOnError ErrorBehavior = "continue_on_error"

	// SkipInstructionSetOnError skips the remaining items of the enclosing container,
	// which then reports a failure to its own parent.
	SkipInstructionSetOnError ErrorBehavior = "skip_instruction_set_on_error"

	// AbortOnError fails the enclosing container and aborts the whole run.
	AbortOnError ErrorBehavior = "abort_on_error"

	// SkipToSequenceEndOnError abandons the root body and runs the end area.
	SkipToSequenceEndOnError ErrorBehavior = "skip_to_sequence_end_on_error"
)

// Validate checks if the error behavior is valid.
func (b ErrorBehavior) Validate() error {
	switch b {
	case ContinueOnError, SkipInstructionSetOnError, AbortOnError, SkipToSequenceEndOnError:
		return nil
	default:
		return fmt.Errorf("invalid error behavior: %s", b)
	}
}

// String returns the string representation.
func (b ErrorBehavior) String() string {
	return string(b)
}

// MarshalJSON implements json.Marshaler.
func (b ErrorBehavior) MarshalJSON() ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(string(b))
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ErrorBehavior) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	behavior := ErrorBehavior(str)
	if err := behavior.Validate(); err != nil {
		return err
	}
	*b = behavior
	return nil
}
