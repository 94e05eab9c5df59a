package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus is the overall status of one execution of a sequence.
type RunStatus string

const (
	// RunStatusPending indicates the run is accepted but not yet executing.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the root container is executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates the root finished without a propagated failure.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates a failure propagated up to the root.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCanceled indicates the run was cancelled or interrupted before it finished.
	RunStatusCanceled RunStatus = "canceled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCanceled
}

// IsActive returns true if the run is pending or running.
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusCanceled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// String returns the string representation of the run status.
func (s RunStatus) String() string {
	return string(s)
}

// MarshalJSON implements json.Marshaler.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := RunStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}
