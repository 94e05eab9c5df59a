package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openfroyo/skyrun/pkg/policy"
)

var (
	// ErrPlanActive is returned by Start while another sequence is running.
	ErrPlanActive = errors.New("a sequence is already running")

	// ErrNoActiveRun is returned by control operations when nothing is running.
	ErrNoActiveRun = errors.New("no sequence is running")

	// ErrRunNotFound is returned when a run ID is unknown.
	ErrRunNotFound = errors.New("run not found")
)

// PolicyDeniedError is returned by Start when blocking policy violations reject the
// submitted sequence.
type PolicyDeniedError struct {
	Result *policy.Result
}

// Error implements the error interface.
func (e *PolicyDeniedError) Error() string {
	msgs := make([]string, 0, len(e.Result.Violations))
	for _, v := range e.Result.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return "sequence rejected by policy: " + strings.Join(msgs, "; ")
}

// IsPolicyDenied reports whether err is a policy rejection.
func IsPolicyDenied(err error) bool {
	var e *PolicyDeniedError
	return errors.As(err, &e)
}
