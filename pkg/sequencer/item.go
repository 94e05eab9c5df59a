package sequencer

import (
	"context"
	"sync"
	"time"

	"github.com/tiendc/go-deepcopy"
)

// Item is a unit of executable work. Containers are items too.
type Item interface {
	Entity

	// ErrorBehavior returns the failure policy applied once attempts are exhausted.
	ErrorBehavior() ErrorBehavior
	SetErrorBehavior(ErrorBehavior)

	// Attempts returns the retry budget, always at least 1.
	Attempts() int
	SetAttempts(int)

	// EstimatedDuration is a best-effort hint used for scheduling heuristics only.
	EstimatedDuration() time.Duration

	// ResetProgress clears progress counters before a new pass.
	ResetProgress()

	// Execute performs the work. It must return promptly once ctx is done.
	Execute(ctx context.Context, progress ProgressSink) error

	// Clone returns a detached deep copy in status created.
	Clone() Item
}

// Validatable is the "has preconditions" capability. A non-empty result means the
// entity cannot run as configured.
type Validatable interface {
	Validate() []string
}

// Configurable is implemented by nodes with persisted properties. Properties returns a
// pointer to the node's property struct; it must not be modified while the node runs.
type Configurable interface {
	Properties() any
}

// ItemBase implements everything of Item except Execute and Clone.
type ItemBase struct {
	*Base

	settingsMu    sync.RWMutex
	errorBehavior ErrorBehavior
	attempts      int
	estimated     time.Duration
}

// NewItemBase creates an ItemBase with ContinueOnError and a single attempt.
func NewItemBase(meta Metadata) *ItemBase {
	return &ItemBase{
		Base:          NewBase(meta),
		errorBehavior: ContinueOnError,
		attempts:      1,
	}
}

// CloneItemBase copies metadata and retry settings into a fresh ItemBase.
func (b *ItemBase) CloneItemBase() *ItemBase {
	b.settingsMu.RLock()
	defer b.settingsMu.RUnlock()
	return &ItemBase{
		Base:          b.cloneBase(),
		errorBehavior: b.errorBehavior,
		attempts:      b.attempts,
		estimated:     b.estimated,
	}
}

// ErrorBehavior returns the failure policy.
func (b *ItemBase) ErrorBehavior() ErrorBehavior {
	b.settingsMu.RLock()
	defer b.settingsMu.RUnlock()
	return b.errorBehavior
}

// SetErrorBehavior sets the failure policy. Invalid values fall back to ContinueOnError.
func (b *ItemBase) SetErrorBehavior(eb ErrorBehavior) {
	if eb.Validate() != nil {
		eb = ContinueOnError
	}
	b.settingsMu.Lock()
	b.errorBehavior = eb
	b.settingsMu.Unlock()
}

// Attempts returns the retry budget.
func (b *ItemBase) Attempts() int {
	b.settingsMu.RLock()
	defer b.settingsMu.RUnlock()
	return b.attempts
}

// SetAttempts sets the retry budget. Values below 1 are raised to 1.
func (b *ItemBase) SetAttempts(n int) {
	if n < 1 {
		n = 1
	}
	b.settingsMu.Lock()
	b.attempts = n
	b.settingsMu.Unlock()
}

// EstimatedDuration returns the duration hint.
func (b *ItemBase) EstimatedDuration() time.Duration {
	b.settingsMu.RLock()
	defer b.settingsMu.RUnlock()
	return b.estimated
}

// SetEstimatedDuration sets the duration hint.
func (b *ItemBase) SetEstimatedDuration(d time.Duration) {
	b.settingsMu.Lock()
	b.estimated = d
	b.settingsMu.Unlock()
}

// ResetProgress is a no-op for items without counters.
func (b *ItemBase) ResetProgress() {}

// CloneValue deep copies a property value. Values that cannot be deep copied are
// returned as a shallow copy.
func CloneValue[T any](v T) T {
	var out T
	if err := deepcopy.Copy(&out, &v); err != nil {
		return v
	}
	return out
}
