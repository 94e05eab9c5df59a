package sequencer

import "sync"

// Trigger runs a private sub-plan before or after items of its container.
type Trigger interface {
	Entity

	// ShouldTrigger is checked before next runs.
	ShouldTrigger(previous, next Item) bool

	// ShouldTriggerAfter is checked after previous completed.
	ShouldTriggerAfter(previous, next Item) bool

	// TriggerRunner returns the container holding the trigger's own steps.
	TriggerRunner() *Container

	// AllowMultiplePerSet reports whether a container may hold more than one trigger
	// of this type.
	AllowMultiplePerSet() bool

	// ResetProgress clears internal counters.
	ResetProgress()

	// Clone returns a detached deep copy, including a cloned runner.
	Clone() Trigger
}

// TriggerBase implements the Entity part of Trigger and owns the runner container.
type TriggerBase struct {
	*Base

	mu            sync.RWMutex
	runner        *Container
	allowMultiple bool
}

// NewTriggerBase creates a TriggerBase with an empty sequential runner.
func NewTriggerBase(meta Metadata) *TriggerBase {
	return &TriggerBase{
		Base:          NewBase(meta),
		runner:        NewContainer(Metadata{Name: meta.Name + " runner"}, Sequential{}),
		allowMultiple: true,
	}
}

// CloneTriggerBase returns a fresh TriggerBase with a deep copy of the runner.
func (t *TriggerBase) CloneTriggerBase() *TriggerBase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &TriggerBase{
		Base:          t.cloneBase(),
		runner:        t.runner.CloneContainer(),
		allowMultiple: t.allowMultiple,
	}
}

// TriggerRunner returns the sub-plan container.
func (t *TriggerBase) TriggerRunner() *Container {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.runner
}

// SetTriggerRunner replaces the sub-plan container.
func (t *TriggerBase) SetTriggerRunner(c *Container) {
	t.mu.Lock()
	t.runner = c
	t.mu.Unlock()
	c.AttachNewParent(t.Parent())
}

// AllowMultiplePerSet reports whether duplicates are allowed in one container.
func (t *TriggerBase) AllowMultiplePerSet() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allowMultiple
}

// SetAllowMultiplePerSet changes the duplicate policy.
func (t *TriggerBase) SetAllowMultiplePerSet(allow bool) {
	t.mu.Lock()
	t.allowMultiple = allow
	t.mu.Unlock()
}

// AttachNewParent links both the trigger and its runner to the owning container so the
// runner's steps can reach the root and the nearest target.
func (t *TriggerBase) AttachNewParent(parent *Container) {
	t.Base.AttachNewParent(parent)
	t.TriggerRunner().AttachNewParent(parent)
}

// ResetProgress is a no-op for triggers without counters.
func (t *TriggerBase) ResetProgress() {}
