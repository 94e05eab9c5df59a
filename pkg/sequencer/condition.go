package sequencer

import (
	"context"
)

// Condition gates the loop of its container.
type Condition interface {
	Entity

	// Check reports whether the loop may continue. previous is the item that ran last
	// and next the item about to be selected; either may be nil.
	Check(previous, next Item) bool

	// ResetProgress clears counters when the owning container is restarted.
	ResetProgress()

	// Clone returns a detached deep copy.
	Clone() Condition
}

// Looping is implemented by conditions that keep their container cycling through its
// items while Check holds. Containers without a looping condition make a single pass.
type Looping interface {
	Loops() bool
}

// IterationObserver is told each time the owning container completes a pass.
type IterationObserver interface {
	IterationFinished()
}

// BlockLifecycle is implemented by conditions that hold resources while their container
// runs, such as a watchdog.
type BlockLifecycle interface {
	SequenceBlockInitialize(ctx context.Context)
	SequenceBlockTeardown()
}

// ConditionBase implements the Entity part of Condition.
type ConditionBase struct {
	*Base
}

// NewConditionBase creates a ConditionBase.
func NewConditionBase(meta Metadata) *ConditionBase {
	return &ConditionBase{Base: NewBase(meta)}
}

// CloneConditionBase returns a fresh ConditionBase with the same metadata.
func (c *ConditionBase) CloneConditionBase() *ConditionBase {
	return &ConditionBase{Base: c.cloneBase()}
}

// ResetProgress is a no-op for stateless conditions.
func (c *ConditionBase) ResetProgress() {}
