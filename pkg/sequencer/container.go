package sequencer

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfroyo/skyrun/pkg/astro"
)

// Container types reported through TypeID.
const (
	TypeSequentialContainer = "container.sequential"
	TypeParallelContainer   = "container.parallel"
	TypeTargetContainer     = "container.target"
)

// Container is a composite item owning ordered items, conditions and triggers.
// Iteration order is delegated to its Strategy.
type Container struct {
	*ItemBase

	mu                  sync.RWMutex
	items               []Item
	conditions          []Condition
	triggers            []Trigger
	strategy            Strategy
	target              *astro.Target
	triggerFailureFatal bool
	root                *RootContainer

	runMu     sync.Mutex
	cancelRun context.CancelCauseFunc
}

// NewContainer creates an empty container. A nil strategy means Sequential.
func NewContainer(meta Metadata, strategy Strategy) *Container {
	if strategy == nil {
		strategy = Sequential{}
	}
	return &Container{
		ItemBase: NewItemBase(meta),
		strategy: strategy,
	}
}

// TypeID implements Typed.
func (c *Container) TypeID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.target != nil {
		return TypeTargetContainer
	}
	if _, ok := c.strategy.(Parallel); ok {
		return TypeParallelContainer
	}
	return TypeSequentialContainer
}

// Items returns a snapshot of the child items.
func (c *Container) Items() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Conditions returns a snapshot of the conditions.
func (c *Container) Conditions() []Condition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Condition, len(c.conditions))
	copy(out, c.conditions)
	return out
}

// Triggers returns a snapshot of the triggers.
func (c *Container) Triggers() []Trigger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Trigger, len(c.triggers))
	copy(out, c.triggers)
	return out
}

// Add appends an item.
func (c *Container) Add(item Item) error {
	c.mu.RLock()
	n := len(c.items)
	c.mu.RUnlock()
	return c.Insert(n, item)
}

// Insert places an item at index, clamped to the valid range. The item must be
// detached; a node lives in exactly one container.
func (c *Container) Insert(index int, item Item) error {
	if item == nil {
		return fmt.Errorf("cannot add nil item to %q", c.Name())
	}
	if _, ok := item.(*RootContainer); ok {
		return fmt.Errorf("cannot nest root container %q", item.Name())
	}
	if p := item.Parent(); p != nil {
		return fmt.Errorf("item %q already belongs to %q", item.Name(), p.Name())
	}
	if child, ok := item.(*Container); ok {
		for a := c; a != nil; a = a.Parent() {
			if a == child {
				return fmt.Errorf("adding %q to %q would create a cycle", child.Name(), c.Name())
			}
		}
	}

	c.mu.Lock()
	if index < 0 {
		index = 0
	}
	if index > len(c.items) {
		index = len(c.items)
	}
	c.items = append(c.items, nil)
	copy(c.items[index+1:], c.items[index:])
	c.items[index] = item
	c.mu.Unlock()

	item.AttachNewParent(c)
	return nil
}

// Remove detaches an item. Running items cannot be removed.
func (c *Container) Remove(item Item) error {
	if item.Status() == StatusRunning {
		return fmt.Errorf("cannot remove running item %q", item.Name())
	}
	c.mu.Lock()
	idx := -1
	for i, it := range c.items {
		if it == item {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("item %q not found in %q", item.Name(), c.Name())
	}
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	c.mu.Unlock()

	item.AttachNewParent(nil)
	return nil
}

// AddCondition appends a condition.
func (c *Container) AddCondition(cond Condition) error {
	if cond == nil {
		return fmt.Errorf("cannot add nil condition to %q", c.Name())
	}
	if p := cond.Parent(); p != nil {
		return fmt.Errorf("condition %q already belongs to %q", cond.Name(), p.Name())
	}
	c.mu.Lock()
	c.conditions = append(c.conditions, cond)
	c.mu.Unlock()

	cond.AttachNewParent(c)
	return nil
}

// RemoveCondition detaches a condition, stopping any watchdog it owns.
func (c *Container) RemoveCondition(cond Condition) error {
	c.mu.Lock()
	idx := -1
	for i, existing := range c.conditions {
		if existing == cond {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("condition %q not found in %q", cond.Name(), c.Name())
	}
	c.conditions = append(c.conditions[:idx], c.conditions[idx+1:]...)
	c.mu.Unlock()

	cond.AttachNewParent(nil)
	return nil
}

// AddTrigger appends a trigger. Triggers that disallow duplicates are rejected when a
// trigger of the same type is already present.
func (c *Container) AddTrigger(t Trigger) error {
	if t == nil {
		return fmt.Errorf("cannot add nil trigger to %q", c.Name())
	}
	if p := t.Parent(); p != nil {
		return fmt.Errorf("trigger %q already belongs to %q", t.Name(), p.Name())
	}
	c.mu.Lock()
	if !t.AllowMultiplePerSet() {
		for _, existing := range c.triggers {
			if TypeOf(existing) == TypeOf(t) {
				c.mu.Unlock()
				return fmt.Errorf("%q allows only one trigger of type %s", c.Name(), TypeOf(t))
			}
		}
	}
	c.triggers = append(c.triggers, t)
	c.mu.Unlock()

	t.AttachNewParent(c)
	return nil
}

// RemoveTrigger detaches a trigger.
func (c *Container) RemoveTrigger(t Trigger) error {
	if t.Status() == StatusRunning {
		return fmt.Errorf("cannot remove running trigger %q", t.Name())
	}
	c.mu.Lock()
	idx := -1
	for i, existing := range c.triggers {
		if existing == t {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("trigger %q not found in %q", t.Name(), c.Name())
	}
	c.triggers = append(c.triggers[:idx], c.triggers[idx+1:]...)
	c.mu.Unlock()

	t.AttachNewParent(nil)
	return nil
}

// Strategy returns the execution strategy.
func (c *Container) Strategy() Strategy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strategy
}

// SetStrategy replaces the execution strategy.
func (c *Container) SetStrategy(s Strategy) {
	if s == nil {
		s = Sequential{}
	}
	c.mu.Lock()
	c.strategy = s
	c.mu.Unlock()
}

// Target returns the domain target attached to this container.
func (c *Container) Target() (astro.Target, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.target == nil {
		return astro.Target{}, false
	}
	return *c.target, true
}

// SetTarget attaches a target. Nil removes it.
func (c *Container) SetTarget(t *astro.Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t == nil {
		c.target = nil
		return
	}
	cp := *t
	c.target = &cp
}

// TriggerFailureFatal reports whether a failed trigger fails this container.
func (c *Container) TriggerFailureFatal() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.triggerFailureFatal
}

// SetTriggerFailureFatal changes the trigger failure policy.
func (c *Container) SetTriggerFailureFatal(fatal bool) {
	c.mu.Lock()
	c.triggerFailureFatal = fatal
	c.mu.Unlock()
}

// Interrupt cancels the current run of this container. The in-flight item and the
// container revert to created and the loop does not advance. It is a no-op when the
// container is not running.
func (c *Container) Interrupt() {
	c.runMu.Lock()
	cancel := c.cancelRun
	c.runMu.Unlock()
	if cancel != nil {
		cancel(ErrInterrupted)
	}
}

func (c *Container) setRunCancel(cancel context.CancelCauseFunc) {
	c.runMu.Lock()
	c.cancelRun = cancel
	c.runMu.Unlock()
}

func (c *Container) rootOwner() *RootContainer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.root
}

// Execute runs the container with the runner bound to ctx, or a default runner.
func (c *Container) Execute(ctx context.Context, progress ProgressSink) error {
	return runnerFrom(ctx).Run(ctx, c, progress)
}

// ResetProgress resets every descendant to created and clears all counters, including
// those of this container's conditions and triggers. Disabled nodes are left alone.
func (c *Container) ResetProgress() {
	for _, it := range c.Items() {
		resetStatus(it)
		it.ResetProgress()
	}
	for _, cond := range c.Conditions() {
		cond.ResetProgress()
	}
	for _, t := range c.Triggers() {
		resetStatus(t)
		t.ResetProgress()
	}
}

// Clone implements Item.
func (c *Container) Clone() Item {
	return c.CloneContainer()
}

// CloneContainer returns a detached deep copy. Every item, condition and trigger is
// cloned and attached to the copy.
func (c *Container) CloneContainer() *Container {
	c.mu.RLock()
	clone := &Container{
		ItemBase:            c.CloneItemBase(),
		strategy:            c.strategy,
		triggerFailureFatal: c.triggerFailureFatal,
	}
	if c.target != nil {
		t := CloneValue(*c.target)
		clone.target = &t
	}
	items := make([]Item, len(c.items))
	copy(items, c.items)
	conditions := make([]Condition, len(c.conditions))
	copy(conditions, c.conditions)
	triggers := make([]Trigger, len(c.triggers))
	copy(triggers, c.triggers)
	c.mu.RUnlock()

	for _, it := range items {
		_ = clone.Add(it.Clone())
	}
	for _, cond := range conditions {
		_ = clone.AddCondition(cond.Clone())
	}
	for _, t := range triggers {
		_ = clone.AddTrigger(t.Clone())
	}
	return clone
}

// resetStatus brings an entity back to created unless it is created or disabled.
func resetStatus(e Entity) {
	switch e.Status() {
	case StatusCreated, StatusDisabled:
		return
	}
	_ = fire(e, eventReset)
}
