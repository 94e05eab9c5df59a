// Package triggers holds the built-in triggers. A trigger decides when to run its own
// sub-plan; the steps of that sub-plan are regular items added to TriggerRunner.
package triggers

import (
	"sync"
	"time"

	"github.com/openfroyo/skyrun/pkg/equipment"
	"github.com/openfroyo/skyrun/pkg/sequencer"
	"github.com/openfroyo/skyrun/pkg/sequencer/items"
	"github.com/openfroyo/skyrun/pkg/sequencer/props"
)

// Trigger type identifiers.
const (
	TypeAfterExposures = "after_exposures"
	TypeTimeInterval   = "time_interval"
	TypeOnFilterChange = "on_filter_change"
)

const categoryTrigger = "Trigger"

func newBase(meta sequencer.Metadata) *sequencer.TriggerBase {
	if meta.Category == "" {
		meta.Category = categoryTrigger
	}
	return sequencer.NewTriggerBase(meta)
}

// AfterExposuresProps configures AfterExposures.
type AfterExposuresProps struct {
	AfterExposures int `json:"after_exposures" validate:"gte=1"`
}

// AfterExposures runs its sub-plan after every N exposures completed by items in scope,
// for example a dither every three frames.
type AfterExposures struct {
	*sequencer.TriggerBase
	props props.Value[AfterExposuresProps]

	mu        sync.Mutex
	seen      map[string]int
	total     int
	lastFired int
}

// NewAfterExposures creates the trigger with an empty sub-plan.
func NewAfterExposures(meta sequencer.Metadata, p AfterExposuresProps) *AfterExposures {
	t := &AfterExposures{TriggerBase: newBase(meta), seen: make(map[string]int)}
	t.props.Set(p)
	t.SetAllowMultiplePerSet(false)
	return t
}

func (t *AfterExposures) TypeID() string  { return TypeAfterExposures }
func (t *AfterExposures) Properties() any { return t.props.Ptr() }

// Validate implements sequencer.Validatable.
func (t *AfterExposures) Validate() []string { return props.Validate(t.props.Get()) }

// ShouldTrigger never fires; it records the frame count next starts from, which is zero
// after a reset and the frames already taken when an interrupted item resumes.
func (t *AfterExposures) ShouldTrigger(_, next sequencer.Item) bool {
	if counter, ok := next.(items.ExposureCounter); ok {
		t.mu.Lock()
		t.seen[next.ID()] = counter.CompletedExposures()
		t.mu.Unlock()
	}
	return false
}

// ShouldTriggerAfter counts the frames previous added and fires once every N frames.
func (t *AfterExposures) ShouldTriggerAfter(previous, _ sequencer.Item) bool {
	counter, ok := previous.(items.ExposureCounter)
	if !ok {
		return false
	}
	every := t.props.Get().AfterExposures
	if every < 1 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	current := counter.CompletedExposures()
	delta := current - t.seen[previous.ID()]
	if delta < 0 {
		delta = current
	}
	t.seen[previous.ID()] = current
	t.total += delta

	if t.total-t.lastFired < every {
		return false
	}
	t.lastFired = t.total - (t.total-t.lastFired)%every
	return true
}

// Exposures returns the frames counted since the last reset.
func (t *AfterExposures) Exposures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// ResetProgress clears the frame count.
func (t *AfterExposures) ResetProgress() {
	t.mu.Lock()
	t.seen = make(map[string]int)
	t.total = 0
	t.lastFired = 0
	t.mu.Unlock()
}

// Clone implements sequencer.Trigger.
func (t *AfterExposures) Clone() sequencer.Trigger {
	c := &AfterExposures{TriggerBase: t.CloneTriggerBase(), seen: make(map[string]int)}
	c.props.Set(t.props.Clone())
	return c
}

// TimeIntervalProps configures TimeInterval. Interval is in seconds.
type TimeIntervalProps struct {
	Interval float64 `json:"interval" validate:"gt=0"`
}

// TimeInterval runs its sub-plan before the next item once Interval has elapsed since the
// trigger last fired. The clock starts at the first item the trigger sees.
type TimeInterval struct {
	*sequencer.TriggerBase
	props     props.Value[TimeIntervalProps]
	mediators *equipment.Mediators

	mu   sync.Mutex
	last time.Time
}

// NewTimeInterval creates the trigger. The mediators provide the clock.
func NewTimeInterval(meta sequencer.Metadata, p TimeIntervalProps, m *equipment.Mediators) *TimeInterval {
	t := &TimeInterval{TriggerBase: newBase(meta), mediators: m}
	t.props.Set(p)
	return t
}

func (t *TimeInterval) TypeID() string  { return TypeTimeInterval }
func (t *TimeInterval) Properties() any { return t.props.Ptr() }

// Validate implements sequencer.Validatable.
func (t *TimeInterval) Validate() []string { return props.Validate(t.props.Get()) }

// ShouldTrigger implements sequencer.Trigger.
func (t *TimeInterval) ShouldTrigger(_, next sequencer.Item) bool {
	if next == nil {
		return false
	}
	interval := time.Duration(t.props.Get().Interval * float64(time.Second))
	if interval <= 0 {
		return false
	}
	now := t.mediators.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last.IsZero() {
		t.last = now
		return false
	}
	if now.Sub(t.last) < interval {
		return false
	}
	t.last = now
	return true
}

// ShouldTriggerAfter implements sequencer.Trigger.
func (t *TimeInterval) ShouldTriggerAfter(_, _ sequencer.Item) bool { return false }

// ResetProgress restarts the interval clock.
func (t *TimeInterval) ResetProgress() {
	t.mu.Lock()
	t.last = time.Time{}
	t.mu.Unlock()
}

// Clone implements sequencer.Trigger.
func (t *TimeInterval) Clone() sequencer.Trigger {
	c := &TimeInterval{TriggerBase: t.CloneTriggerBase(), mediators: t.mediators}
	c.props.Set(t.props.Clone())
	return c
}

// OnFilterChange runs its sub-plan before an item that needs a different filter than the
// one last used, such as a refocus between filters.
type OnFilterChange struct {
	*sequencer.TriggerBase
	mediators *equipment.Mediators

	mu   sync.Mutex
	last string
}

// NewOnFilterChange creates the trigger. The filter wheel seeds the current filter.
func NewOnFilterChange(meta sequencer.Metadata, m *equipment.Mediators) *OnFilterChange {
	t := &OnFilterChange{TriggerBase: newBase(meta), mediators: m}
	t.SetAllowMultiplePerSet(false)
	return t
}

func (t *OnFilterChange) TypeID() string { return TypeOnFilterChange }

// ShouldTrigger implements sequencer.Trigger.
func (t *OnFilterChange) ShouldTrigger(_, next sequencer.Item) bool {
	user, ok := next.(items.FilterUser)
	if !ok {
		return false
	}
	filter := user.RequiredFilter()
	if filter == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	last := t.last
	if last == "" && len(t.mediators.Require(equipment.RoleFilterWheel)) == 0 {
		last = t.mediators.FilterWheel.CurrentFilter()
	}
	t.last = filter
	return last != "" && last != filter
}

// ShouldTriggerAfter implements sequencer.Trigger.
func (t *OnFilterChange) ShouldTriggerAfter(_, _ sequencer.Item) bool { return false }

// LastFilter returns the filter of the last item seen.
func (t *OnFilterChange) LastFilter() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// ResetProgress forgets the last filter.
func (t *OnFilterChange) ResetProgress() {
	t.mu.Lock()
	t.last = ""
	t.mu.Unlock()
}

// Clone implements sequencer.Trigger.
func (t *OnFilterChange) Clone() sequencer.Trigger {
	return &OnFilterChange{TriggerBase: t.CloneTriggerBase(), mediators: t.mediators}
}
