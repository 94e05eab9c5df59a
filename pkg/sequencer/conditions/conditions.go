// Package conditions holds the built-in loop conditions and watchdogs.
package conditions

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openfroyo/skyrun/pkg/equipment"
	"github.com/openfroyo/skyrun/pkg/sequencer"
	"github.com/openfroyo/skyrun/pkg/sequencer/items"
	"github.com/openfroyo/skyrun/pkg/sequencer/props"
)

// Condition type identifiers.
const (
	TypeLoopForIterations      = "loop_for_iterations"
	TypeLoopUntilTime          = "loop_until_time"
	TypeLoopWhileAltitudeAbove = "loop_while_altitude_above"
	TypeSafetyMonitor          = "safety_monitor"
	TypeMoonAltitudeBelow      = "moon_altitude_below"
	TypeScript                 = "script"
)

const (
	categoryLoop   = "Loop"
	categorySafety = "Safety"

	// checkTimeout bounds equipment and ephemeris lookups made from Check, which has no
	// context of its own.
	checkTimeout = 10 * time.Second
)

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func withDefaultCategory(meta sequencer.Metadata, category string) sequencer.Metadata {
	if meta.Category == "" {
		meta.Category = category
	}
	return meta
}

// LoopForIterationsProps configures LoopForIterations.
type LoopForIterationsProps struct {
	Iterations int `json:"iterations" validate:"gte=1"`
}

// LoopForIterations repeats its container a fixed number of times.
type LoopForIterations struct {
	*sequencer.ConditionBase
	props     props.Value[LoopForIterationsProps]
	completed atomic.Int32
}

// NewLoopForIterations creates the condition.
func NewLoopForIterations(meta sequencer.Metadata, p LoopForIterationsProps) *LoopForIterations {
	c := &LoopForIterations{ConditionBase: sequencer.NewConditionBase(withDefaultCategory(meta, categoryLoop))}
	c.props.Set(p)
	return c
}

func (c *LoopForIterations) TypeID() string  { return TypeLoopForIterations }
func (c *LoopForIterations) Properties() any { return c.props.Ptr() }
func (c *LoopForIterations) Loops() bool     { return true }

// CompletedIterations returns the passes finished since the last reset.
func (c *LoopForIterations) CompletedIterations() int { return int(c.completed.Load()) }

// Validate implements sequencer.Validatable.
func (c *LoopForIterations) Validate() []string { return props.Validate(c.props.Get()) }

// Check holds until the configured number of passes has completed.
func (c *LoopForIterations) Check(_, _ sequencer.Item) bool {
	return c.CompletedIterations() < c.props.Get().Iterations
}

// IterationFinished implements sequencer.IterationObserver.
func (c *LoopForIterations) IterationFinished() { c.completed.Add(1) }

// ResetProgress clears the iteration counter.
func (c *LoopForIterations) ResetProgress() { c.completed.Store(0) }

// Clone implements sequencer.Condition.
func (c *LoopForIterations) Clone() sequencer.Condition {
	clone := &LoopForIterations{ConditionBase: c.CloneConditionBase()}
	clone.props.Set(c.props.Clone())
	return clone
}

// LoopUntilTimeProps configures LoopUntilTime. Until is RFC3339 or a wall clock "15:04".
type LoopUntilTimeProps struct {
	Until string `json:"until" validate:"required"`
}

// LoopUntilTime repeats its container until a point in time. A wall clock time is
// resolved on the first check after a reset so a loop started at 23:00 with "02:00" runs
// through midnight.
type LoopUntilTime struct {
	*sequencer.ConditionBase
	props     props.Value[LoopUntilTimeProps]
	mediators *equipment.Mediators

	mu       sync.Mutex
	deadline time.Time
}

// NewLoopUntilTime creates the condition. The mediators provide the clock.
func NewLoopUntilTime(meta sequencer.Metadata, p LoopUntilTimeProps, m *equipment.Mediators) *LoopUntilTime {
	c := &LoopUntilTime{ConditionBase: sequencer.NewConditionBase(withDefaultCategory(meta, categoryLoop)), mediators: m}
	c.props.Set(p)
	return c
}

func (c *LoopUntilTime) TypeID() string  { return TypeLoopUntilTime }
func (c *LoopUntilTime) Properties() any { return c.props.Ptr() }
func (c *LoopUntilTime) Loops() bool     { return true }

// Validate implements sequencer.Validatable.
func (c *LoopUntilTime) Validate() []string {
	p := c.props.Get()
	if issues := props.Validate(p); len(issues) > 0 {
		return issues
	}
	if _, err := items.ResolveTime(p.Until, c.mediators.Now()); err != nil {
		return []string{err.Error()}
	}
	return nil
}

// Deadline returns the resolved end time, resolving it when needed.
func (c *LoopUntilTime) Deadline() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.deadline.IsZero() {
		return c.deadline, nil
	}
	t, err := items.ResolveTime(c.props.Get().Until, c.mediators.Now())
	if err != nil {
		return time.Time{}, err
	}
	c.deadline = t
	return t, nil
}

// Check holds while the clock is before the deadline.
func (c *LoopUntilTime) Check(_, _ sequencer.Item) bool {
	deadline, err := c.Deadline()
	if err != nil {
		return false
	}
	return c.mediators.Now().Before(deadline)
}

// ResetProgress forgets the resolved deadline.
func (c *LoopUntilTime) ResetProgress() {
	c.mu.Lock()
	c.deadline = time.Time{}
	c.mu.Unlock()
}

// Clone implements sequencer.Condition.
func (c *LoopUntilTime) Clone() sequencer.Condition {
	clone := &LoopUntilTime{ConditionBase: c.CloneConditionBase(), mediators: c.mediators}
	clone.props.Set(c.props.Clone())
	return clone
}

// checkContext returns a bounded context for lookups made from Check.
func checkContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), checkTimeout)
}

func requireEphemeris(m *equipment.Mediators) []string {
	if m == nil || m.Ephemeris == nil {
		return []string{"no ephemeris is configured"}
	}
	return nil
}

func describeAltitude(what string, alt, limit float64, above bool) string {
	rel := "below"
	if above {
		rel = "above"
	}
	return fmt.Sprintf("%s altitude %.1f° is not %s %.1f°", what, alt, rel, limit)
}
