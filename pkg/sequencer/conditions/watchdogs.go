package conditions

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/openfroyo/skyrun/pkg/equipment"
	"github.com/openfroyo/skyrun/pkg/sequencer"
	"github.com/openfroyo/skyrun/pkg/sequencer/props"
)

var errNoTarget = errors.New("no target on any parent container")

// LoopWhileAltitudeAboveProps configures LoopWhileAltitudeAbove. Interval is the watchdog
// polling period in seconds; zero selects the default.
type LoopWhileAltitudeAboveProps struct {
	Altitude float64 `json:"altitude" validate:"gte=-90,lte=90"`
	Interval float64 `json:"interval,omitempty" validate:"gte=0"`
}

// LoopWhileAltitudeAbove repeats its container while the nearest target stays above an
// altitude, and interrupts the running block as soon as the target sinks below it.
type LoopWhileAltitudeAbove struct {
	*sequencer.WatchdogConditionBase
	props     props.Value[LoopWhileAltitudeAboveProps]
	mediators *equipment.Mediators
}

// NewLoopWhileAltitudeAbove creates the condition. The mediators provide the ephemeris
// and the clock.
func NewLoopWhileAltitudeAbove(meta sequencer.Metadata, p LoopWhileAltitudeAboveProps, m *equipment.Mediators) *LoopWhileAltitudeAbove {
	c := &LoopWhileAltitudeAbove{mediators: m}
	c.props.Set(p)
	c.WatchdogConditionBase = sequencer.NewWatchdogConditionBase(withDefaultCategory(meta, categoryLoop), seconds(p.Interval), c.poll)
	return c
}

func (c *LoopWhileAltitudeAbove) TypeID() string  { return TypeLoopWhileAltitudeAbove }
func (c *LoopWhileAltitudeAbove) Properties() any { return c.props.Ptr() }
func (c *LoopWhileAltitudeAbove) Loops() bool     { return true }

// Validate implements sequencer.Validatable.
func (c *LoopWhileAltitudeAbove) Validate() []string {
	issues := props.Validate(c.props.Get())
	issues = append(issues, requireEphemeris(c.mediators)...)
	if _, ok := sequencer.NearestTarget(c); !ok {
		issues = append(issues, errNoTarget.Error())
	}
	return issues
}

// Check holds while the target is above the configured altitude.
func (c *LoopWhileAltitudeAbove) Check(_, _ sequencer.Item) bool {
	ctx, cancel := checkContext()
	defer cancel()
	ok, err := c.poll(ctx)
	return err == nil && ok
}

func (c *LoopWhileAltitudeAbove) poll(ctx context.Context) (bool, error) {
	if len(requireEphemeris(c.mediators)) > 0 {
		return false, errors.New("no ephemeris is configured")
	}
	target, ok := sequencer.NearestTarget(c)
	if !ok {
		return false, errNoTarget
	}
	alt, err := c.mediators.Ephemeris.Altitude(ctx, target.Coordinates, c.mediators.Now())
	if err != nil {
		return false, err
	}
	limit := c.props.Get().Altitude
	if alt <= limit {
		zerolog.Ctx(ctx).Debug().Str("target", target.Name).Msg(describeAltitude(target.Name, alt, limit, true))
		return false, nil
	}
	return true, nil
}

// SequenceBlockInitialize applies the configured interval and starts the watchdog.
func (c *LoopWhileAltitudeAbove) SequenceBlockInitialize(ctx context.Context) {
	c.Watchdog().SetInterval(seconds(c.props.Get().Interval))
	c.WatchdogConditionBase.SequenceBlockInitialize(ctx)
}

// Clone implements sequencer.Condition.
func (c *LoopWhileAltitudeAbove) Clone() sequencer.Condition {
	clone := &LoopWhileAltitudeAbove{mediators: c.mediators}
	clone.props.Set(c.props.Clone())
	clone.WatchdogConditionBase = c.CloneWatchdogConditionBase(clone.poll)
	return clone
}

// SafetyMonitorProps configures SafetyMonitorCondition.
type SafetyMonitorProps struct {
	Interval float64 `json:"interval,omitempty" validate:"gte=0"`
}

// SafetyMonitorCondition holds while the safety monitor reports safe conditions and
// interrupts the running block when it turns unsafe.
type SafetyMonitorCondition struct {
	*sequencer.WatchdogConditionBase
	props     props.Value[SafetyMonitorProps]
	mediators *equipment.Mediators
}

// NewSafetyMonitor creates the condition.
func NewSafetyMonitor(meta sequencer.Metadata, p SafetyMonitorProps, m *equipment.Mediators) *SafetyMonitorCondition {
	c := &SafetyMonitorCondition{mediators: m}
	c.props.Set(p)
	c.WatchdogConditionBase = sequencer.NewWatchdogConditionBase(withDefaultCategory(meta, categorySafety), seconds(p.Interval), c.poll)
	return c
}

func (c *SafetyMonitorCondition) TypeID() string  { return TypeSafetyMonitor }
func (c *SafetyMonitorCondition) Properties() any { return c.props.Ptr() }

// Validate implements sequencer.Validatable.
func (c *SafetyMonitorCondition) Validate() []string {
	return append(props.Validate(c.props.Get()), c.mediators.Require(equipment.RoleSafetyMonitor)...)
}

// Check holds while conditions are safe.
func (c *SafetyMonitorCondition) Check(_, _ sequencer.Item) bool {
	ctx, cancel := checkContext()
	defer cancel()
	ok, err := c.poll(ctx)
	return err == nil && ok
}

func (c *SafetyMonitorCondition) poll(ctx context.Context) (bool, error) {
	if len(c.mediators.Require(equipment.RoleSafetyMonitor)) > 0 {
		return false, sequencer.Disconnected(equipment.RoleSafetyMonitor)
	}
	safe, err := c.mediators.SafetyMonitor.IsSafe(ctx)
	if err != nil {
		return false, err
	}
	if !safe {
		zerolog.Ctx(ctx).Warn().Msg("Safety monitor reports unsafe conditions")
	}
	return safe, nil
}

// SequenceBlockInitialize applies the configured interval and starts the watchdog.
func (c *SafetyMonitorCondition) SequenceBlockInitialize(ctx context.Context) {
	c.Watchdog().SetInterval(seconds(c.props.Get().Interval))
	c.WatchdogConditionBase.SequenceBlockInitialize(ctx)
}

// Clone implements sequencer.Condition.
func (c *SafetyMonitorCondition) Clone() sequencer.Condition {
	clone := &SafetyMonitorCondition{mediators: c.mediators}
	clone.props.Set(c.props.Clone())
	clone.WatchdogConditionBase = c.CloneWatchdogConditionBase(clone.poll)
	return clone
}

// MoonAltitudeBelowProps configures MoonAltitudeBelow.
type MoonAltitudeBelowProps struct {
	Altitude float64 `json:"altitude" validate:"gte=-90,lte=90"`
	Interval float64 `json:"interval,omitempty" validate:"gte=0"`
}

// MoonAltitudeBelow holds while the moon stays below an altitude, interrupting the running
// block when it rises above.
type MoonAltitudeBelow struct {
	*sequencer.WatchdogConditionBase
	props     props.Value[MoonAltitudeBelowProps]
	mediators *equipment.Mediators
}

// NewMoonAltitudeBelow creates the condition.
func NewMoonAltitudeBelow(meta sequencer.Metadata, p MoonAltitudeBelowProps, m *equipment.Mediators) *MoonAltitudeBelow {
	c := &MoonAltitudeBelow{mediators: m}
	c.props.Set(p)
	c.WatchdogConditionBase = sequencer.NewWatchdogConditionBase(withDefaultCategory(meta, categorySafety), seconds(p.Interval), c.poll)
	return c
}

func (c *MoonAltitudeBelow) TypeID() string  { return TypeMoonAltitudeBelow }
func (c *MoonAltitudeBelow) Properties() any { return c.props.Ptr() }

// Validate implements sequencer.Validatable.
func (c *MoonAltitudeBelow) Validate() []string {
	return append(props.Validate(c.props.Get()), requireEphemeris(c.mediators)...)
}

// Check holds while the moon is below the configured altitude.
func (c *MoonAltitudeBelow) Check(_, _ sequencer.Item) bool {
	ctx, cancel := checkContext()
	defer cancel()
	ok, err := c.poll(ctx)
	return err == nil && ok
}

func (c *MoonAltitudeBelow) poll(ctx context.Context) (bool, error) {
	if len(requireEphemeris(c.mediators)) > 0 {
		return false, errors.New("no ephemeris is configured")
	}
	alt, err := c.mediators.Ephemeris.MoonAltitude(ctx, c.mediators.Now())
	if err != nil {
		return false, err
	}
	limit := c.props.Get().Altitude
	if alt >= limit {
		zerolog.Ctx(ctx).Debug().Msg(describeAltitude("moon", alt, limit, false))
		return false, nil
	}
	return true, nil
}

// SequenceBlockInitialize applies the configured interval and starts the watchdog.
func (c *MoonAltitudeBelow) SequenceBlockInitialize(ctx context.Context) {
	c.Watchdog().SetInterval(seconds(c.props.Get().Interval))
	c.WatchdogConditionBase.SequenceBlockInitialize(ctx)
}

// Clone implements sequencer.Condition.
func (c *MoonAltitudeBelow) Clone() sequencer.Condition {
	clone := &MoonAltitudeBelow{mediators: c.mediators}
	clone.props.Set(c.props.Clone())
	clone.WatchdogConditionBase = c.CloneWatchdogConditionBase(clone.poll)
	return clone
}
